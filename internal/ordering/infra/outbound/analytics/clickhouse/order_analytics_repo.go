package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/davicafu/eventrelay/internal/ordering/domain"
	"github.com/davicafu/eventrelay/shared/events"
)

// OrderAnalyticsRepo implementa domain.OrderAnalyticsRepository para ClickHouse.
type OrderAnalyticsRepo struct {
	db *sql.DB
}

// NewOrderAnalyticsRepo abre la conexión y comprueba que responde.
func NewOrderAnalyticsRepo(ctx context.Context, addr, dbName string) (*OrderAnalyticsRepo, error) {
	conn := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: dbName,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
	})

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("could not ping clickhouse: %w", err)
	}

	return &OrderAnalyticsRepo{db: conn}, nil
}

func (r *OrderAnalyticsRepo) Close() error {
	return r.db.Close()
}

// InitSchema crea la tabla en ClickHouse si no existe.
// Se particiona por mes y se ordena por los campos habituales de consulta.
func (r *OrderAnalyticsRepo) InitSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS orders_log (
			event_id    UUID,
			event_name  LowCardinality(String),
			order_id    UUID,
			customer_id UUID,
			total       Int64,
			currency    LowCardinality(String),
			status      LowCardinality(String),
			event_time  DateTime64(3)
		) ENGINE = ReplacingMergeTree()
		PARTITION BY toYYYYMM(event_time)
		ORDER BY (event_name, event_time, event_id);
	`
	_, err := r.db.ExecContext(ctx, query)
	return err
}

// LogBatch inserta un lote de registros. ClickHouse funciona mejor con inserciones en lotes.
// ReplacingMergeTree colapsa los duplicados por event_id que deje una redelivery.
func (r *OrderAnalyticsRepo) LogBatch(ctx context.Context, records []domain.OrderAnalyticsRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO orders_log (event_id, event_name, order_id, customer_id, total, currency, status, event_time)")
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx,
			rec.EventID,
			rec.EventName,
			rec.OrderID,
			rec.CustomerID,
			rec.Total,
			rec.Currency,
			string(rec.Status),
			rec.EventTime,
		); err != nil {
			// Si un registro falla, se descarta todo el lote.
			_ = tx.Rollback()
			return fmt.Errorf("failed to exec statement for event %s: %w", rec.EventID, err)
		}
	}

	return tx.Commit()
}

func (r *OrderAnalyticsRepo) GetDailyRevenue(ctx context.Context, start, end time.Time) ([]domain.DailyRevenue, error) {
	query := `
		SELECT
			toStartOfDay(event_time) AS day,
			currency,
			uniqExact(order_id) AS orders,
			sum(total) AS revenue
		FROM orders_log FINAL
		WHERE event_name = ? AND event_time BETWEEN ? AND ?
		GROUP BY day, currency
		ORDER BY day, currency
	`
	rows, err := r.db.QueryContext(ctx, query, events.OrderCreatedName, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DailyRevenue
	for rows.Next() {
		var d domain.DailyRevenue
		if err := rows.Scan(&d.Day, &d.Currency, &d.Orders, &d.Revenue); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Verificación estática de la interfaz.
var _ domain.OrderAnalyticsRepository = (*OrderAnalyticsRepo)(nil)
