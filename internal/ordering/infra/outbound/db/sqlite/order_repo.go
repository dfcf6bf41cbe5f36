package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/davicafu/eventrelay/internal/ordering/domain"
	sharedDomain "github.com/davicafu/eventrelay/shared/domain"
	"github.com/davicafu/eventrelay/shared/platform/persistence"
	"github.com/davicafu/eventrelay/shared/platform/query"
)

// Ancho fijo: created_at y updated_at se ordenan como texto.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type OrderRepoSQLite struct {
	db *sql.DB
}

func NewOrderRepoSQLite(db *sql.DB) *OrderRepoSQLite {
	return &OrderRepoSQLite{db: db}
}

// InitSQLite crea la tabla de pedidos si no existe.
func InitSQLite(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS orders (
		id          TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		total       INTEGER NOT NULL,
		currency    TEXT NOT NULL,
		status      TEXT NOT NULL,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orders_customer ON orders (customer_id);`)
	if err != nil {
		return fmt.Errorf("create orders table: %w", err)
	}
	return nil
}

// ------------------ Métodos ------------------

// Create inserta el pedido dentro de la transacción del llamante.
func (r *OrderRepoSQLite) Create(ctx context.Context, tx *persistence.Transaction, o *domain.Order) error {
	if tx == nil || tx.Tx == nil {
		return sharedDomain.ErrTransactionRequired
	}

	_, err := tx.Tx.ExecContext(ctx,
		`INSERT INTO orders (id,customer_id,total,currency,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		o.ID.String(), o.CustomerID.String(), o.Total, o.Currency, string(o.Status),
		o.CreatedAt.UTC().Format(timeLayout), o.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.ErrOrderAlreadyExists
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// UpdateStatus guarda el nuevo estado si el pedido sigue en from.
func (r *OrderRepoSQLite) UpdateStatus(ctx context.Context, tx *persistence.Transaction, o *domain.Order, from domain.OrderStatus) error {
	if tx == nil || tx.Tx == nil {
		return sharedDomain.ErrTransactionRequired
	}

	res, err := tx.Tx.ExecContext(ctx,
		`UPDATE orders SET status=?, updated_at=? WHERE id=? AND status=?`,
		string(o.Status), o.UpdatedAt.UTC().Format(timeLayout), o.ID.String(), string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get RowsAffected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var exists int
	err = tx.Tx.QueryRowContext(ctx, `SELECT 1 FROM orders WHERE id=?`, o.ID.String()).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrOrderNotFound
	}
	if err != nil {
		return err
	}
	return domain.ErrConcurrentUpdate
}

const selectOrders = `SELECT id,customer_id,total,currency,status,created_at,updated_at FROM orders`

func (r *OrderRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, selectOrders+` WHERE id=?`, id.String())
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	return o, err
}

// List construye la consulta a partir de los criterios con marcadores "?".
func (r *OrderRepoSQLite) List(ctx context.Context, criteria sharedDomain.Criteria, page query.OffsetPagination, sort query.Sort) ([]*domain.Order, error) {
	b := query.NewBuilder(query.Question)
	stmt := selectOrders + b.Where(criteria) + b.Page(sort, page)

	rows, err := r.db.QueryContext(ctx, stmt, b.Args()...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	orders := []*domain.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row scanner) (*domain.Order, error) {
	var (
		o                    domain.Order
		idStr, customer      string
		status               string
		createdAt, updatedAt string
	)
	if err := row.Scan(&idStr, &customer, &o.Total, &o.Currency, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if o.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("invalid UUID in orders row: %w", err)
	}
	if o.CustomerID, err = uuid.Parse(customer); err != nil {
		return nil, fmt.Errorf("invalid customer UUID in orders row %s: %w", idStr, err)
	}
	if o.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("invalid created_at in orders row %s: %w", idStr, err)
	}
	if o.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("invalid updated_at in orders row %s: %w", idStr, err)
	}
	o.Status = domain.OrderStatus(status)
	return &o, nil
}

// Verificación estática
var _ domain.OrderRepository = (*OrderRepoSQLite)(nil)
