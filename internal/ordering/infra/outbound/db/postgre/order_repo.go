package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/davicafu/eventrelay/internal/ordering/domain"
	sharedDomain "github.com/davicafu/eventrelay/shared/domain"
	"github.com/davicafu/eventrelay/shared/platform/persistence"
	"github.com/davicafu/eventrelay/shared/platform/query"
)

const uniqueViolation = "23505"

const (
	insertOrderSQL = `INSERT INTO orders (id, customer_id, total, currency, status, created_at, updated_at)
	 VALUES ($1, $2, $3, $4, $5, $6, $7)`
	updateStatusSQL = `UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	orderExistsSQL  = `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`
	selectOrders    = `SELECT id, customer_id, total, currency, status, created_at, updated_at FROM orders`
	selectOrderSQL  = selectOrders + ` WHERE id = $1`
)

type OrderRepoPostgres struct {
	db *sql.DB
}

func NewOrderRepoPostgres(db *sql.DB) *OrderRepoPostgres {
	return &OrderRepoPostgres{db: db}
}

func InitPostgres(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS orders (
		id          UUID PRIMARY KEY,
		customer_id UUID NOT NULL,
		total       BIGINT NOT NULL,
		currency    CHAR(3) NOT NULL,
		status      TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orders_customer ON orders (customer_id);`)
	if err != nil {
		return fmt.Errorf("create orders table: %w", err)
	}
	return nil
}

// ------------------ CRUD ------------------

func (r *OrderRepoPostgres) Create(ctx context.Context, tx *persistence.Transaction, o *domain.Order) error {
	if tx == nil || tx.Tx == nil {
		return sharedDomain.ErrTransactionRequired
	}

	_, err := tx.Tx.ExecContext(ctx, insertOrderSQL,
		o.ID, o.CustomerID, o.Total, o.Currency, string(o.Status), o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrOrderAlreadyExists
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (r *OrderRepoPostgres) UpdateStatus(ctx context.Context, tx *persistence.Transaction, o *domain.Order, from domain.OrderStatus) error {
	if tx == nil || tx.Tx == nil {
		return sharedDomain.ErrTransactionRequired
	}

	res, err := tx.Tx.ExecContext(ctx, updateStatusSQL,
		string(o.Status), o.UpdatedAt, o.ID, string(from),
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

	var exists bool
	err = tx.Tx.QueryRowContext(ctx, orderExistsSQL, o.ID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrOrderNotFound
	}
	return domain.ErrConcurrentUpdate
}

func (r *OrderRepoPostgres) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, selectOrderSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	return o, err
}

func (r *OrderRepoPostgres) List(ctx context.Context, criteria sharedDomain.Criteria, page query.OffsetPagination, sort query.Sort) ([]*domain.Order, error) {
	stmt, args := listQuery(criteria, sort, page)
	rows, err := r.db.QueryContext(ctx, stmt, args...)
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

// listQuery arma el SELECT de un listado con placeholders $n numerados en orden.
func listQuery(criteria sharedDomain.Criteria, sort query.Sort, page query.OffsetPagination) (string, []interface{}) {
	b := query.NewBuilder(query.Dollar)
	stmt := selectOrders + b.Where(criteria) + b.Page(sort, page)
	return stmt, b.Args()
}

func scanOrder(row interface{ Scan(...interface{}) error }) (*domain.Order, error) {
	var (
		o      domain.Order
		status string
	)
	if err := row.Scan(&o.ID, &o.CustomerID, &o.Total, &o.Currency, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Status = domain.OrderStatus(status)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return &o, nil
}

var _ domain.OrderRepository = (*OrderRepoPostgres)(nil)
