package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davicafu/eventrelay/shared/platform/persistence"
	"github.com/davicafu/eventrelay/shared/utils"
)

// ErrNestedTransaction se devuelve al llamar a Execute desde dentro de otra acción.
var ErrNestedTransaction = errors.New("nested resilient transaction is not supported")

type txMarker struct{}

// InTransaction indica si ctx viene de una acción de ResilientTransaction.
func InTransaction(ctx context.Context) bool {
	_, ok := ctx.Value(txMarker{}).(*persistence.Transaction)
	return ok
}

// ResilientTransaction ejecuta una unidad de trabajo en una transacción nueva y
// la repite entera si falla por un error transitorio de la base de datos.
type ResilientTransaction struct {
	db     *sql.DB
	log    *zap.Logger
	policy utils.RetryPolicy
	opts   *sql.TxOptions
	isTemp func(error) bool
}

type ResilientTxOption func(*ResilientTransaction)

// WithRetryPolicy sustituye el calendario por defecto (5 intentos, 100ms base, 2s máximo).
func WithRetryPolicy(p utils.RetryPolicy) ResilientTxOption {
	return func(r *ResilientTransaction) { r.policy = p }
}

func WithTxOptions(opts *sql.TxOptions) ResilientTxOption {
	return func(r *ResilientTransaction) { r.opts = opts }
}

// WithTransientClassifier permite cambiar qué errores se reintentan.
func WithTransientClassifier(fn func(error) bool) ResilientTxOption {
	return func(r *ResilientTransaction) { r.isTemp = fn }
}

func NewResilientTransaction(db *sql.DB, log *zap.Logger, opts ...ResilientTxOption) *ResilientTransaction {
	r := &ResilientTransaction{
		db:  db,
		log: log,
		policy: utils.RetryPolicy{
			Retries:   4,
			BaseDelay: 100 * time.Millisecond,
			MaxDelay:  2 * time.Second,
			Jitter:    true,
		},
		isTemp: IsTransient,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute abre una transacción, ejecuta action y hace commit. Cualquier error de
// action provoca rollback; solo los transitorios vuelven a intentarse, cada vez
// con una transacción (y un ID) nuevos.
func (r *ResilientTransaction) Execute(ctx context.Context, action func(ctx context.Context, tx *persistence.Transaction) error) error {
	if InTransaction(ctx) {
		return ErrNestedTransaction
	}

	policy := r.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		r.log.Warn("Retrying transaction",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	err := utils.RetryWithPolicy(ctx, policy, func(int) error {
		err := r.runOnce(ctx, action)
		if err != nil && r.isTemp(err) {
			return utils.Transient(err)
		}
		return err
	})
	if errors.Is(err, utils.ErrRetriesExhausted) {
		r.log.Error("❌ Transaction failed after retries", zap.Error(err))
	}
	return err
}

func (r *ResilientTransaction) runOnce(ctx context.Context, action func(ctx context.Context, tx *persistence.Transaction) error) (err error) {
	sqlTx, err := r.db.BeginTx(ctx, r.opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	tx := &persistence.Transaction{ID: uuid.New(), Tx: sqlTx}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = action(context.WithValue(ctx, txMarker{}, tx), tx); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction %s: %w", tx.ID, err)
	}
	return nil
}

var _ persistence.TxExecutor = (*ResilientTransaction)(nil)
