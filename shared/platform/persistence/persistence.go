package persistence

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

// Transaction es una transacción de negocio abierta. ID correlaciona todas las
// entradas del outbox escritas dentro de ella.
type Transaction struct {
	ID uuid.UUID
	Tx *sql.Tx
}

// TxExecutor ejecuta una unidad de trabajo dentro de una transacción.
type TxExecutor interface {
	Execute(ctx context.Context, action func(ctx context.Context, tx *Transaction) error) error
}
