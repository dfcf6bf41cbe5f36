package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/davicafu/eventrelay/internal/infra/db"
	"github.com/davicafu/eventrelay/shared/domain"
	"github.com/davicafu/eventrelay/shared/events"
	"github.com/davicafu/eventrelay/shared/platform/persistence"
)

const schema = `
CREATE TABLE IF NOT EXISTS integration_event_log (
	event_id        UUID PRIMARY KEY,
	event_type_name TEXT NOT NULL,
	content         TEXT NOT NULL,
	state           SMALLINT NOT NULL DEFAULT 0,
	times_sent      INTEGER NOT NULL DEFAULT 0,
	creation_time   TIMESTAMPTZ NOT NULL,
	transaction_id  UUID NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_event_log_tx_state ON integration_event_log (transaction_id, state);
CREATE INDEX IF NOT EXISTS idx_event_log_state_time ON integration_event_log (state, creation_time);`

// InitSchema crea la tabla del outbox si no existe.
func InitSchema(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create integration_event_log: %w", err)
	}
	return nil
}

const (
	insertEntrySQL = `INSERT INTO integration_event_log
	 (event_id, event_type_name, content, state, times_sent, creation_time, transaction_id)
	 VALUES ($1,$2,$3,$4,$5,$6,$7)`
	selectByTransactionSQL = `SELECT event_id, event_type_name, content, state, times_sent, creation_time, transaction_id
	 FROM integration_event_log
	 WHERE transaction_id = $1 AND state = $2
	 ORDER BY creation_time, event_id`
	selectStateSQL = `SELECT state FROM integration_event_log WHERE event_id = $1`

	selectPendingSQL = `SELECT event_id, event_type_name, content, state, times_sent, creation_time, transaction_id
	 FROM integration_event_log
	 WHERE state = $1 AND creation_time < $2`
	pendingAfterSQL = ` AND (creation_time, event_id) > ($3, $4)`
)

// pendingQuery arma la consulta de una página del barrido; el LIMIT ocupa el último placeholder.
func pendingQuery(after *db.PendingCursor) string {
	if after == nil {
		return selectPendingSQL + ` ORDER BY creation_time, event_id LIMIT $3`
	}
	return selectPendingSQL + pendingAfterSQL + ` ORDER BY creation_time, event_id LIMIT $5`
}

// transitionQuery condiciona el UPDATE a los estados de origen permitidos para target.
func transitionQuery(target domain.EventState) string {
	return `UPDATE integration_event_log
	 SET state = $1, times_sent = times_sent + $2
	 WHERE event_id = $3 AND state IN (` + db.StateList(target) + `)`
}

// EventLogStorePostgres implementa domain.EventLogStore sobre Postgres (driver pgx).
type EventLogStorePostgres struct {
	db  *sql.DB
	log *db.EventLog
}

func NewEventLogStorePostgres(conn *sql.DB, eventLog *db.EventLog) *EventLogStorePostgres {
	return &EventLogStorePostgres{db: conn, log: eventLog}
}

func (s *EventLogStorePostgres) SaveEvent(ctx context.Context, evt events.Event, tx *persistence.Transaction) error {
	if tx == nil || tx.Tx == nil {
		return domain.ErrTransactionRequired
	}

	entry, err := s.log.NewEntry(evt, tx.ID)
	if err != nil {
		return err
	}

	_, err = tx.Tx.ExecContext(ctx, insertEntrySQL,
		entry.EventID.String(), entry.EventTypeName, entry.Content, int(entry.State), entry.TimesSent,
		entry.CreationTime, entry.TransactionID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event log entry %s: %w", entry.EventID, err)
	}
	return nil
}

func (s *EventLogStorePostgres) RetrievePendingByTransaction(ctx context.Context, transactionID uuid.UUID) ([]domain.EventLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, selectByTransactionSQL,
		transactionID.String(), int(domain.NotPublished),
	)
	if err != nil {
		return nil, fmt.Errorf("query pending events: %w", err)
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	return s.log.Resolve(entries), nil
}

func (s *EventLogStorePostgres) RetrievePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.EventLogEntry, error) {
	cutoff := olderThan.UTC()
	return s.log.CollectPending(ctx, limit, func(ctx context.Context, after *db.PendingCursor, size int) ([]domain.EventLogEntry, error) {
		query := pendingQuery(after)
		args := []any{int(domain.NotPublished), cutoff}
		if after != nil {
			args = append(args, after.CreationTime.UTC(), after.EventID.String())
		}
		args = append(args, size)

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("query orphan events: %w", err)
		}
		return scanEntries(rows)
	})
}

func (s *EventLogStorePostgres) MarkInProgress(ctx context.Context, eventID uuid.UUID) error {
	return s.transition(ctx, eventID, domain.InProgress, 1)
}

func (s *EventLogStorePostgres) MarkPublished(ctx context.Context, eventID uuid.UUID) error {
	return s.transition(ctx, eventID, domain.Published, 0)
}

func (s *EventLogStorePostgres) MarkFailed(ctx context.Context, eventID uuid.UUID) error {
	return s.transition(ctx, eventID, domain.PublishedFailed, 0)
}

func (s *EventLogStorePostgres) transition(ctx context.Context, eventID uuid.UUID, target domain.EventState, inc int) error {
	res, err := s.db.ExecContext(ctx, transitionQuery(target),
		int(target), inc, eventID.String(),
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get RowsAffected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var current int
	err = s.db.QueryRowContext(ctx, selectStateSQL, eventID.String()).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return db.TransitionError(eventID, false, 0, target)
	}
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return db.TransitionError(eventID, true, domain.EventState(current), target)
}

func scanEntries(rows *sql.Rows) ([]domain.EventLogEntry, error) {
	defer rows.Close()

	var entries []domain.EventLogEntry
	for rows.Next() {
		var (
			e        domain.EventLogEntry
			id, txID string
			state    int
		)
		if err := rows.Scan(&id, &e.EventTypeName, &e.Content, &state, &e.TimesSent, &e.CreationTime, &txID); err != nil {
			return nil, err
		}

		var err error
		if e.EventID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid UUID in event log row: %w", err)
		}
		if e.TransactionID, err = uuid.Parse(txID); err != nil {
			return nil, fmt.Errorf("invalid transaction UUID in event log row %s: %w", id, err)
		}
		e.CreationTime = e.CreationTime.UTC()
		e.State = domain.EventState(state)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Verificación en tiempo de compilación.
var _ domain.EventLogStore = (*EventLogStorePostgres)(nil)
