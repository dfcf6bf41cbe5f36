package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/davicafu/eventrelay/internal/infra/db"
	"github.com/davicafu/eventrelay/shared/domain"
	"github.com/davicafu/eventrelay/shared/events"
	"github.com/davicafu/eventrelay/shared/platform/persistence"
)

// Formato de ancho fijo: permite comparar y ordenar creation_time como texto.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS integration_event_log (
	event_id        TEXT PRIMARY KEY,
	event_type_name TEXT NOT NULL,
	content         TEXT NOT NULL,
	state           INTEGER NOT NULL DEFAULT 0,
	times_sent      INTEGER NOT NULL DEFAULT 0,
	creation_time   TEXT NOT NULL,
	transaction_id  TEXT NOT NULL
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

// EventLogStoreSQLite implementa domain.EventLogStore sobre SQLite.
type EventLogStoreSQLite struct {
	db  *sql.DB
	log *db.EventLog
}

func NewEventLogStoreSQLite(conn *sql.DB, eventLog *db.EventLog) *EventLogStoreSQLite {
	return &EventLogStoreSQLite{db: conn, log: eventLog}
}

func (s *EventLogStoreSQLite) SaveEvent(ctx context.Context, evt events.Event, tx *persistence.Transaction) error {
	if tx == nil || tx.Tx == nil {
		return domain.ErrTransactionRequired
	}

	entry, err := s.log.NewEntry(evt, tx.ID)
	if err != nil {
		return err
	}

	_, err = tx.Tx.ExecContext(ctx,
		`INSERT INTO integration_event_log
		 (event_id, event_type_name, content, state, times_sent, creation_time, transaction_id)
		 VALUES (?,?,?,?,?,?,?)`,
		entry.EventID.String(), entry.EventTypeName, entry.Content, int(entry.State), entry.TimesSent,
		entry.CreationTime.UTC().Format(timeLayout), entry.TransactionID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event log entry %s: %w", entry.EventID, err)
	}
	return nil
}

func (s *EventLogStoreSQLite) RetrievePendingByTransaction(ctx context.Context, transactionID uuid.UUID) ([]domain.EventLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, event_type_name, content, state, times_sent, creation_time, transaction_id
		 FROM integration_event_log
		 WHERE transaction_id = ? AND state = ?
		 ORDER BY creation_time`,
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

const (
	selectPendingSQL = `SELECT event_id, event_type_name, content, state, times_sent, creation_time, transaction_id
	 FROM integration_event_log
	 WHERE state = ? AND creation_time < ?`
	pendingAfterSQL = ` AND (creation_time > ? OR (creation_time = ? AND event_id > ?))`
	pendingOrderSQL = ` ORDER BY creation_time, event_id LIMIT ?`
)

func (s *EventLogStoreSQLite) RetrievePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.EventLogEntry, error) {
	cutoff := olderThan.UTC().Format(timeLayout)
	return s.log.CollectPending(ctx, limit, func(ctx context.Context, after *db.PendingCursor, size int) ([]domain.EventLogEntry, error) {
		query := selectPendingSQL
		args := []any{int(domain.NotPublished), cutoff}
		if after != nil {
			created := after.CreationTime.UTC().Format(timeLayout)
			query += pendingAfterSQL
			args = append(args, created, created, after.EventID.String())
		}
		args = append(args, size)

		rows, err := s.db.QueryContext(ctx, query+pendingOrderSQL, args...)
		if err != nil {
			return nil, fmt.Errorf("query orphan events: %w", err)
		}
		return scanEntries(rows)
	})
}

func (s *EventLogStoreSQLite) MarkInProgress(ctx context.Context, eventID uuid.UUID) error {
	return s.transition(ctx, eventID, domain.InProgress, true)
}

func (s *EventLogStoreSQLite) MarkPublished(ctx context.Context, eventID uuid.UUID) error {
	return s.transition(ctx, eventID, domain.Published, false)
}

func (s *EventLogStoreSQLite) MarkFailed(ctx context.Context, eventID uuid.UUID) error {
	return s.transition(ctx, eventID, domain.PublishedFailed, false)
}

// transition aplica el cambio de estado en un único UPDATE condicionado a los orígenes permitidos.
func (s *EventLogStoreSQLite) transition(ctx context.Context, eventID uuid.UUID, target domain.EventState, bump bool) error {
	inc := 0
	if bump {
		inc = 1
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE integration_event_log
		 SET state = ?, times_sent = times_sent + ?
		 WHERE event_id = ? AND state IN (`+db.StateList(target)+`)`,
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
	err = s.db.QueryRowContext(ctx,
		`SELECT state FROM integration_event_log WHERE event_id = ?`, eventID.String(),
	).Scan(&current)
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
			e                 domain.EventLogEntry
			id, txID, created string
			state             int
		)
		if err := rows.Scan(&id, &e.EventTypeName, &e.Content, &state, &e.TimesSent, &created, &txID); err != nil {
			return nil, err
		}

		var err error
		if e.EventID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid UUID in event log row: %w", err)
		}
		if e.TransactionID, err = uuid.Parse(txID); err != nil {
			return nil, fmt.Errorf("invalid transaction UUID in event log row %s: %w", id, err)
		}
		if e.CreationTime, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("invalid creation_time in event log row %s: %w", id, err)
		}
		e.State = domain.EventState(state)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Verificación en tiempo de compilación.
var _ domain.EventLogStore = (*EventLogStoreSQLite)(nil)
