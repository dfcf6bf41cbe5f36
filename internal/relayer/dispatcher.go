package relayer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/davicafu/eventrelay/shared/domain"
	sharedBus "github.com/davicafu/eventrelay/shared/platform/bus"
)

// Dispatcher publica las entradas pendientes del outbox y registra el resultado de cada una.
type Dispatcher struct {
	store   domain.EventLogStore
	bus     sharedBus.EventBus
	metrics *Metrics
	log     *zap.Logger
}

func NewDispatcher(store domain.EventLogStore, bus sharedBus.EventBus, metrics *Metrics, log *zap.Logger) *Dispatcher {
	return &Dispatcher{store: store, bus: bus, metrics: metrics, log: log}
}

// PublishThroughEventBus publica, en orden de creación, los eventos que dejó la transacción.
// Cada entrada es independiente: un fallo no impide intentar las siguientes.
func (d *Dispatcher) PublishThroughEventBus(ctx context.Context, transactionID uuid.UUID) error {
	entries, err := d.store.RetrievePendingByTransaction(ctx, transactionID)
	if err != nil {
		return fmt.Errorf("retrieve pending events for transaction %s: %w", transactionID, err)
	}
	return d.PublishEntries(ctx, entries)
}

// PublishEntries aplica MarkInProgress → Publish → MarkPublished|MarkFailed a cada entrada.
func (d *Dispatcher) PublishEntries(ctx context.Context, entries []domain.EventLogEntry) error {
	var errs error
	for _, entry := range entries {
		errs = multierr.Append(errs, d.publishEntry(ctx, entry))
	}
	return errs
}

func (d *Dispatcher) publishEntry(ctx context.Context, entry domain.EventLogEntry) error {
	fields := []zap.Field{
		zap.String("event_id", entry.EventID.String()),
		zap.String("event_name", entry.ShortName()),
		zap.String("transaction_id", entry.TransactionID.String()),
	}

	if err := d.store.MarkInProgress(ctx, entry.EventID); err != nil {
		d.log.Warn("⚠️ No se pudo marcar evento en curso", append(fields, zap.Error(err))...)
		return fmt.Errorf("mark %s in progress: %w", entry.EventID, err)
	}

	if pubErr := d.bus.Publish(ctx, entry.Event); pubErr != nil {
		d.metrics.incFailed(entry.ShortName())
		d.log.Error("❌ Error publishing integration event", append(fields, zap.Error(pubErr))...)

		err := fmt.Errorf("publish %s: %w", entry.EventID, pubErr)
		if markErr := d.store.MarkFailed(ctx, entry.EventID); markErr != nil {
			err = multierr.Append(err, fmt.Errorf("mark %s failed: %w", entry.EventID, markErr))
		}
		return err
	}

	if err := d.store.MarkPublished(ctx, entry.EventID); err != nil {
		d.log.Warn("⚠️ No se pudo marcar evento como publicado", append(fields, zap.Error(err))...)
		return fmt.Errorf("mark %s published: %w", entry.EventID, err)
	}

	d.metrics.incPublished(entry.ShortName())
	d.log.Info("✅ Evento publicado y marcado", fields...)
	return nil
}
