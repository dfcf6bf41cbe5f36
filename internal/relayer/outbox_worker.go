package relayer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davicafu/eventrelay/shared/domain"
)

// Worker recoge entradas NotPublished huérfanas: las que quedaron sin despachar porque
// el productor murió entre el commit y el envío. Las PublishedFailed no se tocan.
type Worker struct {
	store      domain.EventLogStore
	dispatcher *Dispatcher
	interval   time.Duration
	grace      time.Duration
	batchSize  int
	log        *zap.Logger
	now        func() time.Time

	mu      sync.Mutex
	started bool
	stopped bool
	quit    chan struct{}
	wg      sync.WaitGroup
}

func NewOutboxWorker(
	store domain.EventLogStore,
	dispatcher *Dispatcher,
	interval time.Duration,
	grace time.Duration,
	batchSize int,
	log *zap.Logger,
) *Worker {
	return &Worker{
		store:      store,
		dispatcher: dispatcher,
		interval:   interval,
		grace:      grace,
		batchSize:  batchSize,
		log:        log,
		now:        time.Now,
		quit:       make(chan struct{}),
	}
}

// Start lanza el bucle de polling en su propia goroutine y vuelve enseguida.
// El bucle termina al cancelar ctx o al llamar a Stop. Llamar a Start de nuevo,
// o después de Stop, no hace nada.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.stopped {
		return
	}
	w.started = true

	w.wg.Add(1)
	go w.run(ctx)
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info("🚀 Outbox worker iniciado",
		zap.Duration("interval", w.interval),
		zap.Duration("grace", w.grace),
	)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("🛑 Outbox worker detenido.")
			return
		case <-w.quit:
			w.log.Info("🛑 Outbox worker detenido.")
			return
		case <-ticker.C:
			w.ProcessBatch(ctx)
		}
	}
}

// Stop para el bucle y espera a que termine el lote en curso. Es idempotente.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.quit)
	}
	w.mu.Unlock()

	w.wg.Wait()
}

func (w *Worker) ProcessBatch(ctx context.Context) {
	cutoff := w.now().Add(-w.grace)
	entries, err := w.store.RetrievePending(ctx, cutoff, w.batchSize)
	if err != nil {
		w.log.Warn("⚠️ Error al obtener eventos pendientes", zap.Error(err))
		return
	}
	if len(entries) == 0 {
		return
	}

	w.log.Info(fmt.Sprintf("📬 %d eventos huérfanos encontrados para procesar", len(entries)))
	if err := w.dispatcher.PublishEntries(ctx, entries); err != nil {
		w.log.Warn("⚠️ Algunos eventos no se pudieron publicar", zap.Error(err))
	}
}
