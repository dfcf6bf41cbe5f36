package integration

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/davicafu/eventrelay/internal/eventbus"
	"github.com/davicafu/eventrelay/internal/infra/cache"
	"github.com/davicafu/eventrelay/internal/infra/db"
	eventlogSQLite "github.com/davicafu/eventrelay/internal/infra/db/sqlite"
	infraEvents "github.com/davicafu/eventrelay/internal/infra/events"
	"github.com/davicafu/eventrelay/internal/ordering/application"
	orderDomain "github.com/davicafu/eventrelay/internal/ordering/domain"
	orderEvents "github.com/davicafu/eventrelay/internal/ordering/infra/inbound/events"
	orderSQLite "github.com/davicafu/eventrelay/internal/ordering/infra/outbound/db/sqlite"
	"github.com/davicafu/eventrelay/internal/relayer"
	sharedDomain "github.com/davicafu/eventrelay/shared/domain"
	"github.com/davicafu/eventrelay/shared/events"
	"github.com/davicafu/eventrelay/shared/platform/persistence"
	"github.com/davicafu/eventrelay/tests/mocks"
)

// pipeline monta el camino completo: SQLite + outbox + bus en memoria + proyección.
type pipeline struct {
	conn      *sql.DB
	service   *application.OrderService
	repo      *orderSQLite.OrderRepoSQLite
	store     *eventlogSQLite.EventLogStoreSQLite
	txExec    *db.ResilientTransaction
	worker    *relayer.Worker
	analytics *mocks.MockAnalyticsRepo
}

func setupPipeline(t *testing.T) pipeline {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	log := zap.NewNop()

	conn, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, eventlogSQLite.InitSchema(ctx, conn))
	require.NoError(t, orderSQLite.InitSQLite(ctx, conn))

	registry := eventbus.NewSubscriptionRegistry(eventbus.NewSerializer())
	require.NoError(t, orderEvents.RegisterEventTypes(registry))

	memCache := cache.NewInMemoryCache(time.Minute, time.Minute)
	t.Cleanup(memCache.Stop)

	analytics := new(mocks.MockAnalyticsRepo)
	analytics.On("LogBatch", mock.Anything, mock.Anything).Return(nil)

	subs := orderEvents.Subscriptions{Cache: memCache, CacheTTL: 60, Analytics: analytics, Log: log}
	require.NoError(t, subs.Register(registry))

	bus := infraEvents.NewInMemoryEventBus(eventbus.NewProcessor(registry, log), 16, log)
	require.NoError(t, bus.Start(ctx))
	t.Cleanup(func() { _ = bus.Stop(context.Background()) })

	store := eventlogSQLite.NewEventLogStoreSQLite(conn, db.NewEventLog(registry, log))
	repo := orderSQLite.NewOrderRepoSQLite(conn)
	txExec := db.NewResilientTransaction(conn, log)
	dispatcher := relayer.NewDispatcher(store, bus, relayer.NewMetrics(prometheus.NewRegistry()), log)

	return pipeline{
		conn:      conn,
		service:   application.NewOrderService(repo, store, txExec, dispatcher, memCache, log),
		repo:      repo,
		store:     store,
		txExec:    txExec,
		worker:    relayer.NewOutboxWorker(store, dispatcher, time.Hour, 30*time.Second, 10, log),
		analytics: analytics,
	}
}

func (p pipeline) eventState(t *testing.T, eventID uuid.UUID) sharedDomain.EventState {
	t.Helper()
	var state int
	err := p.conn.QueryRow(`SELECT state FROM integration_event_log WHERE event_id = ?`, eventID.String()).Scan(&state)
	require.NoError(t, err)
	return sharedDomain.EventState(state)
}

func (p pipeline) eventIDs(t *testing.T) []uuid.UUID {
	t.Helper()
	rows, err := p.conn.Query(`SELECT event_id FROM integration_event_log ORDER BY creation_time`)
	require.NoError(t, err)
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		require.NoError(t, rows.Scan(&raw))
		ids = append(ids, uuid.MustParse(raw))
	}
	require.NoError(t, rows.Err())
	return ids
}

func TestOrderPipeline_CreateAndChangeStatus(t *testing.T) {
	p := setupPipeline(t)
	ctx := context.Background()

	order, err := p.service.CreateOrder(ctx, uuid.New(), 4200, "usd")
	require.NoError(t, err)

	// La proyección llega de forma asíncrona a través del bus
	require.Eventually(t, func() bool {
		proj, err := p.service.GetProjection(ctx, order.ID)
		return err == nil && proj.Status == orderDomain.StatusPending
	}, 2*time.Second, 10*time.Millisecond)

	_, err = p.service.ChangeStatus(ctx, order.ID, orderDomain.StatusPaid)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		proj, err := p.service.GetProjection(ctx, order.ID)
		return err == nil && proj.Status == orderDomain.StatusPaid
	}, 2*time.Second, 10*time.Millisecond)

	ids := p.eventIDs(t)
	require.Len(t, ids, 2)
	for _, id := range ids {
		id := id
		assert.Eventually(t, func() bool {
			return p.eventState(t, id) == sharedDomain.Published
		}, 2*time.Second, 10*time.Millisecond)
	}

	p.analytics.AssertCalled(t, "LogBatch", mock.Anything, mock.Anything)
}

func TestOrderPipeline_SweepPublishesOrphans(t *testing.T) {
	p := setupPipeline(t)
	ctx := context.Background()

	// Simula un productor que murió entre el commit y el envío
	order, err := orderDomain.NewOrder(uuid.New(), 1500, "EUR")
	require.NoError(t, err)
	evt := events.NewOrderCreatedEvent(order.ID, order.CustomerID, order.Total, order.Currency)
	evt.CreationTime = time.Now().UTC().Add(-time.Minute)

	err = p.txExec.Execute(ctx, func(ctx context.Context, tx *persistence.Transaction) error {
		if err := p.repo.Create(ctx, tx, order); err != nil {
			return err
		}
		return p.store.SaveEvent(ctx, evt, tx)
	})
	require.NoError(t, err)
	assert.Equal(t, sharedDomain.NotPublished, p.eventState(t, evt.ID))

	p.worker.ProcessBatch(ctx)

	require.Eventually(t, func() bool {
		proj, err := p.service.GetProjection(ctx, order.ID)
		return err == nil && proj.LastEventID == evt.ID
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, sharedDomain.Published, p.eventState(t, evt.ID))

	// Un segundo barrido no vuelve a encontrar nada
	p.worker.ProcessBatch(ctx)
	assert.Equal(t, sharedDomain.Published, p.eventState(t, evt.ID))
}

func TestOrderPipeline_FreshEntriesWaitForGrace(t *testing.T) {
	p := setupPipeline(t)
	ctx := context.Background()

	order, err := orderDomain.NewOrder(uuid.New(), 990, "EUR")
	require.NoError(t, err)
	evt := events.NewOrderCreatedEvent(order.ID, order.CustomerID, order.Total, order.Currency)

	err = p.txExec.Execute(ctx, func(ctx context.Context, tx *persistence.Transaction) error {
		if err := p.repo.Create(ctx, tx, order); err != nil {
			return err
		}
		return p.store.SaveEvent(ctx, evt, tx)
	})
	require.NoError(t, err)

	p.worker.ProcessBatch(ctx)

	assert.Equal(t, sharedDomain.NotPublished, p.eventState(t, evt.ID))
	_, err = p.service.GetProjection(ctx, order.ID)
	assert.ErrorIs(t, err, orderDomain.ErrProjectionNotFound)
}
