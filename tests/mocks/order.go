package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/davicafu/eventrelay/internal/ordering/domain"
)

// MockAnalyticsRepo simula el sumidero analítico de pedidos.
type MockAnalyticsRepo struct {
	mock.Mock
}

func (m *MockAnalyticsRepo) LogBatch(ctx context.Context, records []domain.OrderAnalyticsRecord) error {
	return m.Called(ctx, records).Error(0)
}

func (m *MockAnalyticsRepo) GetDailyRevenue(ctx context.Context, start, end time.Time) ([]domain.DailyRevenue, error) {
	args := m.Called(ctx, start, end)
	out, _ := args.Get(0).([]domain.DailyRevenue)
	return out, args.Error(1)
}

var _ domain.OrderAnalyticsRepository = (*MockAnalyticsRepo)(nil)
