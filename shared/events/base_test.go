package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIntegrationEvent(t *testing.T) {
	before := time.Now().UTC()
	a := NewIntegrationEvent()
	b := NewIntegrationEvent()

	assert.NotEqual(t, uuid.Nil, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, time.UTC, a.CreationTime.Location())
	assert.False(t, a.CreationTime.Before(before))
}

func TestOrderCreatedEvent_WireFields(t *testing.T) {
	evt := NewOrderCreatedEvent(uuid.New(), uuid.New(), 1999, "EUR")

	data, err := json.Marshal(evt)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))

	assert.Equal(t, evt.ID.String(), fields["id"])
	assert.Contains(t, fields, "creationTime")
	assert.Equal(t, evt.OrderID.String(), fields["orderId"])
	assert.Equal(t, "EUR", fields["currency"])
	assert.Equal(t, OrderCreatedName, evt.EventName())
	assert.Equal(t, evt.OrderID.String(), evt.PartitionKey())
}
