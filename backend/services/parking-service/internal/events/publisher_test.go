package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewEnvelope(t *testing.T) {
	a := NewEnvelope(SessionCompleted, SessionEvent{SessionID: 7, Kind: "booking", TotalFee: "400.00"})
	b := NewEnvelope(SessionCompleted, SessionEvent{SessionID: 7})

	_, err := uuid.Parse(a.ID)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, SessionCompleted, a.Type)
	assert.Equal(t, "UTC", a.OccurredAt.Location().String())

	body, err := json.Marshal(a)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "parking.session.completed", decoded["type"])
	payload, ok := decoded["payload"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 7, payload["session_id"])
	assert.Equal(t, "400.00", payload["total_fee"])
}

func TestNoopPublisher(t *testing.T) {
	var p Publisher = Noop{}
	assert.NoError(t, p.Publish(context.Background(), BulkAssigned, BulkAssignedEvent{ChunkID: 1}))
	assert.NoError(t, p.Close())
}

func TestNewAMQPPublisherRequiresURL(t *testing.T) {
	_, err := NewAMQPPublisher("", "parking.events", "", zap.NewNop())
	assert.Error(t, err)
}
