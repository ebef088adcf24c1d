package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type vehicleEvent struct {
	CRMID  string `json:"crmid"`
	Action string `json:"action"`
}

func TestPublishRecordsWireForm(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	pub := New(zap.New(core))

	id, err := pub.Publish(context.Background(), "vehicle-events", vehicleEvent{CRMID: "CRM-1", Action: "created"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "vehicle-events", msgs[0].Topic)
	require.JSONEq(t, `{"crmid":"CRM-1","action":"created"}`, string(msgs[0].Data))
	require.Equal(t, 1, logs.FilterMessage("event recorded").Len())

	msgs[0].Topic = "modified"
	require.Equal(t, "vehicle-events", pub.Messages()[0].Topic)
}

func TestPublishRejectsBadInput(t *testing.T) {
	t.Parallel()

	pub := New(nil)
	_, err := pub.Publish(context.Background(), "", vehicleEvent{})
	require.ErrorContains(t, err, "topic is required")

	_, err = pub.Publish(context.Background(), "vehicle-events", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
	require.Empty(t, pub.Messages())
}

func TestForTopic(t *testing.T) {
	t.Parallel()

	pub := New(nil)
	for i, topic := range []string{"vehicle-events", "other", "vehicle-events"} {
		_, err := pub.Publish(context.Background(), topic, i)
		require.NoError(t, err)
	}

	require.Equal(t, []any{0, 2}, pub.ForTopic("vehicle-events"))
	require.Nil(t, pub.ForTopic("missing"))
}

func TestPublishDropsOldestBeyondLimit(t *testing.T) {
	t.Parallel()

	pub := NewWithLimit(nil, 3)
	var lastID string
	for i := 0; i < 5; i++ {
		id, err := pub.Publish(context.Background(), "vehicle-events", i)
		require.NoError(t, err)
		lastID = id
	}

	require.Equal(t, "memory-5", lastID)
	msgs := pub.Messages()
	require.Len(t, msgs, 3)
	require.Equal(t, "memory-3", msgs[0].ID)
	require.Equal(t, []any{2, 3, 4}, pub.ForTopic("vehicle-events"))
	require.Equal(t, DefaultMaxMessages, New(nil).limit)
}
