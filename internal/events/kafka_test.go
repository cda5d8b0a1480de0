package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w, "fund", nil)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	err := p.Publish(context.Background(),
		Event{Type: TypeStrikeCompleted, Key: "fund-1", OccurredAt: at, Payload: map[string]string{"strike_id": "s-1"}},
		Event{Type: TypeOrderFailed, Key: "fund-1", OccurredAt: at, Payload: map[string]int64{"order_id": 7}},
	)
	require.NoError(t, err)
	require.Len(t, w.msgs, 2)

	assert.Equal(t, "fund.strike.completed", w.msgs[0].Topic)
	assert.Equal(t, "fund.order.failed", w.msgs[1].Topic)
	assert.Equal(t, []byte("fund-1"), w.msgs[0].Key)

	var env struct {
		Type    string            `json:"type"`
		Payload map[string]string `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &env))
	assert.Equal(t, TypeStrikeCompleted, env.Type)
	assert.Equal(t, "s-1", env.Payload["strike_id"])

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := newKafkaPublisher(w, "", nil)

	err := p.Publish(context.Background(), Event{Type: TypeLateSettlement})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestKafkaPublisher_Empty(t *testing.T) {
	w := &fakeWriter{err: errors.New("unused")}
	assert.NoError(t, newKafkaPublisher(w, "", nil).Publish(context.Background()))
}

func TestNewKafkaPublisher_NoBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{}, nil)
	assert.Error(t, err)
}

func TestRecorder(t *testing.T) {
	var r Recorder
	require.NoError(t, r.Publish(context.Background(), Event{Type: TypeOrderFailed}, Event{Type: TypeStrikeCompleted}))
	assert.Len(t, r.Events(), 2)
	assert.Len(t, r.OfType(TypeOrderFailed), 1)
}
