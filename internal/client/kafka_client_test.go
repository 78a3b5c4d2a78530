package client

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bulletin-service/internal/config"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
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

func TestProduceMessage(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaProducer{Writer: w, logger: zap.NewNop()}

	err := p.ProduceMessage(context.Background(), "events", []byte("k"), []byte("v"), map[string]string{"type": "auth_lockout"})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "events", w.msgs[0].Topic)
	assert.Equal(t, []byte("v"), w.msgs[0].Value)
	require.Len(t, w.msgs[0].Headers, 1)
	assert.Equal(t, "type", w.msgs[0].Headers[0].Key)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestProduceMessage_WrapsError(t *testing.T) {
	boom := errors.New("broker down")
	p := &KafkaProducer{Writer: &fakeWriter{err: boom}, logger: zap.NewNop()}

	err := p.ProduceMessage(context.Background(), "events", nil, nil, nil)
	assert.ErrorIs(t, err, boom)
}

func TestNewKafkaProducer_NeedsBrokers(t *testing.T) {
	_, err := NewKafkaProducer(config.KafkaConfig{Enabled: true}, zap.NewNop())
	assert.Error(t, err)
}
