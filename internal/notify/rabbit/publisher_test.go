package rabbit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/alertflow/internal/alert"
)

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	declared   []string
	sent       []published
	publishErr error
	closed     bool
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.declared = append(f.declared, name+":"+kind)
	return nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestPublisher_PublishesOnePersistentMessagePerAlert(t *testing.T) {
	ch := &fakeChannel{}
	p, err := New(ch, "alerts")
	require.NoError(t, err)
	assert.Equal(t, []string{"alerts:topic"}, ch.declared)

	a1 := alert.Alert{Draft: alert.Draft{ID: uuid.New(), Severity: alert.SeverityCritical, Score: 101}}
	a2 := alert.Alert{Draft: alert.Draft{ID: uuid.New(), Severity: alert.SeverityModerate, Score: 51}}
	require.NoError(t, p.Notify(context.Background(), []alert.Alert{a1, a2}))

	require.Len(t, ch.sent, 2)
	assert.Equal(t, "alert.critical", ch.sent[0].key)
	assert.Equal(t, "alert.moderate", ch.sent[1].key)
	assert.Equal(t, "alerts", ch.sent[0].exchange)
	assert.Equal(t, amqp.Persistent, ch.sent[0].msg.DeliveryMode)
	assert.Equal(t, a1.ID.String(), ch.sent[0].msg.MessageId)

	var body alert.Alert
	require.NoError(t, json.Unmarshal(ch.sent[0].msg.Body, &body))
	assert.Equal(t, a1.ID, body.ID)
	assert.Equal(t, 101, body.Score)
}

func TestPublisher_StopsOnError(t *testing.T) {
	ch := &fakeChannel{publishErr: errors.New("channel closed")}
	p, err := New(ch, "alerts")
	require.NoError(t, err)

	err = p.Notify(context.Background(), []alert.Alert{{Draft: alert.Draft{ID: uuid.New()}}})
	assert.ErrorContains(t, err, "channel closed")
	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}
