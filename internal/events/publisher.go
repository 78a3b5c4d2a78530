package events

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bulletin-service/internal/admission"
	"bulletin-service/internal/models"
)

const defaultBuffer = 1024

// Producer is the part of client.KafkaProducer the publisher uses
type Producer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Publisher turns admission denials and lockouts into security events.
// Notifications are queued and written by Run so checks never wait on the
// broker; when the queue is full the event is dropped and counted.
type Publisher struct {
	producer Producer
	topic    string
	logger   *zap.Logger
	queue    chan models.SecurityEvent
	now      func() time.Time
	dropped  atomic.Int64
}

func NewPublisher(producer Producer, topic string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		producer: producer,
		topic:    topic,
		logger:   logger,
		queue:    make(chan models.SecurityEvent, defaultBuffer),
		now:      time.Now,
	}
}

func (p *Publisher) Decided(op admission.Operation, address, identity string, d admission.Decision) {
	if d.Allowed {
		return
	}

	eventType := models.EventRateLimited
	switch d.Kind {
	case admission.DenyCrossAddress, admission.DenyCrossAddressRetrieval:
		eventType = models.EventCrossAddressDenied
	}

	p.enqueue(models.SecurityEvent{
		EventType:  eventType,
		Operation:  string(op),
		IPAddress:  address,
		Identity:   identity,
		Reason:     string(d.Kind),
		RetryAfter: d.RetryAfter.String(),
	})
}

func (p *Publisher) LockedOut(identifier string, failures int, until time.Time) {
	p.enqueue(models.SecurityEvent{
		EventType:  models.EventAuthLockout,
		Operation:  string(admission.OperationAuth),
		Identifier: identifier,
		Failures:   failures,
		Until:      until,
	})
}

func (p *Publisher) enqueue(ev models.SecurityEvent) {
	ev.EventID = uuid.NewString()
	ev.EventTime = p.now().UTC()

	select {
	case p.queue <- ev:
	default:
		if n := p.dropped.Add(1); n%100 == 1 {
			p.logger.Warn("Security event queue full, dropping events", zap.Int64("dropped_total", n))
		}
	}
}

// Dropped reports how many events were discarded because the queue was full
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

// Run writes queued events until ctx is cancelled, then flushes what is left
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-p.queue:
			p.publish(ctx, ev)
		case <-ctx.Done():
			p.drain()
			return nil
		}
	}
}

func (p *Publisher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-p.queue:
			p.publish(ctx, ev)
		default:
			return
		}
	}
}

func (p *Publisher) publish(ctx context.Context, ev models.SecurityEvent) {
	value, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("Failed to marshal security event", zap.Error(err))
		return
	}

	key := ev.Identity
	if key == "" {
		key = ev.Identifier
	}
	if key == "" {
		key = ev.IPAddress
	}

	headers := map[string]string{"event_type": ev.EventType}
	if err := p.producer.ProduceMessage(ctx, p.topic, []byte(key), value, headers); err != nil {
		p.logger.Error("Failed to publish security event",
			zap.String("event_type", ev.EventType),
			zap.String("event_id", ev.EventID),
			zap.Error(err),
		)
	}
}
