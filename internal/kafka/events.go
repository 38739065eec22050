package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ramiqadoumi/go-task-kernel/internal/domain"
	"github.com/ramiqadoumi/go-task-kernel/pkg/retry"
	"github.com/ramiqadoumi/go-task-kernel/pkg/telemetry"
)

// LifecycleTopic carries every task status change a kernel makes.
const LifecycleTopic = "tasks.lifecycle"

// EventPublisher sends lifecycle events to Kafka. It satisfies
// kernel.Observer, so a scheduler can publish by registering it.
type EventPublisher struct {
	producer Producer
	topic    string
	retry    retry.Config
	timeout  time.Duration
	logger   *slog.Logger
}

// PublisherOption configures an EventPublisher.
type PublisherOption func(*EventPublisher)

func WithTopic(topic string) PublisherOption {
	return func(p *EventPublisher) { p.topic = topic }
}

func WithRetry(cfg retry.Config) PublisherOption {
	return func(p *EventPublisher) { p.retry = cfg }
}

func WithPublishTimeout(d time.Duration) PublisherOption {
	return func(p *EventPublisher) { p.timeout = d }
}

func WithPublisherLogger(l *slog.Logger) PublisherOption {
	return func(p *EventPublisher) { p.logger = l }
}

// NewEventPublisher wraps producer.
func NewEventPublisher(producer Producer, opts ...PublisherOption) *EventPublisher {
	p := &EventPublisher{
		producer: producer,
		topic:    LifecycleTopic,
		retry:    retry.Config{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond},
		timeout:  5 * time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish encodes ev and writes it keyed by task id, so one task's events stay
// ordered on a single partition.
func (p *EventPublisher) Publish(ctx context.Context, ev domain.LifecycleEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal lifecycle event: %w", err)
	}
	key := ev.KernelID + "/" + strconv.Itoa(ev.TaskID)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cfg := p.retry
	cfg.OnRetry = func(attempt int, err error) {
		p.logger.Warn("publish lifecycle event failed, retrying",
			slog.Int("attempt", attempt),
			slog.String("event_id", ev.ID),
			slog.String("error", err.Error()),
		)
	}
	return retry.Do(ctx, cfg, func(ctx context.Context) error {
		return p.producer.Publish(ctx, p.topic, key, data)
	})
}

// Observe publishes ev, logging rather than returning failures.
func (p *EventPublisher) Observe(ctx context.Context, ev domain.LifecycleEvent) {
	if err := p.Publish(ctx, ev); err != nil {
		telemetry.EventsPublishedTotal.WithLabelValues("error").Inc()
		p.logger.Error("lifecycle event lost",
			slog.String("event_id", ev.ID),
			slog.Int("task_id", ev.TaskID),
			slog.String("status", ev.Status.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	telemetry.EventsPublishedTotal.WithLabelValues("ok").Inc()
}

// EventHandler processes one decoded lifecycle event.
type EventHandler func(ctx context.Context, ev domain.LifecycleEvent) error

// EventConsumer decodes lifecycle events from a Consumer.
type EventConsumer struct {
	consumer Consumer
}

// NewEventConsumer wraps consumer.
func NewEventConsumer(consumer Consumer) *EventConsumer {
	return &EventConsumer{consumer: consumer}
}

// Run feeds decoded events to h until ctx is cancelled. Malformed messages are
// committed and skipped; a handler error leaves the offset uncommitted.
func (c *EventConsumer) Run(ctx context.Context, h EventHandler) error {
	return c.consumer.Subscribe(ctx, func(ctx context.Context, msg Message) error {
		ev, err := DecodeEvent(msg.Value)
		if err != nil {
			return fmt.Errorf("%w: offset %d: %v", ErrDrop, msg.Offset, err)
		}
		return h(ctx, ev)
	})
}

// Close closes the underlying consumer.
func (c *EventConsumer) Close() error { return c.consumer.Close() }

// DecodeEvent parses a lifecycle event payload.
func DecodeEvent(data []byte) (domain.LifecycleEvent, error) {
	var ev domain.LifecycleEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("decode lifecycle event: %w", err)
	}
	if ev.ID == "" {
		return ev, fmt.Errorf("decode lifecycle event: missing id")
	}
	return ev, nil
}
