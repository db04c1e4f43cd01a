package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/felixgeelhaar/billsync/pkg/observability"
)

const (
	// DefaultConsumerQueueName is the default queue billing events are consumed from.
	DefaultConsumerQueueName = "billsync.events"

	defaultRequeueDelay = time.Second
)

// RabbitMQConsumerConfig configures the RabbitMQ consumer.
type RabbitMQConsumerConfig struct {
	URL       string
	QueueName string
	Exchange  string

	// RequeueDelay is held before a failed event goes back on the queue, so
	// an outage of both stores does not spin on the same delivery.
	RequeueDelay time.Duration

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

func (cfg RabbitMQConsumerConfig) withDefaults() RabbitMQConsumerConfig {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.QueueName == "" {
		cfg.QueueName = DefaultConsumerQueueName
	}
	if cfg.Exchange == "" {
		cfg.Exchange = ExchangeName
	}
	if cfg.RequeueDelay <= 0 {
		cfg.RequeueDelay = defaultRequeueDelay
	}
	return cfg
}

// RabbitMQConsumer applies billing events from RabbitMQ one delivery at a
// time. A delivery is settled only after every consumer returned: applied
// and undeliverable events are acked, anything else is requeued.
type RabbitMQConsumer struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	config   RabbitMQConsumerConfig
	registry *ConsumerRegistry
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu        sync.Mutex
	running   bool
	closeOnce sync.Once
	closed    chan struct{}
}

// NewRabbitMQConsumer connects and declares the exchange and queue. Routing
// keys are bound as consumers register.
func NewRabbitMQConsumer(cfg RabbitMQConsumerConfig, registry *ConsumerRegistry) (*RabbitMQConsumer, error) {
	cfg = cfg.withDefaults()

	conn, ch, err := dial(cfg.URL, cfg.Exchange, cfg.QueueName, nil)
	if err != nil {
		return nil, err
	}

	cfg.Logger.Info("RabbitMQ consumer connected",
		"queue", cfg.QueueName,
		"exchange", cfg.Exchange,
	)
	return newRabbitMQConsumer(conn, ch, cfg, registry), nil
}

func newRabbitMQConsumer(conn *amqp.Connection, ch *amqp.Channel, cfg RabbitMQConsumerConfig, registry *ConsumerRegistry) *RabbitMQConsumer {
	return &RabbitMQConsumer{
		conn:     conn,
		channel:  ch,
		config:   cfg,
		registry: registry,
		logger:   cfg.Logger.With("queue", cfg.QueueName),
		metrics:  cfg.Metrics,
		closed:   make(chan struct{}),
	}
}

// RegisterConsumer routes the consumer's event types to it and binds them to the queue.
func (c *RabbitMQConsumer) RegisterConsumer(consumer EventConsumer) {
	c.registry.Register(consumer)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == nil {
		return
	}
	if err := declareTopology(c.channel, c.config.Exchange, c.config.QueueName, consumer.EventTypes()); err != nil {
		c.logger.Error("failed to bind event types", "error", err)
	}
}

// Start consumes until ctx is done or the consumer is closed.
func (c *RabbitMQConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("consumer already running")
	}
	c.running = true
	c.mu.Unlock()

	// prefetch of one keeps deliveries in order on this worker
	if err := c.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	deliveries, err := c.channel.Consume(c.config.QueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("consuming billing events", "event_types", len(c.registry.EventTypes()))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed by broker")
			}
			c.handleDelivery(ctx, msg)
		}
	}
}

// handleDelivery dispatches one delivery and settles it with the broker.
func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, msg amqp.Delivery) {
	event, err := decodeDelivery(msg)
	if err != nil {
		c.settle(ctx, msg, msg.RoutingKey, msg.MessageId, observability.DeliveryDropped, err)
		return
	}

	ctx = observability.WithCorrelationID(ctx, event.Metadata.CorrelationID)
	start := time.Now()
	disposition, err := c.registry.Dispatch(ctx, event)
	c.logger.DebugContext(ctx, "event dispatched",
		observability.EventTypeKey, event.Type,
		observability.EventIDKey, event.ID,
		"disposition", disposition,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	c.settle(ctx, msg, event.Type, event.ID, disposition, err)
}

// decodeDelivery fills what the body leaves out from the delivery headers.
func decodeDelivery(msg amqp.Delivery) (*ConsumedEvent, error) {
	event := &ConsumedEvent{}
	if err := json.Unmarshal(msg.Body, event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndeliverable, err)
	}
	if event.Type == "" {
		event.Type = msg.RoutingKey
	}
	if event.ID == "" {
		event.ID = msg.MessageId
	}
	if event.Metadata.CorrelationID == "" {
		event.Metadata.CorrelationID = msg.CorrelationId
	}
	if event.Type == "" {
		return nil, fmt.Errorf("%w: no event type", ErrUndeliverable)
	}
	return event, nil
}

func (c *RabbitMQConsumer) settle(ctx context.Context, msg amqp.Delivery, eventType, eventID, disposition string, err error) {
	c.metrics.RecordDelivery(eventType, disposition)

	switch disposition {
	case observability.DeliveryRequeued:
		c.logger.ErrorContext(ctx, "event failed, requeueing",
			observability.EventTypeKey, eventType,
			observability.EventIDKey, eventID,
			"redelivered", msg.Redelivered,
			observability.ErrorKey, err,
		)
		c.wait(ctx, c.config.RequeueDelay)
		if nackErr := msg.Nack(false, true); nackErr != nil {
			c.logger.Error("failed to nack delivery", observability.ErrorKey, nackErr)
		}
		return

	case observability.DeliveryDropped:
		c.logger.ErrorContext(ctx, "dropping undeliverable event",
			observability.EventTypeKey, eventType,
			observability.EventIDKey, eventID,
			observability.ErrorKey, err,
		)
	}

	if ackErr := msg.Ack(false); ackErr != nil {
		c.logger.Error("failed to ack delivery", observability.ErrorKey, ackErr)
	}
}

// wait pauses for d unless the consumer stops first.
func (c *RabbitMQConsumer) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-c.closed:
	case <-timer.C:
	}
}

// Close stops Start and closes the channel and connection.
func (c *RabbitMQConsumer) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })

	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false

	var errs []error
	if c.channel != nil {
		errs = append(errs, c.channel.Close())
		c.channel = nil
	}
	if c.conn != nil {
		errs = append(errs, c.conn.Close())
		c.conn = nil
	}
	return errors.Join(errs...)
}
