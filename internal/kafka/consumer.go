package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/Shopify/sarama"

	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/config"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/logger"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/models"
)

// MessageProcessor is a function that processes batches of measurements
type MessageProcessor func([]models.Measurement) error

// Consumer represents a Kafka consumer
type Consumer struct {
	id         string
	config     config.KafkaConfig
	consumer   sarama.ConsumerGroup
	processor  MessageProcessor
	logger     *logger.Logger
	msgBuffer  []models.Measurement
	bufferLock sync.Mutex
	lastFlush  time.Time
	inflight   sync.WaitGroup
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(id string, cfg config.KafkaConfig, processor MessageProcessor, log *logger.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Consumer.Return.Errors = true
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin

	// Optimize for throughput
	saramaConfig.Consumer.Fetch.Min = 1
	saramaConfig.Consumer.Fetch.Default = 1024 * 1024 // 1MB
	saramaConfig.Consumer.MaxWaitTime = 250 * time.Millisecond

	client, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	c := newConsumer(id, cfg, processor, log)
	c.consumer = client
	return c, nil
}

func newConsumer(id string, cfg config.KafkaConfig, processor MessageProcessor, log *logger.Logger) *Consumer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Consumer{
		id:        id,
		config:    cfg,
		processor: processor,
		logger:    log.WithComponent("kafka").With("consumer_id", id),
		msgBuffer: make([]models.Measurement, 0, cfg.BatchSize),
		lastFlush: time.Now(),
	}
}

// Consume starts consuming messages from Kafka until ctx is cancelled.
// Whatever is buffered at that point is flushed before returning.
func (c *Consumer) Consume(ctx context.Context) error {
	// Setup error handling
	errorChan := make(chan error, 1)
	go func() {
		for err := range c.consumer.Errors() {
			c.logger.Error("Consumer error", "error", err)
			select {
			case errorChan <- err:
			default:
			}
		}
	}()

	// Setup message handling
	handler := &consumerGroupHandler{
		consumer: c,
		ctx:      ctx,
	}

	// Setup periodic flushing
	flushTicker := time.NewTicker(c.config.BatchTimeout)
	defer flushTicker.Stop()

	stopTicker := make(chan struct{})
	tickerDone := make(chan struct{})
	go func() {
		defer close(tickerDone)
		for {
			select {
			case <-flushTicker.C:
				c.flushBuffer()
			case <-stopTicker:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	defer func() {
		close(stopTicker)
		<-tickerDone
		c.drain()
	}()

	c.logger.Info("Consuming", "topic", c.config.Topic, "group", c.config.GroupID)

	// Consume
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errorChan:
			return err
		default:
			if err := c.consumer.Consume(ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return nil
				}
				return err
			}
		}
	}
}

// Close leaves the consumer group
func (c *Consumer) Close() error {
	if c.consumer == nil {
		return nil
	}
	return c.consumer.Close()
}

// decodeMessage parses one Kafka message value as a measurement
func decodeMessage(value []byte) (models.Measurement, error) {
	var m models.Measurement
	if err := json.Unmarshal(value, &m); err != nil {
		if errors.Is(err, models.ErrInvalidMeasurement) {
			return models.Measurement{}, err
		}
		return models.Measurement{}, &models.ValidationError{Field: "message", Message: err.Error()}
	}
	return m, nil
}

// addMessage adds a message to the buffer and flushes if needed
func (c *Consumer) addMessage(m models.Measurement) {
	c.bufferLock.Lock()
	defer c.bufferLock.Unlock()

	c.msgBuffer = append(c.msgBuffer, m)

	// Flush if buffer is full
	if len(c.msgBuffer) >= c.config.BatchSize {
		c.flushBufferLocked()
	}
}

// flushBuffer flushes the message buffer
func (c *Consumer) flushBuffer() {
	c.bufferLock.Lock()
	defer c.bufferLock.Unlock()

	c.flushBufferLocked()
}

// drain hands the remaining buffer to the processor on the calling goroutine
// and waits for earlier flushes to finish. Their offsets are already marked.
func (c *Consumer) drain() {
	c.bufferLock.Lock()
	msgs := c.takeBufferLocked()
	c.bufferLock.Unlock()

	if len(msgs) > 0 {
		c.process(msgs)
	}
	c.inflight.Wait()
}

// flushBufferLocked flushes the message buffer while holding the lock
func (c *Consumer) flushBufferLocked() {
	messages := c.takeBufferLocked()
	if len(messages) == 0 {
		return
	}

	// Process messages in a separate goroutine
	c.inflight.Add(1)
	go func(msgs []models.Measurement) {
		defer c.inflight.Done()
		c.process(msgs)
	}(messages)
}

func (c *Consumer) process(msgs []models.Measurement) {
	if err := c.processor(msgs); err != nil {
		c.logger.Error("Error processing messages", "count", len(msgs), "error", err)
	}
}

// takeBufferLocked copies out and clears the buffer
func (c *Consumer) takeBufferLocked() []models.Measurement {
	if len(c.msgBuffer) == 0 {
		return nil
	}

	// Create a copy of the buffer
	messages := make([]models.Measurement, len(c.msgBuffer))
	copy(messages, c.msgBuffer)

	// Clear the buffer
	c.msgBuffer = c.msgBuffer[:0]
	c.lastFlush = time.Now()
	return messages
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ctx      context.Context
}

func (h *consumerGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		if h.ctx.Err() != nil {
			return h.ctx.Err()
		}

		m, err := decodeMessage(message.Value)
		if err != nil {
			h.consumer.logger.Warn("Dropping undecodable message",
				"partition", message.Partition,
				"offset", message.Offset,
				"error", err,
			)
			session.MarkMessage(message, "")
			continue
		}

		h.consumer.addMessage(m)
		session.MarkMessage(message, "")
	}
	return nil
}
