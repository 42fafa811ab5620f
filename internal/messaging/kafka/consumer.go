package kafka

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	defaultConsumerAttempts   = 3
	defaultConsumerRetryDelay = 100 * time.Millisecond
)

// SequenceHandler обрабатывает событие изменения порядка.
type SequenceHandler func(ctx context.Context, envelope Envelope, event SequenceEvent) error

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*Consumer)

// WithConsumerLogger задаёт logger.
func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDeadLetter включает отправку необработанных сообщений в DLQ.
func WithDeadLetter(producer *Producer) ConsumerOption {
	return func(c *Consumer) {
		c.dlqProducer = producer
	}
}

// WithConsumerRetry задаёт число попыток обработки и паузу между ними.
func WithConsumerRetry(attempts int, delay time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if attempts > 0 {
			c.maxAttempts = attempts
		}
		if delay >= 0 {
			c.retryDelay = delay
		}
	}
}

// Consumer читает события порядка из consumer group.
type Consumer struct {
	group       sarama.ConsumerGroup
	topics      []string
	handler     SequenceHandler
	logger      *log.Entry
	dlqProducer *Producer
	maxAttempts int
	retryDelay  time.Duration
	wg          sync.WaitGroup
}

// NewConsumer подключается к брокерам в составе группы groupID.
func NewConsumer(brokers []string, groupID string, handler SequenceHandler, options ...ConsumerOption) (*Consumer, error) {
	config := newConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}

	return newConsumer(group, []string{TopicSequenceEvents}, handler, options...), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler SequenceHandler, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		group:       group,
		topics:      topics,
		handler:     handler,
		logger:      log.WithField("component", "kafka-consumer"),
		maxAttempts: defaultConsumerAttempts,
		retryDelay:  defaultConsumerRetryDelay,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Start запускает чтение в фоне до отмены ctx или Stop.
func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		for {
			// Consume завершается при каждом rebalance, поэтому вызывается в цикле.
			if err := c.group.Consume(ctx, c.topics, c); err != nil {
				c.logger.WithError(err).Error("consume failed")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Warn("consumer group error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
}

// Stop закрывает группу и дожидается фоновых горутин.
func (c *Consumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("close kafka consumer group: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup реализует sarama.ConsumerGroupHandler.
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup реализует sarama.ConsumerGroupHandler.
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim обрабатывает сообщения партиции по порядку.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			if err := c.handle(session.Context(), message); err != nil {
				c.logger.WithError(err).WithFields(log.Fields{
					"topic":     message.Topic,
					"partition": message.Partition,
					"offset":    message.Offset,
				}).Error("sequence event was not processed")
				continue
			}
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// handle возвращает nil, если сообщение обработано или отправлено в DLQ.
func (c *Consumer) handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	envelope, event, err := ParseSequenceEvent(message.Value)
	if err != nil {
		// Повтор не поможет: сообщение битое.
		return c.deadLetter(message, err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if lastErr = c.handler(ctx, envelope, event); lastErr == nil {
			return nil
		}
		if attempt == c.maxAttempts || c.retryDelay <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}

	return c.deadLetter(message, fmt.Errorf("handler failed after %d attempts: %w", c.maxAttempts, lastErr))
}

func (c *Consumer) deadLetter(message *sarama.ConsumerMessage, cause error) error {
	if c.dlqProducer == nil {
		return cause
	}

	retries := retryCount(message) + 1
	payload := map[string]any{
		"original_topic":     message.Topic,
		"original_partition": message.Partition,
		"original_offset":    message.Offset,
		"original_key":       string(message.Key),
		"original_value":     string(message.Value),
		"error_message":      cause.Error(),
		"failed_at":          time.Now().UTC().Format(time.RFC3339),
	}
	if err := c.dlqProducer.PublishEvent(TopicDeadLetterQueue, string(message.Key), payload,
		sarama.RecordHeader{Key: []byte(HeaderRetryCount), Value: []byte(strconv.Itoa(retries))},
		sarama.RecordHeader{Key: []byte(HeaderOriginalTopic), Value: []byte(message.Topic)},
	); err != nil {
		return fmt.Errorf("send to dlq: %w", err)
	}

	c.logger.WithError(cause).WithField("offset", message.Offset).Warn("message sent to DLQ")
	return nil
}

func retryCount(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == HeaderRetryCount {
			if count, err := strconv.Atoi(string(header.Value)); err == nil {
				return count
			}
		}
	}
	return 0
}
