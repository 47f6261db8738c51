package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"capturekit/logger"
	"capturekit/models"

	"github.com/IBM/sarama"
)

// MessageHandler processes one message value and reports whether the
// message should be marked as consumed. An unmarked message is retried in
// place until it is handled or the session ends, so no later offset of the
// partition is committed past it.
type MessageHandler interface {
	HandleMessage(ctx context.Context, message []byte) (shouldMark bool, err error)
}

// Processor is the part of the pipeline the consumer needs.
type Processor interface {
	Process(ctx context.Context, ex models.CapturedExchange) models.ProcessingSummary
}

// ExchangeHandler decodes CapturedExchange messages and runs them through
// the pipeline. Malformed messages are marked so they are not redelivered;
// store failures are left unmarked and retried, which is safe because
// processing is idempotent.
type ExchangeHandler struct {
	Processor Processor
}

func (h ExchangeHandler) HandleMessage(ctx context.Context, message []byte) (bool, error) {
	var ex models.CapturedExchange
	if err := json.Unmarshal(message, &ex); err != nil {
		logger.CaptureError("Kafka: skipping malformed exchange message: %v", err)
		return true, nil
	}
	if ex.URL == "" && ex.RuleLabel == "" {
		logger.CaptureError("Kafka: skipping exchange %q with neither url nor rule label", ex.RequestID)
		return true, nil
	}

	summary := h.Processor.Process(ctx, ex)
	if summary.Retryable {
		return false, fmt.Errorf("exchange %s: %s", summary.RequestID, summary.ErrorMessage)
	}
	logger.CaptureInfo("Kafka: exchange %s kind=%s saved=%d success=%t duplicate=%t",
		summary.RequestID, summary.DataKind, summary.ItemsSaved, summary.Success, summary.Duplicate)
	return true, nil
}

// retryBackoff is the pause after a failed Consume before rejoining.
const retryBackoff = 2 * time.Second

// Backoff between attempts at one unmarked message, doubling up to the max.
const (
	messageRetryBackoff    = 500 * time.Millisecond
	maxMessageRetryBackoff = 30 * time.Second
)

type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	Handler MessageHandler
}

// Consumer reads a topic as part of a consumer group.
type Consumer struct {
	group   sarama.ConsumerGroup
	handler MessageHandler
	topic   string
	groupID string
}

func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" || cfg.GroupID == "" {
		return nil, errors.New("kafka consumer needs brokers, a topic and a group id")
	}
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_6_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group %s: %w", cfg.GroupID, err)
	}
	return &Consumer{group: group, handler: cfg.Handler, topic: cfg.Topic, groupID: cfg.GroupID}, nil
}

// Run consumes until ctx is cancelled. Consume returns on every rebalance,
// so it is called in a loop.
func (c *Consumer) Run(ctx context.Context) error {
	go func() {
		for err := range c.group.Errors() {
			logger.CaptureError("Kafka consumer error: %v", err)
		}
	}()

	logger.CaptureInfo("Kafka consumer started (group: %s, topic: %s)", c.groupID, c.topic)
	h := &groupHandler{handler: c.handler, backoff: messageRetryBackoff}
	for {
		if err := c.group.Consume(ctx, []string{c.topic}, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) || errors.Is(err, context.Canceled) {
				return nil
			}
			logger.CaptureError("Error from Kafka consumer: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retryBackoff):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) Close() error {
	logger.CaptureInfo("Closing Kafka consumer...")
	return c.group.Close()
}

// groupHandler implements sarama.ConsumerGroupHandler
type groupHandler struct {
	handler MessageHandler
	backoff time.Duration
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			logger.CaptureDebug("Kafka: received partition=%d offset=%d key=%s",
				message.Partition, message.Offset, string(message.Key))

			if !h.handleUntilMarked(session, message) {
				return nil
			}
		case <-session.Context().Done():
			return nil
		}
	}
}

// handleUntilMarked retries message until the handler lets it be marked.
// Offsets are committed per partition, so moving on to a later message
// would skip this one for good. It returns false when the session ends
// first; the message then stays uncommitted and is redelivered.
func (h *groupHandler) handleUntilMarked(session sarama.ConsumerGroupSession, message *sarama.ConsumerMessage) bool {
	delay := h.backoff
	if delay <= 0 {
		delay = messageRetryBackoff
	}
	for attempt := 1; ; attempt++ {
		shouldMark, err := h.handler.HandleMessage(session.Context(), message.Value)
		if shouldMark {
			session.MarkMessage(message, "")
			return true
		}
		logger.CaptureError("Kafka: message at partition=%d offset=%d failed (attempt %d), retrying in %s: %v",
			message.Partition, message.Offset, attempt, delay, err)

		select {
		case <-session.Context().Done():
			return false
		case <-time.After(delay):
		}
		delay = min(delay*2, maxMessageRetryBackoff)
	}
}
