package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

type OrderEventHandler interface {
	HandleOrderCreated(event OrderCreatedEvent) error
}

// HandlerFunc adapts a plain function to OrderEventHandler.
type HandlerFunc func(event OrderCreatedEvent) error

func (f HandlerFunc) HandleOrderCreated(event OrderCreatedEvent) error {
	return f(event)
}

type KafkaConsumer struct {
	consumerGroup sarama.ConsumerGroup
	handler       OrderEventHandler
	logger        *logrus.Logger
	topics        []string
}

// refreshTrigger turns order-created events into calls on the handler. The
// dashboard only needs to know that something changed, so every message is
// marked whether or not the handler accepted it.
type refreshTrigger struct {
	handler OrderEventHandler
	logger  *logrus.Logger
	now     func() time.Time
}

func NewKafkaConsumer(brokers, groupID string, handler OrderEventHandler, logger *logrus.Logger) (*KafkaConsumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	// Only changes made while this dashboard is running matter; the initial
	// full load covers everything older.
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Version = sarama.V2_6_0_0

	consumerGroup, err := sarama.NewConsumerGroup(strings.Split(brokers, ","), groupID, config)
	if err != nil {
		return nil, err
	}

	return &KafkaConsumer{
		consumerGroup: consumerGroup,
		handler:       handler,
		logger:        logger,
		topics:        []string{OrderCreatedTopic},
	}, nil
}

// Start consumes until ctx is cancelled or the group is closed.
func (c *KafkaConsumer) Start(ctx context.Context) error {
	handler := &refreshTrigger{
		handler: c.handler,
		logger:  c.logger,
		now:     time.Now,
	}

	for {
		if err := c.consumerGroup.Consume(ctx, c.topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.WithError(err).Error("Error consuming from Kafka")
			return err
		}
		if ctx.Err() != nil {
			c.logger.Info("Kafka consumer context cancelled")
			return nil
		}
	}
}

func (c *KafkaConsumer) Close() error {
	return c.consumerGroup.Close()
}

func (h *refreshTrigger) Setup(session sarama.ConsumerGroupSession) error {
	h.logger.WithFields(logrus.Fields{
		"member_id":  session.MemberID(),
		"generation": session.GenerationID(),
		"partitions": session.Claims()[OrderCreatedTopic],
	}).Info("Listening for order events")
	return nil
}

func (h *refreshTrigger) Cleanup(session sarama.ConsumerGroupSession) error {
	h.logger.WithFields(logrus.Fields{
		"member_id":  session.MemberID(),
		"generation": session.GenerationID(),
	}).Info("Order event claims released")
	return nil
}

func (h *refreshTrigger) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			if err := h.handleMessage(message); err != nil {
				h.logger.WithError(err).WithFields(logrus.Fields{
					"partition": message.Partition,
					"offset":    message.Offset,
				}).Warn("Skipping order event")
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessage decodes one order event and passes it on. Events for other
// topics are ignored; an event without an order id is rejected.
func (h *refreshTrigger) handleMessage(message *sarama.ConsumerMessage) error {
	if message.Topic != OrderCreatedTopic {
		h.logger.WithField("topic", message.Topic).Debug("Ignoring event from unexpected topic")
		return nil
	}

	var event OrderCreatedEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return fmt.Errorf("decode order event: %w", err)
	}
	if event.OrderID == "" {
		return errors.New("order event without order_id")
	}

	fields := logrus.Fields{
		"order_id":          event.OrderID,
		"items_stored":      event.ItemsStored,
		"item_count":        event.ItemCount,
		"subtotal_with_tax": event.SubtotalWithTax.StringFixed(2),
	}
	if !event.EventTime.IsZero() {
		fields["lag"] = h.now().Sub(event.EventTime).String()
	}
	if !event.ItemsStored {
		// The order row exists but its items may not; the refresh still
		// shows it, with whatever items made it in.
		h.logger.WithFields(fields).Warn("Order event reports missing items")
	} else {
		h.logger.WithFields(fields).Info("Order created, refreshing dashboard")
	}

	return h.handler.HandleOrderCreated(event)
}
