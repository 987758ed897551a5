package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestPublishOrderCreated(t *testing.T) {
	config := mocks.NewTestConfig()
	config.Producer.Return.Successes = true
	sp := mocks.NewSyncProducer(t, config)

	var sent OrderCreatedEvent
	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != OrderCreatedTopic {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "ORD-1" {
			return errors.New("unexpected key " + string(key))
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		return json.Unmarshal(value, &sent)
	})

	p := NewProducer(sp, testLogger())
	err := p.PublishOrderCreated(OrderCreatedEvent{
		OrderID:         "ORD-1",
		CustomerID:      "c1",
		ItemCount:       2,
		ItemsStored:     true,
		SubtotalWithTax: decimal.RequireFromString("13.75"),
		CreatedAt:       time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, p.Close())

	assert.Equal(t, "ORD-1", sent.OrderID)
	assert.Equal(t, 2, sent.ItemCount)
	assert.True(t, decimal.RequireFromString("13.75").Equal(sent.SubtotalWithTax))
	assert.False(t, sent.EventTime.IsZero())
}

func TestPublishOrderCreated_Failure(t *testing.T) {
	config := mocks.NewTestConfig()
	config.Producer.Return.Successes = true
	sp := mocks.NewSyncProducer(t, config)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewProducer(sp, testLogger())
	err := p.PublishOrderCreated(OrderCreatedEvent{OrderID: "ORD-1"})
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

func TestHandleMessage(t *testing.T) {
	var got []string
	logger, hook := logtest.NewNullLogger()
	eventTime := time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)
	h := &refreshTrigger{
		handler: HandlerFunc(func(event OrderCreatedEvent) error {
			got = append(got, event.OrderID)
			return nil
		}),
		logger: logger,
		now:    func() time.Time { return eventTime.Add(2 * time.Second) },
	}

	payload, err := json.Marshal(OrderCreatedEvent{
		OrderID:         "ORD-7",
		ItemCount:       2,
		ItemsStored:     true,
		SubtotalWithTax: decimal.RequireFromString("13.75"),
		EventTime:       eventTime,
	})
	require.NoError(t, err)
	noID, err := json.Marshal(OrderCreatedEvent{ItemsStored: true})
	require.NoError(t, err)

	require.NoError(t, h.handleMessage(&sarama.ConsumerMessage{Topic: OrderCreatedTopic, Value: payload}))
	require.NoError(t, h.handleMessage(&sarama.ConsumerMessage{Topic: "something.else", Value: payload}))
	require.Error(t, h.handleMessage(&sarama.ConsumerMessage{Topic: OrderCreatedTopic, Value: []byte("{")}))
	require.Error(t, h.handleMessage(&sarama.ConsumerMessage{Topic: OrderCreatedTopic, Value: noID}))

	assert.Equal(t, []string{"ORD-7"}, got)

	var created *logrus.Entry
	for _, entry := range hook.AllEntries() {
		if entry.Data["order_id"] == "ORD-7" {
			created = entry
		}
	}
	require.NotNil(t, created)
	assert.Equal(t, "13.75", created.Data["subtotal_with_tax"])
	assert.Equal(t, true, created.Data["items_stored"])
	assert.Equal(t, "2s", created.Data["lag"])
}

func TestHandleMessage_MissingItemsWarns(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	h := &refreshTrigger{
		handler: HandlerFunc(func(OrderCreatedEvent) error { return nil }),
		logger:  logger,
		now:     time.Now,
	}

	payload, err := json.Marshal(OrderCreatedEvent{OrderID: "ORD-8", ItemsStored: false})
	require.NoError(t, err)
	require.NoError(t, h.handleMessage(&sarama.ConsumerMessage{Topic: OrderCreatedTopic, Value: payload}))

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "ORD-8", hook.LastEntry().Data["order_id"])
}

type fakeSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32 {
	return map[string][]int32{OrderCreatedTopic: {0, 1}}
}
func (s *fakeSession) MemberID() string                         { return "dashboard-1" }
func (s *fakeSession) GenerationID() int32                      { return 3 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) Commit()                                  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context                 { return s.ctx }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return OrderCreatedTopic }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 3 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func TestConsumeClaim_MarksSkippedEvents(t *testing.T) {
	var refreshes int
	logger, hook := logtest.NewNullLogger()
	h := &refreshTrigger{
		handler: HandlerFunc(func(OrderCreatedEvent) error {
			refreshes++
			return nil
		}),
		logger: logger,
		now:    time.Now,
	}

	good, err := json.Marshal(OrderCreatedEvent{OrderID: "ORD-1", ItemsStored: true})
	require.NoError(t, err)

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 3)}
	claim.messages <- &sarama.ConsumerMessage{Topic: OrderCreatedTopic, Offset: 0, Value: good}
	claim.messages <- &sarama.ConsumerMessage{Topic: OrderCreatedTopic, Offset: 1, Value: []byte("not json")}
	claim.messages <- &sarama.ConsumerMessage{Topic: OrderCreatedTopic, Offset: 2, Value: good}
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, h.Setup(session))
	require.NoError(t, h.ConsumeClaim(session, claim))
	require.NoError(t, h.Cleanup(session))

	assert.Equal(t, 2, refreshes)
	assert.Equal(t, []int64{0, 1, 2}, session.marked)

	setup := hook.AllEntries()[0]
	assert.Equal(t, "dashboard-1", setup.Data["member_id"])
	assert.Equal(t, []int32{0, 1}, setup.Data["partitions"])
}
