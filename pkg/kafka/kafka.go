package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/itayshmool/ucp-payments-go/pkg/contracts"
)

var ErrDisabled = errors.New("kafka disabled")

type Client struct {
	Brokers []string
}

func NewClient(brokersCSV string) *Client {
	brokers := []string{}
	for _, b := range strings.Split(brokersCSV, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return &Client{Brokers: brokers}
}

func (c *Client) Enabled() bool {
	return len(c.Brokers) > 0
}

func (c *Client) NewWriter(topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

func (c *Client) NewReader(topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.Brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
}

func PublishJSON(ctx context.Context, writer *kafka.Writer, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: data, Time: time.Now().UTC()})
}

// EventPublisher sends contract events straight to a topic, keyed by
// checkout id so events for one checkout stay ordered within a
// partition. Used when no transactional outbox is available.
type EventPublisher struct {
	writer *kafka.Writer
}

func NewEventPublisher(c *Client, topic string) (*EventPublisher, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	return &EventPublisher{writer: c.NewWriter(topic)}, nil
}

func (p *EventPublisher) Publish(ctx context.Context, event contracts.Event) error {
	return PublishJSON(ctx, p.writer, event.CheckoutID, event)
}

func (p *EventPublisher) Close() error {
	return p.writer.Close()
}
