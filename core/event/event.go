// Package event publishes cart lifecycle events for audit consumers.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/irsalhamdi/course-cart/config"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const (
	CartDeleted   = "cart_deleted"
	CartCanceled  = "cart_canceled"
	CartDelivered = "cart_delivered"
)

type Event struct {
	Name     string         `json:"name"`
	ObjectID string         `json:"objectId"`
	UserID   string         `json:"userId"`
	Time     time.Time      `json:"time"`
	Other    map[string]any `json:"other,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// New returns the publisher named by cfg.Publisher.
func New(cfg config.Events, log logrus.FieldLogger) (Publisher, error) {
	switch cfg.Publisher {
	case "", "log":
		return NewLogPublisher(log), nil
	case "kafka":
		return NewKafkaPublisher(cfg.Brokers, cfg.Topic, log), nil
	}
	return nil, fmt.Errorf("unknown event publisher %q", cfg.Publisher)
}

type LogPublisher struct {
	log logrus.FieldLogger
}

func NewLogPublisher(log logrus.FieldLogger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	p.log.WithFields(logrus.Fields{
		"event":     e.Name,
		"object_id": e.ObjectID,
		"user_id":   e.UserID,
		"other":     e.Other,
	}).Info("cart event")
	return nil
}

// KafkaPublisher writes events as JSON keyed by the object id, so events of
// one cart keep their order within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	log    logrus.FieldLogger
}

func NewKafkaPublisher(brokers []string, topic string, log logrus.FieldLogger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            5,
		WriteBackoffMin:        100 * time.Millisecond,
		WriteBackoffMax:        time.Second,
	}
	return &KafkaPublisher{writer: w, log: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling event %s: %w", e.Name, err)
	}

	msg := kafka.Message{
		Key:   []byte(e.ObjectID),
		Value: data,
		Time:  e.Time,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(e.Name)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.WithFields(logrus.Fields{
			"event":     e.Name,
			"object_id": e.ObjectID,
			"message":   err,
		}).Error("publishing cart event")
		return fmt.Errorf("writing event %s: %w", e.Name, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
