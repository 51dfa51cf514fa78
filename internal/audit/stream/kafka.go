// Package stream publishes deployment transitions to kafka for anything
// downstream that wants to react to rollouts: dashboards, alerting, CMDB
// sync. Delivery is at-least-once; messages are keyed by service so one
// service's transitions stay ordered within a partition.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"github.com/Sh00ty/cloud-rollout/internal/models"
)

type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(addr string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(addr),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

type transitionDto struct {
	Service     string    `json:"service"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Fingerprint string    `json:"fingerprint"`
	Reason      string    `json:"reason"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func (p *Publisher) WriteTransitions(ctx context.Context, transitions []models.Transition) (int, error) {
	msgs := make([]kafka.Message, 0, len(transitions))
	for _, t := range transitions {
		value, err := json.Marshal(transitionDto{
			Service:     t.Service,
			From:        string(t.From),
			To:          string(t.To),
			Fingerprint: string(t.Fingerprint),
			Reason:      t.Reason,
			OccurredAt:  t.Time,
		})
		if err != nil {
			return 0, fmt.Errorf("failed to marshal transition: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(t.Service),
			Value: value,
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return 0, fmt.Errorf("failed to publish transitions: %w", err)
	}
	return len(transitions), nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
