package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"fanpool/internal/models"
	"fanpool/internal/settlement"
)

const (
	EventSettlementApplied = "settlement.applied"
	EventRunCompleted      = "settlement.run_completed"
)

// Event is the envelope of every message on the settlement topic. The
// message key is the pool id so one pool's events stay ordered.
type Event struct {
	Type       string          `json:"type"`
	PoolID     string          `json:"pool_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

type SettlementPayload struct {
	RunID              string `json:"run_id"`
	ParticipantID      string `json:"participant_id"`
	Type               string `json:"type"`
	Amount             int64  `json:"amount"`
	ParticipantTotal   int64  `json:"participant_total"`
	ParticipantWinning int64  `json:"participant_winning"`
}

type Publisher interface {
	// PublishSettlements writes one settlement.applied event per item in a
	// single producer call.
	PublishSettlements(ctx context.Context, items []models.Settlement) error
	PublishRunCompleted(ctx context.Context, summary settlement.RunSummary) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	w       messageWriter
	brokers []string
	now     func() time.Time
}

func NewKafkaPublisher(brokers []string, topic string, writeTimeout time.Duration) *KafkaPublisher {
	return &KafkaPublisher{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           10 * time.Millisecond,
			WriteTimeout:           writeTimeout,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		brokers: brokers,
		now:     time.Now,
	}
}

func (p *KafkaPublisher) PublishSettlements(ctx context.Context, items []models.Settlement) error {
	if len(items) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(items))
	for _, item := range items {
		msg, err := p.message(EventSettlementApplied, item.PoolID, SettlementPayload{
			RunID:              item.RunID,
			ParticipantID:      item.ParticipantID,
			Type:               item.Type,
			Amount:             item.Amount,
			ParticipantTotal:   item.ParticipantTotal,
			ParticipantWinning: item.ParticipantWinning,
		})
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	return p.w.WriteMessages(ctx, msgs...)
}

func (p *KafkaPublisher) PublishRunCompleted(ctx context.Context, summary settlement.RunSummary) error {
	return p.publish(ctx, EventRunCompleted, summary.PoolID, summary)
}

func (p *KafkaPublisher) publish(ctx context.Context, eventType, poolID string, payload any) error {
	msg, err := p.message(eventType, poolID, payload)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, msg)
}

func (p *KafkaPublisher) message(eventType, poolID string, payload any) (kafka.Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return kafka.Message{}, err
	}
	now := p.now().UTC()
	value, err := json.Marshal(Event{
		Type:       eventType,
		PoolID:     poolID,
		OccurredAt: now,
		Payload:    raw,
	})
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(poolID),
		Value: value,
		Time:  now,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
		},
	}, nil
}

// Ping dials the brokers until one answers.
func (p *KafkaPublisher) Ping(ctx context.Context) error {
	if len(p.brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	var lastErr error
	for _, addr := range p.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	return lastErr
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// Nop drops every event; used when Kafka is disabled.
type Nop struct{}

func (Nop) PublishSettlements(context.Context, []models.Settlement) error { return nil }
func (Nop) PublishRunCompleted(context.Context, settlement.RunSummary) error { return nil }
func (Nop) Close() error { return nil }
