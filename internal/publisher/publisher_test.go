package publisher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"fanpool/internal/models"
	"fanpool/internal/settlement"
)

type captureWriter struct {
	msgs  []kafka.Message
	calls int
}

func (w *captureWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.calls++
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func TestPublishSettlements(t *testing.T) {
	w := &captureWriter{}
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &KafkaPublisher{w: w, now: func() time.Time { return fixed }}

	err := p.PublishSettlements(context.Background(), []models.Settlement{
		{PoolID: "pool-1", ParticipantID: "alice", RunID: "run-1", Type: models.SettlementPayout, Amount: 158},
		{PoolID: "pool-1", ParticipantID: "bob", RunID: "run-1", Type: models.SettlementLoss},
	})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if w.calls != 1 || len(w.msgs) != 2 {
		t.Fatalf("calls=%d msgs=%d", w.calls, len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "pool-1" {
		t.Fatalf("key=%s", msg.Key)
	}
	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != EventSettlementApplied || !ev.OccurredAt.Equal(fixed) {
		t.Fatalf("event=%+v", ev)
	}
	var payload SettlementPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.ParticipantID != "alice" || payload.Amount != 158 {
		t.Fatalf("payload=%+v", payload)
	}

	if err := p.PublishSettlements(context.Background(), nil); err != nil || w.calls != 1 {
		t.Fatalf("empty batch: err=%v calls=%d", err, w.calls)
	}
}

func TestPingWithoutBrokers(t *testing.T) {
	p := &KafkaPublisher{w: &captureWriter{}}
	if err := p.Ping(context.Background()); err == nil {
		t.Fatalf("expected error without brokers")
	}
}

func TestPublishRunCompleted(t *testing.T) {
	w := &captureWriter{}
	p := &KafkaPublisher{w: w, now: time.Now}
	if err := p.PublishRunCompleted(context.Background(), settlement.RunSummary{PoolID: "pool-2", Succeeded: 3}); err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Headers[0].Value) != EventRunCompleted {
		t.Fatalf("msgs=%+v", w.msgs)
	}
}
