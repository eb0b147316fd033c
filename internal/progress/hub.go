package progress

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"fanpool/internal/settlement"
)

const (
	KindBatch = "batch"
	KindRun   = "run_completed"
)

type Message struct {
	Kind    string `json:"kind"`
	PoolID  string `json:"pool_id"`
	Payload any    `json:"payload"`
}

type subscriber struct {
	poolID string
	ch     chan []byte
}

// Hub fans settlement progress out to websocket subscribers. A subscriber
// that cannot keep up loses messages instead of slowing the run down.
type Hub struct {
	Logger *zap.Logger

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{Logger: logger, subs: map[*subscriber]struct{}{}}
}

func (h *Hub) PublishBatch(p settlement.BatchProgress) {
	h.broadcast(Message{Kind: KindBatch, PoolID: p.PoolID, Payload: p})
}

func (h *Hub) PublishRun(s settlement.RunSummary) {
	h.broadcast(Message{Kind: KindRun, PoolID: s.PoolID, Payload: s})
}

func (h *Hub) broadcast(msg Message) {
	if h == nil {
		return
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.poolID != "" && sub.poolID != msg.PoolID {
			continue
		}
		select {
		case sub.ch <- raw:
		default:
		}
	}
}

func (h *Hub) subscribe(poolID string) *subscriber {
	sub := &subscriber{poolID: poolID, ch: make(chan []byte, 64)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request and streams progress until the client
// leaves. ?pool_id= restricts the stream to one pool.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	defer func() { _ = conn.Close(websocket.StatusInternalError, "closing") }()

	sub := h.subscribe(strings.TrimSpace(r.URL.Query().Get("pool_id")))
	defer h.unsubscribe(sub)

	// Reads only detect the client going away.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case raw := <-sub.ch:
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(wctx, websocket.MessageText, raw)
			cancel()
			if err != nil {
				if h.Logger != nil {
					h.Logger.Debug("progress subscriber dropped", zap.Error(err))
				}
				return
			}
		}
	}
}
