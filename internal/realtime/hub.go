// Package realtime はコミット済みのピン変更イベントをWebSocket購読者へ配信する。
package realtime

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/hitoshi/geopins/internal/metrics"
	"github.com/hitoshi/geopins/internal/model"
)

// MessageTypeSubscribed は購読登録の完了をクライアントへ知らせる制御メッセージ。
// クライアントはこれを受け取ってからスナップショットを取得する。
const MessageTypeSubscribed = "subscribed"

// DefaultSendBuffer はクライアントごとの送信キュー長のデフォルト値。
const DefaultSendBuffer = 256

// Hub は変更イベントを投入順に全クライアントへ配信する。
// 送信キューが溢れたクライアントは切断され、再接続時に再スナップショットを行う。
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan model.PinEvent
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex

	sendBuffer int
	metrics    metrics.Recorder
	logger     *slog.Logger
}

// NewHub はHubを生成する。sendBufferはクライアントごとの送信キュー長。
func NewHub(sendBuffer int, recorder metrics.Recorder, logger *slog.Logger) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan model.PinEvent, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		sendBuffer: sendBuffer,
		metrics:    recorder,
		logger:     logger.With(slog.String("component", "realtime-hub")),
	}
}

// Broadcast はイベントを配信キューに投入する。
// キューが空くかHubが停止するまでブロックし、投入順に配信される。
func (h *Hub) Broadcast(event model.PinEvent) {
	select {
	case h.broadcast <- event:
	case <-h.done:
		h.logger.Warn("hub stopped, event not delivered",
			slog.String("type", string(event.Kind)),
			slog.String("pin_id", event.Pin.ID),
		)
	}
}

// ClientCount は接続中のクライアント数を返す。
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run はctxがキャンセルされるまでイベントループを実行する。
// 登録・解除をブロードキャストより優先して処理する。
func (h *Hub) Run(ctx context.Context) error {
	defer h.stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			h.logger.Info("realtime hub stopped")
			return ctx.Err()
		default:
		}

		select {
		case c := <-h.register:
			h.addClient(c)
			continue
		case c := <-h.unregister:
			h.removeClient(c)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.closeAllClients()
			h.logger.Info("realtime hub stopped")
			return ctx.Err()
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		case event := <-h.broadcast:
			h.fanOut(event)
		}
	}
}

func (h *Hub) stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// addClient は購読完了メッセージをキューの先頭に積んでから登録する。
// これ以降にコミットされた変更は必ずこのクライアントに届く。
func (h *Hub) addClient(c *Client) {
	c.send <- subscribedFrame

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.metrics.SetStreamClients(n)
	h.logger.Info("stream client connected", slog.Uint64("client_id", c.id), slog.Int("total_clients", n))
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	h.metrics.SetStreamClients(n)
	h.logger.Info("stream client disconnected", slog.Uint64("client_id", c.id), slog.Int("total_clients", n))
}

// fanOut はイベントを1回だけエンコードし、各クライアントの送信キューへ積む。
func (h *Hub) fanOut(event model.PinEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to encode pin event",
			slog.String("type", string(event.Kind)),
			slog.String("error", err.Error()),
		)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	var dropped []*Client
	for _, c := range clients {
		select {
		case c.send <- payload:
		default:
			dropped = append(dropped, c)
		}
	}

	for _, c := range dropped {
		close(c.send)
		delete(h.clients, c)
		h.metrics.RecordSlowClientDropped()
		h.logger.Warn("stream client too slow, disconnected", slog.Uint64("client_id", c.id))
	}
	if len(dropped) > 0 {
		h.metrics.SetStreamClients(len(h.clients))
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.metrics.SetStreamClients(0)
}

var subscribedFrame = mustMarshal(map[string]string{"type": MessageTypeSubscribed})

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
