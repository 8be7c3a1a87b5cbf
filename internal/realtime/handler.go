package realtime

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Handler はGET /api/eventsのWebSocketアップグレードを処理する。認証は不要。
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler はHandlerを生成する。
// allowedOriginが空または"*"の場合は全Originを許可する。
// Originヘッダーを持たない非ブラウザクライアントは常に許可する。
func NewHandler(hub *Hub, allowedOrigin string) *Handler {
	h := &Handler{hub: hub, logger: hub.logger}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  4096,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowedOrigin == "" || allowedOrigin == "*" {
				return true
			}
			if origin == allowedOrigin {
				return true
			}
			h.logger.Warn("websocket connection rejected from unauthorized origin", slog.String("origin", origin))
			return false
		},
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgradeがエラーレスポンスを書き込み済み
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(h.hub, conn)
	select {
	case h.hub.register <- c:
	case <-h.hub.done:
		_ = conn.Close()
		return
	case <-r.Context().Done():
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
