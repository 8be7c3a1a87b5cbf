package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hitoshi/geopins/internal/model"
	"github.com/hitoshi/geopins/internal/realtime"
)

// startHubServer は実際のHubとイベントストリームのハンドラーを起動する。
func startHubServer(t *testing.T) (*realtime.Hub, *httptest.Server) {
	t.Helper()

	hub := realtime.NewHub(16, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	mux := http.NewServeMux()
	mux.Handle("/api/events", realtime.NewHandler(hub, ""))
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		server.Close()
		cancel()
		<-done
	})
	return hub, server
}

func newSource(t *testing.T, baseURL string) *Source {
	t.Helper()
	src, err := NewSource(baseURL, nil)
	if err != nil {
		t.Fatalf("NewSource returned error: %v", err)
	}
	return src
}

func receive(t *testing.T, sub *Subscription) model.PinEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatalf("events channel closed: %v", sub.Err())
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return model.PinEvent{}
}

func waitClosed(t *testing.T, sub *Subscription) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for events channel to close")
		}
	}
}

func TestNewSource_URL(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		want    string
		wantErr bool
	}{
		{"http", "http://localhost:4000", "ws://localhost:4000/api/events", false},
		{"https末尾スラッシュ", "https://pins.example.com/", "wss://pins.example.com/api/events", false},
		{"パス付き", "https://example.com/geopins", "wss://example.com/geopins/api/events", false},
		{"未対応スキーム", "ftp://example.com", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := NewSource(tt.base, nil)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if src.URL() != tt.want {
				t.Errorf("URL = %q, want %q", src.URL(), tt.want)
			}
		})
	}
}

func TestSubscribe_DeliversEventsInOrder(t *testing.T) {
	hub, server := startHubServer(t)

	sub, err := newSource(t, server.URL).Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	defer sub.Close()

	// Subscribeが返った時点で登録済みのため、直後のイベントも失われない
	hub.Broadcast(model.PinEvent{Kind: model.EventPinAdded, Pin: model.Pin{ID: "pin-1"}})
	hub.Broadcast(model.PinEvent{Kind: model.EventPinUpdated, Pin: model.Pin{ID: "pin-1"}})
	hub.Broadcast(model.PinEvent{Kind: model.EventPinDeleted, Pin: model.Pin{ID: "pin-1"}})

	want := []model.EventKind{model.EventPinAdded, model.EventPinUpdated, model.EventPinDeleted}
	for i, kind := range want {
		ev := receive(t, sub)
		if ev.Kind != kind || ev.Pin.ID != "pin-1" {
			t.Errorf("event %d = %s/%s, want %s/pin-1", i, ev.Kind, ev.Pin.ID, kind)
		}
	}
}

func TestSubscription_CloseEndsWithoutError(t *testing.T) {
	_, server := startHubServer(t)

	sub, err := newSource(t, server.URL).Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}

	sub.Close()
	sub.Close()
	waitClosed(t, sub)

	if err := sub.Err(); err != nil {
		t.Errorf("Err = %v, want nil", err)
	}
}

func TestSubscription_ContextCancelEndsWithoutError(t *testing.T) {
	_, server := startHubServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := newSource(t, server.URL).Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}

	cancel()
	waitClosed(t, sub)

	if err := sub.Err(); err != nil {
		t.Errorf("Err = %v, want nil", err)
	}
}

func TestSubscription_ServerDropReportsTransportInterrupted(t *testing.T) {
	upgrader := websocket.Upgrader{}
	drop := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribed"}`))
		<-drop
	}))
	defer server.Close()

	src := newSource(t, server.URL)
	src.url = "ws" + server.URL[len("http"):]
	sub, err := src.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	defer sub.Close()

	close(drop)
	waitClosed(t, sub)

	if !errors.Is(sub.Err(), ErrTransportInterrupted) {
		t.Errorf("Err = %v, want ErrTransportInterrupted", sub.Err())
	}
}

func TestSubscription_SkipsUnknownFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribed"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pin_moved","pin":{"id":"x"}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pin_added","pin":{"id":"pin-2"}}`))
		conn.ReadMessage()
	}))
	defer server.Close()

	src := newSource(t, server.URL)
	src.url = "ws" + server.URL[len("http"):]
	sub, err := src.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	defer sub.Close()

	ev := receive(t, sub)
	if ev.Kind != model.EventPinAdded || ev.Pin.ID != "pin-2" {
		t.Errorf("event = %s/%s, want pin_added/pin-2", ev.Kind, ev.Pin.ID)
	}
}

func TestSubscribe_Failures(t *testing.T) {
	t.Run("接続先が存在しない", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		_, err := newSource(t, url).Subscribe(context.Background())
		if !errors.Is(err, ErrTransportInterrupted) {
			t.Errorf("error = %v, want ErrTransportInterrupted", err)
		}
	})

	t.Run("購読完了以外の最初のフレーム", func(t *testing.T) {
		upgrader := websocket.Upgrader{}
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer conn.Close()
			conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pin_added","pin":{"id":"x"}}`))
			conn.ReadMessage()
		}))
		defer server.Close()

		src := newSource(t, server.URL)
		src.url = "ws" + server.URL[len("http"):]
		_, err := src.Subscribe(context.Background())
		if !errors.Is(err, ErrTransportInterrupted) {
			t.Errorf("error = %v, want ErrTransportInterrupted", err)
		}
	})
}
