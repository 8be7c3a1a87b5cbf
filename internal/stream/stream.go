// Package stream はサーバーの変更イベントストリームを購読するクライアントを提供する。
// Subscribeは接続して購読完了を確認した時点で返り、以後のイベントをEventsで受け取る。
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/hitoshi/geopins/internal/model"
)

// ErrTransportInterrupted はストリームの接続が購読者の意図に反して切れたことを示す。
// 受け取った側は再接続し、スナップショットを取り直す。
var ErrTransportInterrupted = errors.New("transport interrupted")

const (
	subscribedType   = "subscribed"
	handshakeTimeout = 10 * time.Second
	readTimeout      = 90 * time.Second
	writeWait        = 10 * time.Second
	eventBuffer      = 64
	maxFrameSize     = 1 << 20
)

// Source はイベントストリームの接続先。
type Source struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewSource はAPIのベースURLからSourceを生成する。
// http/httpsはws/wssに変換し、/api/eventsに接続する。
func NewSource(baseURL string, logger *slog.Logger) (*Source, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme: %q", u.Scheme)
	}
	u.Path += "/api/events"

	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		url:    u.String(),
		header: http.Header{},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		logger: logger,
	}, nil
}

// URL は接続先のWebSocket URLを返す。
func (s *Source) URL() string {
	return s.url
}

// Subscribe はストリームに接続し、サーバーの購読完了を待ってからSubscriptionを返す。
// 返却後にコミットされた変更は必ずEventsに届くため、
// 呼び出し側はSubscribeの後にスナップショットを取得する。
func (s *Source) Subscribe(ctx context.Context) (*Subscription, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransportInterrupted, s.url, err)
	}

	if err := awaitSubscribed(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrTransportInterrupted, err)
	}

	sub := &Subscription{
		conn:   conn,
		events: make(chan model.PinEvent, eventBuffer),
		done:   make(chan struct{}),
		logger: s.logger,
	}
	go sub.readLoop(ctx)
	return sub, nil
}

// awaitSubscribed は最初のフレームが購読完了メッセージであることを確認する。
func awaitSubscribed(conn *websocket.Conn) error {
	if err := conn.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return err
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("waiting for subscription: %w", err)
	}
	var frame struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return fmt.Errorf("malformed handshake frame: %w", err)
	}
	if frame.Type != subscribedType {
		return fmt.Errorf("unexpected handshake frame: %q", frame.Type)
	}
	return nil
}

// Subscription は1回分の購読を表す。
// Eventsが閉じた後のErrで終了理由を確認できる。
type Subscription struct {
	conn   *websocket.Conn
	events chan model.PinEvent
	logger *slog.Logger

	done      chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// Events は受信したイベントをサーバーの配信順に返すチャネル。
// 購読が終わると閉じられる。
func (s *Subscription) Events() <-chan model.PinEvent {
	return s.events
}

// Err は購読の終了理由を返す。
// Closeまたはコンテキストのキャンセルで終了した場合はnil、
// 接続が切れた場合はErrTransportInterruptedをラップしたエラーを返す。
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close は購読を終了する。複数回呼んでもよい。
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		deadline := time.Now().Add(writeWait)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = s.conn.Close()
	})
	return nil
}

func (s *Subscription) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Subscription) readLoop(ctx context.Context) {
	defer func() {
		close(s.events)
		_ = s.conn.Close()
	}()

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	s.conn.SetReadLimit(maxFrameSize)
	s.conn.SetPingHandler(func(appData string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))
		err := s.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			s.fail(err)
			return
		}
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(err)
			return
		}

		var ev model.PinEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			s.logger.Warn("malformed event frame", slog.String("error", err.Error()))
			continue
		}
		if !ev.Kind.Valid() {
			s.logger.Debug("ignoring stream frame", slog.String("type", string(ev.Kind)))
			continue
		}

		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

// fail は読み取りエラーを終了理由として記録する。
// 購読者自身が閉じた場合は正常終了として扱う。
func (s *Subscription) fail(err error) {
	if s.closed() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		s.err = fmt.Errorf("%w: closed by server (%d %s)", ErrTransportInterrupted, ce.Code, ce.Text)
		return
	}
	s.err = fmt.Errorf("%w: %v", ErrTransportInterrupted, err)
}
