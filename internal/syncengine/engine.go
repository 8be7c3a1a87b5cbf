// Package syncengine はサーバーのスナップショットと変更イベントを状態ストアへ反映する同期エンジンを提供する。
//
// 状態遷移:
//
//	Disconnected → Snapshotting → Live → (Reconnecting → Live | Disconnected)
//
// 購読を確立してからスナップショットを取得するため、
// その間にコミットされた変更はイベントとして必ず届く。
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/hitoshi/geopins/internal/model"
	"github.com/hitoshi/geopins/internal/state"
	"github.com/hitoshi/geopins/internal/stream"
)

// State は同期エンジンの状態を表す。
type State int

const (
	Disconnected State = iota
	Snapshotting
	Live
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Snapshotting:
		return "snapshotting"
	case Live:
		return "live"
	case Reconnecting:
		return "reconnecting"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrGaveUp は再接続の試行回数が上限に達したことを示す。
var ErrGaveUp = errors.New("sync engine gave up reconnecting")

// Snapshotter はピン一覧のスナップショットを取得する。pinclient.Clientが実装する。
type Snapshotter interface {
	ListPins(ctx context.Context) ([]model.Pin, error)
}

// Subscription は1回分のイベント購読。
type Subscription interface {
	Events() <-chan model.PinEvent
	Err() error
	Close() error
}

// Subscriber はイベントストリームを購読する。
// Subscribeは購読の登録が完了してから返ること。
type Subscriber interface {
	Subscribe(ctx context.Context) (Subscription, error)
}

// SourceSubscriber はstream.SourceをSubscriberに適合させる。
type SourceSubscriber struct {
	Source *stream.Source
}

// Subscribe はstream.Source.Subscribeに委譲する。
func (s SourceSubscriber) Subscribe(ctx context.Context) (Subscription, error) {
	sub, err := s.Source.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Config は同期エンジンの設定を保持する。
type Config struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxAttempts は連続した再接続失敗の上限。0は無制限。
	MaxAttempts int

	// OnStateChange は状態が変わるたびに呼ばれる。
	OnStateChange func(State)
	// OnEvent はイベントをストアへ反映した後に呼ばれる。
	OnEvent func(model.PinEvent)
}

// DefaultConfig はデフォルトの設定を返す。
func DefaultConfig() Config {
	return Config{
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     32 * time.Second,
	}
}

// Engine は1つの状態ストアに対する唯一の書き込み手。
type Engine struct {
	store       *state.Store
	snapshotter Snapshotter
	subscriber  Subscriber
	cfg         Config
	logger      *slog.Logger

	mu    sync.RWMutex
	state State
}

// New はEngineを生成する。
func New(store *state.Store, snapshotter Snapshotter, subscriber Subscriber, cfg Config, logger *slog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:       store,
		snapshotter: snapshotter,
		subscriber:  subscriber,
		cfg:         cfg,
		logger:      logger,
		state:       Disconnected,
	}
}

// State は現在の状態を返す。
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	prev := e.state
	e.state = s
	e.mu.Unlock()

	if prev == s {
		return
	}
	e.logger.Info("sync state changed",
		slog.String("from", prev.String()),
		slog.String("to", s.String()),
	)
	if e.cfg.OnStateChange != nil {
		e.cfg.OnStateChange(s)
	}
}

// Run はctxがキャンセルされるまで同期を続ける。
// キャンセルで終了した場合はnilを返す。
// MaxAttemptsを超えて再接続に失敗した場合はErrGaveUpをラップしたエラーを返す。
func (e *Engine) Run(ctx context.Context) error {
	defer e.setState(Disconnected)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.InitialBackoff
	b.MaxInterval = e.cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.Reset()

	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := e.session(ctx, func() {
			failures = 0
			b.Reset()
		})
		if ctx.Err() != nil {
			return nil
		}

		failures++
		e.logger.Warn("sync session ended",
			slog.String("error", errString(err)),
			slog.Int("consecutive_failures", failures),
		)
		if e.cfg.MaxAttempts > 0 && failures > e.cfg.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %v", ErrGaveUp, failures, err)
		}
		e.setState(Reconnecting)

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			delay = e.cfg.MaxBackoff
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// session は購読、スナップショット、イベント反映を1回分行う。
// 購読が確立した時点でSnapshottingに遷移する。
// Liveに到達したらonLiveを呼ぶ。戻り値は終了理由。
func (e *Engine) session(ctx context.Context, onLive func()) error {
	sub, err := e.subscriber.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Close()

	e.setState(Snapshotting)
	pins, err := e.snapshotter.ListPins(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	e.store.ReplacePins(pins)
	e.logger.Info("snapshot applied", slog.Int("pins", len(pins)))

	e.setState(Live)
	onLive()

	for ev := range sub.Events() {
		if err := e.store.Apply(ev); err != nil {
			e.logger.Warn("event not applied",
				slog.String("type", string(ev.Kind)),
				slog.String("error", err.Error()),
			)
			continue
		}
		if e.cfg.OnEvent != nil {
			e.cfg.OnEvent(ev)
		}
	}

	if err := sub.Err(); err != nil {
		return err
	}
	return stream.ErrTransportInterrupted
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
