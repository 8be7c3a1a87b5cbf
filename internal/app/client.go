package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hitoshi/geopins/internal/config"
	"github.com/hitoshi/geopins/internal/draft"
	"github.com/hitoshi/geopins/internal/logger"
	"github.com/hitoshi/geopins/internal/model"
	"github.com/hitoshi/geopins/internal/pinclient"
	"github.com/hitoshi/geopins/internal/security"
	"github.com/hitoshi/geopins/internal/state"
	"github.com/hitoshi/geopins/internal/stream"
	"github.com/hitoshi/geopins/internal/syncengine"
	"github.com/hitoshi/geopins/internal/upload"
)

// InitClient はヘッドレスクライアント用の初期化を行う。
func InitClient(w io.Writer) (*config.ClientConfig, error) {
	logger.SetupDefault(w)

	cfg, err := config.LoadClient()
	if err != nil {
		return nil, fmt.Errorf("failed to load client config: %w", err)
	}
	return cfg, nil
}

// newAPIClient はAPIクライアントを生成する。
func newAPIClient(cfg *config.ClientConfig) *pinclient.Client {
	return pinclient.NewClient(cfg.APIBaseURL, cfg.AuthToken,
		&http.Client{Timeout: 15 * time.Second}, slog.Default())
}

// login はトークンが設定されていれば現在のユーザーを解決してストアに記録する。
func login(ctx context.Context, api *pinclient.Client, store *state.Store, cfg *config.ClientConfig) error {
	if cfg.AuthToken == "" {
		return nil
	}
	user, err := api.Me(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve current user: %w", err)
	}
	store.Login(*user)
	slog.Info("logged in",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)
	return nil
}

// runWatch はスナップショットとイベントストリームでピン一覧を同期し続ける。
// SIGINTまたはSIGTERMで停止する。
func runWatch(cfg *config.ClientConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := newAPIClient(cfg)
	store := state.NewStore(cfg.RecentWindow)

	if err := login(ctx, api, store, cfg); err != nil {
		// 匿名でも閲覧はできるため続行する
		slog.Warn("continuing anonymously", slog.String("error", err.Error()))
	}

	src, err := stream.NewSource(cfg.APIBaseURL, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create event source: %w", err)
	}

	engine := syncengine.New(store, api, syncengine.SourceSubscriber{Source: src}, syncengine.Config{
		MaxBackoff: cfg.ReconnectMaxDelay,
		OnStateChange: func(s syncengine.State) {
			snap := store.Snapshot()
			slog.Info("sync state changed",
				slog.String("state", s.String()),
				slog.Int("pins", len(snap.Pins)),
				slog.Bool("logged_in", snap.IsLoggedIn),
			)
		},
		OnEvent: func(ev model.PinEvent) {
			slog.Info("pin event reconciled",
				slog.String("type", string(ev.Kind)),
				slog.String("pin_id", ev.Pin.ID),
				slog.Int("pins", store.Len()),
				slog.Int("recent_pins", len(store.RecentPins(time.Now()))),
			)
		},
	}, slog.Default())

	slog.Info("watching pin events", slog.String("url", src.URL()))
	if err := engine.Run(ctx); err != nil {
		return fmt.Errorf("sync engine stopped: %w", err)
	}

	slog.Info("watch stopped gracefully")
	return nil
}

// postOptions はpostサブコマンドの引数。
type postOptions struct {
	Latitude  float64
	Longitude float64
	Title     string
	Content   string
	Image     string
}

// fields は画像指定がURLかローカルファイルかを判定して下書きの入力に変換する。
func (o postOptions) fields() draft.Fields {
	f := draft.Fields{Title: o.Title, Content: o.Content}
	if strings.HasPrefix(o.Image, "https://") || strings.HasPrefix(o.Image, "http://") {
		f.ImageURL = o.Image
	} else {
		f.ImageFile = o.Image
	}
	return f
}

func parsePostArgs(args []string) (postOptions, error) {
	var opts postOptions
	fs := flag.NewFlagSet("post", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Float64Var(&opts.Latitude, "lat", 0, "latitude")
	fs.Float64Var(&opts.Longitude, "lng", 0, "longitude")
	fs.StringVar(&opts.Title, "title", "", "pin title")
	fs.StringVar(&opts.Content, "content", "", "pin content")
	fs.StringVar(&opts.Image, "image", "", "image URL or local file path")

	if err := fs.Parse(args); err != nil {
		return postOptions{}, fmt.Errorf("invalid post arguments: %w", err)
	}
	return opts, nil
}

// runPost は下書きを1件作成して送信する。
// 作成されたピンはサーバーのイベント経由で各クライアントに届く。
func runPost(cfg *config.ClientConfig, args []string) error {
	opts, err := parsePostArgs(args)
	if err != nil {
		return err
	}
	if cfg.AuthToken == "" {
		return errors.New("AUTH_TOKEN is required to post a pin")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := newAPIClient(cfg)
	store := state.NewStore(cfg.RecentWindow)
	if err := login(ctx, api, store, cfg); err != nil {
		return err
	}

	uploader := upload.NewUploader(upload.Config{
		URL:       cfg.UploadURL,
		Preset:    cfg.UploadPreset,
		CloudName: cfg.UploadCloudName,
	}, security.NewOutboundURLGuard().NewSafeClient(cfg.UploadTimeout), slog.Default())

	ctrl := draft.NewController(store, uploader, api, slog.Default())
	go func() {
		<-ctx.Done()
		ctrl.Discard()
	}()

	if err := ctrl.Locate(opts.Latitude, opts.Longitude); err != nil {
		return err
	}
	if err := ctrl.Fill(opts.fields()); err != nil {
		return err
	}

	pin, err := ctrl.Submit(ctx)
	if err != nil {
		return fmt.Errorf("failed to submit pin: %w", err)
	}

	slog.Info("pin created",
		slog.String("pin_id", pin.ID),
		slog.String("title", pin.Title),
		slog.Float64("latitude", pin.Latitude),
		slog.Float64("longitude", pin.Longitude),
	)
	return nil
}
