// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/geopins/internal/metrics"
	"github.com/hitoshi/geopins/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           metrics.Recorder
	Resolver          middleware.IdentityResolver
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 公開エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
	EventStream    http.Handler

	// ピン
	PinService PinServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Credential → (RequireUser → RateLimit)
//
// 資格情報の検証に失敗したリクエストは匿名として扱い、
// 変更系エンドポイントとmeだけがRequireUserで401を返す。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewCredentialMiddleware(deps.Resolver, deps.Metrics))

	pinHandler := NewPinHandler(deps.PinService)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Get("/api/pins", pinHandler.ListPins)
	if deps.EventStream != nil {
		r.Method(http.MethodGet, "/api/events", deps.EventStream)
	}

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireUser)

		r.Get("/api/me", Me)

		r.Group(func(r chi.Router) {
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.MutationMiddleware())
			}
			r.Post("/api/pins", pinHandler.CreatePin)
			r.Route("/api/pins/{id}", func(r chi.Router) {
				r.Delete("/", pinHandler.DeletePin)
				r.Post("/comments", pinHandler.AddComment)
			})
		})
	})

	return r
}
