// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/geopins/internal/auth"
	"github.com/hitoshi/geopins/internal/metrics"
	"github.com/hitoshi/geopins/internal/model"
)

const bearerPrefix = "bearer "

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// IdentityResolver は資格情報をユーザーに解決するインターフェース。
// auth.Resolverが実装する。
type IdentityResolver interface {
	Resolve(ctx context.Context, credential string) (*model.User, error)
}

// NewCredentialMiddleware はAuthorizationヘッダーの資格情報を解決し、
// 現在のユーザーをリクエストコンテキストに注入するミドルウェアを返す。
// 資格情報が無い、または検証に失敗した場合は匿名のまま次に渡す。
// 認可判定はRequireUserとサービス層のauth.Authorizeが行う。
func NewCredentialMiddleware(resolver IdentityResolver, recorder metrics.Recorder) func(next http.Handler) http.Handler {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential := credentialFromRequest(r)
			if credential == "" {
				next.ServeHTTP(w, r)
				return
			}

			user, err := resolver.Resolve(r.Context(), credential)
			if err != nil {
				if errors.Is(err, auth.ErrInvalidCredential) {
					recorder.RecordCredentialRejected()
					slog.Debug("credential rejected",
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)
				} else {
					slog.Error("failed to resolve credential",
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)
				}
				next.ServeHTTP(w, r)
				return
			}

			annotateUserID(r.Context(), user.ID)
			next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
		})
	}
}

// credentialFromRequest はAuthorizationヘッダーからトークンを取り出す。
// "Bearer "スキーム無しの生トークンも受け付ける。
func credentialFromRequest(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) >= len(bearerPrefix) && strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		v = strings.TrimSpace(v[len(bearerPrefix):])
	}
	return v
}

// UserIDFromContext はリクエストコンテキストから現在のユーザーIDを取得する。
// 匿名リクエストの場合は空文字とfalseを返す。
func UserIDFromContext(ctx context.Context) (string, bool) {
	user, ok := auth.UserFromContext(ctx)
	if !ok {
		return "", false
	}
	return user.ID, true
}
