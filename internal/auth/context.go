package auth

import (
	"context"

	"github.com/hitoshi/geopins/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var currentUserContextKey = contextKey("current_user")

// WithUser はコンテキストに現在のユーザーを注入する。
func WithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, currentUserContextKey, user)
}

// UserFromContext はコンテキストから現在のユーザーを取得する。
// 匿名リクエストの場合はfalseを返す。
func UserFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(currentUserContextKey).(*model.User)
	if !ok || user == nil || user.ID == "" {
		return nil, false
	}
	return user, true
}
