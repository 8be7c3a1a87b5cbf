package middleware

import (
	"net/http"

	"github.com/hitoshi/geopins/internal/auth"
	"github.com/hitoshi/geopins/internal/model"
)

// RequireUser は現在のユーザーが存在しないリクエストを401で拒否するミドルウェア。
// サービス層と同じauth.Authorizeで判定する。
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := auth.Authorize(r.Context()); err != nil {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
			return
		}
		next.ServeHTTP(w, r)
	})
}
