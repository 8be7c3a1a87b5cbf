package handler

import (
	"errors"
	"net/http"

	"github.com/hitoshi/geopins/internal/auth"
	"github.com/hitoshi/geopins/internal/model"
)

// Me は現在のユーザーを返す。
// GET /api/me
func Me(w http.ResponseWriter, r *http.Request) {
	user, err := auth.Authorize(r.Context())
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			handleServiceError(w, model.NewUnauthenticatedError())
			return
		}
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
