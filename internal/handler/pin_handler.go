package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/geopins/internal/model"
)

// PinServiceInterface はピンハンドラーが必要とするサービスインターフェース。
// pin.Serviceが実装する。認可判定はサービス側でも行う。
type PinServiceInterface interface {
	List(ctx context.Context) ([]model.Pin, error)
	Create(ctx context.Context, input model.CreatePinInput) (*model.Pin, error)
	Delete(ctx context.Context, pinID string) (*model.Pin, error)
	AddComment(ctx context.Context, pinID string, input model.AddCommentInput) (*model.Pin, error)
}

// PinHandler はピンのHTTPハンドラー。
type PinHandler struct {
	service PinServiceInterface
}

// NewPinHandler はPinHandlerを生成する。
func NewPinHandler(service PinServiceInterface) *PinHandler {
	return &PinHandler{service: service}
}

// ListPins は全ピンのスナップショットを返す。
// GET /api/pins
func (h *PinHandler) ListPins(w http.ResponseWriter, r *http.Request) {
	pins, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if pins == nil {
		pins = []model.Pin{}
	}
	writeJSON(w, http.StatusOK, pins)
}

// CreatePin はピンを作成する。
// POST /api/pins
func (h *PinHandler) CreatePin(w http.ResponseWriter, r *http.Request) {
	var input model.CreatePinInput
	if !decodeJSON(w, r, &input) {
		return
	}

	pin, err := h.service.Create(r.Context(), input)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pin)
}

// DeletePin はピンを削除し、削除前のピンを返す。
// DELETE /api/pins/{id}
func (h *PinHandler) DeletePin(w http.ResponseWriter, r *http.Request) {
	pin, err := h.service.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pin)
}

// AddComment はピンにコメントを追記し、更新後のピンを返す。
// POST /api/pins/{id}/comments
func (h *PinHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	var input model.AddCommentInput
	if !decodeJSON(w, r, &input) {
		return
	}

	pin, err := h.service.AddComment(r.Context(), chi.URLParam(r, "id"), input)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pin)
}
