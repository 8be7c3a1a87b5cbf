// Package pin はピンの作成・削除・コメント追記と変更イベントの発行を担うサービス層を提供する。
package pin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/geopins/internal/auth"
	"github.com/hitoshi/geopins/internal/metrics"
	"github.com/hitoshi/geopins/internal/model"
	"github.com/hitoshi/geopins/internal/repository"
	"github.com/hitoshi/geopins/internal/security"
)

const (
	opCreatePin  = "create_pin"
	opDeletePin  = "delete_pin"
	opAddComment = "add_comment"
)

// Broadcaster はコミット済みの変更イベントを全購読者へ配信する。
// 投入順に配信されることを前提とする。
type Broadcaster interface {
	Broadcast(event model.PinEvent)
}

// ImageURLValidator は画像URLの安全性を検証する。
type ImageURLValidator interface {
	ValidateURL(rawURL string) error
}

// Service はピンのサービス層。
// ミューテーションのコミットとイベント投入を同じロック内で行い、
// 同一ピンに対するイベントの順序をコミット順と一致させる。
type Service struct {
	repo        repository.PinRepository
	broadcaster Broadcaster
	sanitizer   security.TextSanitizer
	imageURLs   ImageURLValidator
	metrics     metrics.Recorder
	logger      *slog.Logger

	mu  sync.Mutex
	now func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	repo repository.PinRepository,
	broadcaster Broadcaster,
	sanitizer security.TextSanitizer,
	imageURLs ImageURLValidator,
	recorder metrics.Recorder,
	logger *slog.Logger,
) *Service {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		broadcaster: broadcaster,
		sanitizer:   sanitizer,
		imageURLs:   imageURLs,
		metrics:     recorder,
		logger:      logger,
		now:         time.Now,
	}
}

// List は全ピンを投稿者とコメント投稿者を展開して返す。認証は不要。
func (s *Service) List(ctx context.Context) ([]model.Pin, error) {
	pins, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pins: %w", err)
	}
	return pins, nil
}

// Create は呼び出し元を投稿者としてピンを作成し、PinAddedイベントを発行する。
func (s *Service) Create(ctx context.Context, input model.CreatePinInput) (*model.Pin, error) {
	user, err := s.authorize(ctx, opCreatePin)
	if err != nil {
		return nil, err
	}

	input.Title = s.sanitizer.Sanitize(input.Title)
	input.Content = s.sanitizer.Sanitize(input.Content)
	if err := validateInput(input); err != nil {
		s.metrics.RecordMutationRejected(opCreatePin, "validation")
		return nil, err
	}
	if err := s.imageURLs.ValidateURL(input.Image); err != nil {
		s.metrics.RecordMutationRejected(opCreatePin, "validation")
		return nil, model.NewInvalidImageURLError(err.Error())
	}

	start := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	created, err := s.repo.Create(ctx, &model.Pin{
		ID:        uuid.NewString(),
		Title:     input.Title,
		Content:   input.Content,
		ImageURL:  input.Image,
		Latitude:  input.Latitude,
		Longitude: input.Longitude,
		AuthorID:  user.ID,
		CreatedAt: start.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pin: %w", err)
	}

	s.publish(model.EventPinAdded, created)
	s.metrics.RecordMutation(opCreatePin, s.now().Sub(start))
	s.logger.Info("pin created",
		slog.String("pin_id", created.ID),
		slog.String("user_id", user.ID),
	)
	return created, nil
}

// Delete は投稿者本人によるピン削除を行い、削除前のピンでPinDeletedイベントを発行する。
// 投稿者以外はFORBIDDEN、存在しないピンはPIN_NOT_FOUNDとなる。
func (s *Service) Delete(ctx context.Context, pinID string) (*model.Pin, error) {
	user, err := s.authorize(ctx, opDeletePin)
	if err != nil {
		return nil, err
	}
	if !isPinID(pinID) {
		s.metrics.RecordMutationRejected(opDeletePin, "not_found")
		return nil, model.NewPinNotFoundError(pinID)
	}

	start := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.repo.FindByID(ctx, pinID)
	if err != nil {
		return nil, fmt.Errorf("failed to find pin: %w", err)
	}
	if existing == nil {
		s.metrics.RecordMutationRejected(opDeletePin, "not_found")
		return nil, model.NewPinNotFoundError(pinID)
	}
	if existing.AuthorID != user.ID {
		s.metrics.RecordMutationRejected(opDeletePin, "forbidden")
		s.logger.Warn("pin delete rejected for non-author",
			slog.String("pin_id", pinID),
			slog.String("user_id", user.ID),
		)
		return nil, model.NewForbiddenError(pinID)
	}

	removed, err := s.repo.Delete(ctx, pinID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete pin: %w", err)
	}
	if removed == nil {
		s.metrics.RecordMutationRejected(opDeletePin, "not_found")
		return nil, model.NewPinNotFoundError(pinID)
	}

	s.publish(model.EventPinDeleted, removed)
	s.metrics.RecordMutation(opDeletePin, s.now().Sub(start))
	s.logger.Info("pin deleted",
		slog.String("pin_id", pinID),
		slog.String("user_id", user.ID),
	)
	return removed, nil
}

// AddComment はピンにコメントを追記し、更新後のピンでPinUpdatedイベントを発行する。
func (s *Service) AddComment(ctx context.Context, pinID string, input model.AddCommentInput) (*model.Pin, error) {
	user, err := s.authorize(ctx, opAddComment)
	if err != nil {
		return nil, err
	}

	input.Text = s.sanitizer.Sanitize(input.Text)
	if err := validateInput(input); err != nil {
		s.metrics.RecordMutationRejected(opAddComment, "validation")
		return nil, err
	}
	if !isPinID(pinID) {
		s.metrics.RecordMutationRejected(opAddComment, "not_found")
		return nil, model.NewPinNotFoundError(pinID)
	}

	start := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	updated, err := s.repo.AddComment(ctx, pinID, &model.Comment{
		ID:        uuid.NewString(),
		AuthorID:  user.ID,
		Text:      input.Text,
		CreatedAt: start.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add comment: %w", err)
	}
	if updated == nil {
		s.metrics.RecordMutationRejected(opAddComment, "not_found")
		return nil, model.NewPinNotFoundError(pinID)
	}

	s.publish(model.EventPinUpdated, updated)
	s.metrics.RecordMutation(opAddComment, s.now().Sub(start))
	return updated, nil
}

// authorize はAuthGateの判定をAPIErrorに変換する。
func (s *Service) authorize(ctx context.Context, op string) (*model.User, error) {
	user, err := auth.Authorize(ctx)
	if errors.Is(err, auth.ErrUnauthenticated) {
		s.metrics.RecordMutationRejected(op, "unauthenticated")
		return nil, model.NewUnauthenticatedError()
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// publish は呼び出し側がs.muを保持している前提でイベントを投入する。
func (s *Service) publish(kind model.EventKind, pin *model.Pin) {
	s.broadcaster.Broadcast(model.PinEvent{Kind: kind, Pin: pin.Clone()})
	s.metrics.RecordEventBroadcast(string(kind))
}

func isPinID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
