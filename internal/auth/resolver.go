package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/geopins/internal/model"
	"github.com/hitoshi/geopins/internal/repository"
)

// ErrInvalidCredential は資格情報の検証に失敗したことを示す。
var ErrInvalidCredential = errors.New("invalid credential")

// CredentialVerifier は外部IdPの資格情報を検証し、プロフィールを返す。
// 検証に失敗した場合はErrInvalidCredentialをラップしたエラーを返す。
type CredentialVerifier interface {
	Verify(ctx context.Context, credential string) (*model.Profile, error)
}

// Resolver は資格情報を永続化されたユーザーに解決する。
type Resolver struct {
	verifier CredentialVerifier
	users    repository.UserRepository
	logger   *slog.Logger
	now      func() time.Time
}

// NewResolver はResolverを生成する。
func NewResolver(verifier CredentialVerifier, users repository.UserRepository, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		verifier: verifier,
		users:    users,
		logger:   logger,
		now:      time.Now,
	}
}

// Resolve は資格情報を検証し、メールアドレスに対応するユーザーを返す。
// 未登録の場合は作成する。同じメールアドレスに対しては常に同じユーザーを返す。
func (r *Resolver) Resolve(ctx context.Context, credential string) (*model.User, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, ErrInvalidCredential
	}

	profile, err := r.verifier.Verify(ctx, credential)
	if err != nil {
		if errors.Is(err, ErrInvalidCredential) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if profile == nil || profile.Email == "" {
		return nil, fmt.Errorf("%w: email claim missing", ErrInvalidCredential)
	}

	user, err := r.users.FindByEmail(ctx, profile.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user != nil {
		return user, nil
	}

	now := r.now()
	name := profile.Name
	if name == "" {
		name = profile.Email
	}
	user, err = r.users.CreateIfAbsent(ctx, &model.User{
		ID:        uuid.NewString(),
		Email:     profile.Email,
		Name:      name,
		Picture:   profile.Picture,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	r.logger.Info("user resolved on first login",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)
	return user, nil
}
