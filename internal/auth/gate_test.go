package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/geopins/internal/model"
)

func TestAuthorize(t *testing.T) {
	alice := &model.User{ID: "user-1", Email: "alice@example.com"}

	tests := []struct {
		name    string
		ctx     context.Context
		wantID  string
		wantErr error
	}{
		{"匿名コンテキスト", context.Background(), "", ErrUnauthenticated},
		{"nilユーザー", WithUser(context.Background(), nil), "", ErrUnauthenticated},
		{"IDが空のユーザー", WithUser(context.Background(), &model.User{}), "", ErrUnauthenticated},
		{"認証済みユーザー", WithUser(context.Background(), alice), "user-1", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := Authorize(tt.ctx)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				if user != nil {
					t.Errorf("user = %+v, want nil", user)
				}
				return
			}
			if user.ID != tt.wantID {
				t.Errorf("user.ID = %q, want %q", user.ID, tt.wantID)
			}
		})
	}
}

func TestAuthorize_IsDeterministic(t *testing.T) {
	ctx := WithUser(context.Background(), &model.User{ID: "user-1"})
	for i := 0; i < 3; i++ {
		if _, err := Authorize(ctx); err != nil {
			t.Fatalf("call %d: unexpected error %v", i, err)
		}
	}
	if _, ok := UserFromContext(ctx); !ok {
		t.Error("Authorize must not alter the context user")
	}
}
