// Package auth は資格情報の検証、ユーザーの解決、ミューテーションの認可判定を提供する。
package auth

import (
	"context"
	"errors"

	"github.com/hitoshi/geopins/internal/model"
)

// ErrUnauthenticated はコンテキストに現在のユーザーが存在しないことを示す。
var ErrUnauthenticated = errors.New("unauthenticated")

// Authorize はコンテキストの現在のユーザーを返す。
// ユーザーが存在しない場合はErrUnauthenticatedを返す。
// 副作用を持たず、トランスポートに関係なく全ミューテーションで同じ判定を行う。
func Authorize(ctx context.Context) (*model.User, error) {
	user, ok := UserFromContext(ctx)
	if !ok {
		return nil, ErrUnauthenticated
	}
	return user, nil
}
