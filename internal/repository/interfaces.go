// Package repository はデータ永続化のインターフェースとPostgreSQL実装を提供する。
package repository

import (
	"context"
	"database/sql"

	"github.com/hitoshi/geopins/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// CreateIfAbsent はメールアドレスが未登録の場合のみユーザーを作成し、
	// 最終的にそのメールアドレスに紐づくユーザーを返す。
	// 同時に呼ばれても作成されるのは1行だけである。
	CreateIfAbsent(ctx context.Context, user *model.User) (*model.User, error)
}

// PinRepository はピンとコメントの永続化インターフェース。
// 返却されるピンは投稿者と各コメントの投稿者が展開済みである。
type PinRepository interface {
	// List は全ピンを作成日時の昇順で返す。
	List(ctx context.Context) ([]model.Pin, error)

	// FindByID は指定IDのピンを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Pin, error)

	// Create はピンを1トランザクションで作成し、展開済みのピンを返す。
	Create(ctx context.Context, pin *model.Pin) (*model.Pin, error)

	// Delete はピンを削除し、削除前のピンを返す。見つからない場合はnilを返す。
	Delete(ctx context.Context, id string) (*model.Pin, error)

	// AddComment はピンにコメントを追記し、更新後のピンを返す。
	// ピンが見つからない場合はnilを返す。
	AddComment(ctx context.Context, pinID string, comment *model.Comment) (*model.Pin, error)
}

// queryer は*sql.DBと*sql.Txの共通部分。
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
