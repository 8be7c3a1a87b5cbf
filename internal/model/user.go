// Package model はドメインモデルを定義する。
package model

import "time"

// User はピンを投稿・閲覧するユーザーを表す。
// 初回の資格情報検証時にメールアドレス単位で作成され、以後IDは変わらない。
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Picture   string    `json:"picture"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"-"`
}

// Profile は資格情報の検証で得られたプロフィール情報を表す。
// IdentityResolverがUserを新規作成する際の入力となる。
type Profile struct {
	Email   string
	Name    string
	Picture string
}
