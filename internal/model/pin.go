// Package model はドメインモデルを定義する。
package model

import "time"

// Pin は地図上に投稿されたジオタグ付きの注釈を表す。
// ID と CreatedAt はサーバーが採番し、以後変更されない。
type Pin struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	ImageURL  string    `json:"image_url"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	AuthorID  string    `json:"author_id"`
	Author    *User     `json:"author,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Comments  []Comment `json:"comments"`
}

// Comment はピンに追記されたコメントを表す。
// Pin.Comments内の順序は投稿順を保持する。
type Comment struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Author    *User     `json:"author,omitempty"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Clone はPinのディープコピーを返す。
// クライアント側の状態ストアが外部に参照を漏らさないために使用する。
func (p Pin) Clone() Pin {
	c := p
	if p.Author != nil {
		a := *p.Author
		c.Author = &a
	}
	if p.Comments != nil {
		c.Comments = make([]Comment, len(p.Comments))
		for i, cm := range p.Comments {
			if cm.Author != nil {
				a := *cm.Author
				cm.Author = &a
			}
			c.Comments[i] = cm
		}
	}
	return c
}

// CreatePinInput はピン作成ミューテーションの入力を表す。
// 投稿者は入力に含めず、認証済みの呼び出し元から決定する。
type CreatePinInput struct {
	Title     string  `json:"title" validate:"required,max=200"`
	Content   string  `json:"content" validate:"required,max=5000"`
	Image     string  `json:"image" validate:"required,url,max=2048"`
	Latitude  float64 `json:"latitude" validate:"min=-90,max=90"`
	Longitude float64 `json:"longitude" validate:"min=-180,max=180"`
}

// AddCommentInput はコメント追加ミューテーションの入力を表す。
type AddCommentInput struct {
	Text string `json:"text" validate:"required,max=2000"`
}

// EventKind はピン変更イベントの種別を表す。
type EventKind string

const (
	// EventPinAdded はピンが作成されたことを示す。
	EventPinAdded EventKind = "pin_added"
	// EventPinDeleted はピンが削除されたことを示す。
	EventPinDeleted EventKind = "pin_deleted"
	// EventPinUpdated はピンにコメントが追記されたことを示す。
	EventPinUpdated EventKind = "pin_updated"
)

// Valid は既知のイベント種別かどうかを返す。
func (k EventKind) Valid() bool {
	switch k {
	case EventPinAdded, EventPinDeleted, EventPinUpdated:
		return true
	}
	return false
}

// PinEvent はコミット済みの変更を通知するイベント。
// 種別とその結果のピン全体を持つタグ付きバリアントで、シーケンス番号は持たない。
type PinEvent struct {
	Kind EventKind `json:"type"`
	Pin  Pin       `json:"pin"`
}
