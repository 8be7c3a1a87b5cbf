// Package security はユーザー入力の無害化と外部URLの安全性検証を提供する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はピンのタイトル・本文・コメントをプレーンテキストに無害化する。
type TextSanitizer interface {
	// Sanitize は全てのHTMLタグを除去し、前後の空白を取り除いたテキストを返す。
	// script, styleなどの要素は中身ごと除去される。
	Sanitize(raw string) string
}

type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はタグを一切許可しないbluemondayポリシーでTextSanitizerを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// maxSanitizePasses はエンティティの多重エスケープを剥がす回数の上限。
const maxSanitizePasses = 8

// Sanitize はタグを除去したプレーンテキストを返す。
// bluemondayが出力するHTMLエスケープは元の文字に戻す。戻した結果に
// タグが現れる場合があるため、出力が変化しなくなるまで除去を繰り返す。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	cur := raw
	for i := 0; i < maxSanitizePasses; i++ {
		next := html.UnescapeString(s.policy.Sanitize(cur))
		if next == cur {
			return strings.TrimSpace(next)
		}
		cur = next
	}
	// 収束しない入力はエスケープされたままの出力を返す
	return strings.TrimSpace(s.policy.Sanitize(cur))
}
