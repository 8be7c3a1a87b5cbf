// Package state はクライアント側の状態ストアを提供する。
// サーバーのスナップショットと変更イベントを受けてピン一覧を保持し、
// 現在のユーザー、作成中の下書き、選択中のピンを管理する。
package state

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/geopins/internal/model"
)

// DefaultRecentWindow はピンを新着として扱う期間。
const DefaultRecentWindow = 30 * time.Minute

var (
	// ErrUnknownEvent は未知のイベント種別を示す。
	ErrUnknownEvent = errors.New("unknown event kind")
	// ErrPinNotFound はストアに存在しないピンを選択しようとしたことを示す。
	ErrPinNotFound = errors.New("pin not found in state")
)

// ClientState はある時点のストアの内容のコピー。
type ClientState struct {
	CurrentUser *model.User
	IsLoggedIn  bool
	Pins        []model.Pin
	Draft       *model.Draft
	SelectedPin *model.Pin
}

// Store はクライアントの状態を保持する。
// 書き込みは同期エンジンと下書きコントローラーから行い、
// ピンの削除と選択解除は同じロック内で行う。
type Store struct {
	mu sync.RWMutex

	currentUser *model.User
	pins        map[string]model.Pin
	draft       *model.Draft
	selectedID  string

	recentWindow time.Duration
}

// NewStore は空のStoreを生成する。recentWindowが0以下の場合はDefaultRecentWindowを使う。
func NewStore(recentWindow time.Duration) *Store {
	if recentWindow <= 0 {
		recentWindow = DefaultRecentWindow
	}
	return &Store{
		pins:         make(map[string]model.Pin),
		recentWindow: recentWindow,
	}
}

// --- ユーザー ---

// Login は現在のユーザーを設定する。
func (s *Store) Login(user model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := user
	s.currentUser = &u
}

// Logout は現在のユーザーを解除する。
func (s *Store) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentUser = nil
}

// CurrentUser は現在のユーザーを返す。未ログインの場合はfalse。
func (s *Store) CurrentUser() (model.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentUser == nil {
		return model.User{}, false
	}
	return *s.currentUser, true
}

// IsLoggedIn はログイン済みかどうかを返す。
func (s *Store) IsLoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentUser != nil
}

// --- ピン ---

// ReplacePins はピン一覧をスナップショットで丸ごと置き換える。
// 選択中のピンがスナップショットに無い場合は選択を解除する。
func (s *Store) ReplacePins(pins []model.Pin) {
	next := make(map[string]model.Pin, len(pins))
	for _, p := range pins {
		next[p.ID] = p.Clone()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins = next
	if _, ok := s.pins[s.selectedID]; !ok {
		s.selectedID = ""
	}
}

// Apply は変更イベントを1件反映する。
// 同じイベントを重複して適用しても結果は変わらない。
func (s *Store) Apply(ev model.PinEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Kind {
	case model.EventPinAdded:
		s.pins[ev.Pin.ID] = ev.Pin.Clone()
	case model.EventPinDeleted:
		delete(s.pins, ev.Pin.ID)
		if s.selectedID == ev.Pin.ID {
			s.selectedID = ""
		}
	case model.EventPinUpdated:
		incoming := ev.Pin.Clone()
		if current, ok := s.pins[ev.Pin.ID]; ok {
			current.Comments = incoming.Comments
			s.pins[ev.Pin.ID] = current
		} else {
			s.pins[ev.Pin.ID] = incoming
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Kind)
	}
	return nil
}

// Pins はピン一覧を作成日時の昇順で返す。
func (s *Store) Pins() []model.Pin {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedPinsLocked()
}

// Pin は指定IDのピンを返す。
func (s *Store) Pin(id string) (model.Pin, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pins[id]
	if !ok {
		return model.Pin{}, false
	}
	return p.Clone(), true
}

// Len はピンの件数を返す。
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pins)
}

func (s *Store) sortedPinsLocked() []model.Pin {
	out := make([]model.Pin, 0, len(s.pins))
	for _, p := range s.pins {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// --- 選択 ---

// Select はピンを選択する。ストアに無いピンは選択できない。
func (s *Store) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pins[id]; !ok {
		return fmt.Errorf("%w: %s", ErrPinNotFound, id)
	}
	s.selectedID = id
	return nil
}

// ClearSelection は選択を解除する。
func (s *Store) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedID = ""
}

// Selected は選択中のピンを返す。
func (s *Store) Selected() (model.Pin, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selectedID == "" {
		return model.Pin{}, false
	}
	p, ok := s.pins[s.selectedID]
	if !ok {
		return model.Pin{}, false
	}
	return p.Clone(), true
}

// --- 下書き ---

// SetDraft は下書きを設定する。既存の下書きは置き換える。
func (s *Store) SetDraft(d model.Draft) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = &d
}

// UpdateDraft は下書きが存在する場合にfnで更新する。下書きが無い場合はfalse。
func (s *Store) UpdateDraft(fn func(d *model.Draft)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft == nil {
		return false
	}
	d := *s.draft
	fn(&d)
	s.draft = &d
	return true
}

// Draft は現在の下書きを返す。
func (s *Store) Draft() (model.Draft, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.draft == nil {
		return model.Draft{}, false
	}
	return *s.draft, true
}

// DiscardDraft は下書きを破棄する。
func (s *Store) DiscardDraft() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = nil
}

// --- 集計 ---

// Snapshot はストア全体のコピーを返す。
func (s *Store) Snapshot() ClientState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := ClientState{
		IsLoggedIn: s.currentUser != nil,
		Pins:       s.sortedPinsLocked(),
	}
	if s.currentUser != nil {
		u := *s.currentUser
		st.CurrentUser = &u
	}
	if s.draft != nil {
		d := *s.draft
		st.Draft = &d
	}
	if p, ok := s.pins[s.selectedID]; ok && s.selectedID != "" {
		c := p.Clone()
		st.SelectedPin = &c
	}
	return st
}

// RecentPins はnow時点で新着のピンを返す。判定は呼び出しごとに行う。
func (s *Store) RecentPins(now time.Time) []model.Pin {
	var out []model.Pin
	for _, p := range s.Pins() {
		if IsRecentWithin(p, now, s.recentWindow) {
			out = append(out, p)
		}
	}
	return out
}

// IsRecent はピンがnow時点で作成から30分以内かどうかを返す。境界は含む。
func IsRecent(p model.Pin, now time.Time) bool {
	return IsRecentWithin(p, now, DefaultRecentWindow)
}

// IsRecentWithin はピンがnow時点で作成からwindow以内かどうかを返す。境界は含む。
func IsRecentWithin(p model.Pin, now time.Time, window time.Duration) bool {
	return now.Sub(p.CreatedAt) <= window
}
