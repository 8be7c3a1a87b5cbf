// Package draft はクライアントが作成中の未送信ピンのライフサイクルを管理する。
//
// 状態遷移は NoDraft → Located → Filled → Submitting で、送信の結果により
// 成功時は NoDraft（下書き破棄）、失敗時は Filled（入力保持）へ戻る。
// 確定したピンは PinAdded イベント経由でのみストアに入る。
package draft

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/geopins/internal/model"
	"github.com/hitoshi/geopins/internal/state"
)

// Phase は下書きコントローラーの状態を表す。
type Phase int

const (
	NoDraft Phase = iota
	Located
	Filled
	Submitting
)

func (p Phase) String() string {
	switch p {
	case NoDraft:
		return "no_draft"
	case Located:
		return "located"
	case Filled:
		return "filled"
	case Submitting:
		return "submitting"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

var (
	// ErrNotReady はタイトル・本文・画像が揃っていない下書きを送信しようとしたことを示す。
	ErrNotReady = errors.New("draft is not ready to submit")
	// ErrDiscarded は送信中に下書きが破棄され、結果が捨てられたことを示す。
	ErrDiscarded = errors.New("draft was discarded")
	// ErrNoDraft は下書きが存在しないことを示す。
	ErrNoDraft = errors.New("no draft")
	// ErrSubmitting は送信中の下書きを編集しようとしたことを示す。
	ErrSubmitting = errors.New("draft submission in progress")
	// ErrInvalidLocation は座標が範囲外であることを示す。
	ErrInvalidLocation = errors.New("invalid location")
)

// Uploader はローカル画像をアセットホストへアップロードする。
type Uploader interface {
	UploadFile(ctx context.Context, path string) (string, error)
}

// Creator はサーバーにピンを作成する。
type Creator interface {
	CreatePin(ctx context.Context, input model.CreatePinInput) (*model.Pin, error)
}

// Fields は下書きに入力する項目。空文字の項目は変更しない。
type Fields struct {
	Title    string
	Content  string
	ImageURL string
	// ImageFile を指定すると既存のImageURLは破棄され、送信時にアップロードされる。
	ImageFile string
}

func (f Fields) empty() bool {
	return f.Title == "" && f.Content == "" && f.ImageURL == "" && f.ImageFile == ""
}

// Controller は1クライアントにつき1つの下書きを管理する。
// 下書きの実体はstate.Storeが保持し、Controllerは遷移と送信を制御する。
type Controller struct {
	store    *state.Store
	uploader Uploader
	creator  Creator
	logger   *slog.Logger

	mu     sync.Mutex
	phase  Phase
	gen    uint64
	cancel context.CancelFunc
}

// NewController はControllerを生成する。
func NewController(store *state.Store, uploader Uploader, creator Creator, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:    store,
		uploader: uploader,
		creator:  creator,
		logger:   logger,
		phase:    NoDraft,
	}
}

// Phase は現在の状態を返す。
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Locate は下書きの座標を指定する。下書きが無ければ作成し、あれば座標だけを上書きする。
func (c *Controller) Locate(lat, lng float64) error {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return fmt.Errorf("%w: (%v, %v)", ErrInvalidLocation, lat, lng)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.phase {
	case Submitting:
		return ErrSubmitting
	case NoDraft:
		c.store.SetDraft(model.Draft{Latitude: lat, Longitude: lng})
		c.phase = Located
	default:
		c.store.UpdateDraft(func(d *model.Draft) {
			d.Latitude = lat
			d.Longitude = lng
		})
	}
	return nil
}

// Fill は下書きにタイトル・本文・画像を入力する。
// 何も指定されていない場合は状態を変えない。
func (c *Controller) Fill(f Fields) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.phase {
	case NoDraft:
		return ErrNoDraft
	case Submitting:
		return ErrSubmitting
	}

	if f.empty() {
		return nil
	}

	c.store.UpdateDraft(func(d *model.Draft) {
		if f.Title != "" {
			d.Title = f.Title
		}
		if f.Content != "" {
			d.Content = f.Content
		}
		if f.ImageURL != "" {
			d.ImageURL = f.ImageURL
			d.ImageFile = ""
		}
		if f.ImageFile != "" {
			d.ImageFile = f.ImageFile
			d.ImageURL = ""
		}
	})
	c.phase = Filled
	return nil
}

// Discard はどの状態からでも下書きを破棄する。送信中であれば進行中の処理を取り消す。
func (c *Controller) Discard() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
	c.phase = NoDraft
	c.store.DiscardDraft()
}

// Submit は下書きを送信する。画像が未アップロードであれば先にアップロードする。
//
// 成功時は下書きを破棄して作成されたピンを返す。ピンはストアに直接は追加しない。
// アップロードまたは作成に失敗した場合は下書きを保持したままFilledに戻る。
// 送信中にDiscardされた場合は結果を捨ててErrDiscardedを返す。
func (c *Controller) Submit(ctx context.Context) (*model.Pin, error) {
	c.mu.Lock()
	if c.phase == Submitting {
		c.mu.Unlock()
		return nil, ErrSubmitting
	}
	d, ok := c.store.Draft()
	if !ok {
		c.mu.Unlock()
		return nil, ErrNoDraft
	}
	if !d.Complete() {
		c.mu.Unlock()
		return nil, ErrNotReady
	}
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.phase = Submitting
	c.mu.Unlock()
	defer cancel()

	imageURL := d.ImageURL
	if imageURL == "" {
		url, err := c.uploader.UploadFile(ctx, d.ImageFile)
		if err != nil {
			return nil, c.fail(gen, "image upload failed", err)
		}
		if !c.keepUploadedImage(gen, url) {
			return nil, ErrDiscarded
		}
		imageURL = url
	}

	pin, err := c.creator.CreatePin(ctx, model.CreatePinInput{
		Title:     d.Title,
		Content:   d.Content,
		Image:     imageURL,
		Latitude:  d.Latitude,
		Longitude: d.Longitude,
	})
	if err != nil {
		return nil, c.fail(gen, "pin create failed", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.phase != Submitting {
		c.logger.Info("dropping late create response for discarded draft",
			slog.String("pin_id", pin.ID),
		)
		return nil, ErrDiscarded
	}
	c.store.DiscardDraft()
	c.phase = NoDraft
	c.cancel = nil
	return pin, nil
}

// keepUploadedImage はアップロード済みURLを下書きに記録し、再送信時の再アップロードを避ける。
func (c *Controller) keepUploadedImage(gen uint64, url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.phase != Submitting {
		return false
	}
	c.store.UpdateDraft(func(d *model.Draft) {
		d.ImageURL = url
		d.ImageFile = ""
	})
	return true
}

func (c *Controller) fail(gen uint64, msg string, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.phase != Submitting {
		return ErrDiscarded
	}
	c.phase = Filled
	c.cancel = nil
	c.logger.Warn(msg, slog.String("error", err.Error()))
	return err
}
