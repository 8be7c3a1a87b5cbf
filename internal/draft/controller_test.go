package draft

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/geopins/internal/model"
	"github.com/hitoshi/geopins/internal/state"
	"github.com/hitoshi/geopins/internal/upload"
)

type mockUploader struct {
	uploadFileFn func(ctx context.Context, path string) (string, error)
	calls        int
}

func (m *mockUploader) UploadFile(ctx context.Context, path string) (string, error) {
	m.calls++
	return m.uploadFileFn(ctx, path)
}

type mockCreator struct {
	createPinFn func(ctx context.Context, input model.CreatePinInput) (*model.Pin, error)
	inputs      []model.CreatePinInput
}

func (m *mockCreator) CreatePin(ctx context.Context, input model.CreatePinInput) (*model.Pin, error) {
	m.inputs = append(m.inputs, input)
	return m.createPinFn(ctx, input)
}

func okCreator() *mockCreator {
	return &mockCreator{createPinFn: func(_ context.Context, in model.CreatePinInput) (*model.Pin, error) {
		return &model.Pin{ID: "pin-1", Title: in.Title, Content: in.Content, ImageURL: in.Image,
			Latitude: in.Latitude, Longitude: in.Longitude, CreatedAt: time.Now()}, nil
	}}
}

func okUploader() *mockUploader {
	return &mockUploader{uploadFileFn: func(context.Context, string) (string, error) {
		return "https://cdn.example.com/photo.jpg", nil
	}}
}

func filledController(t *testing.T, up Uploader, cr Creator) (*Controller, *state.Store) {
	t.Helper()
	store := state.NewStore(0)
	c := NewController(store, up, cr, nil)
	if err := c.Locate(40, -70); err != nil {
		t.Fatalf("Locate returned error: %v", err)
	}
	if err := c.Fill(Fields{Title: "Cafe", Content: "Good coffee", ImageFile: "/tmp/photo.jpg"}); err != nil {
		t.Fatalf("Fill returned error: %v", err)
	}
	return c, store
}

func TestController_Lifecycle(t *testing.T) {
	store := state.NewStore(0)
	c := NewController(store, okUploader(), okCreator(), nil)

	if c.Phase() != NoDraft {
		t.Fatalf("initial phase = %v, want no_draft", c.Phase())
	}

	t.Run("位置指定で下書きが作成される", func(t *testing.T) {
		if err := c.Locate(40, -70); err != nil {
			t.Fatalf("Locate returned error: %v", err)
		}
		d, ok := store.Draft()
		if !ok || d.Latitude != 40 || d.Longitude != -70 {
			t.Errorf("draft = %+v, %v", d, ok)
		}
		if c.Phase() != Located {
			t.Errorf("phase = %v, want located", c.Phase())
		}
	})

	t.Run("再度の位置指定は座標を上書きする", func(t *testing.T) {
		if err := c.Locate(41, -71); err != nil {
			t.Fatalf("Locate returned error: %v", err)
		}
		d, _ := store.Draft()
		if d.Latitude != 41 || d.Longitude != -71 {
			t.Errorf("draft coords = (%v, %v), want (41, -71)", d.Latitude, d.Longitude)
		}
		if c.Phase() != Located {
			t.Errorf("phase = %v, want located", c.Phase())
		}
	})

	t.Run("入力でFilledになる", func(t *testing.T) {
		if err := c.Fill(Fields{Title: "t", Content: "c"}); err != nil {
			t.Fatalf("Fill returned error: %v", err)
		}
		d, _ := store.Draft()
		if d.Title != "t" || d.Content != "c" || d.Latitude != 41 {
			t.Errorf("draft = %+v", d)
		}
		if c.Phase() != Filled {
			t.Errorf("phase = %v, want filled", c.Phase())
		}
	})

	t.Run("破棄でNoDraftになる", func(t *testing.T) {
		c.Discard()
		if _, ok := store.Draft(); ok {
			t.Error("draft should be discarded")
		}
		if c.Phase() != NoDraft {
			t.Errorf("phase = %v, want no_draft", c.Phase())
		}
		if store.Len() != 0 {
			t.Errorf("pins = %d, draft must never enter pins", store.Len())
		}
	})
}

func TestController_Locate_RejectsOutOfRange(t *testing.T) {
	c := NewController(state.NewStore(0), okUploader(), okCreator(), nil)
	if err := c.Locate(91, 0); !errors.Is(err, ErrInvalidLocation) {
		t.Errorf("error = %v, want ErrInvalidLocation", err)
	}
	if err := c.Locate(0, -181); !errors.Is(err, ErrInvalidLocation) {
		t.Errorf("error = %v, want ErrInvalidLocation", err)
	}
	if c.Phase() != NoDraft {
		t.Errorf("phase = %v, want no_draft", c.Phase())
	}
}

func TestController_Fill_WithoutDraft(t *testing.T) {
	c := NewController(state.NewStore(0), okUploader(), okCreator(), nil)
	if err := c.Fill(Fields{Title: "t"}); !errors.Is(err, ErrNoDraft) {
		t.Errorf("error = %v, want ErrNoDraft", err)
	}
}

func TestController_Fill_EmptyFieldsKeepLocated(t *testing.T) {
	store := state.NewStore(0)
	c := NewController(store, okUploader(), okCreator(), nil)
	c.Locate(40, -70)

	if err := c.Fill(Fields{}); err != nil {
		t.Fatalf("Fill returned error: %v", err)
	}
	if c.Phase() != Located {
		t.Errorf("phase = %v, want located", c.Phase())
	}
	d, _ := store.Draft()
	if d != (model.Draft{Latitude: 40, Longitude: -70}) {
		t.Errorf("draft = %+v, want coordinates only", d)
	}

	c.Fill(Fields{Title: "t"})
	c.Fill(Fields{})
	if c.Phase() != Filled {
		t.Errorf("phase after empty fill on filled draft = %v, want filled", c.Phase())
	}
}

func TestController_Submit_GuardedUntilComplete(t *testing.T) {
	creator := okCreator()
	store := state.NewStore(0)
	c := NewController(store, okUploader(), creator, nil)
	c.Locate(40, -70)
	c.Fill(Fields{Title: "t", Content: "c"})

	if _, err := c.Submit(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Errorf("error = %v, want ErrNotReady", err)
	}
	if len(creator.inputs) != 0 {
		t.Error("create must not be called for an incomplete draft")
	}
	if c.Phase() != Filled {
		t.Errorf("phase = %v, want filled", c.Phase())
	}
}

func TestController_Submit_UploadsThenCreates(t *testing.T) {
	uploader := okUploader()
	creator := okCreator()
	c, store := filledController(t, uploader, creator)

	pin, err := c.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if pin.ID != "pin-1" {
		t.Errorf("pin.ID = %q", pin.ID)
	}
	if uploader.calls != 1 {
		t.Errorf("upload calls = %d, want 1", uploader.calls)
	}
	want := model.CreatePinInput{Title: "Cafe", Content: "Good coffee",
		Image: "https://cdn.example.com/photo.jpg", Latitude: 40, Longitude: -70}
	if len(creator.inputs) != 1 || creator.inputs[0] != want {
		t.Errorf("create inputs = %+v, want %+v", creator.inputs, want)
	}

	if _, ok := store.Draft(); ok {
		t.Error("draft should be discarded after commit")
	}
	if c.Phase() != NoDraft {
		t.Errorf("phase = %v, want no_draft", c.Phase())
	}
	if store.Len() != 0 {
		t.Fatal("committed pin must not be inserted before PinAdded")
	}

	if err := store.Apply(model.PinEvent{Kind: model.EventPinAdded, Pin: *pin}); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if _, ok := store.Pin("pin-1"); !ok {
		t.Error("pin should appear after PinAdded")
	}
}

func TestController_Submit_SkipsUploadForExistingURL(t *testing.T) {
	uploader := okUploader()
	store := state.NewStore(0)
	c := NewController(store, uploader, okCreator(), nil)
	c.Locate(40, -70)
	c.Fill(Fields{Title: "t", Content: "c", ImageURL: "https://cdn.example.com/already.jpg"})

	if _, err := c.Submit(context.Background()); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if uploader.calls != 0 {
		t.Errorf("upload calls = %d, want 0", uploader.calls)
	}
}

func TestController_Submit_UploadFailureReturnsToFilled(t *testing.T) {
	uploader := &mockUploader{uploadFileFn: func(context.Context, string) (string, error) {
		return "", upload.ErrUploadFailed
	}}
	creator := okCreator()
	c, store := filledController(t, uploader, creator)
	before, _ := store.Draft()

	_, err := c.Submit(context.Background())
	if !errors.Is(err, upload.ErrUploadFailed) {
		t.Fatalf("error = %v, want ErrUploadFailed", err)
	}
	if c.Phase() != Filled {
		t.Errorf("phase = %v, want filled", c.Phase())
	}
	after, ok := store.Draft()
	if !ok || after != before {
		t.Errorf("draft = %+v, want unchanged %+v", after, before)
	}
	if len(creator.inputs) != 0 {
		t.Error("create must not be called when upload fails")
	}
}

func TestController_Submit_CreateFailureKeepsDraft(t *testing.T) {
	creator := &mockCreator{createPinFn: func(context.Context, model.CreatePinInput) (*model.Pin, error) {
		return nil, model.NewUnauthenticatedError()
	}}
	uploader := okUploader()
	c, store := filledController(t, uploader, creator)

	if _, err := c.Submit(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if c.Phase() != Filled {
		t.Errorf("phase = %v, want filled", c.Phase())
	}
	d, ok := store.Draft()
	if !ok || d.Title != "Cafe" || d.Content != "Good coffee" {
		t.Errorf("draft = %+v, want preserved", d)
	}

	t.Run("再送信ではアップロード済み画像を再利用する", func(t *testing.T) {
		creator.createPinFn = okCreator().createPinFn
		if _, err := c.Submit(context.Background()); err != nil {
			t.Fatalf("retry returned error: %v", err)
		}
		if uploader.calls != 1 {
			t.Errorf("upload calls = %d, want 1", uploader.calls)
		}
	})
}

func TestController_Discard_DuringSubmitting(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	creator := &mockCreator{createPinFn: func(ctx context.Context, in model.CreatePinInput) (*model.Pin, error) {
		close(started)
		<-release
		return &model.Pin{ID: "late"}, nil
	}}
	c, store := filledController(t, okUploader(), creator)

	type result struct {
		pin *model.Pin
		err error
	}
	done := make(chan result, 1)
	go func() {
		pin, err := c.Submit(context.Background())
		done <- result{pin, err}
	}()

	<-started
	if c.Phase() != Submitting {
		t.Fatalf("phase = %v, want submitting", c.Phase())
	}
	if err := c.Fill(Fields{Title: "x"}); !errors.Is(err, ErrSubmitting) {
		t.Errorf("Fill during submit error = %v, want ErrSubmitting", err)
	}
	c.Discard()
	close(release)

	select {
	case r := <-done:
		if !errors.Is(r.err, ErrDiscarded) || r.pin != nil {
			t.Errorf("Submit = (%v, %v), want ErrDiscarded", r.pin, r.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Submit did not return")
	}

	if _, ok := store.Draft(); ok {
		t.Error("late response must not resurrect the draft")
	}
	if c.Phase() != NoDraft {
		t.Errorf("phase = %v, want no_draft", c.Phase())
	}
}

func TestController_Discard_CancelsUpload(t *testing.T) {
	started := make(chan struct{})
	uploader := &mockUploader{uploadFileFn: func(ctx context.Context, _ string) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}}
	c, store := filledController(t, uploader, okCreator())

	done := make(chan error, 1)
	go func() {
		_, err := c.Submit(context.Background())
		done <- err
	}()

	<-started
	c.Discard()

	select {
	case err := <-done:
		if !errors.Is(err, ErrDiscarded) {
			t.Errorf("error = %v, want ErrDiscarded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("upload was not cancelled")
	}
	if _, ok := store.Draft(); ok {
		t.Error("draft should stay discarded")
	}
}

func TestController_NewDraftAfterDiscardIsIndependent(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	creator := &mockCreator{createPinFn: func(ctx context.Context, in model.CreatePinInput) (*model.Pin, error) {
		started <- struct{}{}
		<-release
		return &model.Pin{ID: "old"}, nil
	}}
	c, store := filledController(t, okUploader(), creator)

	done := make(chan error, 1)
	go func() {
		_, err := c.Submit(context.Background())
		done <- err
	}()
	<-started
	c.Discard()
	if err := c.Locate(10, 10); err != nil {
		t.Fatalf("Locate returned error: %v", err)
	}
	close(release)
	<-done

	d, ok := store.Draft()
	if !ok || d.Latitude != 10 {
		t.Errorf("new draft = %+v, %v, want kept", d, ok)
	}
	if c.Phase() != Located {
		t.Errorf("phase = %v, want located", c.Phase())
	}
}
