// Package upload は下書きの画像を外部のアセットホストへアップロードするクライアントを提供する。
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
)

// ErrUploadFailed は画像のアップロードに失敗したことを示す。
var ErrUploadFailed = errors.New("upload failed")

const (
	// DefaultPreset はアセットホストのアップロードプリセット名。
	DefaultPreset = "geopins"
	// maxImageBytes はアップロードする画像サイズの上限。
	maxImageBytes = 10 << 20
	// maxResponseBytes はレスポンスボディの読み取り上限。
	maxResponseBytes = 1 << 20
)

// Config はアップロード先の設定を保持する。
type Config struct {
	URL       string
	Preset    string
	CloudName string
}

// Uploader はmultipart/form-dataで画像をアップロードする。
// アセットホストの連続障害時はサーキットブレーカーで即時失敗させる。
type Uploader struct {
	cfg    Config
	client *http.Client
	cb     *gobreaker.CircuitBreaker[string]
	logger *slog.Logger
}

// NewUploader はUploaderを生成する。
// clientにはsecurity.URLGuard.NewSafeClientで作ったクライアントを渡す。
func NewUploader(cfg Config, client *http.Client, logger *slog.Logger) *Uploader {
	if cfg.Preset == "" {
		cfg.Preset = DefaultPreset
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}

	u := &Uploader{cfg: cfg, client: client, logger: logger}
	u.cb = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "asset-upload",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("upload circuit breaker state changed",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return u
}

// UploadFile はローカルの画像ファイルをアップロードし、公開URLを返す。
func (u *Uploader) UploadFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %v", ErrUploadFailed, path, err)
	}
	defer f.Close()
	return u.Upload(ctx, filepath.Base(path), f)
}

// Upload は画像をアップロードし、公開URLを返す。
// レスポンスのsecure_urlを優先し、無ければurlを使う。
func (u *Uploader) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	if u.cfg.URL == "" {
		return "", fmt.Errorf("%w: upload URL is not configured", ErrUploadFailed)
	}

	body, contentType, err := u.buildForm(filename, r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	url, err := u.cb.Execute(func() (string, error) {
		return u.post(ctx, body, contentType)
	})
	if err != nil {
		if errors.Is(err, ErrUploadFailed) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return url, nil
}

func (u *Uploader) buildForm(filename string, r io.Reader) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	n, err := io.Copy(part, io.LimitReader(r, maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	if n > maxImageBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	if err := w.WriteField("upload_preset", u.cfg.Preset); err != nil {
		return nil, "", err
	}
	if u.cfg.CloudName != "" {
		if err := w.WriteField("cloud_name", u.cfg.CloudName); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

type uploadResponse struct {
	SecureURL string `json:"secure_url"`
	URL       string `json:"url"`
}

func (u *Uploader) post(ctx context.Context, body []byte, contentType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := u.client.Do(req)
	if err != nil {
		u.logger.Error("image upload request failed", slog.String("error", err.Error()))
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		u.logger.Error("asset host returned error status",
			slog.Int("http_status", resp.StatusCode),
		)
		return "", fmt.Errorf("asset host returned status %d", resp.StatusCode)
	}

	var out uploadResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	switch {
	case out.SecureURL != "":
		return out.SecureURL, nil
	case out.URL != "":
		return out.URL, nil
	}
	return "", errors.New("response has no image URL")
}
