// Package pinclient はgeopins APIのHTTPクライアントを提供する。
// スナップショット取得、現在のユーザー取得、ピンのミューテーションを含む。
package pinclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/hitoshi/geopins/internal/model"
)

// maxResponseBytes はレスポンスボディの読み取り上限。
const maxResponseBytes = 16 << 20

// Client はgeopins APIのクライアント。
// tokenが設定されている場合はAuthorizationヘッダーに付与する。
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(baseURL, token string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
		logger:     logger,
	}
}

// ListPins は全ピンのスナップショットを取得する。
func (c *Client) ListPins(ctx context.Context) ([]model.Pin, error) {
	var pins []model.Pin
	if err := c.do(ctx, http.MethodGet, "/api/pins", nil, &pins); err != nil {
		return nil, err
	}
	if pins == nil {
		pins = []model.Pin{}
	}
	return pins, nil
}

// Me は資格情報に対応する現在のユーザーを取得する。
func (c *Client) Me(ctx context.Context) (*model.User, error) {
	var user model.User
	if err := c.do(ctx, http.MethodGet, "/api/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// CreatePin はピンを作成する。
// 作成されたピンはPinAddedイベントでも配信される。
func (c *Client) CreatePin(ctx context.Context, input model.CreatePinInput) (*model.Pin, error) {
	var pin model.Pin
	if err := c.do(ctx, http.MethodPost, "/api/pins", input, &pin); err != nil {
		return nil, err
	}
	return &pin, nil
}

// DeletePin はピンを削除し、削除前のピンを返す。
func (c *Client) DeletePin(ctx context.Context, pinID string) (*model.Pin, error) {
	var pin model.Pin
	if err := c.do(ctx, http.MethodDelete, "/api/pins/"+url.PathEscape(pinID), nil, &pin); err != nil {
		return nil, err
	}
	return &pin, nil
}

// AddComment はピンにコメントを追記し、更新後のピンを返す。
func (c *Client) AddComment(ctx context.Context, pinID, text string) (*model.Pin, error) {
	var pin model.Pin
	path := "/api/pins/" + url.PathEscape(pinID) + "/comments"
	if err := c.do(ctx, http.MethodPost, path, model.AddCommentInput{Text: text}, &pin); err != nil {
		return nil, err
	}
	return &pin, nil
}

// do はリクエストを送信し、2xxの場合はレスポンスをoutにデコードする。
// エラーレスポンスは*model.APIErrorとして返す。
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("api request rejected",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
		)
		return decodeAPIError(resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// errorBody はサーバーの統一エラーフォーマット。
type errorBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// decodeAPIError はエラーレスポンスを*model.APIErrorに変換する。
// ボディが統一フォーマットでない場合はステータスコードから組み立てる。
func decodeAPIError(statusCode int, data []byte) error {
	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil || body.Code == "" {
		return &model.APIError{
			Code:     fmt.Sprintf("HTTP_%d", statusCode),
			Message:  http.StatusText(statusCode),
			Category: "system",
		}
	}
	return &model.APIError{
		Code:     body.Code,
		Message:  body.Message,
		Category: body.Category,
		Action:   body.Action,
	}
}
