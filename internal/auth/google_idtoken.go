package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/zitadel/oidc/v3/pkg/client/rp"
	"github.com/zitadel/oidc/v3/pkg/oidc"

	"github.com/hitoshi/geopins/internal/model"
)

const (
	defaultGoogleIssuer  = "https://accounts.google.com"
	defaultGoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"
)

// googleIssuers はGoogleのIDトークンのissに現れる2通りの表記。
var googleIssuers = []string{"https://accounts.google.com", "accounts.google.com"}

// acceptedIssuers はissuerがGoogleのいずれかの表記であれば両方を、それ以外はissuerのみを返す。
func acceptedIssuers(issuer string) []string {
	for _, g := range googleIssuers {
		if issuer == g {
			return googleIssuers
		}
	}
	return []string{issuer}
}

// GoogleIDTokenConfig はGoogle IDトークン検証の設定。
type GoogleIDTokenConfig struct {
	ClientID string

	// テスト用にオーバーライド可能
	Issuer     string
	JWKSURL    string
	HTTPClient *http.Client
}

// GoogleIDTokenVerifier はGoogleが発行したIDトークンを
// 署名・発行者・audience・有効期限の観点で検証する。
type GoogleIDTokenVerifier struct {
	verifiers []*rp.IDTokenVerifier
}

// NewGoogleIDTokenVerifier はGoogleIDTokenVerifierを生成する。
// 公開鍵はJWKSエンドポイントから遅延取得される。
// Googleの発行者は "accounts.google.com" と "https://accounts.google.com" のどちらも受け付ける。
func NewGoogleIDTokenVerifier(cfg GoogleIDTokenConfig) *GoogleIDTokenVerifier {
	if cfg.Issuer == "" {
		cfg.Issuer = defaultGoogleIssuer
	}
	if cfg.JWKSURL == "" {
		cfg.JWKSURL = defaultGoogleJWKSURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}

	keySet := rp.NewRemoteKeySet(cfg.HTTPClient, cfg.JWKSURL)
	v := &GoogleIDTokenVerifier{}
	for _, issuer := range acceptedIssuers(cfg.Issuer) {
		v.verifiers = append(v.verifiers, rp.NewIDTokenVerifier(issuer, cfg.ClientID, keySet))
	}
	return v
}

// Verify はIDトークンを検証し、クレームからプロフィールを組み立てる。
func (v *GoogleIDTokenVerifier) Verify(ctx context.Context, credential string) (*model.Profile, error) {
	var (
		claims *oidc.IDTokenClaims
		err    error
	)
	for _, verifier := range v.verifiers {
		claims, err = rp.VerifyIDToken[*oidc.IDTokenClaims](ctx, credential, verifier)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("%w: email claim missing", ErrInvalidCredential)
	}

	return &model.Profile{
		Email:   claims.Email,
		Name:    claims.Name,
		Picture: claims.Picture,
	}, nil
}

// compile-time interface check
var _ CredentialVerifier = (*GoogleIDTokenVerifier)(nil)
