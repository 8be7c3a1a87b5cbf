package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
)

const (
	testIssuer   = "https://accounts.example.test"
	testClientID = "geopins-client"
	testKeyID    = "test-key"
)

// newTestIDP はJWKSを配信するテスト用IdPと署名関数を返す。
func newTestIDP(t *testing.T) (*httptest.Server, func(claims map[string]any) string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	jwks := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &key.PublicKey,
		KeyID:     testKeyID,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}}}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(jwks)
	}))
	t.Cleanup(server.Close)

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: jose.JSONWebKey{Key: key, KeyID: testKeyID}},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}

	sign := func(claims map[string]any) string {
		t.Helper()
		payload, err := json.Marshal(claims)
		if err != nil {
			t.Fatalf("failed to marshal claims: %v", err)
		}
		jws, err := signer.Sign(payload)
		if err != nil {
			t.Fatalf("failed to sign: %v", err)
		}
		token, err := jws.CompactSerialize()
		if err != nil {
			t.Fatalf("failed to serialize: %v", err)
		}
		return token
	}
	return server, sign
}

func validClaims() map[string]any {
	now := time.Now()
	return map[string]any{
		"iss":     testIssuer,
		"aud":     testClientID,
		"azp":     testClientID,
		"sub":     "google-123",
		"email":   "alice@example.com",
		"name":    "Alice",
		"picture": "https://img.example.com/alice.png",
		"iat":     now.Add(-time.Minute).Unix(),
		"exp":     now.Add(time.Hour).Unix(),
	}
}

func TestGoogleIDTokenVerifier_Verify(t *testing.T) {
	server, sign := newTestIDP(t)
	verifier := NewGoogleIDTokenVerifier(GoogleIDTokenConfig{
		ClientID:   testClientID,
		Issuer:     testIssuer,
		JWKSURL:    server.URL,
		HTTPClient: server.Client(),
	})

	t.Run("有効なトークン", func(t *testing.T) {
		profile, err := verifier.Verify(context.Background(), sign(validClaims()))
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if profile.Email != "alice@example.com" || profile.Name != "Alice" {
			t.Errorf("profile = %+v", profile)
		}
		if profile.Picture != "https://img.example.com/alice.png" {
			t.Errorf("Picture = %q", profile.Picture)
		}
	})

	rejects := []struct {
		name   string
		mutate func(c map[string]any)
		raw    string
	}{
		{name: "期限切れ", mutate: func(c map[string]any) { c["exp"] = time.Now().Add(-time.Hour).Unix() }},
		{name: "audience不一致", mutate: func(c map[string]any) { c["aud"] = "someone-else"; delete(c, "azp") }},
		{name: "issuer不一致", mutate: func(c map[string]any) { c["iss"] = "https://evil.example.test" }},
		{name: "emailなし", mutate: func(c map[string]any) { delete(c, "email") }},
		{name: "JWTでない文字列", raw: "not-a-jwt"},
	}
	for _, tt := range rejects {
		t.Run(tt.name, func(t *testing.T) {
			token := tt.raw
			if token == "" {
				c := validClaims()
				tt.mutate(c)
				token = sign(c)
			}
			_, err := verifier.Verify(context.Background(), token)
			if !errors.Is(err, ErrInvalidCredential) {
				t.Errorf("err = %v, want ErrInvalidCredential", err)
			}
		})
	}
}

func TestGoogleIDTokenVerifier_AcceptsBothGoogleIssuers(t *testing.T) {
	server, sign := newTestIDP(t)
	verifier := NewGoogleIDTokenVerifier(GoogleIDTokenConfig{
		ClientID:   testClientID,
		JWKSURL:    server.URL,
		HTTPClient: server.Client(),
	})

	for _, iss := range []string{"https://accounts.google.com", "accounts.google.com"} {
		t.Run(iss, func(t *testing.T) {
			c := validClaims()
			c["iss"] = iss
			profile, err := verifier.Verify(context.Background(), sign(c))
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if profile.Email != "alice@example.com" {
				t.Errorf("Email = %q", profile.Email)
			}
		})
	}

	t.Run("Google以外の発行者は拒否", func(t *testing.T) {
		c := validClaims()
		c["iss"] = "https://accounts.google.com.evil.test"
		if _, err := verifier.Verify(context.Background(), sign(c)); !errors.Is(err, ErrInvalidCredential) {
			t.Errorf("err = %v, want ErrInvalidCredential", err)
		}
	})
}

func TestAcceptedIssuers(t *testing.T) {
	if got := acceptedIssuers("accounts.google.com"); len(got) != 2 {
		t.Errorf("acceptedIssuers(bare google) = %v, want both forms", got)
	}
	if got := acceptedIssuers(testIssuer); len(got) != 1 || got[0] != testIssuer {
		t.Errorf("acceptedIssuers(custom) = %v, want [%s]", got, testIssuer)
	}
}

func TestGoogleIDTokenVerifier_RejectsForeignSignature(t *testing.T) {
	server, _ := newTestIDP(t)
	_, foreignSign := newTestIDP(t)

	verifier := NewGoogleIDTokenVerifier(GoogleIDTokenConfig{
		ClientID: testClientID,
		Issuer:   testIssuer,
		JWKSURL:  server.URL,
	})

	_, err := verifier.Verify(context.Background(), foreignSign(validClaims()))
	if !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("err = %v, want ErrInvalidCredential", err)
	}
}
