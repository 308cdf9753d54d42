package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/planner/internal/model"
)

// newTestGoogleProvider はテスト用サーバーに向けたGoogleOAuthProviderを生成する。
func newTestGoogleProvider(tokenURL, userInfoURL string) *GoogleOAuthProvider {
	return NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		RedirectURL:  "http://localhost:8080/auth/google/callback",
		HTTPClient:   http.DefaultClient,
		TokenURL:     tokenURL,
		UserInfoURL:  userInfoURL,
	})
}

// TestGoogleOAuthProvider_GetLoginURL_ContainsRequiredParams は認証URLに必須パラメータが含まれることを検証する。
func TestGoogleOAuthProvider_GetLoginURL_ContainsRequiredParams(t *testing.T) {
	provider := newTestGoogleProvider("", "")

	raw := provider.GetLoginURL("test-state-value", AuthCodeOptions{Prompt: "select_account"})
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse login URL: %v", err)
	}
	q := u.Query()

	tests := []struct {
		param string
		want  string
	}{
		{"client_id", "test-client-id"},
		{"redirect_uri", "http://localhost:8080/auth/google/callback"},
		{"state", "test-state-value"},
		{"response_type", "code"},
		{"scope", "openid email profile"},
		{"prompt", "select_account"},
	}
	for _, tt := range tests {
		t.Run(tt.param, func(t *testing.T) {
			if got := q.Get(tt.param); got != tt.want {
				t.Errorf("%s = %q, want %q", tt.param, got, tt.want)
			}
		})
	}

	if !strings.HasPrefix(raw, defaultGoogleAuthURL+"?") {
		t.Errorf("URL should start with %q, got %q", defaultGoogleAuthURL, raw)
	}
}

// TestGoogleOAuthProvider_GetLoginURL_CustomScopesWithoutPrompt は指定スコープが使われ、promptが省略されることを検証する。
func TestGoogleOAuthProvider_GetLoginURL_CustomScopesWithoutPrompt(t *testing.T) {
	provider := newTestGoogleProvider("", "")

	u, _ := url.Parse(provider.GetLoginURL("s", AuthCodeOptions{Scopes: []string{"email"}}))
	if got := u.Query().Get("scope"); got != "email" {
		t.Errorf("scope = %q, want %q", got, "email")
	}
	if u.Query().Has("prompt") {
		t.Error("prompt should be omitted when not requested")
	}
}

// TestGoogleOAuthProvider_ExchangeCode_Success はトークン交換とユーザー情報取得が成功することを検証する。
func TestGoogleOAuthProvider_ExchangeCode_Success(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse form: %v", err)
		}
		if r.PostForm.Get("code") != "test-auth-code" {
			t.Errorf("code = %q, want %q", r.PostForm.Get("code"), "test-auth-code")
		}
		if r.PostForm.Get("grant_type") != "authorization_code" {
			t.Errorf("grant_type = %q", r.PostForm.Get("grant_type"))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "test-access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer tokenServer.Close()

	userInfoServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-access-token" {
			t.Errorf("unexpected Authorization header: %q", got)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"sub":   "google-sub-12345",
			"email": "user@gmail.com",
			"name":  "Google User",
		})
	}))
	defer userInfoServer.Close()

	provider := newTestGoogleProvider(tokenServer.URL, userInfoServer.URL)

	userInfo, err := provider.ExchangeCode(context.Background(), "test-auth-code")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	if userInfo.Provider != model.ProviderGoogle {
		t.Errorf("provider = %q, want %q", userInfo.Provider, model.ProviderGoogle)
	}
	if userInfo.Subject != "google-sub-12345" {
		t.Errorf("subject = %q, want %q", userInfo.Subject, "google-sub-12345")
	}
	if userInfo.Email != "user@gmail.com" {
		t.Errorf("email = %q, want %q", userInfo.Email, "user@gmail.com")
	}
	if userInfo.Name != "Google User" {
		t.Errorf("name = %q, want %q", userInfo.Name, "Google User")
	}
}

// TestGoogleOAuthProvider_ExchangeCode_InvalidGrant は使用済みコードがauth/invalid-credentialになることを検証する。
func TestGoogleOAuthProvider_ExchangeCode_InvalidGrant(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":             "invalid_grant",
			"error_description": "Code was already redeemed.",
		})
	}))
	defer tokenServer.Close()

	provider := newTestGoogleProvider(tokenServer.URL, "")

	_, err := provider.ExchangeCode(context.Background(), "invalid-code")
	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected *ProviderError, got %v", err)
	}
	if provErr.Code != CodeInvalidCredential {
		t.Errorf("code = %q, want %q", provErr.Code, CodeInvalidCredential)
	}
}

// TestGoogleOAuthProvider_ExchangeCode_UserInfoError はユーザー情報取得の失敗がエラーになることを検証する。
func TestGoogleOAuthProvider_ExchangeCode_UserInfoError(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "test-access-token",
		})
	}))
	defer tokenServer.Close()

	userInfoServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer userInfoServer.Close()

	provider := newTestGoogleProvider(tokenServer.URL, userInfoServer.URL)

	_, err := provider.ExchangeCode(context.Background(), "valid-code")
	if err == nil {
		t.Fatal("expected error from ExchangeCode when user info fetch fails")
	}
	if !errors.Is(NormalizeError(err), model.ErrAuthUnknown) {
		t.Errorf("expected unknown auth error, got %v", NormalizeError(err))
	}
}

// TestGoogleOAuthProvider_ExchangeCode_NetworkFailure は接続できない場合auth/network-request-failedになることを検証する。
func TestGoogleOAuthProvider_ExchangeCode_NetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	tokenURL := server.URL
	server.Close()

	provider := newTestGoogleProvider(tokenURL, "")

	_, err := provider.ExchangeCode(context.Background(), "code")
	if !errors.Is(NormalizeError(err), model.ErrNetworkUnavailable) {
		t.Errorf("expected network unavailable, got %v", NormalizeError(err))
	}
}

// TestGoogleOAuthProvider_ExchangeCode_ContextDeadline はタイムアウトがネットワークエラーとして扱われることを検証する。
func TestGoogleOAuthProvider_ExchangeCode_ContextDeadline(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer tokenServer.Close()

	provider := newTestGoogleProvider(tokenServer.URL, "")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := provider.ExchangeCode(ctx, "code")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if !errors.Is(NormalizeError(err), model.ErrNetworkUnavailable) {
		t.Errorf("expected network unavailable, got %v", NormalizeError(err))
	}
}

// TestNewGoogleOAuthProvider_DefaultsToSafeClient はHTTPClient未指定時に専用クライアントが使われることを検証する。
func TestNewGoogleOAuthProvider_DefaultsToSafeClient(t *testing.T) {
	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{ClientID: "id"})
	if provider.client == nil || provider.client == http.DefaultClient {
		t.Error("expected a dedicated outbound client")
	}
	if provider.config.TokenURL != defaultGoogleTokenURL {
		t.Errorf("TokenURL = %q, want default", provider.config.TokenURL)
	}
}
