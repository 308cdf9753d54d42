package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/planner/internal/model"
	"github.com/hitoshi/planner/internal/navigation"
)

type mockProvider struct {
	signInFn func(ctx context.Context, email, password string) (*model.Identity, error)
	signUpFn func(ctx context.Context, email, password string) (*model.Identity, error)
	popupFn  func(ctx context.Context, req FederatedRequest) (*model.Identity, error)
	signOut  func(ctx context.Context) error
}

func (m *mockProvider) SignInWithPassword(ctx context.Context, email, password string) (*model.Identity, error) {
	return m.signInFn(ctx, email, password)
}

func (m *mockProvider) SignUpWithPassword(ctx context.Context, email, password string) (*model.Identity, error) {
	return m.signUpFn(ctx, email, password)
}

func (m *mockProvider) SignInWithPopup(ctx context.Context, req FederatedRequest) (*model.Identity, error) {
	return m.popupFn(ctx, req)
}

func (m *mockProvider) SignOut(ctx context.Context) error {
	return m.signOut(ctx)
}

func (m *mockProvider) OnAuthStateChanged(func(*model.Identity)) func() {
	return func() {}
}

type recordingMetrics struct {
	mu       sync.Mutex
	attempts []string
}

func (r *recordingMetrics) RecordAuthAttempt(method, outcome string) {
	r.mu.Lock()
	r.attempts = append(r.attempts, method+":"+outcome)
	r.mu.Unlock()
}
func (r *recordingMetrics) RecordSessionTransition(string)               {}
func (r *recordingMetrics) RecordGuardDecision(string)                   {}
func (r *recordingMetrics) RecordCollectionWrite(string, string, string) {}
func (r *recordingMetrics) AddLiveSubscriptions(string, int)             {}
func (r *recordingMetrics) RecordHTTPStatus(int)                         {}
func (r *recordingMetrics) RecordRequestLatency(time.Duration)           {}

type failingNavigator struct{}

func (failingNavigator) Navigate(context.Context, navigation.Target) error {
	return errors.New("view disposed")
}

// TestGateway_SignInNormalizesErrors はプロバイダーのエラーが正規化されて返ることを検証する。
func TestGateway_SignInNormalizesErrors(t *testing.T) {
	rec := &recordingMetrics{}
	provider := &mockProvider{
		signInFn: func(context.Context, string, string) (*model.Identity, error) {
			return nil, providerError(CodeWrongPassword, "bad password")
		},
	}
	gw := NewGateway(provider, &navigation.Recorder{}, GatewayConfig{}, rec)

	_, err := gw.SignInWithPassword(context.Background(), "user@example.com", "x")
	if !errors.Is(err, model.ErrInvalidCredentials) {
		t.Errorf("err = %v, want invalid credentials", err)
	}
	if len(rec.attempts) != 1 || rec.attempts[0] != "password:invalid_credentials" {
		t.Errorf("attempts = %v", rec.attempts)
	}
}

// TestGateway_SignInAppliesTimeout はプロバイダー呼び出しにタイムアウトが設定されることを検証する。
func TestGateway_SignInAppliesTimeout(t *testing.T) {
	provider := &mockProvider{
		signInFn: func(ctx context.Context, _, _ string) (*model.Identity, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	gw := NewGateway(provider, &navigation.Recorder{}, GatewayConfig{ProviderTimeout: 20 * time.Millisecond}, nil)

	_, err := gw.SignInWithPassword(context.Background(), "user@example.com", "x")
	if !errors.Is(err, model.ErrNetworkUnavailable) {
		t.Errorf("err = %v, want network unavailable", err)
	}
}

// TestGateway_SignUpSuccess は成功時にIdentityが返り成功として記録されることを検証する。
func TestGateway_SignUpSuccess(t *testing.T) {
	rec := &recordingMetrics{}
	want := &model.Identity{ID: "user-1"}
	provider := &mockProvider{
		signUpFn: func(context.Context, string, string) (*model.Identity, error) { return want, nil },
	}
	gw := NewGateway(provider, &navigation.Recorder{}, GatewayConfig{}, rec)

	got, err := gw.SignUp(context.Background(), "user@example.com", "secret1")
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if got != want {
		t.Errorf("identity = %v, want %v", got, want)
	}
	if rec.attempts[0] != "signup:success" {
		t.Errorf("attempts = %v", rec.attempts)
	}
}

// TestGateway_FederatedRequestsAccountSelection はアカウント選択とスコープが要求されることを検証する。
func TestGateway_FederatedRequestsAccountSelection(t *testing.T) {
	var got FederatedRequest
	provider := &mockProvider{
		popupFn: func(_ context.Context, req FederatedRequest) (*model.Identity, error) {
			got = req
			return nil, providerError(CodePopupClosedByUser, "closed")
		},
	}
	gw := NewGateway(provider, &navigation.Recorder{}, GatewayConfig{}, nil)

	_, err := gw.SignInWithFederatedProvider(context.Background())
	if !errors.Is(err, model.ErrUserCancelled) {
		t.Errorf("err = %v, want user cancelled", err)
	}
	if got.Prompt != "select_account" {
		t.Errorf("prompt = %q, want select_account", got.Prompt)
	}
	if got.Provider != model.ProviderGoogle {
		t.Errorf("provider = %q, want %q", got.Provider, model.ProviderGoogle)
	}
	scopes := map[string]bool{}
	for _, s := range got.Scopes {
		scopes[s] = true
	}
	if !scopes["email"] || !scopes["profile"] {
		t.Errorf("scopes = %v, want email and profile", got.Scopes)
	}
}

// TestGateway_SignOutNavigatesToLogin はサインアウト成功後にログイン画面へ遷移することを検証する。
func TestGateway_SignOutNavigatesToLogin(t *testing.T) {
	nav := &navigation.Recorder{}
	provider := &mockProvider{signOut: func(context.Context) error { return nil }}
	gw := NewGateway(provider, nav, GatewayConfig{}, nil)

	if err := gw.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	last, ok := nav.Last()
	if !ok || last.Path != navigation.PathLogin {
		t.Errorf("navigated to %+v, want %s", last, navigation.PathLogin)
	}
}

// TestGateway_SignOutFailureDoesNotNavigate はサインアウト失敗時に遷移しないことを検証する。
func TestGateway_SignOutFailureDoesNotNavigate(t *testing.T) {
	nav := &navigation.Recorder{}
	provider := &mockProvider{signOut: func(context.Context) error {
		return providerError(CodeNetworkRequestFailed, "offline")
	}}
	gw := NewGateway(provider, nav, GatewayConfig{}, nil)

	err := gw.SignOut(context.Background())
	if !errors.Is(err, model.ErrNetworkUnavailable) {
		t.Errorf("err = %v, want network unavailable", err)
	}
	if len(nav.Targets()) != 0 {
		t.Errorf("unexpected navigation: %v", nav.Targets())
	}
}

// TestGateway_SignOutNavigationErrorIsNotReturned は遷移の失敗が呼び出し元に返らないことを検証する。
func TestGateway_SignOutNavigationErrorIsNotReturned(t *testing.T) {
	provider := &mockProvider{signOut: func(context.Context) error { return nil }}
	gw := NewGateway(provider, failingNavigator{}, GatewayConfig{}, nil)

	if err := gw.SignOut(context.Background()); err != nil {
		t.Errorf("SignOut() error = %v, want nil", err)
	}
}
