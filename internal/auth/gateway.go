package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/planner/internal/metrics"
	"github.com/hitoshi/planner/internal/model"
	"github.com/hitoshi/planner/internal/navigation"
)

// サインイン方法。メトリクスのmethodラベルに使う。
const (
	MethodPassword  = "password"
	MethodSignUp    = "signup"
	MethodFederated = "google"
	MethodSignOut   = "signout"
)

// GatewayConfig はGatewayの設定。
type GatewayConfig struct {
	ProviderTimeout time.Duration // プロバイダー呼び出しのタイムアウト
	PopupTimeout    time.Duration // フェデレーションサインインで利用者の操作を待つ上限
}

// Gateway はIDプロバイダーの薄いラッパー。
// 失敗はすべて*model.AuthErrorに正規化して返す。
// セッションストアへの反映はプロバイダーの状態変化通知に任せ、ここでは行わない。
type Gateway struct {
	provider Provider
	nav      navigation.Navigator
	config   GatewayConfig
	metrics  metrics.MetricsCollector
}

// NewGateway はGatewayを生成する。
func NewGateway(provider Provider, nav navigation.Navigator, config GatewayConfig, collector metrics.MetricsCollector) *Gateway {
	if config.ProviderTimeout <= 0 {
		config.ProviderTimeout = 10 * time.Second
	}
	if config.PopupTimeout <= 0 {
		config.PopupTimeout = 2 * time.Minute
	}
	return &Gateway{
		provider: provider,
		nav:      nav,
		config:   config,
		metrics:  metrics.OrNop(collector),
	}
}

// SignInWithPassword はメールアドレスとパスワードでサインインする。
func (g *Gateway) SignInWithPassword(ctx context.Context, email, password string) (*model.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.ProviderTimeout)
	defer cancel()

	identity, err := g.provider.SignInWithPassword(ctx, email, password)
	return identity, g.finish(MethodPassword, err)
}

// SignUp はアカウントを作成してサインインする。
func (g *Gateway) SignUp(ctx context.Context, email, password string) (*model.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.ProviderTimeout)
	defer cancel()

	identity, err := g.provider.SignUpWithPassword(ctx, email, password)
	return identity, g.finish(MethodSignUp, err)
}

// SignInWithFederatedProvider はGoogleでサインインする。
// 毎回アカウント選択画面を表示させ、プロフィールとメールアドレスのスコープを要求する。
func (g *Gateway) SignInWithFederatedProvider(ctx context.Context) (*model.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.PopupTimeout+g.config.ProviderTimeout)
	defer cancel()

	identity, err := g.provider.SignInWithPopup(ctx, FederatedRequest{
		Provider: model.ProviderGoogle,
		Scopes:   DefaultFederatedScopes,
		Prompt:   "select_account",
	})
	return identity, g.finish(MethodFederated, err)
}

// SignOut はサインアウトし、プロバイダーが完了を返した後にログイン画面へ遷移する。
// 遷移の失敗はログに記録するのみで呼び出し元には返さない。
func (g *Gateway) SignOut(ctx context.Context) error {
	providerCtx, cancel := context.WithTimeout(ctx, g.config.ProviderTimeout)
	defer cancel()

	if err := g.finish(MethodSignOut, g.provider.SignOut(providerCtx)); err != nil {
		return err
	}

	if err := g.nav.Navigate(ctx, navigation.Target{Path: navigation.PathLogin}); err != nil {
		slog.Warn("failed to navigate after sign-out", slog.String("error", err.Error()))
	}
	return nil
}

// finish はエラーを正規化し、結果をメトリクスとログに記録する。
func (g *Gateway) finish(method string, err error) error {
	if err == nil {
		g.metrics.RecordAuthAttempt(method, "success")
		return nil
	}

	normalized := NormalizeError(err)
	kind := model.AuthErrorKindOf(normalized)
	g.metrics.RecordAuthAttempt(method, string(kind))
	slog.Warn("identity provider call failed",
		slog.String("method", method),
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()),
	)
	return normalized
}
