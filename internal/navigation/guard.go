package navigation

import (
	"context"
	"log/slog"

	"github.com/hitoshi/planner/internal/metrics"
	"github.com/hitoshi/planner/internal/session"
)

// SessionResolver はUnknown以外のセッション値を待って返す。
type SessionResolver interface {
	Resolve(ctx context.Context) (session.Value, error)
}

// ガード判定のメトリクスラベル。
const (
	decisionAllow      = "allow"
	decisionRedirect   = "redirect"
	decisionFailClosed = "fail_closed"
	decisionCancelled  = "cancelled"
)

// Guard は保護されたビューの表示前に呼ばれ、ログイン状態を確認する。
type Guard struct {
	sessions SessionResolver
	nav      Navigator
	metrics  metrics.MetricsCollector
}

// NewGuard はGuardを生成する。
func NewGuard(sessions SessionResolver, nav Navigator, collector metrics.MetricsCollector) *Guard {
	return &Guard{sessions: sessions, nav: nav, metrics: metrics.OrNop(collector)}
}

// CanActivate はrequestedの表示を許可するかを返す。
// セッションが確定するまで待ち、認証済みなら許可する。
// 匿名または確定に失敗した場合はrequestedを戻り先にしてログインビューへ遷移し、拒否する。
// ctxがキャンセルされた場合は遷移せずに拒否する。
func (g *Guard) CanActivate(ctx context.Context, requested string) bool {
	value, err := g.sessions.Resolve(ctx)
	if ctx.Err() != nil {
		g.metrics.RecordGuardDecision(decisionCancelled)
		return false
	}

	if err == nil && value.IsAuthenticated() {
		g.metrics.RecordGuardDecision(decisionAllow)
		return true
	}

	decision := decisionRedirect
	if err != nil {
		decision = decisionFailClosed
		slog.Warn("session could not be resolved, denying protected view",
			slog.String("path", requested),
			slog.String("error", err.Error()),
		)
	}
	g.metrics.RecordGuardDecision(decision)

	if navErr := g.nav.Navigate(ctx, LoginTarget(requested)); navErr != nil {
		slog.Error("failed to redirect to login",
			slog.String("path", requested),
			slog.String("error", navErr.Error()),
		)
	}
	return false
}
