package navigation

import (
	"context"
	"log/slog"
	"net/url"
	"sync"

	"github.com/hitoshi/planner/internal/session"
)

// Decision は起動時のリダイレクト判定。Redirectがfalseなら何もしない。
type Decision struct {
	Redirect bool
	Target   Target
}

// Decide は要求されたURLとセッションの確定結果から起動時の遷移を決める。
//
//	保護ビュー        + 匿名     → ログイン（戻り先付き）
//	ログイン・新規登録 + 認証済み → ダッシュボード
//	ルート            + 認証済み → ダッシュボード
//	ルート            + 匿名     → ログイン
//	それ以外                     → 何もしない
//
// セッションの確定に失敗した場合は保護ビューに限り匿名として扱う。
func Decide(requested string, value session.Value, err error) Decision {
	p := requestedPath(requested)

	if err != nil || !value.IsKnown() {
		if IsProtected(p) {
			return Decision{Redirect: true, Target: LoginTarget(requested)}
		}
		return Decision{}
	}

	switch {
	case IsProtected(p) && !value.IsAuthenticated():
		return Decision{Redirect: true, Target: LoginTarget(requested)}
	case IsAuthEntry(p) && value.IsAuthenticated():
		return Decision{Redirect: true, Target: Target{Path: PathDashboard}}
	case IsRoot(p) && value.IsAuthenticated():
		return Decision{Redirect: true, Target: Target{Path: PathDashboard}}
	case IsRoot(p):
		return Decision{Redirect: true, Target: Target{Path: PathLogin}}
	default:
		return Decision{}
	}
}

func requestedPath(requested string) string {
	u, err := url.Parse(requested)
	if err != nil {
		return Clean(requested)
	}
	return Clean(u.Path)
}

// Bootstrap はプロセス起動後の最初のビュー表示の前に1度だけ実行される。
type Bootstrap struct {
	sessions SessionResolver
	nav      Navigator
	once     sync.Once
}

// NewBootstrap はBootstrapを生成する。
func NewBootstrap(sessions SessionResolver, nav Navigator) *Bootstrap {
	return &Bootstrap{sessions: sessions, nav: nav}
}

// Run はセッションを確定させてrequestedに対する遷移を1度だけ行う。
// 2回目以降の呼び出しは何もせず、ranにfalseを返す。
func (b *Bootstrap) Run(ctx context.Context, requested string) (decision Decision, ran bool) {
	b.once.Do(func() {
		ran = true
		value, err := b.sessions.Resolve(ctx)
		if err != nil {
			slog.Warn("session could not be resolved at startup",
				slog.String("path", requested),
				slog.String("error", err.Error()),
			)
		}
		decision = Decide(requested, value, err)
		if !decision.Redirect {
			return
		}

		slog.Info("startup redirect",
			slog.String("from", requested),
			slog.String("to", decision.Target.String()),
		)
		if navErr := b.nav.Navigate(ctx, decision.Target); navErr != nil {
			slog.Error("failed to apply startup redirect",
				slog.String("to", decision.Target.String()),
				slog.String("error", navErr.Error()),
			)
		}
	})
	return decision, ran
}
