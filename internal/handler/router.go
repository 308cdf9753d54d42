package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/planner/internal/collection"
	"github.com/hitoshi/planner/internal/metrics"
	"github.com/hitoshi/planner/internal/middleware"
	"github.com/hitoshi/planner/internal/model"
	"github.com/hitoshi/planner/internal/navigation"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger      *slog.Logger
	Sessions    middleware.SessionReader
	RateLimiter *middleware.RateLimiter
	CSRF        middleware.CSRFConfig
	Metrics     metrics.MetricsCollector
	Gatherer    prometheus.Gatherer

	// ナビゲーション
	Bootstrap *navigation.Bootstrap
	Guard     *navigation.Guard

	// 認証
	Gateway   AuthGateway
	Callbacks CallbackReceiver
	// FlightTTL はフェデレーションサインインのコールバックを待つ期間。
	FlightTTL time.Duration

	// コレクション
	Tasks     RecordCollection[model.Task, collection.TaskPatch]
	Goals     RecordCollection[model.Goal, collection.GoalPatch]
	Notes     RecordCollection[model.Note, collection.NotePatch]
	Dashboard DashboardSource

	// ヘルスチェック
	HealthChecks map[string]Pinger
}

// NewRouter はビュー、認証API、コレクションAPIのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → Session → RateLimit → CSRF
//
// ビューは起動シーケンスを通り、保護ビューはさらにルートガードを通る。
// /api/* は認証済みユーザーのみ。/health と /metrics はチェーンの外に置く。
func NewRouter(deps *RouterDeps) (http.Handler, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	views, err := NewViewHandler(deps.Sessions, deps.Dashboard)
	if err != nil {
		return nil, err
	}
	authHandler := NewAuthHandler(deps.Gateway, deps.Callbacks, deps.Sessions, deps.FlightTTL)
	dashboardHandler := NewDashboardHandler(deps.Dashboard)
	tasks := newRecordHandler(deps.Tasks, taskBinding)
	goals := newRecordHandler(deps.Goals, goalBinding)
	notes := newRecordHandler(deps.Notes, noteBinding)

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())

	r.Get("/health", NewHealthHandler(deps.HealthChecks).ServeHTTP)
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewLoggingMiddleware(logger, deps.Sessions, deps.Metrics))
		r.Use(middleware.NewSessionMiddleware(deps.Sessions))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		// --- ビュー ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewBootstrapMiddleware(deps.Bootstrap))

			r.Get(navigation.PathRoot, views.Root)
			r.Get(navigation.PathLogin, views.Login)
			r.Get(navigation.PathRegister, views.Register)

			r.Group(func(r chi.Router) {
				r.Use(middleware.NewGuardMiddleware(deps.Guard))
				r.Get(navigation.PathDashboard, views.Dashboard)
				r.Get(navigation.PathTasks, views.Tasks)
				r.Get(navigation.PathGoals, views.Goals)
				r.Get(navigation.PathNotes, views.Notes)
			})
		})

		// --- 認証 ---
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", authHandler.Login)
			r.Post("/register", authHandler.Register)
			r.Get("/google/login", authHandler.GoogleLogin)
			r.Get("/google/callback", authHandler.GoogleCallback)
			r.Post("/logout", authHandler.Logout)
			r.Get("/session", authHandler.Session)
			r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))
		})

		// --- コレクションAPI ---
		r.Route("/api", func(r chi.Router) {
			r.Use(middleware.RequireSession)
			r.Get("/dashboard", dashboardHandler.Get)
			r.Route("/"+collection.Tasks, tasks.Routes)
			r.Route("/"+collection.Goals, goals.Routes)
			r.Route("/"+collection.Notes, notes.Routes)
		})

		r.NotFound(views.NotFound)
	})

	return r, nil
}
