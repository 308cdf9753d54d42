// Package app はコマンドの解析と依存関係のワイヤリングを行う。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/planner/internal/auth"
	"github.com/hitoshi/planner/internal/collection"
	"github.com/hitoshi/planner/internal/config"
	"github.com/hitoshi/planner/internal/database"
	"github.com/hitoshi/planner/internal/docstore"
	"github.com/hitoshi/planner/internal/handler"
	"github.com/hitoshi/planner/internal/logger"
	"github.com/hitoshi/planner/internal/metrics"
	"github.com/hitoshi/planner/internal/middleware"
	"github.com/hitoshi/planner/internal/navigation"
	"github.com/hitoshi/planner/internal/repository"
	"github.com/hitoshi/planner/internal/security"
	"github.com/hitoshi/planner/internal/session"
	"github.com/hitoshi/planner/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// sessionCleanupInterval は期限切れセッションを削除する間隔。
const sessionCleanupInterval = time.Hour

// pingerFunc は関数をhandler.Pingerとして扱う。
type pingerFunc func(ctx context.Context) error

func (f pingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

// runServe はビューホストを起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. DB接続
	db, err := database.Connect(ctx, cfg.DatabaseURL, 10*time.Second)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	healthChecks := map[string]handler.Pinger{"database": db}

	// 2. リポジトリの初期化
	accountRepo := repository.NewPostgresAccountRepo(db)
	credentialRepo := repository.NewPostgresCredentialRepo(db)
	var sessionRepo repository.SessionRepository = repository.NewPostgresSessionRepo(db)
	if cfg.SessionBackend == config.SessionBackendRedis {
		redisRepo, err := repository.NewRedisSessionRepo(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisRepo.Close()
		sessionRepo = redisRepo
		healthChecks["redis"] = pingerFunc(redisRepo.Ping)
		slog.Info("using redis session backend")
	} else {
		// Redisはキーの有効期限で消えるので、Postgresのときだけ掃除する
		go cleanup.NewSessionCleanupJob(db, slog.Default()).Start(ctx, sessionCleanupInterval)
	}

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	// 4. IDプロバイダーとセッションストア
	provider := auth.NewLocalProvider(
		accountRepo, credentialRepo, sessionRepo,
		auth.NewFileTokenStore(cfg.StateDir),
		auth.LocalProviderConfig{
			SessionMaxAge:       time.Duration(cfg.SessionMaxAge) * time.Second,
			SignInRatePerMinute: cfg.SignInRatePerMinute,
		},
		slog.Default(),
	)

	var callbacks handler.CallbackReceiver
	if cfg.FederationEnabled() {
		popups := auth.NewPopupBroker(cfg.PopupTimeout)
		provider.EnableFederation(auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		}), popups)
		callbacks = popups
	} else {
		slog.Info("google sign-in is disabled: client credentials are not configured")
	}

	sessions := session.NewStore(provider, session.StoreConfig{
		ResolveTimeout: cfg.SessionResolveTimeout,
		ResolveRetry:   cfg.SessionResolveRetry,
	}, collector, slog.Default())
	defer sessions.Close()
	provider.Start(ctx)

	// 5. ナビゲーションとIdentity Gateway
	nav := navigation.Dispatcher{}
	guard := navigation.NewGuard(sessions, nav, collector)
	bootstrap := navigation.NewBootstrap(sessions, nav)
	gateway := auth.NewGateway(provider, nav, auth.GatewayConfig{
		ProviderTimeout: cfg.ProviderTimeout,
		PopupTimeout:    cfg.PopupTimeout,
	}, collector)

	// 6. ドキュメントストアとコレクション
	var store docstore.Store
	switch cfg.DocstoreBackend {
	case config.DocstoreBackendMemory:
		memory := docstore.NewMemory()
		defer memory.Close()
		store = memory
		slog.Warn("using in-memory document store: records are lost on exit")
	default:
		pg, err := docstore.NewPostgres(db, cfg.DatabaseURL, slog.Default())
		if err != nil {
			return fmt.Errorf("failed to start document store: %w", err)
		}
		defer pg.Close()
		store = pg
	}

	format, err := collection.ParseWireFormat(cfg.TimestampWireFormat)
	if err != nil {
		return err
	}
	planner := collection.NewPlanner(store, format,
		security.NewContentSanitizer(), security.NewOutboundGuard(), collector)

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral))
	defer rateLimiter.Stop()

	router, err := handler.NewRouter(&handler.RouterDeps{
		Logger:      slog.Default(),
		Sessions:    sessions,
		RateLimiter: rateLimiter,
		CSRF:        middleware.CSRFConfig{CookieSecure: strings.HasPrefix(cfg.BaseURL, "https://")},
		Metrics:     collector,
		Gatherer:    registry,

		Bootstrap: bootstrap,
		Guard:     guard,

		Gateway:   gateway,
		Callbacks: callbacks,
		FlightTTL: cfg.PopupTimeout + cfg.ProviderTimeout,

		Tasks:     planner.Tasks,
		Goals:     planner.Goals,
		Notes:     planner.Notes,
		Dashboard: planner,

		HealthChecks: healthChecks,
	})
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("view host starting",
			slog.String("addr", server.Addr),
			slog.String("base_url", cfg.BaseURL),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down view host...")

	// ライブストリームを先に終わらせる
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("view host stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
