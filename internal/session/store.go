package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/planner/internal/live"
	"github.com/hitoshi/planner/internal/metrics"
	"github.com/hitoshi/planner/internal/model"
)

// ErrResolveTimeout はResolveが上限時間内にUnknown以外の値を得られなかったことを示す。
var ErrResolveTimeout = errors.New("session: resolve timed out while state is unknown")

// ChangeSource はIDプロバイダーの認証状態変更通知を表す。
// OnAuthStateChangedは登録解除関数を返す。
type ChangeSource interface {
	OnAuthStateChanged(fn func(identity *model.Identity)) (unsubscribe func())
}

// StoreConfig はStoreの設定。
type StoreConfig struct {
	ResolveTimeout time.Duration // Resolveの上限時間
	ResolveRetry   time.Duration // Unknownのときの再確認間隔
}

// デフォルト値。
const (
	DefaultResolveTimeout = 5 * time.Second
	DefaultResolveRetry   = 100 * time.Millisecond
)

// Store は現在のセッション値を1つ保持する。
// 書き込み元はChangeSourceの通知ハンドラーだけで、読み手はいくつあってもよい。
type Store struct {
	cell      *live.Cell[Value]
	config    StoreConfig
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	stopOnce  sync.Once
	stopWatch func()
}

// NewStore はsourceを購読するStoreを生成する。初期値はUnknown。
func NewStore(source ChangeSource, config StoreConfig, collector metrics.MetricsCollector, logger *slog.Logger) *Store {
	if config.ResolveTimeout <= 0 {
		config.ResolveTimeout = DefaultResolveTimeout
	}
	if config.ResolveRetry <= 0 {
		config.ResolveRetry = DefaultResolveRetry
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		cell:    live.NewCell(Unknown()),
		config:  config,
		metrics: metrics.OrNop(collector),
		logger:  logger,
	}
	s.stopWatch = source.OnAuthStateChanged(s.receive)
	return s
}

// receive はプロバイダー通知を受け取り、現在値を置き換える。
func (s *Store) receive(identity *model.Identity) {
	next := FromIdentity(identity)
	prev := s.cell.Get()
	s.cell.Set(next)

	s.metrics.RecordSessionTransition(next.State().String())
	if prev.State() != next.State() || prev.UserID() != next.UserID() {
		s.logger.Info("session state changed",
			slog.String("from", prev.State().String()),
			slog.String("to", next.State().String()),
			slog.String("user_id", next.UserID()),
		)
	}
}

// Current は現在のセッション値を返す。
func (s *Store) Current() Value {
	return s.cell.Get()
}

// Subscribe はfnを登録する。fnは直ちに現在値で呼ばれ、以後は値が変わるたびに最新値で呼ばれる。
// 返されたSubscriptionは所有者が破棄するときに必ずCloseすること。
func (s *Store) Subscribe(fn func(Value)) *live.Subscription {
	return s.cell.Subscribe(fn)
}

// Resolve はUnknown以外の最初の値を返す。
// Unknownの間はResolveRetry間隔で再確認し、ResolveTimeoutを超えるとErrResolveTimeoutを返す。
func (s *Store) Resolve(ctx context.Context) (Value, error) {
	if v := s.cell.Get(); v.IsKnown() {
		return v, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.ResolveTimeout)
	defer cancel()

	ticker := time.NewTicker(s.config.ResolveRetry)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return Unknown(), ErrResolveTimeout
			}
			return Unknown(), fmt.Errorf("session: resolve: %w", ctx.Err())
		case <-ticker.C:
			if v := s.cell.Get(); v.IsKnown() {
				return v, nil
			}
		}
	}
}

// Close はプロバイダー通知の購読を解除し、全購読者を終了する。
func (s *Store) Close() {
	s.stopOnce.Do(func() {
		if s.stopWatch != nil {
			s.stopWatch()
		}
		s.cell.Close()
	})
}
