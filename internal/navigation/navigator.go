package navigation

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
)

// ErrNoNavigator はナビゲーション先のビューが存在しないことを示す。
var ErrNoNavigator = errors.New("navigation: no navigator bound to context")

// Navigator はビューの遷移を行う。
type Navigator interface {
	Navigate(ctx context.Context, target Target) error
}

type navigatorKey struct{}

// WithNavigator はnavをctxに結び付ける。
func WithNavigator(ctx context.Context, nav Navigator) context.Context {
	return context.WithValue(ctx, navigatorKey{}, nav)
}

// FromContext はctxに結び付けられたNavigatorを返す。
func FromContext(ctx context.Context) (Navigator, bool) {
	nav, ok := ctx.Value(navigatorKey{}).(Navigator)
	return nav, ok
}

// Dispatcher はctxに結び付けられたNavigatorへ遷移を委譲する。
// 見つからない場合はFallbackを使い、それもなければErrNoNavigatorを返す。
type Dispatcher struct {
	Fallback Navigator
}

// Navigate はNavigatorを実装する。
func (d Dispatcher) Navigate(ctx context.Context, target Target) error {
	if nav, ok := FromContext(ctx); ok {
		return nav.Navigate(ctx, target)
	}
	if d.Fallback != nil {
		return d.Fallback.Navigate(ctx, target)
	}
	return ErrNoNavigator
}

// HTTPNavigator は1つのHTTPリクエストに対してリダイレクトを書き込む。
// 2回目以降の遷移は無視される。
type HTTPNavigator struct {
	w    http.ResponseWriter
	r    *http.Request
	mu   sync.Mutex
	done bool
	to   Target
}

// NewHTTPNavigator はHTTPNavigatorを生成する。
func NewHTTPNavigator(w http.ResponseWriter, r *http.Request) *HTTPNavigator {
	return &HTTPNavigator{w: w, r: r}
}

// BindHTTP はリクエストのコンテキストにHTTPNavigatorを結び付けたリクエストを返す。
func BindHTTP(w http.ResponseWriter, r *http.Request) (*http.Request, *HTTPNavigator) {
	nav := NewHTTPNavigator(w, r)
	return r.WithContext(WithNavigator(r.Context(), nav)), nav
}

// Navigate は303リダイレクトを書き込む。
func (n *HTTPNavigator) Navigate(_ context.Context, target Target) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.done {
		slog.Warn("navigation ignored: response already redirected",
			slog.String("target", target.String()),
			slog.String("previous", n.to.String()),
		)
		return nil
	}
	n.done = true
	n.to = target
	http.Redirect(n.w, n.r, target.String(), http.StatusSeeOther)
	return nil
}

// Navigated はリダイレクトを書き込み済みであればtrueと遷移先を返す。
func (n *HTTPNavigator) Navigated() (Target, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.to, n.done
}

// Recorder は遷移を記録するだけのNavigator。
type Recorder struct {
	mu      sync.Mutex
	targets []Target
}

// Navigate はNavigatorを実装する。
func (r *Recorder) Navigate(_ context.Context, target Target) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = append(r.targets, target)
	return nil
}

// Targets は記録された遷移先のコピーを返す。
func (r *Recorder) Targets() []Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Target, len(r.targets))
	copy(out, r.targets)
	return out
}

// Last は最後に記録された遷移先を返す。
func (r *Recorder) Last() (Target, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.targets) == 0 {
		return Target{}, false
	}
	return r.targets[len(r.targets)-1], true
}
