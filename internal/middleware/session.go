// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/planner/internal/model"
	"github.com/hitoshi/planner/internal/session"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストに認証済みユーザーを格納するためのキー。
var identityContextKey = contextKey("identity")

// SessionReader はセッションストアの読み取り側。
// session.Storeが実装する。
type SessionReader interface {
	Current() session.Value
	Resolve(ctx context.Context) (session.Value, error)
}

// ErrNoIdentity はコンテキストに認証済みユーザーがないことを示す。
var ErrNoIdentity = errors.New("identity not found in context")

// NewSessionMiddleware はセッションストアの現在値を確定させ、
// 認証済みであればIdentityをリクエストコンテキストに注入するミドルウェアを返す。
// 未認証のリクエストもそのまま通す。拒否はRequireSessionが行う。
func NewSessionMiddleware(sessions SessionReader) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			value := sessions.Current()
			if !value.IsKnown() {
				resolved, err := sessions.Resolve(r.Context())
				if err != nil {
					slog.Warn("session not resolved for request",
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)
				}
				value = resolved
			}

			if identity, ok := value.Identity(); ok {
				r = r.WithContext(ContextWithIdentity(r.Context(), identity))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSession は認証済みユーザーがいないAPIリクエストに401を返すミドルウェア。
// NewSessionMiddlewareの後に配置する。
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := IdentityFromContext(r.Context()); err != nil {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IdentityFromContext はリクエストコンテキストから認証済みユーザーを取得する。
func IdentityFromContext(ctx context.Context) (*model.Identity, error) {
	identity, ok := ctx.Value(identityContextKey).(*model.Identity)
	if !ok || identity == nil {
		return nil, ErrNoIdentity
	}
	return identity, nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	identity, err := IdentityFromContext(ctx)
	if err != nil {
		return "", err
	}
	return identity.ID, nil
}

// ContextWithIdentity はコンテキストに認証済みユーザーを注入する。
func ContextWithIdentity(ctx context.Context, identity *model.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}
