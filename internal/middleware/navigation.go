package middleware

import (
	"net/http"

	"github.com/hitoshi/planner/internal/navigation"
)

// NewBootstrapMiddleware はプロセス起動後の最初のビュー要求を起動シーケンスに通すミドルウェアを返す。
// 起動シーケンスがリダイレクトした場合はそのリクエストの処理を終える。
func NewBootstrapMiddleware(bootstrap *navigation.Bootstrap) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bound, nav := navigation.BindHTTP(w, r)
			bootstrap.Run(bound.Context(), navigation.RequestedURL(r.URL))
			if _, redirected := nav.Navigated(); redirected {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewGuardMiddleware は保護されたビューの前にルートガードを実行するミドルウェアを返す。
// 拒否された場合、ガードがログインビューへのリダイレクトを書き込む。
func NewGuardMiddleware(guard *navigation.Guard) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bound, nav := navigation.BindHTTP(w, r)
			if guard.CanActivate(bound.Context(), navigation.RequestedURL(r.URL)) {
				next.ServeHTTP(w, r)
				return
			}
			if _, redirected := nav.Navigated(); !redirected {
				// クライアントが切断済みの場合など、遷移先が書き込まれていない
				w.WriteHeader(http.StatusServiceUnavailable)
			}
		})
	}
}
