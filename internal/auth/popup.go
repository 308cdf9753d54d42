package auth

import (
	"context"
	"net/url"
	"sync"
	"time"
)

// PopupLauncher は認可URLを利用者に提示する。
// HTTPでは認可URLへのリダイレクトとして実装される。
type PopupLauncher func(authURL string) error

type popupLauncherKey struct{}

// WithPopupLauncher はctxにPopupLauncherを紐付ける。
func WithPopupLauncher(ctx context.Context, launch PopupLauncher) context.Context {
	return context.WithValue(ctx, popupLauncherKey{}, launch)
}

func popupLauncherFrom(ctx context.Context) PopupLauncher {
	launch, _ := ctx.Value(popupLauncherKey{}).(PopupLauncher)
	return launch
}

// PopupBroker は認可URLの提示からOAuthコールバック到着までを仲介する。
// 待機中のフローはstateパラメータで識別する。
type PopupBroker struct {
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan url.Values
}

// NewPopupBroker はPopupBrokerを生成する。timeoutはコールバックを待つ上限。
func NewPopupBroker(timeout time.Duration) *PopupBroker {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &PopupBroker{
		timeout: timeout,
		pending: make(map[string]chan url.Values),
	}
}

// Open はctxのPopupLauncherでauthURLを提示し、stateに対応するコールバックを待って認可コードを返す。
func (b *PopupBroker) Open(ctx context.Context, authURL, state string) (string, error) {
	launch := popupLauncherFrom(ctx)
	if launch == nil {
		return "", providerError(CodePopupBlocked, "no popup launcher is available")
	}

	ch := make(chan url.Values, 1)
	b.mu.Lock()
	b.pending[state] = ch
	b.mu.Unlock()
	defer b.forget(state)

	if err := launch(authURL); err != nil {
		return "", providerErrorf(CodePopupBlocked, err, "failed to open sign-in window")
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case query := <-ch:
		return codeFromCallback(query)
	case <-timer.C:
		return "", providerError(CodePopupClosedByUser, "sign-in window was not completed in time")
	case <-ctx.Done():
		return "", providerErrorf(CodeCancelledPopupRequest, ctx.Err(), "sign-in was cancelled")
	}
}

// Deliver はOAuthコールバックのクエリを待機中のフローに渡す。
// stateに対応するフローが無ければfalseを返す。
func (b *PopupBroker) Deliver(state string, query url.Values) bool {
	b.mu.Lock()
	ch, ok := b.pending[state]
	delete(b.pending, state)
	b.mu.Unlock()
	if !ok {
		return false
	}
	ch <- query
	return true
}

// Pending は待機中のフロー数を返す。
func (b *PopupBroker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *PopupBroker) forget(state string) {
	b.mu.Lock()
	delete(b.pending, state)
	b.mu.Unlock()
}

func codeFromCallback(query url.Values) (string, error) {
	if errCode := query.Get("error"); errCode != "" {
		if errCode == "access_denied" {
			return "", providerError(CodePopupClosedByUser, "user denied access")
		}
		return "", providerError(CodeInternalError, "authorization failed: "+errCode)
	}
	code := query.Get("code")
	if code == "" {
		return "", providerError(CodeInternalError, "callback has no authorization code")
	}
	return code, nil
}
