package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/hitoshi/planner/internal/auth"
	"github.com/hitoshi/planner/internal/middleware"
	"github.com/hitoshi/planner/internal/model"
	"github.com/hitoshi/planner/internal/navigation"
	"github.com/hitoshi/planner/internal/session"
)

// AuthGateway は認証ハンドラーが必要とするIdentity Gatewayの操作。
// auth.Gatewayが実装する。
type AuthGateway interface {
	SignInWithPassword(ctx context.Context, email, password string) (*model.Identity, error)
	SignUp(ctx context.Context, email, password string) (*model.Identity, error)
	SignInWithFederatedProvider(ctx context.Context) (*model.Identity, error)
	SignOut(ctx context.Context) error
}

// CallbackReceiver はOAuthコールバックを待機中のサインインへ渡す。
// auth.PopupBrokerが実装する。
type CallbackReceiver interface {
	Deliver(state string, query url.Values) bool
}

// SessionViewer はセッションの現在値を返す。
type SessionViewer interface {
	Current() session.Value
}

// federatedResult はフェデレーションサインインの結果。
type federatedResult struct {
	identity *model.Identity
	err      error
}

// federatedFlight は認可URLへ送り出したサインイン。
type federatedFlight struct {
	result    chan federatedResult
	returnURL string
	expires   time.Time
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	gateway   AuthGateway
	callbacks CallbackReceiver
	sessions  SessionViewer
	// flightTTL はコールバックを待つサインインを保持する期間。
	flightTTL time.Duration

	mu      sync.Mutex
	flights map[string]*federatedFlight
}

// NewAuthHandler はAuthHandlerを生成する。callbacksがnilならフェデレーションサインインは無効。
func NewAuthHandler(gateway AuthGateway, callbacks CallbackReceiver, sessions SessionViewer, flightTTL time.Duration) *AuthHandler {
	if flightTTL <= 0 {
		flightTTL = 3 * time.Minute
	}
	return &AuthHandler{
		gateway:   gateway,
		callbacks: callbacks,
		sessions:  sessions,
		flightTTL: flightTTL,
		flights:   make(map[string]*federatedFlight),
	}
}

// credentialsRequest はパスワードでのサインイン・新規登録のリクエスト。
type credentialsRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	ReturnURL string `json:"returnUrl"`
}

// identityResponse は認証済みユーザーのレスポンス表現。
type identityResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	ProviderID  string `json:"providerId"`
}

func newIdentityResponse(identity *model.Identity) *identityResponse {
	if identity == nil {
		return nil
	}
	return &identityResponse{
		ID:          identity.ID,
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
		ProviderID:  identity.ProviderID,
	}
}

// signInResponse はサインイン成功時のレスポンス。Redirectはビューが次に遷移する先。
type signInResponse struct {
	User     *identityResponse `json:"user"`
	Redirect string            `json:"redirect"`
}

// Login はメールアドレスとパスワードでサインインする。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	h.signIn(w, r, http.StatusOK, h.gateway.SignInWithPassword)
}

// Register はアカウントを作成してサインインする。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	h.signIn(w, r, http.StatusCreated, h.gateway.SignUp)
}

func (h *AuthHandler) signIn(
	w http.ResponseWriter,
	r *http.Request,
	status int,
	call func(ctx context.Context, email, password string) (*model.Identity, error),
) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	identity, err := call(r.Context(), req.Email, req.Password)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, status, signInResponse{
		User:     newIdentityResponse(identity),
		Redirect: navigation.ReturnTarget(req.ReturnURL).String(),
	})
}

// GoogleLogin はGoogleでのサインインを開始し、認可URLへリダイレクトする。
// サインインはリクエストより長く続くため、リクエストのキャンセルから切り離して実行する。
// GET /auth/google/login
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	if h.callbacks == nil {
		redirectWithAuthError(w, r, model.ErrUnsupportedEnvironment)
		return
	}

	launched := make(chan string, 1)
	launch := func(authURL string) error {
		launched <- authURL
		return nil
	}
	ctx := auth.WithPopupLauncher(context.WithoutCancel(r.Context()), launch)

	result := make(chan federatedResult, 1)
	go func() {
		identity, err := h.gateway.SignInWithFederatedProvider(ctx)
		result <- federatedResult{identity: identity, err: err}
	}()

	select {
	case authURL := <-launched:
		state, err := stateOf(authURL)
		if err != nil {
			slog.Error("authorization URL has no state", slog.String("error", err.Error()))
			middleware.WriteInternalServerError(w)
			return
		}
		h.hold(state, &federatedFlight{
			result:    result,
			returnURL: r.URL.Query().Get(navigation.ReturnURLParam),
			expires:   time.Now().Add(h.flightTTL),
		})
		http.Redirect(w, r, authURL, http.StatusFound)
	case res := <-result:
		// 認可URLを出す前に失敗した
		redirectWithAuthError(w, r, res.err)
	case <-r.Context().Done():
	}
}

// GoogleCallback はOAuthコールバックを受け取り、サインインの完了を待って遷移する。
// GET /auth/google/callback
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	if h.callbacks == nil {
		redirectWithAuthError(w, r, model.ErrUnsupportedEnvironment)
		return
	}

	query := r.URL.Query()
	state := query.Get("state")
	flight := h.take(state)
	if flight == nil || !h.callbacks.Deliver(state, query) {
		slog.Warn("OAuth callback for unknown state")
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("unknown or expired sign-in state"))
		return
	}

	select {
	case res := <-flight.result:
		if res.err != nil {
			redirectWithAuthError(w, r, res.err)
			return
		}
		http.Redirect(w, r, navigation.ReturnTarget(flight.returnURL).String(), http.StatusSeeOther)
	case <-r.Context().Done():
	}
}

// Logout はサインアウトする。成功するとゲートウェイの遷移によりログインビューへ303でリダイレクトされる。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	bound, nav := navigation.BindHTTP(w, r)
	if err := h.gateway.SignOut(bound.Context()); err != nil {
		middleware.WriteError(w, err)
		return
	}
	if _, redirected := nav.Navigated(); !redirected {
		w.WriteHeader(http.StatusNoContent)
	}
}

// sessionResponse はセッションの現在値。
type sessionResponse struct {
	State string            `json:"state"`
	User  *identityResponse `json:"user"`
}

// Session はセッションの現在値を返す。
// GET /auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	value := h.sessions.Current()
	identity, _ := value.Identity()
	writeJSON(w, http.StatusOK, sessionResponse{
		State: value.State().String(),
		User:  newIdentityResponse(identity),
	})
}

// hold は期限切れのサインインを掃除してからflightを登録する。
func (h *AuthHandler) hold(state string, flight *federatedFlight) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	for s, f := range h.flights {
		if now.After(f.expires) {
			delete(h.flights, s)
		}
	}
	h.flights[state] = flight
}

func (h *AuthHandler) take(state string) *federatedFlight {
	if state == "" {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	flight, ok := h.flights[state]
	if !ok {
		return nil
	}
	delete(h.flights, state)
	if time.Now().After(flight.expires) {
		return nil
	}
	return flight
}

// Pending は認可URLへ送り出してコールバックを待っているサインインの数を返す。
func (h *AuthHandler) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.flights)
}

func stateOf(authURL string) (string, error) {
	u, err := url.Parse(authURL)
	if err != nil {
		return "", err
	}
	state := u.Query().Get("state")
	if state == "" {
		return "", model.NewInvalidRequestError("missing state")
	}
	return state, nil
}

// redirectWithAuthError はエラー種別を付けてログインビューへ戻す。
func redirectWithAuthError(w http.ResponseWriter, r *http.Request, err error) {
	kind := model.AuthErrorKindOf(err)
	q := url.Values{}
	q.Set("error", string(kind))
	http.Redirect(w, r, navigation.PathLogin+"?"+q.Encode(), http.StatusSeeOther)
}
