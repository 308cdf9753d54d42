package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/hitoshi/planner/internal/model"
	"github.com/hitoshi/planner/internal/repository"
)

// MinPasswordLength はパスワードの最小文字数。
const MinPasswordLength = 6

// LocalProviderConfig はLocalProviderの設定。
type LocalProviderConfig struct {
	SessionMaxAge       time.Duration
	SignInRatePerMinute int
	BcryptCost          int // 0の場合bcrypt.DefaultCost
}

// LocalProvider はリポジトリを背後に持つIDプロバイダー。
// プロセス内で1人の現在ユーザーを保持し、その変化をOnAuthStateChangedで通知する。
type LocalProvider struct {
	accounts    repository.AccountRepository
	credentials repository.CredentialRepository
	sessions    repository.SessionRepository
	tokens      TokenStore
	config      LocalProviderConfig
	logger      *slog.Logger

	oauth  OAuthProvider
	popups *PopupBroker

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	// notifyMuは状態更新と通知、登録時の初回通知を直列化する
	notifyMu sync.Mutex

	mu          sync.Mutex
	current     *model.Identity
	sessionID   string
	initialized bool
	listeners   map[int]func(*model.Identity)
	nextID      int

	startOnce sync.Once
	ready     chan struct{}
}

// NewLocalProvider はLocalProviderを生成する。loggerがnilの場合はslog.Default()を使う。
func NewLocalProvider(
	accounts repository.AccountRepository,
	credentials repository.CredentialRepository,
	sessions repository.SessionRepository,
	tokens TokenStore,
	config LocalProviderConfig,
	logger *slog.Logger,
) *LocalProvider {
	if config.SessionMaxAge <= 0 {
		config.SessionMaxAge = 30 * 24 * time.Hour
	}
	if config.SignInRatePerMinute <= 0 {
		config.SignInRatePerMinute = 10
	}
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalProvider{
		accounts:    accounts,
		credentials: credentials,
		sessions:    sessions,
		tokens:      tokens,
		config:      config,
		logger:      logger,
		limiters:    make(map[string]*rate.Limiter),
		listeners:   make(map[int]func(*model.Identity)),
		ready:       make(chan struct{}),
	}
}

// EnableFederation はGoogleサインインを有効にする。Startより前に呼ぶこと。
func (p *LocalProvider) EnableFederation(oauth OAuthProvider, popups *PopupBroker) {
	p.oauth = oauth
	p.popups = popups
}

// Start は保存済みセッションの復元を非同期に開始する。
// 復元が終わると最初の状態変化通知が送られる。2回目以降の呼び出しは何もしない。
func (p *LocalProvider) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		go func() {
			defer close(p.ready)
			identity, sessionID := p.restore(ctx)
			p.setState(identity, sessionID)
		}()
	})
}

// Ready は初期化完了時にcloseされるチャネルを返す。
func (p *LocalProvider) Ready() <-chan struct{} {
	return p.ready
}

// restore はTokenStoreのセッションIDから現在ユーザーを復元する。
// 復元できない場合は未サインインとして扱う。
func (p *LocalProvider) restore(ctx context.Context) (*model.Identity, string) {
	token, err := p.tokens.Load()
	if err != nil {
		p.logger.Warn("failed to load session token", slog.String("error", err.Error()))
		return nil, ""
	}
	if token == "" {
		return nil, ""
	}

	session, err := p.sessions.FindByID(ctx, token)
	if err != nil {
		p.logger.Warn("failed to restore session", slog.String("error", err.Error()))
		return nil, ""
	}
	if session == nil {
		p.clearToken()
		return nil, ""
	}

	account, err := p.accounts.FindByID(ctx, session.AccountID)
	if err != nil {
		p.logger.Warn("failed to restore account", slog.String("error", err.Error()))
		return nil, ""
	}
	if account == nil || account.Disabled {
		p.clearToken()
		return nil, ""
	}

	p.logger.Info("session restored", slog.String("user_id", account.ID))
	return model.NewIdentity(account, session), session.ID
}

// OnAuthStateChanged はfnを登録する。初期化済みであれば現在の状態で即座に呼ぶ。
func (p *LocalProvider) OnAuthStateChanged(fn func(*model.Identity)) func() {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	initialized, current := p.initialized, p.current
	p.mu.Unlock()

	if initialized {
		fn(current)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

// CurrentUser は現在のIdentityを返す。未サインインならnil。
func (p *LocalProvider) CurrentUser() *model.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// setState は現在の状態を置き換え、登録済みのリスナーに通知する。
func (p *LocalProvider) setState(identity *model.Identity, sessionID string) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	p.current = identity
	p.sessionID = sessionID
	p.initialized = true
	listeners := make([]func(*model.Identity), 0, len(p.listeners))
	for _, fn := range p.listeners {
		listeners = append(listeners, fn)
	}
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(identity)
	}
}

// SignInWithPassword はメールアドレスとパスワードでサインインする。
func (p *LocalProvider) SignInWithPassword(ctx context.Context, email, password string) (*model.Identity, error) {
	addr, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if !p.allow(addr) {
		return nil, providerError(CodeTooManyRequests, "too many sign-in attempts")
	}

	cred, err := p.credentials.FindByProviderAndSubject(ctx, model.ProviderPassword, addr)
	if err != nil {
		return nil, providerErrorf(CodeInternalError, err, "failed to find credential")
	}
	if cred == nil {
		return nil, providerError(CodeUserNotFound, "no user for this email")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.SecretHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, providerError(CodeWrongPassword, "password is invalid")
		}
		return nil, providerErrorf(CodeInternalError, err, "failed to verify password")
	}

	account, err := p.activeAccount(ctx, cred.AccountID)
	if err != nil {
		return nil, err
	}
	return p.establish(ctx, account, model.ProviderPassword)
}

// SignUpWithPassword はアカウントを作成してサインインする。
func (p *LocalProvider) SignUpWithPassword(ctx context.Context, email, password string) (*model.Identity, error) {
	addr, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len([]rune(password)) < MinPasswordLength {
		return nil, providerError(CodeWeakPassword, fmt.Sprintf("password should be at least %d characters", MinPasswordLength))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.config.BcryptCost)
	if err != nil {
		return nil, providerErrorf(CodeInternalError, err, "failed to hash password")
	}

	now := time.Now()
	account := &model.Account{
		ID:        uuid.New().String(),
		Email:     addr,
		CreatedAt: now,
		UpdatedAt: now,
	}
	cred := &model.Credential{
		ID:         uuid.New().String(),
		AccountID:  account.ID,
		Provider:   model.ProviderPassword,
		Subject:    addr,
		SecretHash: string(hash),
		CreatedAt:  now,
	}

	if err := p.accounts.CreateWithCredential(ctx, account, cred); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, providerError(CodeEmailAlreadyInUse, "email address is already in use")
		}
		return nil, providerErrorf(CodeInternalError, err, "failed to create account")
	}

	p.logger.Info("new user created",
		slog.String("user_id", account.ID),
		slog.String("provider", model.ProviderPassword),
	)
	return p.establish(ctx, account, model.ProviderPassword)
}

// SignInWithPopup は外部IdPでサインインする。
// 未登録ユーザーの場合はアカウントとcredentialを同時に作成する。
func (p *LocalProvider) SignInWithPopup(ctx context.Context, req FederatedRequest) (*model.Identity, error) {
	if p.oauth == nil || p.popups == nil {
		return nil, providerError(CodeOperationNotSupported, "federated sign-in is not configured")
	}
	if req.Provider != "" && req.Provider != model.ProviderGoogle {
		return nil, providerError(CodeOperationNotAllowed, "provider is not enabled: "+req.Provider)
	}

	state, err := generateState()
	if err != nil {
		return nil, providerErrorf(CodeInternalError, err, "failed to generate state")
	}

	authURL := p.oauth.GetLoginURL(state, AuthCodeOptions{Scopes: req.Scopes, Prompt: req.Prompt})
	code, err := p.popups.Open(ctx, authURL, state)
	if err != nil {
		return nil, err
	}

	info, err := p.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	account, err := p.findOrCreateFederated(ctx, info)
	if err != nil {
		return nil, err
	}
	if account.Disabled {
		return nil, providerError(CodeUserDisabled, "user account is disabled")
	}
	return p.establish(ctx, account, info.Provider)
}

// findOrCreateFederated は外部IdPのsubjectに紐づくアカウントを返す。無ければ作成する。
func (p *LocalProvider) findOrCreateFederated(ctx context.Context, info *OAuthUserInfo) (*model.Account, error) {
	cred, err := p.credentials.FindByProviderAndSubject(ctx, info.Provider, info.Subject)
	if err != nil {
		return nil, providerErrorf(CodeInternalError, err, "failed to find credential")
	}
	if cred != nil {
		account, err := p.accounts.FindByID(ctx, cred.AccountID)
		if err != nil {
			return nil, providerErrorf(CodeInternalError, err, "failed to find account")
		}
		if account == nil {
			return nil, providerError(CodeUserNotFound, "account for credential no longer exists")
		}
		p.logger.Info("existing user logged in",
			slog.String("user_id", account.ID),
			slog.String("provider", info.Provider),
		)
		return account, nil
	}

	now := time.Now()
	account := &model.Account{
		ID:        uuid.New().String(),
		Email:     info.Email,
		Name:      info.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	newCred := &model.Credential{
		ID:        uuid.New().String(),
		AccountID: account.ID,
		Provider:  info.Provider,
		Subject:   info.Subject,
		CreatedAt: now,
	}
	if err := p.accounts.CreateWithCredential(ctx, account, newCred); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, providerError(CodeInternalError, "credential was created concurrently, retry sign-in")
		}
		return nil, providerErrorf(CodeInternalError, err, "failed to create account")
	}

	p.logger.Info("new user created",
		slog.String("user_id", account.ID),
		slog.String("provider", info.Provider),
	)
	return account, nil
}

// SignOut は現在のセッションを破棄する。未サインインの場合は何もしない。
func (p *LocalProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	current, sessionID := p.current, p.sessionID
	p.mu.Unlock()

	if current == nil {
		return nil
	}

	if err := p.sessions.DeleteByID(ctx, sessionID); err != nil {
		return providerErrorf(CodeInternalError, err, "failed to delete session")
	}
	p.clearToken()
	p.setState(nil, "")

	p.logger.Info("user logged out", slog.String("user_id", current.ID))
	return nil
}

// activeAccount はサインイン可能なアカウントを返す。
func (p *LocalProvider) activeAccount(ctx context.Context, id string) (*model.Account, error) {
	account, err := p.accounts.FindByID(ctx, id)
	if err != nil {
		return nil, providerErrorf(CodeInternalError, err, "failed to find account")
	}
	if account == nil {
		return nil, providerError(CodeUserNotFound, "no user for this credential")
	}
	if account.Disabled {
		return nil, providerError(CodeUserDisabled, "user account is disabled")
	}
	return account, nil
}

// establish はセッションを発行して現在ユーザーを切り替える。
func (p *LocalProvider) establish(ctx context.Context, account *model.Account, provider string) (*model.Identity, error) {
	now := time.Now()
	session := &model.Session{
		ID:        uuid.New().String(),
		AccountID: account.ID,
		Provider:  provider,
		ExpiresAt: now.Add(p.config.SessionMaxAge),
		CreatedAt: now,
	}
	if err := p.sessions.Create(ctx, session); err != nil {
		return nil, providerErrorf(CodeInternalError, err, "failed to save session")
	}

	p.mu.Lock()
	previous := p.sessionID
	p.mu.Unlock()
	if previous != "" {
		if err := p.sessions.DeleteByID(ctx, previous); err != nil {
			p.logger.Warn("failed to delete previous session", slog.String("error", err.Error()))
		}
	}

	if err := p.tokens.Save(session.ID); err != nil {
		p.logger.Warn("failed to persist session token", slog.String("error", err.Error()))
	}

	identity := model.NewIdentity(account, session)
	p.setState(identity, session.ID)

	p.logger.Info("user signed in",
		slog.String("user_id", account.ID),
		slog.String("provider", provider),
	)
	return identity, nil
}

func (p *LocalProvider) clearToken() {
	if err := p.tokens.Clear(); err != nil {
		p.logger.Warn("failed to clear session token", slog.String("error", err.Error()))
	}
}

// allow はメールアドレスごとのトークンバケットでサインイン試行を制限する。
func (p *LocalProvider) allow(email string) bool {
	p.limiterMu.Lock()
	defer p.limiterMu.Unlock()

	limiter, ok := p.limiters[email]
	if !ok {
		n := p.config.SignInRatePerMinute
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
		p.limiters[email] = limiter
	}
	return limiter.Allow()
}

// normalizeEmail はメールアドレスを検証し小文字に揃える。
func normalizeEmail(email string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil || addr.Name != "" {
		return "", providerError(CodeInvalidEmail, "email address is badly formatted")
	}
	return strings.ToLower(addr.Address), nil
}

// generateState はCSRF対策用のstateパラメータを生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// compile-time interface check
var _ Provider = (*LocalProvider)(nil)
