package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, record, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// NewUnauthenticatedError は未ログイン状態でのアクセスエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     "UNAUTHENTICATED",
		Message:  "ログインしていません。",
		Category: "auth",
		Action:   "ログインしてから再度お試しください。",
	}
}

// NewInvalidRequestError はリクエスト本文が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     "INVALID_REQUEST",
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// --- 認証エラー ---

// AuthErrorKind はIDプロバイダー固有のエラーを正規化した種別。
type AuthErrorKind string

const (
	AuthInvalidCredentials     AuthErrorKind = "invalid_credentials"
	AuthAccountDisabled        AuthErrorKind = "account_disabled"
	AuthAccountNotFound        AuthErrorKind = "account_not_found"
	AuthEmailAlreadyRegistered AuthErrorKind = "email_already_registered"
	AuthWeakCredential         AuthErrorKind = "weak_credential"
	AuthNetworkUnavailable     AuthErrorKind = "network_unavailable"
	AuthRateLimited            AuthErrorKind = "rate_limited"
	AuthUserCancelled          AuthErrorKind = "user_cancelled"
	AuthPopupBlocked           AuthErrorKind = "popup_blocked"
	AuthUnsupportedEnvironment AuthErrorKind = "unsupported_environment"
	AuthUnknown                AuthErrorKind = "unknown"
)

// AuthError は正規化済みの認証エラー。
// Codeにはプロバイダー固有のコード、Messageには元のメッセージを診断用に保持する。
type AuthError struct {
	Kind    AuthErrorKind
	Code    string
	Message string
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *AuthError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("auth: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("auth: %s (%s): %s", e.Kind, e.Code, e.Message)
}

// Unwrap は元のエラーを返す。
func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is は種別が一致する場合にtrueを返す。errors.Is(err, ErrInvalidCredentials)のように使う。
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// 種別の比較に使うセンチネル。
var (
	ErrInvalidCredentials     = &AuthError{Kind: AuthInvalidCredentials}
	ErrAccountDisabled        = &AuthError{Kind: AuthAccountDisabled}
	ErrAccountNotFound        = &AuthError{Kind: AuthAccountNotFound}
	ErrEmailAlreadyRegistered = &AuthError{Kind: AuthEmailAlreadyRegistered}
	ErrWeakCredential         = &AuthError{Kind: AuthWeakCredential}
	ErrNetworkUnavailable     = &AuthError{Kind: AuthNetworkUnavailable}
	ErrRateLimited            = &AuthError{Kind: AuthRateLimited}
	ErrUserCancelled          = &AuthError{Kind: AuthUserCancelled}
	ErrPopupBlocked           = &AuthError{Kind: AuthPopupBlocked}
	ErrUnsupportedEnvironment = &AuthError{Kind: AuthUnsupportedEnvironment}
	ErrAuthUnknown            = &AuthError{Kind: AuthUnknown}
)

// AuthErrorKindOf はerrに含まれるAuthErrorの種別を返す。AuthErrorでなければAuthUnknown。
func AuthErrorKindOf(err error) AuthErrorKind {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return AuthUnknown
}

var authAPIErrors = map[AuthErrorKind]APIError{
	AuthInvalidCredentials:     {Code: "INVALID_CREDENTIALS", Message: "メールアドレスまたはパスワードが正しくありません。", Action: "入力内容を確認してください。"},
	AuthAccountDisabled:        {Code: "ACCOUNT_DISABLED", Message: "このアカウントは無効化されています。", Action: "管理者に問い合わせてください。"},
	AuthAccountNotFound:        {Code: "ACCOUNT_NOT_FOUND", Message: "アカウントが見つかりません。", Action: "メールアドレスを確認するか、新規登録してください。"},
	AuthEmailAlreadyRegistered: {Code: "EMAIL_ALREADY_REGISTERED", Message: "このメールアドレスは既に登録されています。", Action: "ログインしてください。"},
	AuthWeakCredential:         {Code: "WEAK_CREDENTIAL", Message: "パスワードが弱すぎます。", Action: "6文字以上のパスワードを指定してください。"},
	AuthNetworkUnavailable:     {Code: "NETWORK_UNAVAILABLE", Message: "認証サービスに接続できません。", Action: "ネットワーク接続を確認してください。"},
	AuthRateLimited:            {Code: "RATE_LIMITED", Message: "試行回数が多すぎます。", Action: "しばらく待ってから再度お試しください。"},
	AuthUserCancelled:          {Code: "USER_CANCELLED", Message: "サインインがキャンセルされました。", Action: "もう一度サインインしてください。"},
	AuthPopupBlocked:           {Code: "POPUP_BLOCKED", Message: "サインイン画面を開けませんでした。", Action: "ポップアップを許可してください。"},
	AuthUnsupportedEnvironment: {Code: "UNSUPPORTED_ENVIRONMENT", Message: "この環境ではこのサインイン方法を利用できません。", Action: "メールアドレスとパスワードでサインインしてください。"},
	AuthUnknown:                {Code: "AUTH_FAILED", Message: "認証に失敗しました。", Action: "しばらく待ってから再度お試しください。"},
}

// APIError はAuthErrorをAPI応答用のエラーに変換する。
func (e *AuthError) APIError() *APIError {
	apiErr, ok := authAPIErrors[e.Kind]
	if !ok {
		apiErr = authAPIErrors[AuthUnknown]
	}
	apiErr.Category = "auth"
	return &apiErr
}

// --- レコード操作エラー ---

// RecordErrorKind はコレクション操作の失敗を正規化した種別。
type RecordErrorKind string

const (
	RecordPermissionDenied RecordErrorKind = "permission_denied"
	RecordUnavailable      RecordErrorKind = "unavailable"
	RecordInvalid          RecordErrorKind = "invalid_record"
	RecordNotFound         RecordErrorKind = "not_found"
	RecordUnknown          RecordErrorKind = "unknown"
)

// RecordError はコレクション同期層の書き込み・購読エラー。
type RecordError struct {
	Kind       RecordErrorKind
	Op         string
	Collection string
	ID         string
	Err        error
}

// Error はerrorインターフェースを実装する。
func (e *RecordError) Error() string {
	target := e.Collection
	if e.ID != "" {
		target += "/" + e.ID
	}
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %s", e.Op, target, e.Kind)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Op, target, e.Kind, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *RecordError) Unwrap() error {
	return e.Err
}

// Is は種別が一致する場合にtrueを返す。
func (e *RecordError) Is(target error) bool {
	t, ok := target.(*RecordError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// 種別の比較に使うセンチネル。
var (
	ErrRecordPermissionDenied = &RecordError{Kind: RecordPermissionDenied}
	ErrRecordUnavailable      = &RecordError{Kind: RecordUnavailable}
	ErrRecordInvalid          = &RecordError{Kind: RecordInvalid}
	ErrRecordNotFound         = &RecordError{Kind: RecordNotFound}
)

// APIError はRecordErrorをAPI応答用のエラーに変換する。
func (e *RecordError) APIError() *APIError {
	switch e.Kind {
	case RecordInvalid:
		reason := "invalid record"
		if e.Err != nil {
			reason = e.Err.Error()
		}
		return &APIError{
			Code:     "INVALID_RECORD",
			Message:  fmt.Sprintf("保存できない内容です: %s", reason),
			Category: "validation",
			Action:   "入力内容を確認してください。",
		}
	case RecordNotFound:
		return &APIError{
			Code:     "RECORD_NOT_FOUND",
			Message:  fmt.Sprintf("指定されたデータが見つかりません: %s", e.ID),
			Category: "record",
			Action:   "一覧を再読み込みしてください。",
		}
	case RecordPermissionDenied:
		return &APIError{
			Code:     "PERMISSION_DENIED",
			Message:  "このデータを変更する権限がありません。",
			Category: "record",
			Action:   "ログインし直してください。",
		}
	case RecordUnavailable:
		return &APIError{
			Code:     "STORE_UNAVAILABLE",
			Message:  "データストアに接続できません。",
			Category: "system",
			Action:   "しばらく待ってから再度お試しください。",
		}
	default:
		return &APIError{
			Code:     "RECORD_WRITE_FAILED",
			Message:  "データの保存に失敗しました。",
			Category: "system",
			Action:   "しばらく待ってから再度お試しください。",
		}
	}
}
