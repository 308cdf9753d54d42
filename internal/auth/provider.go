// Package auth はIDプロバイダーとその薄いラッパーであるIdentity Gatewayを提供する。
package auth

import (
	"context"
	"fmt"

	"github.com/hitoshi/planner/internal/model"
)

// プロバイダー固有のエラーコード。
const (
	CodeWrongPassword         = "auth/wrong-password"
	CodeInvalidCredential     = "auth/invalid-credential"
	CodeInvalidEmail          = "auth/invalid-email"
	CodeUserDisabled          = "auth/user-disabled"
	CodeUserNotFound          = "auth/user-not-found"
	CodeEmailAlreadyInUse     = "auth/email-already-in-use"
	CodeWeakPassword          = "auth/weak-password"
	CodeNetworkRequestFailed  = "auth/network-request-failed"
	CodeTooManyRequests       = "auth/too-many-requests"
	CodePopupClosedByUser     = "auth/popup-closed-by-user"
	CodeCancelledPopupRequest = "auth/cancelled-popup-request"
	CodePopupBlocked          = "auth/popup-blocked"
	CodeOperationNotSupported = "auth/operation-not-supported-in-this-environment"
	CodeOperationNotAllowed   = "auth/operation-not-allowed"
	CodeInternalError         = "auth/internal-error"
	CodeNoCurrentUser         = "auth/no-current-user"
)

// ProviderError はIDプロバイダーが返す固有コード付きのエラー。
type ProviderError struct {
	Code    string
	Message string
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap は元のエラーを返す。
func (e *ProviderError) Unwrap() error {
	return e.Err
}

func providerError(code, message string) *ProviderError {
	return &ProviderError{Code: code, Message: message}
}

func providerErrorf(code string, err error, format string, args ...any) *ProviderError {
	return &ProviderError{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// FederatedRequest は外部IdPによるサインインの要求内容。
type FederatedRequest struct {
	Provider string   // model.ProviderGoogle
	Scopes   []string // 要求するスコープ
	Prompt   string   // "select_account" でアカウント選択を毎回求める
}

// Provider はIDプロバイダーのインターフェース。
// サインイン・サインアウトの結果はOnAuthStateChangedの通知でも届く。
type Provider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*model.Identity, error)
	SignUpWithPassword(ctx context.Context, email, password string) (*model.Identity, error)
	SignInWithPopup(ctx context.Context, req FederatedRequest) (*model.Identity, error)
	SignOut(ctx context.Context) error

	// OnAuthStateChanged はfnを登録する。fnは初期化完了後に現在のIdentity（未サインインならnil）で呼ばれ、
	// 以後は状態が変わるたびに呼ばれる。返される関数で登録を解除する。
	OnAuthStateChanged(fn func(identity *model.Identity)) (unsubscribe func())
}
