package auth

import (
	"context"
	"errors"
	"net"

	"github.com/hitoshi/planner/internal/model"
)

// providerCodeKinds はプロバイダー固有コードから正規化した種別への対応表。
var providerCodeKinds = map[string]model.AuthErrorKind{
	CodeWrongPassword:         model.AuthInvalidCredentials,
	CodeInvalidCredential:     model.AuthInvalidCredentials,
	CodeInvalidEmail:          model.AuthInvalidCredentials,
	CodeUserDisabled:          model.AuthAccountDisabled,
	CodeUserNotFound:          model.AuthAccountNotFound,
	CodeEmailAlreadyInUse:     model.AuthEmailAlreadyRegistered,
	CodeWeakPassword:          model.AuthWeakCredential,
	CodeNetworkRequestFailed:  model.AuthNetworkUnavailable,
	CodeTooManyRequests:       model.AuthRateLimited,
	CodePopupClosedByUser:     model.AuthUserCancelled,
	CodeCancelledPopupRequest: model.AuthUserCancelled,
	CodePopupBlocked:          model.AuthPopupBlocked,
	CodeOperationNotSupported: model.AuthUnsupportedEnvironment,
}

// NormalizeError はプロバイダーのエラーを正規化した*model.AuthErrorに変換する。
// 対応表にないコードはAuthUnknownになり、元のコードとメッセージは保持される。
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	var authErr *model.AuthError
	if errors.As(err, &authErr) {
		return authErr
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		kind, ok := providerCodeKinds[provErr.Code]
		if !ok {
			kind = model.AuthUnknown
		}
		return &model.AuthError{Kind: kind, Code: provErr.Code, Message: provErr.Message, Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &model.AuthError{Kind: model.AuthNetworkUnavailable, Code: CodeNetworkRequestFailed, Message: "identity provider did not respond in time", Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &model.AuthError{Kind: model.AuthUserCancelled, Code: CodeCancelledPopupRequest, Message: "request was cancelled", Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &model.AuthError{Kind: model.AuthNetworkUnavailable, Code: CodeNetworkRequestFailed, Message: netErr.Error(), Err: err}
	}

	return &model.AuthError{Kind: model.AuthUnknown, Message: err.Error(), Err: err}
}
