package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/planner/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

var authStatus = map[model.AuthErrorKind]int{
	model.AuthInvalidCredentials:     http.StatusUnauthorized,
	model.AuthAccountDisabled:        http.StatusForbidden,
	model.AuthAccountNotFound:        http.StatusNotFound,
	model.AuthEmailAlreadyRegistered: http.StatusConflict,
	model.AuthWeakCredential:         http.StatusBadRequest,
	model.AuthNetworkUnavailable:     http.StatusServiceUnavailable,
	model.AuthRateLimited:            http.StatusTooManyRequests,
	model.AuthUserCancelled:          http.StatusBadRequest,
	model.AuthPopupBlocked:           http.StatusBadRequest,
	model.AuthUnsupportedEnvironment: http.StatusNotImplemented,
	model.AuthUnknown:                http.StatusInternalServerError,
}

var recordStatus = map[model.RecordErrorKind]int{
	model.RecordInvalid:          http.StatusBadRequest,
	model.RecordNotFound:         http.StatusNotFound,
	model.RecordPermissionDenied: http.StatusForbidden,
	model.RecordUnavailable:      http.StatusServiceUnavailable,
	model.RecordUnknown:          http.StatusInternalServerError,
}

// WriteError はerrの種別に応じたステータスと統一フォーマットでレスポンスを書き込む。
// AuthError・RecordError・APIError以外は500として扱う。
func WriteError(w http.ResponseWriter, err error) {
	var (
		authErr   *model.AuthError
		recordErr *model.RecordError
		apiErr    *model.APIError
	)
	switch {
	case errors.As(err, &authErr):
		status, ok := authStatus[authErr.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		WriteErrorResponse(w, status, authErr.APIError())
	case errors.As(err, &recordErr):
		status, ok := recordStatus[recordErr.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		if status == http.StatusInternalServerError {
			slog.Error("record operation failed", slog.String("error", err.Error()))
		}
		WriteErrorResponse(w, status, recordErr.APIError())
	case errors.As(err, &apiErr):
		WriteErrorResponse(w, http.StatusBadRequest, apiErr)
	default:
		slog.Error("unexpected error", slog.String("error", err.Error()))
		WriteInternalServerError(w)
	}
}
