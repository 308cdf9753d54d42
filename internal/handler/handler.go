// Package handler はローカルのビューホストのHTTPハンドラーを提供する。
// ビュー（HTML）、認証API、コレクションAPIとそのライブストリームを扱う。
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/hitoshi/planner/internal/middleware"
	"github.com/hitoshi/planner/internal/model"
)

// maxBodyBytes はリクエスト本文の上限。音声のdata URLを含むノートを受け付けられる大きさにする。
const maxBodyBytes = 8 << 20

// decodeJSON はリクエスト本文をdstに読み込む。未知のフィールドは拒否する。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return model.NewInvalidRequestError("empty body")
		}
		return model.NewInvalidRequestError(err.Error())
	}
	return nil
}

// writeJSON はvをJSONで書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ownerID は認証済みユーザーのIDを返す。RequireSessionの後でのみ呼ぶ。
func ownerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return "", false
	}
	return userID, true
}
