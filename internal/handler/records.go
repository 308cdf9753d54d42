package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/planner/internal/live"
	"github.com/hitoshi/planner/internal/middleware"
	"github.com/hitoshi/planner/internal/model"
)

// RecordCollection はコレクションAPIが必要とする操作。
// collection.Collectionが実装する。
type RecordCollection[T any, P any] interface {
	Name() string
	Observe(ctx context.Context, ownerID string, onChange func([]T), onError func(error)) (*live.Subscription, error)
	First(ctx context.Context, ownerID string) ([]T, error)
	Create(ctx context.Context, record T) (string, error)
	Update(ctx context.Context, id string, patch P) error
	Delete(ctx context.Context, id string) error
}

// binding はレコード型ごとのリクエスト・レスポンスの変換。
type binding[T any, P any] struct {
	// create はリクエスト本文から新規レコードを作る。
	create func(w http.ResponseWriter, r *http.Request, owner string) (T, error)
	// patch はリクエスト本文から部分更新を作る。
	patch func(w http.ResponseWriter, r *http.Request) (P, error)
	id    func(T) string
	view  func(T) any
	sort  func([]T)
}

// streamKeepAlive はストリームのキープアライブ間隔。
const streamKeepAlive = 25 * time.Second

// RecordHandler は1つのコレクションのAPIハンドラー。
type RecordHandler[T any, P any] struct {
	records RecordCollection[T, P]
	bind    binding[T, P]
}

func newRecordHandler[T any, P any](records RecordCollection[T, P], bind binding[T, P]) *RecordHandler[T, P] {
	return &RecordHandler[T, P]{records: records, bind: bind}
}

// Routes はコレクションAPIのルートを登録する。
func (h *RecordHandler[T, P]) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/stream", h.Stream)
	r.Patch("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
}

// List はユーザーのレコードを並べ替えて返す。
// GET /api/{collection}
func (h *RecordHandler[T, P]) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	records, err := h.records.First(r.Context(), owner)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.views(records))
}

// Create はレコードを追加する。
// POST /api/{collection}
func (h *RecordHandler[T, P]) Create(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	record, err := h.bind.create(w, r, owner)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	id, err := h.records.Create(r.Context(), record)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// Update はレコードの指定フィールドを更新する。
// PATCH /api/{collection}/{id}
func (h *RecordHandler[T, P]) Update(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	patch, err := h.bind.patch(w, r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	owned, err := h.owns(r.Context(), owner, id)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if !owned {
		middleware.WriteError(w, &model.RecordError{Kind: model.RecordNotFound, Op: "update", Collection: h.records.Name(), ID: id})
		return
	}

	if err := h.records.Update(r.Context(), id, patch); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete はレコードを削除する。自分のレコードでないIDは何もせず成功とする。
// DELETE /api/{collection}/{id}
func (h *RecordHandler[T, P]) Delete(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	owned, err := h.owns(r.Context(), owner, id)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if owned {
		if err := h.records.Delete(r.Context(), id); err != nil {
			middleware.WriteError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stream はユーザーのレコード集合をServer-Sent Eventsで送り続ける。
// 集合が変わるたびにsnapshotイベントを送り、購読エラーではerrorイベントを送って終了する。
// クライアントが切断すると購読は解除される。
// GET /api/{collection}/stream
func (h *RecordHandler[T, P]) Stream(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	// 最新の集合だけを保持する
	snapshots := make(chan []T, 1)
	failures := make(chan error, 1)
	onChange := func(records []T) {
		select {
		case <-snapshots:
		default:
		}
		snapshots <- records
	}
	onError := func(err error) {
		select {
		case failures <- err:
		default:
		}
	}

	sub, err := h.records.Observe(ctx, owner, onChange, onError)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	defer sub.Close()

	// ストリームはサーバーの書き込みタイムアウトの対象外にする
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		slog.Warn("failed to clear write deadline", slog.String("error", err.Error()))
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}

	ticker := time.NewTicker(streamKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case records := <-snapshots:
			if err := sse.writeEvent("snapshot", h.views(records)); err != nil {
				return
			}
		case err := <-failures:
			writeStreamError(sse, err)
			return
		case <-ticker.C:
			if err := sse.keepAlive(); err != nil {
				return
			}
		case <-sub.Done():
			select {
			case err := <-failures:
				writeStreamError(sse, err)
			default:
			}
			return
		}
	}
}

// writeStreamError は購読エラーをerrorイベントとして送る。
func writeStreamError(sse *sseWriter, err error) {
	apiErr := (&model.RecordError{Kind: model.RecordUnknown, Err: err}).APIError()
	var recErr *model.RecordError
	if errors.As(err, &recErr) {
		apiErr = recErr.APIError()
	}
	sse.writeEvent("error", middleware.ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// owns はidがownerのレコードかどうかを返す。
func (h *RecordHandler[T, P]) owns(ctx context.Context, owner, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	records, err := h.records.First(ctx, owner)
	if err != nil {
		return false, err
	}
	return slices.ContainsFunc(records, func(rec T) bool { return h.bind.id(rec) == id }), nil
}

func (h *RecordHandler[T, P]) views(records []T) []any {
	sorted := slices.Clone(records)
	h.bind.sort(sorted)
	out := make([]any, 0, len(sorted))
	for _, rec := range sorted {
		out = append(out, h.bind.view(rec))
	}
	return out
}
