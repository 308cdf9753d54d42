// Package collection はタスク・目標・ノートのコレクションを、所有者ごとのライブな正規化済みストリームとして提供する。
package collection

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hitoshi/planner/internal/docstore"
	"github.com/hitoshi/planner/internal/live"
	"github.com/hitoshi/planner/internal/metrics"
	"github.com/hitoshi/planner/internal/model"
)

// Collection はCodecを介して1つのコレクションを読み書きする。
// 自身は共有状態を持たず、ストアのライブクエリ結果を変換するだけである。
type Collection[T any, P any] struct {
	store   docstore.Store
	codec   Codec[T, P]
	metrics metrics.MetricsCollector
}

// New はCollectionを生成する。
func New[T any, P any](store docstore.Store, codec Codec[T, P], collector metrics.MetricsCollector) *Collection[T, P] {
	return &Collection[T, P]{
		store:   store,
		codec:   codec,
		metrics: metrics.OrNop(collector),
	}
}

// Name はコレクション名を返す。
func (c *Collection[T, P]) Name() string {
	return c.codec.Collection()
}

// Observe はownerIDのレコード集合を購読する。
// onChangeは登録直後と集合が変わるたびに正規化済みの集合全体で呼ばれる。順序は保証しない。
// 読み込みに失敗するとonErrorが*model.RecordErrorで1回呼ばれ、購読は終了する。
// 購読はctxの終了または返されたSubscriptionのCloseで必ず解除すること。
func (c *Collection[T, P]) Observe(ctx context.Context, ownerID string, onChange func([]T), onError func(error)) (*live.Subscription, error) {
	if ownerID == "" {
		return nil, c.recordError("observe", "", errMissingOwner)
	}

	q := docstore.Query{Collection: c.Name(), Field: FieldOwner, Value: ownerID}
	sub, err := c.store.Watch(ctx, q,
		func(docs []docstore.Document) {
			onChange(c.decodeAll(docs))
		},
		func(err error) {
			if onError != nil {
				onError(c.recordError("observe", "", err))
			}
		},
	)
	if err != nil {
		return nil, c.recordError("observe", "", err)
	}

	c.metrics.AddLiveSubscriptions(c.Name(), 1)
	go func() {
		<-sub.Done()
		c.metrics.AddLiveSubscriptions(c.Name(), -1)
	}()
	return sub, nil
}

// First はownerIDのレコード集合を1回だけ取得する。
func (c *Collection[T, P]) First(ctx context.Context, ownerID string) ([]T, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		records []T
		err     error
	}
	ch := make(chan result, 1)
	send := func(r result) {
		select {
		case ch <- r:
		default:
		}
	}

	sub, err := c.Observe(ctx, ownerID,
		func(records []T) { send(result{records: records}) },
		func(err error) { send(result{err: err}) },
	)
	if err != nil {
		return nil, err
	}
	defer sub.Close()

	select {
	case r := <-ch:
		return r.records, r.err
	case <-ctx.Done():
		return nil, c.recordError("observe", "", ctx.Err())
	}
}

// Create はレコードを追加し、ストアが採番したIDを返す。
func (c *Collection[T, P]) Create(ctx context.Context, record T) (string, error) {
	fields, err := c.codec.Encode(record)
	if err != nil {
		return "", c.writeFailed("create", "", err)
	}

	id, err := c.store.Add(ctx, c.Name(), fields)
	if err != nil {
		return "", c.writeFailed("create", "", err)
	}

	c.metrics.RecordCollectionWrite(c.Name(), "create", "success")
	return id, nil
}

// Update は指定されたフィールドだけを書き込む。
func (c *Collection[T, P]) Update(ctx context.Context, id string, patch P) error {
	if id == "" {
		return c.writeFailed("update", id, errMissingID)
	}

	fields, err := c.codec.EncodePatch(patch)
	if err != nil {
		return c.writeFailed("update", id, err)
	}
	if len(fields) == 0 {
		return nil
	}

	if err := c.store.Update(ctx, c.Name(), id, fields); err != nil {
		return c.writeFailed("update", id, err)
	}

	c.metrics.RecordCollectionWrite(c.Name(), "update", "success")
	return nil
}

// Delete はレコードを削除する。存在しないIDの削除は成功として扱う。
func (c *Collection[T, P]) Delete(ctx context.Context, id string) error {
	if id == "" {
		return c.writeFailed("delete", id, errMissingID)
	}

	if err := c.store.Delete(ctx, c.Name(), id); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			slog.Info("delete of missing record ignored",
				slog.String("collection", c.Name()),
				slog.String("id", id),
			)
			c.metrics.RecordCollectionWrite(c.Name(), "delete", "not_found")
			return nil
		}
		return c.writeFailed("delete", id, err)
	}

	c.metrics.RecordCollectionWrite(c.Name(), "delete", "success")
	return nil
}

func (c *Collection[T, P]) decodeAll(docs []docstore.Document) []T {
	records := make([]T, 0, len(docs))
	for _, doc := range docs {
		records = append(records, c.codec.Decode(doc))
	}
	return records
}

// writeFailed は書き込みの失敗を記録し、正規化したエラーを返す。
func (c *Collection[T, P]) writeFailed(op, id string, err error) error {
	recErr := c.recordError(op, id, err)
	c.metrics.RecordCollectionWrite(c.Name(), op, string(recErr.Kind))
	slog.Warn("collection write failed",
		slog.String("collection", c.Name()),
		slog.String("op", op),
		slog.String("id", id),
		slog.String("error", err.Error()),
	)
	return recErr
}

func (c *Collection[T, P]) recordError(op, id string, err error) *model.RecordError {
	return &model.RecordError{
		Kind:       recordErrorKind(err),
		Op:         op,
		Collection: c.Name(),
		ID:         id,
		Err:        err,
	}
}

var (
	errMissingOwner = invalidf("owner id is required")
	errMissingID    = invalidf("record id is required")
)

// recordErrorKind はストアのエラーを正規化した種別に変換する。
func recordErrorKind(err error) model.RecordErrorKind {
	var recErr *model.RecordError
	switch {
	case errors.As(err, &recErr):
		return recErr.Kind
	case errors.Is(err, docstore.ErrPermissionDenied):
		return model.RecordPermissionDenied
	case errors.Is(err, docstore.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return model.RecordUnavailable
	case errors.Is(err, docstore.ErrInvalidDocument):
		return model.RecordInvalid
	case errors.Is(err, docstore.ErrNotFound):
		return model.RecordNotFound
	default:
		return model.RecordUnknown
	}
}
