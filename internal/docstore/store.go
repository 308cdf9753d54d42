// Package docstore はコレクション単位のドキュメントストアとライブクエリを提供する。
package docstore

import (
	"context"
	"errors"

	"github.com/hitoshi/planner/internal/live"
)

// ストアが返すエラー。実装は原因エラーをこれらでラップして返す。
var (
	ErrNotFound         = errors.New("docstore: document not found")
	ErrPermissionDenied = errors.New("docstore: permission denied")
	ErrUnavailable      = errors.New("docstore: store unavailable")
	ErrInvalidDocument  = errors.New("docstore: invalid document")
)

// Document はストアが採番したIDとフィールドの組。
// Dataの値はストアのワイヤー表現のまま（JSONストアなら文字列や数値）渡される。
type Document struct {
	ID   string
	Data map[string]any
}

// Query はライブクエリの条件。Fieldが空の場合はコレクション全体が対象になる。
type Query struct {
	Collection string
	Field      string
	Value      any
}

// Store はドキュメントストアのインターフェース。
type Store interface {
	// Watch はqに一致するドキュメント集合を購読する。
	// onSnapshotは登録直後と集合が変わるたびに集合全体で呼ばれる。
	// 読み込みに失敗した場合はonErrorが1回呼ばれ、購読は終了する。
	// 購読はctxの終了または返されたSubscriptionのCloseで解除される。
	Watch(ctx context.Context, q Query, onSnapshot func([]Document), onError func(error)) (*live.Subscription, error)

	// Add はドキュメントを追加し、採番したIDを返す。
	Add(ctx context.Context, collection string, data map[string]any) (string, error)

	// Update は指定フィールドだけを上書きする。
	Update(ctx context.Context, collection, id string, fields map[string]any) error

	// Delete はドキュメントを削除する。存在しない場合はErrNotFoundを返す。
	Delete(ctx context.Context, collection, id string) error
}
