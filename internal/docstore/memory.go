package docstore

import (
	"cmp"
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/hitoshi/planner/internal/live"
)

// Memory はプロセス内のドキュメントストア。値は渡されたまま保持する（time.Timeはそのまま）。
type Memory struct {
	mu          sync.Mutex
	collections map[string]map[string]*memDoc
	seq         uint64

	// notifyMuは再クエリと配信を直列化し、古い集合が新しい集合の後に届かないようにする
	notifyMu sync.Mutex
	watchers *registry
}

type memDoc struct {
	seq  uint64
	data map[string]any
}

// NewMemory はMemoryを生成する。
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]map[string]*memDoc),
		watchers:    newRegistry(),
	}
}

// Watch はStoreを実装する。
func (m *Memory) Watch(ctx context.Context, q Query, onSnapshot func([]Document), onError func(error)) (*live.Subscription, error) {
	if q.Collection == "" {
		return nil, fmt.Errorf("%w: collection is required", ErrInvalidDocument)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.notifyMu.Lock()
	m.mu.Lock()
	initial := m.query(q)
	m.mu.Unlock()
	w := m.watchers.add(q, initial, onSnapshot, onError)
	m.notifyMu.Unlock()

	live.Bind(ctx, w.sub)
	return w.sub, nil
}

// Add はStoreを実装する。
func (m *Memory) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	if collection == "" {
		return "", fmt.Errorf("%w: collection is required", ErrInvalidDocument)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := uuid.New().String()

	m.mu.Lock()
	docs, ok := m.collections[collection]
	if !ok {
		docs = make(map[string]*memDoc)
		m.collections[collection] = docs
	}
	m.seq++
	docs[id] = &memDoc{seq: m.seq, data: copyFields(data)}
	m.mu.Unlock()

	m.notify(collection)
	return id, nil
}

// Update はStoreを実装する。
func (m *Memory) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	doc, ok := m.collections[collection][id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	merged := copyFields(doc.data)
	for k, v := range fields {
		merged[k] = v
	}
	doc.data = merged
	m.mu.Unlock()

	m.notify(collection)
	return nil
}

// Delete はStoreを実装する。
func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	if _, ok := m.collections[collection][id]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	delete(m.collections[collection], id)
	m.mu.Unlock()

	m.notify(collection)
	return nil
}

// Watchers は稼働中のライブクエリ数を返す。
func (m *Memory) Watchers() int {
	return m.watchers.len()
}

// Close は全ライブクエリを終了する。
func (m *Memory) Close() {
	m.watchers.closeAll()
}

// notify はcollectionのウォッチャーに最新の集合を配信する。
func (m *Memory) notify(collection string) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	for _, w := range m.watchers.matching(collection) {
		m.mu.Lock()
		docs := m.query(w.query)
		m.mu.Unlock()
		w.push(docs)
	}
}

// query はqに一致するドキュメントを追加順に返す。呼び出し側でm.muを保持すること。
func (m *Memory) query(q Query) []Document {
	type entry struct {
		id  string
		doc *memDoc
	}
	var matched []entry
	for id, doc := range m.collections[q.Collection] {
		if q.Field != "" && !reflect.DeepEqual(doc.data[q.Field], q.Value) {
			continue
		}
		matched = append(matched, entry{id: id, doc: doc})
	}

	slices.SortFunc(matched, func(a, b entry) int {
		return cmp.Compare(a.doc.seq, b.doc.seq)
	})

	docs := make([]Document, 0, len(matched))
	for _, e := range matched {
		docs = append(docs, Document{ID: e.id, Data: copyFields(e.doc.data)})
	}
	return docs
}

func copyFields(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

var _ Store = (*Memory)(nil)
