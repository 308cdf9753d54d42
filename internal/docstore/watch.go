package docstore

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/hitoshi/planner/internal/live"
)

// event はウォッチャーへの配信内容。errが設定されていれば終端。
type event struct {
	docs []Document
	err  error
}

// watcher は1つのライブクエリ。配信はlive.Cellで直列化され、遅い購読者には最新の集合だけが届く。
type watcher struct {
	query Query
	cell  *live.Cell[event]
	sub   *live.Subscription

	mu     sync.Mutex
	last   []byte
	failed bool
}

// push は前回と異なる集合の場合だけ配信する。
func (w *watcher) push(docs []Document) {
	fp, err := json.Marshal(docs)

	w.mu.Lock()
	if w.failed || (err == nil && bytes.Equal(fp, w.last)) {
		w.mu.Unlock()
		return
	}
	w.last = fp
	w.mu.Unlock()

	w.cell.Set(event{docs: docs})
}

// fail は終端エラーを配信する。以後のpushは無視される。
func (w *watcher) fail(err error) {
	w.mu.Lock()
	if w.failed {
		w.mu.Unlock()
		return
	}
	w.failed = true
	w.mu.Unlock()

	w.cell.Set(event{err: err})
}

// registry は稼働中のウォッチャーを管理する。
type registry struct {
	mu       sync.Mutex
	watchers map[*watcher]struct{}
	closed   bool
}

func newRegistry() *registry {
	return &registry{watchers: make(map[*watcher]struct{})}
}

// add はinitialを初回の集合とするウォッチャーを登録する。
// 購読が終了するとウォッチャーは自動的に登録解除される。
func (r *registry) add(q Query, initial []Document, onSnapshot func([]Document), onError func(error)) *watcher {
	w := &watcher{query: q, cell: live.NewCell(event{docs: initial})}
	if fp, err := json.Marshal(initial); err == nil {
		w.last = fp
	}

	// 購読者ゴルーチンが終端イベントを受け取るより前にw.subが設定される
	ready := make(chan struct{})
	w.sub = w.cell.Subscribe(func(ev event) {
		<-ready
		if ev.err != nil {
			if onError != nil {
				onError(ev.err)
			}
			w.sub.Close()
			return
		}
		onSnapshot(ev.docs)
	})
	close(ready)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		w.sub.Close()
		w.cell.Close()
		return w
	}
	r.watchers[w] = struct{}{}
	r.mu.Unlock()

	go func() {
		<-w.sub.Done()
		r.remove(w)
	}()
	return w
}

func (r *registry) remove(w *watcher) {
	r.mu.Lock()
	delete(r.watchers, w)
	r.mu.Unlock()
	w.cell.Close()
}

// matching はcollectionを対象とするウォッチャーを返す。collectionが空なら全件。
func (r *registry) matching(collection string) []*watcher {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*watcher, 0, len(r.watchers))
	for w := range r.watchers {
		if collection == "" || w.query.Collection == collection {
			out = append(out, w)
		}
	}
	return out
}

// len は稼働中のウォッチャー数を返す。
func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watchers)
}

// closeAll は全ウォッチャーの購読を終了し、以後の登録を拒否する。
func (r *registry) closeAll() {
	r.mu.Lock()
	r.closed = true
	watchers := make([]*watcher, 0, len(r.watchers))
	for w := range r.watchers {
		watchers = append(watchers, w)
	}
	r.mu.Unlock()

	for _, w := range watchers {
		w.sub.Close()
	}
}
