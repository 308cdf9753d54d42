package collection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/planner/internal/docstore"
	"github.com/hitoshi/planner/internal/live"
	"github.com/hitoshi/planner/internal/metrics"
	"github.com/hitoshi/planner/internal/model"
	"github.com/hitoshi/planner/internal/security"
)

// jsonStore はAdd/Updateの値をJSONで往復させ、永続ストアと同じ数値表現にするラッパー。
type jsonStore struct {
	*docstore.Memory
}

func roundTrip(fields map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s jsonStore) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	data, err := roundTrip(data)
	if err != nil {
		return "", err
	}
	return s.Memory.Add(ctx, collection, data)
}

func (s jsonStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	fields, err := roundTrip(fields)
	if err != nil {
		return err
	}
	return s.Memory.Update(ctx, collection, id, fields)
}

// mockStore はdocstore.Storeのモック。
type mockStore struct {
	watchFn  func(ctx context.Context, q docstore.Query, onSnapshot func([]docstore.Document), onError func(error)) (*live.Subscription, error)
	addFn    func(ctx context.Context, collection string, data map[string]any) (string, error)
	updateFn func(ctx context.Context, collection, id string, fields map[string]any) error
	deleteFn func(ctx context.Context, collection, id string) error
}

func (m *mockStore) Watch(ctx context.Context, q docstore.Query, onSnapshot func([]docstore.Document), onError func(error)) (*live.Subscription, error) {
	return m.watchFn(ctx, q, onSnapshot, onError)
}

func (m *mockStore) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	return m.addFn(ctx, collection, data)
}

func (m *mockStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return m.updateFn(ctx, collection, id, fields)
}

func (m *mockStore) Delete(ctx context.Context, collection, id string) error {
	return m.deleteFn(ctx, collection, id)
}

// failingWatch は購読開始後にerrを1回通知するwatchFnを返す。
func failingWatch(err error) func(context.Context, docstore.Query, func([]docstore.Document), func(error)) (*live.Subscription, error) {
	return func(_ context.Context, _ docstore.Query, _ func([]docstore.Document), onError func(error)) (*live.Subscription, error) {
		cell := live.NewCell(0)
		ready := make(chan struct{})
		var sub *live.Subscription
		sub = cell.Subscribe(func(int) {
			<-ready
			onError(err)
			sub.Close()
		})
		close(ready)
		return sub, nil
	}
}

// writeMetrics は書き込みと購読数のメトリクスを記録するモック。
type writeMetrics struct {
	mu     sync.Mutex
	writes []string
	live   map[string]int
}

func newWriteMetrics() *writeMetrics {
	return &writeMetrics{live: map[string]int{}}
}

func (m *writeMetrics) RecordAuthAttempt(string, string)     {}
func (m *writeMetrics) RecordSessionTransition(string)       {}
func (m *writeMetrics) RecordGuardDecision(string)           {}
func (m *writeMetrics) RecordHTTPStatus(int)                 {}
func (m *writeMetrics) RecordRequestLatency(d time.Duration) {}

func (m *writeMetrics) RecordCollectionWrite(collection, op, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, fmt.Sprintf("%s:%s:%s", collection, op, outcome))
}

func (m *writeMetrics) AddLiveSubscriptions(collection string, delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live[collection] += delta
}

func (m *writeMetrics) liveCount(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live[collection]
}

func (m *writeMetrics) lastWrite() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.writes) == 0 {
		return ""
	}
	return m.writes[len(m.writes)-1]
}

// recorder はObserveに渡すコールバックの受信を記録する。
type recorder[T any] struct {
	sets chan []T
	errs chan error
}

func newRecorder[T any]() *recorder[T] {
	return &recorder[T]{sets: make(chan []T, 32), errs: make(chan error, 4)}
}

func (r *recorder[T]) onChange(records []T) { r.sets <- records }
func (r *recorder[T]) onError(err error)    { r.errs <- err }

// waitFor は条件を満たす集合が届くまで待つ。
func (r *recorder[T]) waitFor(t *testing.T, cond func([]T) bool) []T {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case records := <-r.sets:
			if cond(records) {
				return records
			}
		case err := <-r.errs:
			t.Fatalf("unexpected error: %v", err)
		case <-timeout:
			t.Fatal("timed out waiting for a matching set")
		}
	}
}

func newTestPlanner(t *testing.T, format WireFormat, collector *writeMetrics) *Planner {
	t.Helper()
	mem := docstore.NewMemory()
	t.Cleanup(mem.Close)
	var mc metrics.MetricsCollector
	if collector != nil {
		mc = collector
	}
	return NewPlanner(jsonStore{mem}, format, security.NewContentSanitizer(), security.NewOutboundGuard(), mc)
}

// TestTasks_DueDateRoundTrip は期限がどのワイヤー表現でも同じ時刻として読み戻せることを検証する。
func TestTasks_DueDateRoundTrip(t *testing.T) {
	for _, format := range []WireFormat{WireRFC3339, WireEpochMillis, WireNative} {
		t.Run(string(format), func(t *testing.T) {
			p := newTestPlanner(t, format, nil)
			ctx := context.Background()

			id, err := p.Tasks.Create(ctx, model.Task{Title: "file taxes", DueDate: march1, OwnerID: "A"})
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}

			tasks, err := p.Tasks.First(ctx, "A")
			if err != nil {
				t.Fatalf("First() error = %v", err)
			}
			if len(tasks) != 1 || tasks[0].ID != id {
				t.Fatalf("tasks = %+v, want the created task", tasks)
			}
			if !tasks[0].DueDate.Equal(march1) {
				t.Errorf("DueDate = %v, want %v", tasks[0].DueDate, march1)
			}
		})
	}
}

// TestGoals_ProgressIsClamped は範囲外の進捗が丸めて保存されることを検証する。
func TestGoals_ProgressIsClamped(t *testing.T) {
	p := newTestPlanner(t, WireRFC3339, nil)
	ctx := context.Background()

	id, err := p.Goals.Create(ctx, model.Goal{Title: "run 10k", Progress: 20, OwnerID: "A"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	for _, tt := range []struct{ in, want int }{{150, 100}, {-5, 0}, {55, 55}} {
		if err := p.SetGoalProgress(ctx, id, tt.in); err != nil {
			t.Fatalf("SetGoalProgress(%d) error = %v", tt.in, err)
		}
		goals, err := p.Goals.First(ctx, "A")
		if err != nil {
			t.Fatalf("First() error = %v", err)
		}
		if goals[0].Progress != tt.want {
			t.Errorf("progress after %d = %d, want %d", tt.in, goals[0].Progress, tt.want)
		}
	}
}

// TestObserve_FollowsCreateUpdateDelete は購読がCreate/Update/Deleteに追従することを検証する。
func TestObserve_FollowsCreateUpdateDelete(t *testing.T) {
	collector := newWriteMetrics()
	p := newTestPlanner(t, WireRFC3339, collector)
	ctx := context.Background()

	rec := newRecorder[model.Task]()
	sub, err := p.Tasks.Observe(ctx, "A", rec.onChange, rec.onError)
	if err != nil {
		t.Fatalf("Observe() error = %v", err)
	}
	defer sub.Close()

	rec.waitFor(t, func(ts []model.Task) bool { return len(ts) == 0 })

	id, err := p.Tasks.Create(ctx, model.Task{Title: "water plants", OwnerID: "A"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	rec.waitFor(t, func(ts []model.Task) bool { return len(ts) == 1 && !ts[0].Completed })

	if err := p.ToggleTask(ctx, model.Task{ID: id, Completed: false}); err != nil {
		t.Fatalf("ToggleTask() error = %v", err)
	}
	rec.waitFor(t, func(ts []model.Task) bool { return len(ts) == 1 && ts[0].Completed })

	if err := p.Tasks.Delete(ctx, id); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	rec.waitFor(t, func(ts []model.Task) bool { return len(ts) == 0 })

	if got := collector.lastWrite(); got != "tasks:delete:success" {
		t.Errorf("last write metric = %q, want tasks:delete:success", got)
	}
}

// TestDelete_MissingIsNoOp は存在しないIDの削除が成功として扱われることを検証する。
func TestDelete_MissingIsNoOp(t *testing.T) {
	collector := newWriteMetrics()
	p := newTestPlanner(t, WireRFC3339, collector)

	if err := p.Notes.Delete(context.Background(), "does-not-exist"); err != nil {
		t.Errorf("Delete() error = %v, want nil", err)
	}
	if got := collector.lastWrite(); got != "notes:delete:not_found" {
		t.Errorf("metric = %q, want notes:delete:not_found", got)
	}
}

// TestUpdate_MissingReturnsNotFound は存在しないIDの更新がnot_foundになることを検証する。
func TestUpdate_MissingReturnsNotFound(t *testing.T) {
	p := newTestPlanner(t, WireRFC3339, nil)
	title := "x"
	err := p.Tasks.Update(context.Background(), "missing", TaskPatch{Title: &title})
	if !errors.Is(err, model.ErrRecordNotFound) {
		t.Errorf("Update() error = %v, want ErrRecordNotFound", err)
	}
}

// TestUpdate_EmptyPatchIsNoOp は変更のない部分更新がストアに届かないことを検証する。
func TestUpdate_EmptyPatchIsNoOp(t *testing.T) {
	store := &mockStore{
		updateFn: func(context.Context, string, string, map[string]any) error {
			t.Error("store.Update must not be called")
			return nil
		},
	}
	c := New(store, NewTaskCodec(WireRFC3339), nil)
	if err := c.Update(context.Background(), "id", TaskPatch{}); err != nil {
		t.Errorf("Update() error = %v", err)
	}
}

// TestNotes_AreIsolatedByOwner は他のユーザーのノートが購読に現れないことを検証する。
func TestNotes_AreIsolatedByOwner(t *testing.T) {
	p := newTestPlanner(t, WireRFC3339, nil)
	ctx := context.Background()

	recB := newRecorder[model.Note]()
	sub, err := p.Notes.Observe(ctx, "B", recB.onChange, recB.onError)
	if err != nil {
		t.Fatalf("Observe() error = %v", err)
	}
	defer sub.Close()

	if _, err := p.Notes.Create(ctx, model.Note{Title: "list", Kind: model.NoteKindText, Content: "buy milk", OwnerID: "A"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := p.Notes.Create(ctx, model.Note{Title: "mine", Kind: model.NoteKindText, Content: "call mom", OwnerID: "B"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	notes := recB.waitFor(t, func(ns []model.Note) bool { return len(ns) > 0 })
	for _, n := range notes {
		if n.OwnerID != "B" || n.Content == "buy milk" {
			t.Errorf("user B observed a foreign note: %+v", n)
		}
	}

	notesA, err := p.Notes.First(ctx, "A")
	if err != nil {
		t.Fatalf("First() error = %v", err)
	}
	if len(notesA) != 1 || notesA[0].Content != "buy milk" {
		t.Errorf("notes of A = %+v", notesA)
	}
}

// TestObserve_ReleasedByContext はctxの終了で購読が解除されメトリクスが戻ることを検証する。
func TestObserve_ReleasedByContext(t *testing.T) {
	collector := newWriteMetrics()
	p := newTestPlanner(t, WireRFC3339, collector)
	ctx, cancel := context.WithCancel(context.Background())

	rec := newRecorder[model.Goal]()
	sub, err := p.Goals.Observe(ctx, "A", rec.onChange, rec.onError)
	if err != nil {
		t.Fatalf("Observe() error = %v", err)
	}
	if got := collector.liveCount(Goals); got != 1 {
		t.Errorf("live subscriptions = %d, want 1", got)
	}

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription was not released by context")
	}

	deadline := time.Now().Add(2 * time.Second)
	for collector.liveCount(Goals) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("live subscriptions = %d, want 0", collector.liveCount(Goals))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestObserve_RequiresOwner は所有者なしの購読が拒否されることを検証する。
func TestObserve_RequiresOwner(t *testing.T) {
	p := newTestPlanner(t, WireRFC3339, nil)
	_, err := p.Tasks.Observe(context.Background(), "", func([]model.Task) {}, nil)
	if !errors.Is(err, model.ErrRecordInvalid) {
		t.Errorf("Observe() error = %v, want ErrRecordInvalid", err)
	}
}

// TestObserve_MapsStreamErrors は購読中のストアエラーが正規化されて通知されることを検証する。
func TestObserve_MapsStreamErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"permission", fmt.Errorf("%w: rls", docstore.ErrPermissionDenied), model.ErrRecordPermissionDenied},
		{"unavailable", fmt.Errorf("%w: conn reset", docstore.ErrUnavailable), model.ErrRecordUnavailable},
		{"deadline", context.DeadlineExceeded, model.ErrRecordUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockStore{watchFn: failingWatch(tt.err)}
			c := New(store, NewGoalCodec(WireRFC3339), nil)

			rec := newRecorder[model.Goal]()
			sub, err := c.Observe(context.Background(), "A", rec.onChange, rec.onError)
			if err != nil {
				t.Fatalf("Observe() error = %v", err)
			}
			defer sub.Close()

			select {
			case got := <-rec.errs:
				if !errors.Is(got, tt.want) {
					t.Errorf("onError(%v), want %v", got, tt.want)
				}
				var recErr *model.RecordError
				if !errors.As(got, &recErr) || recErr.Collection != Goals {
					t.Errorf("error should name the collection: %v", got)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("onError was not called")
			}
		})
	}
}

// TestFirst_ReturnsStreamError は1回読み込みが購読エラーを返すことを検証する。
func TestFirst_ReturnsStreamError(t *testing.T) {
	store := &mockStore{watchFn: failingWatch(docstore.ErrPermissionDenied)}
	c := New(store, NewTaskCodec(WireRFC3339), nil)

	_, err := c.First(context.Background(), "A")
	if !errors.Is(err, model.ErrRecordPermissionDenied) {
		t.Errorf("First() error = %v, want ErrRecordPermissionDenied", err)
	}
}

// TestCreate_MapsWriteErrors は書き込みエラーの正規化とメトリクス記録を検証する。
func TestCreate_MapsWriteErrors(t *testing.T) {
	collector := newWriteMetrics()
	store := &mockStore{
		addFn: func(context.Context, string, map[string]any) (string, error) {
			return "", fmt.Errorf("%w: connection refused", docstore.ErrUnavailable)
		},
	}
	c := New(store, NewTaskCodec(WireRFC3339), collector)

	_, err := c.Create(context.Background(), model.Task{Title: "t", OwnerID: "A"})
	if !errors.Is(err, model.ErrRecordUnavailable) {
		t.Errorf("Create() error = %v, want ErrRecordUnavailable", err)
	}
	if got := collector.lastWrite(); got != "tasks:create:unavailable" {
		t.Errorf("metric = %q, want tasks:create:unavailable", got)
	}

	_, err = c.Create(context.Background(), model.Task{Title: "t"})
	if !errors.Is(err, model.ErrRecordInvalid) {
		t.Errorf("Create() without owner error = %v, want ErrRecordInvalid", err)
	}
}

// TestDelete_PermissionDenied は権限エラーが成功扱いされないことを検証する。
func TestDelete_PermissionDenied(t *testing.T) {
	store := &mockStore{
		deleteFn: func(context.Context, string, string) error { return docstore.ErrPermissionDenied },
	}
	c := New(store, NewNoteCodec(WireRFC3339, security.NewContentSanitizer(), security.NewOutboundGuard()), nil)

	err := c.Delete(context.Background(), "n1")
	if !errors.Is(err, model.ErrRecordPermissionDenied) {
		t.Errorf("Delete() error = %v, want ErrRecordPermissionDenied", err)
	}
}
