package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/planner/internal/logger"
	"github.com/hitoshi/planner/internal/model"
)

// fakeSource はテスト用のChangeSource。emitで通知を送る。
type fakeSource struct {
	mu           sync.Mutex
	listeners    map[int]func(*model.Identity)
	nextID       int
	unsubscribed int
}

func newFakeSource() *fakeSource {
	return &fakeSource{listeners: make(map[int]func(*model.Identity))}
}

func (f *fakeSource) OnAuthStateChanged(fn func(*model.Identity)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
		f.unsubscribed++
	}
}

func (f *fakeSource) emit(identity *model.Identity) {
	f.mu.Lock()
	fns := make([]func(*model.Identity), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(identity)
	}
}

// fakeMetrics はセッション遷移だけを記録するテスト用コレクタ。
type fakeMetrics struct {
	mu          sync.Mutex
	transitions []string
}

func (m *fakeMetrics) RecordAuthAttempt(string, string) {}
func (m *fakeMetrics) RecordSessionTransition(state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, state)
}
func (m *fakeMetrics) RecordGuardDecision(string)                   {}
func (m *fakeMetrics) RecordCollectionWrite(string, string, string) {}
func (m *fakeMetrics) AddLiveSubscriptions(string, int)             {}
func (m *fakeMetrics) RecordHTTPStatus(int)                         {}
func (m *fakeMetrics) RecordRequestLatency(time.Duration)           {}

func newTestStore(src ChangeSource, cfg StoreConfig) *Store {
	return NewStore(src, cfg, nil, logger.Discard())
}

var alice = &model.Identity{ID: "user-a", Email: "a@example.com", ProviderID: model.ProviderPassword}

// TestStore_InitiallyUnknown は通知を受け取る前はUnknownであることを検証する。
func TestStore_InitiallyUnknown(t *testing.T) {
	s := newTestStore(newFakeSource(), StoreConfig{})
	defer s.Close()

	if got := s.Current().State(); got != StateUnknown {
		t.Errorf("Current().State() = %v, want %v", got, StateUnknown)
	}
}

// TestStore_CurrentFollowsLatestNotification は現在値が最後の通知と一致することを検証する。
func TestStore_CurrentFollowsLatestNotification(t *testing.T) {
	tests := []struct {
		name      string
		sequence  []*model.Identity
		wantState State
		wantUser  string
	}{
		{"single sign in", []*model.Identity{alice}, StateAuthenticated, "user-a"},
		{"null maps to anonymous", []*model.Identity{nil}, StateAnonymous, ""},
		{"sign in then out", []*model.Identity{alice, nil}, StateAnonymous, ""},
		{"out then in", []*model.Identity{nil, alice}, StateAuthenticated, "user-a"},
		{"switch user", []*model.Identity{alice, {ID: "user-b"}}, StateAuthenticated, "user-b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource()
			s := newTestStore(src, StoreConfig{})
			defer s.Close()

			for _, identity := range tt.sequence {
				src.emit(identity)
			}

			got := s.Current()
			if got.State() != tt.wantState {
				t.Errorf("State() = %v, want %v", got.State(), tt.wantState)
			}
			if got.UserID() != tt.wantUser {
				t.Errorf("UserID() = %q, want %q", got.UserID(), tt.wantUser)
			}
		})
	}
}

// TestStore_NeverReturnsToUnknown は一度確定した状態がUnknownに戻らないことを検証する。
func TestStore_NeverReturnsToUnknown(t *testing.T) {
	src := newFakeSource()
	s := newTestStore(src, StoreConfig{})
	defer s.Close()

	src.emit(alice)
	src.emit(nil)
	src.emit(nil)

	if !s.Current().IsKnown() {
		t.Error("expected state to stay known after the first notification")
	}
}

// TestStore_SubscribeReplaysAndFollows は購読時に現在値が再生され、以後の変化も届くことを検証する。
func TestStore_SubscribeReplaysAndFollows(t *testing.T) {
	src := newFakeSource()
	s := newTestStore(src, StoreConfig{})
	defer s.Close()
	src.emit(alice)

	got := make(chan Value, 8)
	sub := s.Subscribe(func(v Value) { got <- v })
	defer sub.Close()

	first := <-got
	if first.UserID() != "user-a" {
		t.Fatalf("replayed value user = %q, want user-a", first.UserID())
	}

	src.emit(nil)
	select {
	case v := <-got:
		if v.State() != StateAnonymous {
			t.Errorf("next value state = %v, want anonymous", v.State())
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for anonymous value")
	}
}

// TestStore_ResolveReturnsImmediatelyWhenKnown は確定済みなら待たずに返ることを検証する。
func TestStore_ResolveReturnsImmediatelyWhenKnown(t *testing.T) {
	src := newFakeSource()
	s := newTestStore(src, StoreConfig{ResolveTimeout: time.Second, ResolveRetry: time.Hour})
	defer s.Close()
	src.emit(nil)

	v, err := s.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if v.State() != StateAnonymous {
		t.Errorf("State() = %v, want anonymous", v.State())
	}
}

// TestStore_ResolveWaitsForFirstNotification はUnknownの間は待機し、通知後に値を返すことを検証する。
func TestStore_ResolveWaitsForFirstNotification(t *testing.T) {
	src := newFakeSource()
	s := newTestStore(src, StoreConfig{ResolveTimeout: 2 * time.Second, ResolveRetry: 5 * time.Millisecond})
	defer s.Close()

	go func() {
		time.Sleep(30 * time.Millisecond)
		src.emit(alice)
	}()

	v, err := s.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !v.IsAuthenticated() {
		t.Errorf("State() = %v, want authenticated", v.State())
	}
}

// TestStore_ResolveTimesOut は上限時間を超えるとErrResolveTimeoutを返すことを検証する。
func TestStore_ResolveTimesOut(t *testing.T) {
	s := newTestStore(newFakeSource(), StoreConfig{ResolveTimeout: 30 * time.Millisecond, ResolveRetry: 5 * time.Millisecond})
	defer s.Close()

	_, err := s.Resolve(context.Background())
	if !errors.Is(err, ErrResolveTimeout) {
		t.Errorf("Resolve() error = %v, want ErrResolveTimeout", err)
	}
}

// TestStore_ResolveHonoursCancellation は呼び出し元のキャンセルで戻ることを検証する。
func TestStore_ResolveHonoursCancellation(t *testing.T) {
	s := newTestStore(newFakeSource(), StoreConfig{ResolveTimeout: time.Minute, ResolveRetry: 5 * time.Millisecond})
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Resolve(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Resolve() error = %v, want context.Canceled", err)
	}
}

// TestStore_CloseUnsubscribesFromSource はCloseでプロバイダー通知の購読が解除されることを検証する。
func TestStore_CloseUnsubscribesFromSource(t *testing.T) {
	src := newFakeSource()
	s := newTestStore(src, StoreConfig{})

	s.Close()
	s.Close()

	if src.unsubscribed != 1 {
		t.Errorf("unsubscribed = %d, want 1", src.unsubscribed)
	}
}

// TestStore_RecordsTransitions は状態遷移がメトリクスに記録されることを検証する。
func TestStore_RecordsTransitions(t *testing.T) {
	src := newFakeSource()
	m := &fakeMetrics{}
	s := NewStore(src, StoreConfig{}, m, logger.Discard())
	defer s.Close()

	src.emit(alice)
	src.emit(nil)

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.transitions) != 2 || m.transitions[0] != "authenticated" || m.transitions[1] != "anonymous" {
		t.Errorf("transitions = %v, want [authenticated anonymous]", m.transitions)
	}
}

// TestValue_Constructors はタグ付き共用体の各コンストラクタを検証する。
func TestValue_Constructors(t *testing.T) {
	var zero Value
	if zero.State() != StateUnknown {
		t.Error("zero Value should be unknown")
	}
	if Authenticated(nil).State() != StateAnonymous {
		t.Error("Authenticated(nil) should collapse to anonymous")
	}
	if _, ok := Anonymous().Identity(); ok {
		t.Error("anonymous value should have no identity")
	}
	id, ok := Authenticated(alice).Identity()
	if !ok || id.ID != "user-a" {
		t.Errorf("Identity() = %v, %v", id, ok)
	}
}
