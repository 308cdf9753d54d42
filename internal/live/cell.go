// Package live は最新値を保持し購読者へ配信するリアクティブセルを提供する。
//
// 購読者は登録直後に現在値を受け取り、以後は値が変わるたびに最新値を受け取る。
// 各購読者は専用のゴルーチンで配信され、遅い購読者には中間値を飛ばして最新値のみを届ける。
package live

import (
	"context"
	"sync"
)

// Cell は型Tの最新値を1つ保持する。ゼロ値は使用できないため NewCell で生成する。
type Cell[T any] struct {
	mu     sync.Mutex
	value  T
	subs   map[*Subscription]*mailbox[T]
	closed bool
}

// NewCell は初期値initialを持つCellを生成する。
func NewCell[T any](initial T) *Cell[T] {
	return &Cell[T]{
		value: initial,
		subs:  make(map[*Subscription]*mailbox[T]),
	}
}

// Get は現在値を返す。
func (c *Cell[T]) Get() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set は値を更新し、全購読者に配信する。Close後の呼び出しは無視される。
func (c *Cell[T]) Set(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.value = v
	for _, mb := range c.subs {
		mb.put(v)
	}
}

// Update は現在値にfnを適用した結果で値を更新し、その値を返す。
func (c *Cell[T]) Update(fn func(T) T) T {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.value
	}
	c.value = fn(c.value)
	for _, mb := range c.subs {
		mb.put(c.value)
	}
	return c.value
}

// Subscribe はfnを購読者として登録する。
// fnは登録直後に現在値で1回呼ばれ、以後は値が変わるたびに呼ばれる。
// 同一購読者への呼び出しは直列化される。
func (c *Cell[T]) Subscribe(fn func(T)) *Subscription {
	sub := newSubscription()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sub.finish()
		return sub
	}
	mb := newMailbox[T]()
	mb.put(c.value)
	c.subs[sub] = mb
	c.mu.Unlock()

	sub.release = func() {
		c.mu.Lock()
		delete(c.subs, sub)
		c.mu.Unlock()
		mb.close()
	}

	go func() {
		defer sub.finish()
		for {
			v, ok := mb.take()
			if !ok {
				return
			}
			fn(v)
		}
	}()
	return sub
}

// Subscribers は現在の購読者数を返す。
func (c *Cell[T]) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Close は全購読を終了する。以後のSetは無視される。
func (c *Cell[T]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := make([]*Subscription, 0, len(c.subs))
	for sub := range c.subs {
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

// Subscription は1つの購読を表す。Closeは何度呼んでもよい。
type Subscription struct {
	once    sync.Once
	release func()
	done    chan struct{}
	doneMu  sync.Once
}

func newSubscription() *Subscription {
	return &Subscription{done: make(chan struct{})}
}

// Close は購読を解除する。解除後に購読者が呼ばれることはない（実行中の呼び出しは完了を待たない）。
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}

// Done は購読の配信ゴルーチンが終了したときに閉じられるチャネルを返す。
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) finish() {
	s.doneMu.Do(func() { close(s.done) })
}

// Bind はctxの終了時にsubを解除する。
func Bind(ctx context.Context, sub *Subscription) {
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.Done():
		}
	}()
}

// mailbox は最新値1件だけを保持する配信キュー。
type mailbox[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	value   T
	pending bool
	closed  bool
}

func newMailbox[T any]() *mailbox[T] {
	mb := &mailbox[T]{}
	mb.cond = sync.NewCond(&mb.mu)
	return mb
}

func (m *mailbox[T]) put(v T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.value = v
	m.pending = true
	m.cond.Signal()
}

func (m *mailbox[T]) take() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for !m.pending && !m.closed {
		m.cond.Wait()
	}
	var zero T
	if m.closed {
		return zero, false
	}
	v := m.value
	m.value = zero
	m.pending = false
	return v, true
}

func (m *mailbox[T]) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cond.Broadcast()
}
