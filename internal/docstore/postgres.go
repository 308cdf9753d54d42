package docstore

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/planner/internal/live"
)

// ChangeChannel はdocumentsテーブルのトリガーが通知するチャネル名。
const ChangeChannel = "documents_changed"

const (
	listenerMinReconnect = 10 * time.Second
	listenerMaxReconnect = time.Minute
	listenerPingInterval = 90 * time.Second
	refreshTimeout       = 10 * time.Second
)

// Postgres はdocumentsテーブル（JSONB）を使うドキュメントストア。
// ライブクエリはLISTEN/NOTIFYの通知と再接続のたびに再クエリし、集合が変わったときだけ配信する。
type Postgres struct {
	db       *sql.DB
	listener *pq.Listener
	logger   *slog.Logger
	watchers *registry

	refreshMu sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewPostgres はPostgresを生成し、変更通知の受信を開始する。
// databaseURLはLISTEN専用の接続に使う。
func NewPostgres(db *sql.DB, databaseURL string, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}

	p := &Postgres{
		db:       db,
		logger:   logger,
		watchers: newRegistry(),
		done:     make(chan struct{}),
	}

	p.listener = pq.NewListener(databaseURL, listenerMinReconnect, listenerMaxReconnect, p.onListenerEvent)
	if err := p.listener.Listen(ChangeChannel); err != nil {
		p.listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", ChangeChannel, err)
	}

	p.wg.Add(1)
	go p.dispatch()
	return p, nil
}

func (p *Postgres) onListenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventDisconnected:
		p.logger.Warn("docstore listener disconnected", slog.String("error", errString(err)))
	case pq.ListenerEventConnectionAttemptFailed:
		p.logger.Warn("docstore listener reconnect failed", slog.String("error", errString(err)))
	case pq.ListenerEventReconnected:
		p.logger.Info("docstore listener reconnected")
	}
}

// dispatch は変更通知を受けて該当コレクションのウォッチャーを再クエリする。
func (p *Postgres) dispatch() {
	defer p.wg.Done()

	ticker := time.NewTicker(listenerPingInterval)
	defer ticker.Stop()

	for {
		select {
		case n, ok := <-p.listener.Notify:
			if !ok {
				return
			}
			// 再接続後はnilが届く。切断中の変更を取りこぼさないよう全件を再クエリする
			if n == nil {
				p.refresh("")
				continue
			}
			p.refresh(n.Extra)
		case <-ticker.C:
			go p.listener.Ping()
		case <-p.done:
			return
		}
	}
}

// refresh はcollectionのウォッチャーを再クエリする。collectionが空なら全件。
func (p *Postgres) refresh(collection string) {
	for _, w := range p.watchers.matching(collection) {
		p.refreshWatcher(w)
	}
}

// refreshWatcher はwを再クエリして配信する。
// refreshMuで直列化し、古い集合が新しい集合の後に配信されないようにする。
func (p *Postgres) refreshWatcher(w *watcher) {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	docs, err := p.query(ctx, w.query)
	if err != nil {
		p.logger.Error("live query failed",
			slog.String("collection", w.query.Collection),
			slog.String("error", err.Error()),
		)
		w.fail(err)
		return
	}
	w.push(docs)
}

// Watch はStoreを実装する。初回の集合を取得できない場合はエラーを返す。
func (p *Postgres) Watch(ctx context.Context, q Query, onSnapshot func([]Document), onError func(error)) (*live.Subscription, error) {
	if q.Collection == "" {
		return nil, fmt.Errorf("%w: collection is required", ErrInvalidDocument)
	}

	initial, err := p.query(ctx, q)
	if err != nil {
		return nil, err
	}

	w := p.watchers.add(q, initial, onSnapshot, onError)
	live.Bind(ctx, w.sub)

	// 初回クエリから登録までの間の変更を拾う
	go p.refreshWatcher(w)
	return w.sub, nil
}

// query はqに一致するドキュメントを作成順に取得する。
func (p *Postgres) query(ctx context.Context, q Query) ([]Document, error) {
	filter := []byte("{}")
	if q.Field != "" {
		b, err := json.Marshal(map[string]any{q.Field: q.Value})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		filter = b
	}

	rows, err := p.db.QueryContext(ctx,
		`SELECT id, data FROM documents
		 WHERE collection = $1 AND data @> $2::jsonb
		 ORDER BY created_at, id`,
		q.Collection, string(filter),
	)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to query documents: %w", err))
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, classify(fmt.Errorf("failed to scan document: %w", err))
		}
		data, err := decodeData(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDocument, id, err)
		}
		docs = append(docs, Document{ID: id, Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("failed to iterate documents: %w", err))
	}
	if docs == nil {
		docs = []Document{}
	}
	return docs, nil
}

// Add はStoreを実装する。
func (p *Postgres) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	if collection == "" {
		return "", fmt.Errorf("%w: collection is required", ErrInvalidDocument)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	id := uuid.New().String()
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO documents (id, collection, data) VALUES ($1, $2, $3::jsonb)`,
		id, collection, string(raw),
	)
	if err != nil {
		return "", classify(fmt.Errorf("failed to insert document: %w", err))
	}
	return id, nil
}

// Update はStoreを実装する。fieldsは既存のdataにマージされる。
func (p *Postgres) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	result, err := p.db.ExecContext(ctx,
		`UPDATE documents SET data = data || $3::jsonb, updated_at = now()
		 WHERE collection = $1 AND id = $2`,
		collection, id, string(raw),
	)
	if err != nil {
		return classify(fmt.Errorf("failed to update document: %w", err))
	}
	return requireAffected(result, collection, id)
}

// Delete はStoreを実装する。
func (p *Postgres) Delete(ctx context.Context, collection, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}

	result, err := p.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	)
	if err != nil {
		return classify(fmt.Errorf("failed to delete document: %w", err))
	}
	return requireAffected(result, collection, id)
}

// Watchers は稼働中のライブクエリ数を返す。
func (p *Postgres) Watchers() int {
	return p.watchers.len()
}

// Close は通知の受信を止め、全ライブクエリを終了する。
func (p *Postgres) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.listener.Close()
		p.wg.Wait()
		p.watchers.closeAll()
	})
	return err
}

func requireAffected(result sql.Result, collection, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	return nil
}

// decodeData はJSONBを数値の精度を保ったまま復元する。数値はjson.Numberになる。
func decodeData(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

// classify はドライバーのエラーをストアのエラー種別でラップする。
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "42501":
			return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		case pqErr.Code.Class() == "08", pqErr.Code.Class() == "57":
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		case pqErr.Code.Class() == "22", pqErr.Code.Class() == "23":
			return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
		}
		return err
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

var _ Store = (*Postgres)(nil)
