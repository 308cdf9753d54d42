package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// TokenStore は現在のセッションIDをプロセス再起動後も保持する。
type TokenStore interface {
	// Load は保存済みのセッションIDを返す。無ければ空文字を返す。
	Load() (string, error)
	Save(token string) error
	Clear() error
}

const tokenFileName = "session"

// FileTokenStore はディレクトリ内のファイルにセッションIDを保存する。
type FileTokenStore struct {
	dir string
}

// NewFileTokenStore はFileTokenStoreを生成する。
func NewFileTokenStore(dir string) *FileTokenStore {
	return &FileTokenStore{dir: dir}
}

func (s *FileTokenStore) path() string {
	return filepath.Join(s.dir, tokenFileName)
}

// Load は保存済みのセッションIDを返す。
func (s *FileTokenStore) Load() (string, error) {
	b, err := os.ReadFile(s.path())
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read session token: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// Save は一時ファイルに書き込んでからリネームし、途中状態のファイルを残さない。
func (s *FileTokenStore) Save(token string) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, tokenFileName+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp token file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(token); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session token: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp token file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("failed to chmod session token: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path()); err != nil {
		return fmt.Errorf("failed to replace session token: %w", err)
	}
	return nil
}

// Clear は保存済みのセッションIDを削除する。
func (s *FileTokenStore) Clear() error {
	err := os.Remove(s.path())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session token: %w", err)
	}
	return nil
}

// MemoryTokenStore はメモリ上にセッションIDを保持する。テストと一時利用向け。
type MemoryTokenStore struct {
	mu    sync.Mutex
	token string
}

// Load は保持中のセッションIDを返す。
func (s *MemoryTokenStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

// Save はセッションIDを保持する。
func (s *MemoryTokenStore) Save(token string) error {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

// Clear は保持中のセッションIDを消す。
func (s *MemoryTokenStore) Clear() error {
	return s.Save("")
}

var (
	_ TokenStore = (*FileTokenStore)(nil)
	_ TokenStore = (*MemoryTokenStore)(nil)
)
