package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mallkit/cart/internal/core/domain"
)

// LocalAdapter persists the whole cart snapshot under a single
// well-known JSON file. It backs guest and offline sessions: loaded once
// at startup, rewritten after every committed mutation.
type LocalAdapter struct {
	mu   sync.Mutex
	path string
}

func NewLocalAdapter(path string) *LocalAdapter {
	return &LocalAdapter{path: path}
}

func (l *LocalAdapter) Load(ctx context.Context) ([]domain.LineItem, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read()
}

func (l *LocalAdapter) Upsert(ctx context.Context, item domain.LineItem) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	items, err := l.read()
	if err != nil {
		return err
	}

	found := false
	for i := range items {
		if items[i].Key() == item.Key() {
			items[i] = item
			found = true
			break
		}
	}
	if !found {
		items = append(items, item)
	}

	return l.write(items)
}

func (l *LocalAdapter) Delete(ctx context.Context, key domain.ItemKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	items, err := l.read()
	if err != nil {
		return err
	}

	for i := range items {
		if items[i].Key() == key {
			items = append(items[:i], items[i+1:]...)
			return l.write(items)
		}
	}
	// absent key: nothing to do
	return nil
}

func (l *LocalAdapter) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write(nil)
}

func (l *LocalAdapter) read() ([]domain.LineItem, error) {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cart file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var items []domain.LineItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode cart file: %w", err)
	}
	return items, nil
}

// write replaces the file atomically via a temp file and rename, so a
// crash mid-write never leaves a torn snapshot behind.
func (l *LocalAdapter) write(items []domain.LineItem) error {
	if items == nil {
		items = []domain.LineItem{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cart file: %w", err)
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cart dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".cart-*")
	if err != nil {
		return fmt.Errorf("create temp cart file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp cart file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp cart file: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace cart file: %w", err)
	}
	return nil
}
