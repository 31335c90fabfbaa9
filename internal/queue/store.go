package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	logx "postbot/pkg/logx"
)

// Store is the durable FIFO of pending items. Every mutation is written to
// disk before it becomes visible; a failed write leaves the queue untouched.
type Store struct {
	mu    sync.Mutex
	fs    afero.Fs
	path  string
	items []Item
	index map[string]struct{}
	rng   *rand.Rand
	log   logx.Logger
}

type Option func(*Store)

// WithRand injects the random source used by PopRandom.
func WithRand(r *rand.Rand) Option {
	return func(s *Store) { s.rng = r }
}

func WithLogger(log logx.Logger) Option {
	return func(s *Store) { s.log = log }
}

// Open loads the queue file at path. A missing file yields an empty queue.
func Open(fsys afero.Fs, path string, opts ...Option) (*Store, error) {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if path == "" {
		return nil, errors.New("queue: empty path")
	}
	s := &Store{fs: fsys, path: path, index: map[string]struct{}{}}
	for _, o := range opts {
		o(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}

	items, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		if it.validate() != nil {
			s.log.Warn("dropping invalid queue entry", logx.String("id", it.ID), logx.String("unique_id", it.UniqueID))
			continue
		}
		if _, dup := s.index[it.UniqueID]; dup {
			s.log.Warn("dropping duplicate queue entry", logx.String("unique_id", it.UniqueID))
			continue
		}
		s.index[it.UniqueID] = struct{}{}
		s.items = append(s.items, it)
	}
	s.log.Info("queue loaded", logx.String("path", path), logx.Int("items", len(s.items)))
	return s, nil
}

func (s *Store) load() ([]Item, error) {
	b, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("queue: read %s: %w", s.path, err)
	}
	if len(b) == 0 {
		return nil, nil
	}
	var items []Item
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("queue: decode %s: %w", s.path, err)
	}
	return items, nil
}

// persistLocked writes next to a temp file and renames it over the queue file.
func (s *Store) persistLocked(next []Item) error {
	if next == nil {
		next = []Item{}
	}
	b, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	if dir := filepath.Dir(s.path); dir != "." && dir != "" {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: %v", ErrPersist, err)
		}
	}
	tmp := s.path + ".tmp"
	f, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	if err := f.Close(); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}

// Enqueue appends it to the tail. ErrDuplicate means the queue was not changed.
func (s *Store) Enqueue(ctx context.Context, it Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := it.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.index[it.UniqueID]; dup {
		return ErrDuplicate
	}
	next := make([]Item, len(s.items), len(s.items)+1)
	copy(next, s.items)
	next = append(next, it)
	if err := s.persistLocked(next); err != nil {
		return err
	}
	s.items = next
	s.index[it.UniqueID] = struct{}{}
	return nil
}

// PopFront removes up to n items from the head, preserving order.
func (s *Store) PopFront(ctx context.Context, n int) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || len(s.items) == 0 {
		return nil, nil
	}
	if n > len(s.items) {
		n = len(s.items)
	}
	taken := append([]Item(nil), s.items[:n]...)
	rest := append([]Item(nil), s.items[n:]...)
	if err := s.commitLocked(taken, rest); err != nil {
		return nil, err
	}
	return taken, nil
}

// PopRandom removes min(n, Len()) distinct items chosen uniformly at random.
// The remaining items keep their relative order.
func (s *Store) PopRandom(ctx context.Context, n int) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || len(s.items) == 0 {
		return nil, nil
	}
	total := len(s.items)
	if n > total {
		n = total
	}

	// partial Fisher-Yates over indices
	idx := make([]int, total)
	for i := range idx {
		idx[i] = i
	}
	for i := 0; i < n; i++ {
		j := i + s.rng.Intn(total-i)
		idx[i], idx[j] = idx[j], idx[i]
	}
	chosen := make(map[int]struct{}, n)
	taken := make([]Item, 0, n)
	for _, i := range idx[:n] {
		chosen[i] = struct{}{}
		taken = append(taken, s.items[i])
	}
	rest := make([]Item, 0, total-n)
	for i, it := range s.items {
		if _, ok := chosen[i]; !ok {
			rest = append(rest, it)
		}
	}
	if err := s.commitLocked(taken, rest); err != nil {
		return nil, err
	}
	return taken, nil
}

func (s *Store) commitLocked(taken, rest []Item) error {
	if err := s.persistLocked(rest); err != nil {
		return err
	}
	s.items = rest
	for _, it := range taken {
		delete(s.index, it.UniqueID)
	}
	return nil
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Items returns a copy of the queue in order.
func (s *Store) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Item(nil), s.items...)
}

func (s *Store) Path() string { return s.path }
