// Package memory provides an in-memory implementation of transport.ExchangeStore
// for tests and single-node deployments. Exchanges are lost when the process
// restarts. An optional size bound evicts the least recently used exchange.
package memory

import (
	"container/list"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rhuss/lmbroker/pkg/api"
	"github.com/rhuss/lmbroker/pkg/storage"
	"github.com/rhuss/lmbroker/pkg/transport"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

type entry struct {
	ex        api.Exchange
	tenantID  string
	deletedAt *time.Time
	lruElem   *list.Element
}

// Store is an in-memory ExchangeStore with optional LRU eviction.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	lruList *list.List // front = most recently used
	maxSize int        // 0 = unlimited
}

var _ transport.ExchangeStore = (*Store)(nil)

// New creates an in-memory store. A maxSize of 0 lets the store grow
// without limit; otherwise the least recently used exchange is evicted
// once the limit is reached.
func New(maxSize int) *Store {
	return &Store{
		entries: make(map[string]*entry),
		lruList: list.New(),
		maxSize: maxSize,
	}
}

// SaveExchange stores a copy of ex. Saving an ID twice returns
// storage.ErrConflict.
func (s *Store) SaveExchange(ctx context.Context, ex *api.Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[ex.ID]; exists {
		return storage.ErrConflict
	}

	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		s.evictOldest()
	}

	stored := *ex
	stored.TranscriptEntries = append([]api.TranscriptEntry(nil), ex.TranscriptEntries...)

	s.entries[ex.ID] = &entry{
		ex:       stored,
		tenantID: storage.ScopeFrom(ctx).Tenant,
		lruElem:  s.lruList.PushFront(ex.ID),
	}
	return nil
}

// GetExchange returns the exchange with the given ID, scoped to the
// context's scope. Deleted exchanges are reported as storage.ErrNotFound.
func (s *Store) GetExchange(ctx context.Context, id string) (*api.Exchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(ctx, id)
	if !ok {
		return nil, storage.ErrNotFound
	}
	s.lruList.MoveToFront(e.lruElem)

	ex := e.ex
	return &ex, nil
}

// DeleteExchange soft-deletes an exchange.
func (s *Store) DeleteExchange(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(ctx, id)
	if !ok {
		return storage.ErrNotFound
	}

	now := time.Now()
	e.deletedAt = &now
	return nil
}

// ListExchanges returns a page of the session's exchanges ordered by
// creation time, using exchange IDs as cursors.
func (s *Store) ListExchanges(ctx context.Context, sessionID string, opts transport.ListOptions) (*api.ExchangeList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scope := storage.ScopeFrom(ctx)

	var matches []api.Exchange
	for _, e := range s.entries {
		if e.deletedAt != nil || e.ex.SessionID != sessionID {
			continue
		}
		if !scope.Visible(e.tenantID) {
			continue
		}
		matches = append(matches, e.ex)
	}

	asc := opts.Order == "asc"
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if asc {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		if asc {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	var hasMore bool
	switch {
	case opts.After != "":
		idx := indexOf(matches, opts.After)
		if idx >= 0 {
			matches = matches[idx+1:]
		} else {
			matches = nil
		}
		hasMore = len(matches) > limit
		if hasMore {
			matches = matches[:limit]
		}
	case opts.Before != "":
		// The page ends right before the cursor.
		idx := indexOf(matches, opts.Before)
		if idx < 0 {
			idx = 0
		}
		hasMore = idx > limit
		matches = matches[max(0, idx-limit):idx]
	default:
		hasMore = len(matches) > limit
		if hasMore {
			matches = matches[:limit]
		}
	}

	result := &api.ExchangeList{
		Object:  "list",
		Data:    matches,
		HasMore: hasMore,
	}
	if len(matches) > 0 {
		result.FirstID = matches[0].ID
		result.LastID = matches[len(matches)-1].ID
	}
	if result.Data == nil {
		result.Data = []api.Exchange{}
	}
	return result, nil
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// lookup must be called with s.mu held.
func (s *Store) lookup(ctx context.Context, id string) (*entry, bool) {
	e, ok := s.entries[id]
	if !ok || e.deletedAt != nil {
		return nil, false
	}
	if !storage.ScopeFrom(ctx).Visible(e.tenantID) {
		return nil, false
	}
	return e, true
}

// evictOldest removes the least recently used entry.
// Must be called with s.mu held.
func (s *Store) evictOldest() {
	back := s.lruList.Back()
	if back == nil {
		return
	}
	s.lruList.Remove(back)
	delete(s.entries, back.Value.(string))
}

func indexOf(exchanges []api.Exchange, id string) int {
	for i := range exchanges {
		if exchanges[i].ID == id {
			return i
		}
	}
	return -1
}
