// Package auth implements the credential pool: selection strategies, health
// tracking, exponential backoff cooldowns and per-model locks for providers
// with split quota buckets.
package auth

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kwanLeeFrmVi/9router/internal/model"
)

// Selector chooses one eligible connection among candidates.
type Selector interface {
	Pick(ctx context.Context, candidates []*model.ProviderConnection, sticky int) (*model.ProviderConnection, error)
}

// FillFirstSelector always picks the eligible connection with the smallest
// Priority. Ties are broken by connection ID for stable ordering.
type FillFirstSelector struct{}

// Pick implements Selector.
func (FillFirstSelector) Pick(_ context.Context, candidates []*model.ProviderConnection, _ int) (*model.ProviderConnection, error) {
	if len(candidates) == 0 {
		return nil, ErrNoneEligible
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Priority < best.Priority || (c.Priority == best.Priority && c.ID < best.ID) {
			best = c
		}
	}
	return best, nil
}

// RoundRobinSelector implements sticky round-robin: the most recently used
// connection is reused until it accumulates stickyLimit consecutive uses,
// then the least-recently-used connection (ties broken by lowest priority)
// takes over.
type RoundRobinSelector struct{}

// Pick implements Selector.
func (RoundRobinSelector) Pick(_ context.Context, candidates []*model.ProviderConnection, stickyLimit int) (*model.ProviderConnection, error) {
	if len(candidates) == 0 {
		return nil, ErrNoneEligible
	}
	if stickyLimit <= 0 {
		stickyLimit = 3
	}

	var current *model.ProviderConnection
	for _, c := range candidates {
		if current == nil || c.Usage.LastUsedAt.After(current.Usage.LastUsedAt) {
			current = c
		}
	}
	if current != nil && current.Usage.ConsecutiveUseCount < stickyLimit {
		return current, nil
	}

	// Switch to the least-recently-used connection (zero value sorts first).
	least := candidates[0]
	for _, c := range candidates[1:] {
		if c.Usage.LastUsedAt.Before(least.Usage.LastUsedAt) ||
			(c.Usage.LastUsedAt.Equal(least.Usage.LastUsedAt) && c.Priority < least.Priority) {
			least = c
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	return least, nil
}

// machineMutexes shards per-machine selection locks so that credential
// selection is serialized per machine but never globally.
type machineMutexes struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newMachineMutexes() *machineMutexes {
	return &machineMutexes{locks: make(map[string]*sync.Mutex)}
}

func (m *machineMutexes) forMachine(machineID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[machineID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[machineID] = l
	}
	return l
}

// modelLocks is the process-local, non-persistent exclusion table for
// multi-bucket providers: key = connectionID + ":" + model -> expiry.
type modelLocks struct {
	mu      sync.Mutex
	expires map[string]time.Time
}

func newModelLocks() *modelLocks {
	return &modelLocks{expires: make(map[string]time.Time)}
}

func lockKey(connID, model string) string { return connID + ":" + model }

func (l *modelLocks) lock(connID, model string, until time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expires[lockKey(connID, model)] = until
}

// locked reports whether (connID, model) is still excluded, lazily evicting
// expired entries on read.
func (l *modelLocks) locked(connID, model string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := lockKey(connID, model)
	until, ok := l.expires[key]
	if !ok {
		return false
	}
	if !until.After(now) {
		delete(l.expires, key)
		return false
	}
	return true
}
