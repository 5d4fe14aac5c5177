// Package store persists registry state. Both implementations expose the same unit of
// work: RunInTx hands fn a view whose writes become visible only if fn succeeds.
package store

import (
	"context"
	"sort"
	"sync"

	"prefixd/internal/registry/models"
	id "prefixd/pkg/domain"
	dErrors "prefixd/pkg/domain-errors"
	"prefixd/pkg/platform/sentinel"
	txcontext "prefixd/pkg/platform/tx"
)

// PrefixFilter narrows ListPrefixes. Results are ordered by key; After is an exclusive
// cursor.
type PrefixFilter struct {
	Status *models.Status
	Owner  *id.Principal
	After  string
	Limit  int
}

// MaxPageSize caps every ListPrefixes page.
const MaxPageSize = 100

// PageSize is the number of records a full page holds once Limit is clamped.
func (f PrefixFilter) PageSize() int {
	if f.Limit <= 0 || f.Limit > MaxPageSize {
		return MaxPageSize
	}
	return f.Limit
}

func (f PrefixFilter) matches(p *models.Prefix) bool {
	if f.Status != nil && p.Status != *f.Status {
		return false
	}
	if f.Owner != nil && p.Owner != *f.Owner {
		return false
	}
	return p.Key > f.After
}

type memoryState struct {
	config    *models.RegistryConfig
	directory *models.VerifierDirectory
	treasury  *models.Treasury
	prefixes  map[string]*models.Prefix
	accounts  map[id.Principal]uint64
}

// InMemoryStore keeps all registry state in process. One writer at a time holds the
// lock for the whole unit of work; readers never observe a partial commit.
type InMemoryStore struct {
	mu    sync.RWMutex
	state memoryState
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		state: memoryState{
			prefixes: make(map[string]*models.Prefix),
			accounts: make(map[id.Principal]uint64),
		},
	}
}

// RunInTx runs fn against an overlay of the committed state. Commit hooks registered
// on ctx during fn run after the overlay is applied.
func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	txCtx, hooks := txcontext.WithHooks(ctx)
	tx := &MemoryTx{
		base:     &s.state,
		prefixes: make(map[string]*models.Prefix),
		deleted:  make(map[string]bool),
		accounts: make(map[id.Principal]uint64),
	}
	if err := fn(txCtx, tx); err != nil {
		return err
	}
	tx.commit()
	hooks.Run()
	return nil
}

// MemoryTx is the write overlay of one unit of work.
type MemoryTx struct {
	base      *memoryState
	config    *models.RegistryConfig
	directory *models.VerifierDirectory
	treasury  *models.Treasury
	prefixes  map[string]*models.Prefix
	deleted   map[string]bool
	accounts  map[id.Principal]uint64
}

func (t *MemoryTx) commit() {
	if t.config != nil {
		t.base.config = t.config
	}
	if t.directory != nil {
		t.base.directory = t.directory
	}
	if t.treasury != nil {
		t.base.treasury = t.treasury
	}
	for key := range t.deleted {
		delete(t.base.prefixes, key)
	}
	for key, p := range t.prefixes {
		t.base.prefixes[key] = p
	}
	for p, balance := range t.accounts {
		t.base.accounts[p] = balance
	}
}

func (t *MemoryTx) GetConfig(_ context.Context) (*models.RegistryConfig, error) {
	if t.config != nil {
		return t.config.Clone(), nil
	}
	if t.base.config == nil {
		return nil, sentinel.ErrNotFound
	}
	return t.base.config.Clone(), nil
}

// Initialize creates the three singletons together.
func (t *MemoryTx) Initialize(_ context.Context, cfg *models.RegistryConfig, dir *models.VerifierDirectory, treasury *models.Treasury) error {
	if t.base.config != nil || t.config != nil {
		return sentinel.ErrAlreadyUsed
	}
	t.config = cfg.Clone()
	t.directory = dir.Clone()
	cp := *treasury
	t.treasury = &cp
	return nil
}

func (t *MemoryTx) SaveConfig(_ context.Context, cfg *models.RegistryConfig) error {
	t.config = cfg.Clone()
	return nil
}

func (t *MemoryTx) GetDirectory(_ context.Context) (*models.VerifierDirectory, error) {
	if t.directory != nil {
		return t.directory.Clone(), nil
	}
	if t.base.directory == nil {
		return nil, sentinel.ErrNotFound
	}
	return t.base.directory.Clone(), nil
}

func (t *MemoryTx) SaveDirectory(_ context.Context, dir *models.VerifierDirectory) error {
	t.directory = dir.Clone()
	return nil
}

func (t *MemoryTx) GetTreasury(_ context.Context) (*models.Treasury, error) {
	src := t.treasury
	if src == nil {
		src = t.base.treasury
	}
	if src == nil {
		return nil, sentinel.ErrNotFound
	}
	cp := *src
	return &cp, nil
}

func (t *MemoryTx) SaveTreasury(_ context.Context, treasury *models.Treasury) error {
	cp := *treasury
	t.treasury = &cp
	return nil
}

// GetAccount returns a zero-balance account for unknown principals.
func (t *MemoryTx) GetAccount(_ context.Context, p id.Principal) (*models.Account, error) {
	if balance, ok := t.accounts[p]; ok {
		return &models.Account{Principal: p, Balance: balance}, nil
	}
	return &models.Account{Principal: p, Balance: t.base.accounts[p]}, nil
}

func (t *MemoryTx) SaveAccount(_ context.Context, acct *models.Account) error {
	t.accounts[acct.Principal] = acct.Balance
	return nil
}

func (t *MemoryTx) GetPrefix(_ context.Context, key string) (*models.Prefix, error) {
	if p, ok := t.prefixes[key]; ok {
		return p.Clone(), nil
	}
	if t.deleted[key] {
		return nil, sentinel.ErrNotFound
	}
	p, ok := t.base.prefixes[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return p.Clone(), nil
}

// CreatePrefix fails with sentinel.ErrAlreadyUsed when a live record holds the key.
func (t *MemoryTx) CreatePrefix(ctx context.Context, p *models.Prefix) error {
	if _, err := t.GetPrefix(ctx, p.Key); err == nil {
		return sentinel.ErrAlreadyUsed
	}
	t.prefixes[p.Key] = p.Clone()
	return nil
}

func (t *MemoryTx) SavePrefix(ctx context.Context, p *models.Prefix) error {
	if _, err := t.GetPrefix(ctx, p.Key); err != nil {
		return err
	}
	t.prefixes[p.Key] = p.Clone()
	return nil
}

func (t *MemoryTx) DeletePrefix(ctx context.Context, key string) error {
	if _, err := t.GetPrefix(ctx, key); err != nil {
		return err
	}
	delete(t.prefixes, key)
	t.deleted[key] = true
	return nil
}

// Read side. These take the read lock and see committed state only.

func (s *InMemoryStore) FindConfig(_ context.Context) (*models.RegistryConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.config == nil {
		return nil, sentinel.ErrNotFound
	}
	return s.state.config.Clone(), nil
}

func (s *InMemoryStore) FindDirectory(_ context.Context) (*models.VerifierDirectory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.directory == nil {
		return nil, sentinel.ErrNotFound
	}
	return s.state.directory.Clone(), nil
}

func (s *InMemoryStore) FindTreasury(_ context.Context) (*models.Treasury, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.treasury == nil {
		return nil, sentinel.ErrNotFound
	}
	cp := *s.state.treasury
	return &cp, nil
}

func (s *InMemoryStore) FindAccount(_ context.Context, p id.Principal) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &models.Account{Principal: p, Balance: s.state.accounts[p]}, nil
}

func (s *InMemoryStore) FindPrefix(_ context.Context, key string) (*models.Prefix, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.prefixes[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *InMemoryStore) ListPrefixes(_ context.Context, filter PrefixFilter) ([]*models.Prefix, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Prefix, 0)
	for _, p := range s.state.prefixes {
		if filter.matches(p) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	if len(out) > filter.PageSize() {
		out = out[:filter.PageSize()]
	}
	return out, nil
}
