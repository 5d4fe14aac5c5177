package service

import (
	"context"
	"errors"
	"sync"

	"prefixd/internal/registry/models"
	"prefixd/internal/registry/store"
	id "prefixd/pkg/domain"
	dErrors "prefixd/pkg/domain-errors"
	"prefixd/pkg/platform/sentinel"
)

// GetPrefix returns a record, consulting the cache first when one is configured.
func (s *Service) GetPrefix(ctx context.Context, key string) (*models.Prefix, error) {
	k, err := lookupKey(key)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if p, err := s.cache.Get(ctx, k); err == nil {
			if s.metrics != nil {
				s.metrics.IncCacheHit()
			}
			return p, nil
		} else if !errors.Is(err, sentinel.ErrNotFound) && !errors.Is(err, sentinel.ErrUnavailable) {
			s.logger.WarnContext(ctx, "prefix cache read failed", "prefix", k, "error", err)
		}
		if s.metrics != nil {
			s.metrics.IncCacheMiss()
		}
	}

	seen := s.fence.snapshot()
	p, err := s.store.FindPrefix(ctx, k)
	if err != nil {
		return nil, wrapPrefixErr(err)
	}
	if s.cache != nil {
		filled, err := s.fence.fill(seen, func() error { return s.cache.Set(ctx, p) })
		if err != nil {
			s.logger.WarnContext(ctx, "prefix cache write failed", "prefix", k, "error", err)
		} else if !filled {
			s.logger.DebugContext(ctx, "prefix cache fill skipped after concurrent write", "prefix", k)
		}
	}
	return p, nil
}

// cacheFence stops a read-through fill from reinstating a record that a
// write committed and invalidated while the read was in flight. Writers
// advance the epoch before invalidating; fills run only while the epoch
// still matches the one seen before the store read.
type cacheFence struct {
	mu    sync.RWMutex
	epoch uint64
}

func (f *cacheFence) snapshot() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.epoch
}

func (f *cacheFence) advance() {
	f.mu.Lock()
	f.epoch++
	f.mu.Unlock()
}

func (f *cacheFence) fill(seen uint64, set func() error) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.epoch != seen {
		return false, nil
	}
	return true, set()
}

// ListPrefixes pages through records in key order.
func (s *Service) ListPrefixes(ctx context.Context, filter store.PrefixFilter) ([]*models.Prefix, error) {
	out, err := s.store.ListPrefixes(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list prefixes")
	}
	return out, nil
}

func (s *Service) GetConfig(ctx context.Context) (*models.RegistryConfig, error) {
	cfg, err := s.store.FindConfig(ctx)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotInitialized, "registry is not initialized")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load registry config")
	}
	return cfg, nil
}

func (s *Service) ListVerifiers(ctx context.Context) (*models.VerifierDirectory, error) {
	dir, err := s.store.FindDirectory(ctx)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotInitialized, "verifier directory is not initialized")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verifier directory")
	}
	return dir, nil
}

func (s *Service) GetTreasury(ctx context.Context) (*models.Treasury, error) {
	t, err := s.store.FindTreasury(ctx)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeInvalidTreasuryAccount, "treasury account is missing")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load treasury")
	}
	return t, nil
}

// GetAccount never fails for an unknown principal; its balance is zero.
func (s *Service) GetAccount(ctx context.Context, p id.Principal) (*models.Account, error) {
	acct, err := s.store.FindAccount(ctx, p)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load account")
	}
	return acct, nil
}
