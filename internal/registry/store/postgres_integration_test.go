//go:build integration

package store_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/suite"

	"prefixd/internal/registry/models"
	"prefixd/internal/registry/store"
	id "prefixd/pkg/domain"
	"prefixd/pkg/platform/sentinel"
	"prefixd/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.pg.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(context.Background(), containers.RegistryTables...))
	s.Require().NoError(s.store.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		admin := id.Principal{1}
		cfg, err := models.NewRegistryConfig(admin, 1_000, 100)
		if err != nil {
			return err
		}
		return tx.Initialize(ctx, cfg, models.NewVerifierDirectory(admin, 100), &models.Treasury{})
	}))
}

func (s *PostgresStoreSuite) TestInitializeOnlyOnce() {
	err := s.store.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		cfg, _ := models.NewRegistryConfig(id.Principal{2}, 1, 1)
		return tx.Initialize(ctx, cfg, models.NewVerifierDirectory(id.Principal{2}, 1), &models.Treasury{})
	})
	s.ErrorIs(err, sentinel.ErrAlreadyUsed)
}

func (s *PostgresStoreSuite) TestPrefixRoundTrip() {
	ctx := context.Background()
	p := models.NewPrefix(id.Principal{7}, "ACME", "ipfs://bafy", id.Hash{9}, []id.Principal{{3}, {4}}, 1_000, 100)

	s.Require().NoError(s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreatePrefix(ctx, p)
	}))

	got, err := s.store.FindPrefix(ctx, "ACME")
	s.Require().NoError(err)
	s.Equal(p, got)

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreatePrefix(ctx, p)
	})
	s.ErrorIs(err, sentinel.ErrAlreadyUsed)

	s.Require().NoError(s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.DeletePrefix(ctx, "ACME")
	}))
	_, err = s.store.FindPrefix(ctx, "ACME")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestRollbackDiscardsWrites() {
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.SaveAccount(ctx, &models.Account{Principal: id.Principal{5}, Balance: 10}); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	acct, err := s.store.FindAccount(ctx, id.Principal{5})
	s.Require().NoError(err)
	s.Zero(acct.Balance)
}

func (s *PostgresStoreSuite) TestAmountsUseFullRange() {
	ctx := context.Background()
	s.Require().NoError(s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.SaveAccount(ctx, &models.Account{Principal: id.Principal{6}, Balance: math.MaxUint64}); err != nil {
			return err
		}
		return tx.SaveTreasury(ctx, &models.Treasury{Balance: math.MaxUint64 - 1})
	}))

	acct, err := s.store.FindAccount(ctx, id.Principal{6})
	s.Require().NoError(err)
	s.Equal(uint64(math.MaxUint64), acct.Balance)

	t, err := s.store.FindTreasury(ctx)
	s.Require().NoError(err)
	s.Equal(uint64(math.MaxUint64-1), t.Balance)
}

func (s *PostgresStoreSuite) TestListPrefixes() {
	ctx := context.Background()
	owner := id.Principal{8}
	s.Require().NoError(s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, key := range []string{"CCC", "AAA", "BBB"} {
			p := models.NewPrefix(owner, key, "https://x", id.Hash{1}, nil, 1, 100)
			if key == "BBB" {
				p.ApplyApproval(id.Hash{2}, 101)
			}
			if err := tx.CreatePrefix(ctx, p); err != nil {
				return err
			}
		}
		return nil
	}))

	all, err := s.store.ListPrefixes(ctx, store.PrefixFilter{})
	s.Require().NoError(err)
	s.Require().Len(all, 3)
	s.Equal([]string{"AAA", "BBB", "CCC"}, []string{all[0].Key, all[1].Key, all[2].Key})

	active := models.StatusActive
	only, err := s.store.ListPrefixes(ctx, store.PrefixFilter{Status: &active, Owner: &owner})
	s.Require().NoError(err)
	s.Require().Len(only, 1)
	s.Equal("BBB", only[0].Key)

	page, err := s.store.ListPrefixes(ctx, store.PrefixFilter{After: "AAA", Limit: 1})
	s.Require().NoError(err)
	s.Require().Len(page, 1)
	s.Equal("BBB", page[0].Key)
}

func (s *PostgresStoreSuite) TestVerifierDirectory() {
	ctx := context.Background()
	s.Require().NoError(s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		dir, err := tx.GetDirectory(ctx)
		if err != nil {
			return err
		}
		if err := dir.Add(id.Principal{9}, 200); err != nil {
			return err
		}
		return tx.SaveDirectory(ctx, dir)
	}))

	dir, err := s.store.FindDirectory(ctx)
	s.Require().NoError(err)
	s.Equal([]id.Principal{{9}}, dir.Verifiers)
}
