package store

import (
	"context"

	"prefixd/internal/registry/models"
	id "prefixd/pkg/domain"
)

// Tx is the registry state visible inside one unit of work. Reads return copies;
// nothing written through Tx is visible outside it until RunInTx returns nil.
//
// Missing singletons and records report sentinel.ErrNotFound. CreatePrefix and
// Initialize report sentinel.ErrAlreadyUsed when the target already exists.
type Tx interface {
	Initialize(ctx context.Context, cfg *models.RegistryConfig, dir *models.VerifierDirectory, treasury *models.Treasury) error
	GetConfig(ctx context.Context) (*models.RegistryConfig, error)
	SaveConfig(ctx context.Context, cfg *models.RegistryConfig) error
	GetDirectory(ctx context.Context) (*models.VerifierDirectory, error)
	SaveDirectory(ctx context.Context, dir *models.VerifierDirectory) error
	GetTreasury(ctx context.Context) (*models.Treasury, error)
	SaveTreasury(ctx context.Context, treasury *models.Treasury) error
	GetAccount(ctx context.Context, p id.Principal) (*models.Account, error)
	SaveAccount(ctx context.Context, acct *models.Account) error
	GetPrefix(ctx context.Context, key string) (*models.Prefix, error)
	CreatePrefix(ctx context.Context, p *models.Prefix) error
	SavePrefix(ctx context.Context, p *models.Prefix) error
	DeletePrefix(ctx context.Context, key string) error
}

var (
	_ Tx = (*MemoryTx)(nil)
	_ Tx = (*postgresTx)(nil)
)
