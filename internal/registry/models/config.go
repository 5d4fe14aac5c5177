package models

import (
	"math"

	"github.com/samber/lo"

	id "prefixd/pkg/domain"
	dErrors "prefixd/pkg/domain-errors"
)

// RegistryConfig is the singleton holding the admin identity, fee and pause switch.
// Admin is fixed at initialization and never changes afterwards.
type RegistryConfig struct {
	Admin      id.Principal
	CurrentFee uint64
	Paused     bool
	CreatedAt  int64
	UpdatedAt  int64
}

// NewRegistryConfig builds the initial configuration. Fee zero is allowed here; fee
// bearing operations refuse to run until a positive fee is set.
func NewRegistryConfig(admin id.Principal, fee uint64, now int64) (*RegistryConfig, error) {
	if admin.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "admin is required")
	}
	return &RegistryConfig{
		Admin:      admin,
		CurrentFee: fee,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Clone returns a copy safe to mutate.
func (c *RegistryConfig) Clone() *RegistryConfig {
	cp := *c
	return &cp
}

// RequireAdmin fails unless caller is the configured admin.
func (c *RegistryConfig) RequireAdmin(caller id.Principal) error {
	if caller != c.Admin {
		return dErrors.New(dErrors.CodeUnauthorizedAdmin, "caller is not the registry admin")
	}
	return nil
}

// RequireNotPaused gates every fee-bearing operation.
func (c *RegistryConfig) RequireNotPaused() error {
	if c.Paused {
		return dErrors.New(dErrors.CodeFeeOperationsPaused, "fee operations are paused")
	}
	return nil
}

// RequirePositiveFee fails when the current fee is zero.
func (c *RegistryConfig) RequirePositiveFee() error {
	if c.CurrentFee == 0 {
		return dErrors.New(dErrors.CodeInsufficientFee, "registry fee is zero")
	}
	return nil
}

// ApplyFee sets the fee and returns the previous value.
func (c *RegistryConfig) ApplyFee(fee uint64, now int64) uint64 {
	old := c.CurrentFee
	c.CurrentFee = fee
	c.UpdatedAt = now
	return old
}

// ApplyPause sets the pause flag and returns the previous value.
func (c *RegistryConfig) ApplyPause(paused bool, now int64) bool {
	old := c.Paused
	c.Paused = paused
	c.UpdatedAt = now
	return old
}

// VerifierDirectory is the ordered, duplicate-free set of principals allowed to
// approve or reject submissions.
type VerifierDirectory struct {
	Admin     id.Principal
	Verifiers []id.Principal
	UpdatedAt int64
}

func NewVerifierDirectory(admin id.Principal, now int64) *VerifierDirectory {
	return &VerifierDirectory{Admin: admin, Verifiers: []id.Principal{}, UpdatedAt: now}
}

func (d *VerifierDirectory) Clone() *VerifierDirectory {
	cp := *d
	cp.Verifiers = append([]id.Principal{}, d.Verifiers...)
	return &cp
}

// Contains is the membership test used by approve and reject.
func (d *VerifierDirectory) Contains(p id.Principal) bool {
	return lo.Contains(d.Verifiers, p)
}

// RequireVerifier fails unless caller is a listed verifier.
func (d *VerifierDirectory) RequireVerifier(caller id.Principal) error {
	if !d.Contains(caller) {
		return dErrors.New(dErrors.CodeUnauthorizedVerifier, "caller is not an authorized verifier")
	}
	return nil
}

// Add appends p. A duplicate reports InvalidPrefixStatus, matching the code existing
// clients already handle.
func (d *VerifierDirectory) Add(p id.Principal, now int64) error {
	if p.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "verifier is required")
	}
	if d.Contains(p) {
		return dErrors.New(dErrors.CodeInvalidPrefixStatus, "verifier already present")
	}
	if len(d.Verifiers) >= MaxVerifiers {
		return dErrors.New(dErrors.CodeVerifierLimitReached, "verifier directory is full")
	}
	d.Verifiers = append(d.Verifiers, p)
	d.UpdatedAt = now
	return nil
}

// Remove deletes p keeping the order of the rest. An absent entry reports
// UnauthorizedVerifier.
func (d *VerifierDirectory) Remove(p id.Principal, now int64) error {
	if !d.Contains(p) {
		return dErrors.New(dErrors.CodeUnauthorizedVerifier, "verifier not present")
	}
	d.Verifiers = lo.Without(d.Verifiers, p)
	d.UpdatedAt = now
	return nil
}

// Treasury is the custodial escrow balance.
type Treasury struct {
	Balance uint64
}

// Deposit credits the escrow.
func (t *Treasury) Deposit(amount uint64) error {
	sum, err := addAmount(t.Balance, amount)
	if err != nil {
		return err
	}
	t.Balance = sum
	return nil
}

// Withdraw debits the escrow, failing when it cannot cover amount.
func (t *Treasury) Withdraw(amount uint64) error {
	if t.Balance < amount {
		return dErrors.New(dErrors.CodeInsufficientTreasuryBalance, "treasury balance is insufficient")
	}
	t.Balance -= amount
	return nil
}

// Account is a principal's spendable balance in the ledger.
type Account struct {
	Principal id.Principal
	Balance   uint64
}

// Debit charges a fee against the account.
func (a *Account) Debit(amount uint64) error {
	if a.Balance < amount {
		return dErrors.New(dErrors.CodeInsufficientFee, "insufficient balance for fee")
	}
	a.Balance -= amount
	return nil
}

// Credit adds amount, rejecting overflow.
func (a *Account) Credit(amount uint64) error {
	sum, err := addAmount(a.Balance, amount)
	if err != nil {
		return err
	}
	a.Balance = sum
	return nil
}

func addAmount(a, b uint64) (uint64, error) {
	if b > math.MaxUint64-a {
		return 0, dErrors.New(dErrors.CodeInvariantViolation, "balance overflow")
	}
	return a + b, nil
}
