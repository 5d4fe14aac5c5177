package service

import (
	"context"
	"errors"
	"strconv"

	"prefixd/internal/registry/models"
	"prefixd/internal/registry/store"
	id "prefixd/pkg/domain"
	dErrors "prefixd/pkg/domain-errors"
	audit "prefixd/pkg/platform/audit"
	"prefixd/pkg/platform/sentinel"
	"prefixd/pkg/requestcontext"
)

// Initialize creates the configuration, verifier directory and treasury once. It needs
// no signer: bootstrap runs it from configuration before the API is exposed.
func (s *Service) Initialize(ctx context.Context, admin id.Principal, fee uint64) (*models.RegistryConfig, error) {
	var out *models.RegistryConfig
	err := s.run(ctx, "initialize", func(ctx context.Context, tx store.Tx) error {
		ts := now(ctx)
		cfg, err := models.NewRegistryConfig(admin, fee, ts)
		if err != nil {
			return err
		}
		err = tx.Initialize(ctx, cfg, models.NewVerifierDirectory(admin, ts), &models.Treasury{})
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return dErrors.New(dErrors.CodeAlreadyInitialized, "registry is already initialized")
		}
		if err != nil {
			return storeErr(err, "failed to initialize registry")
		}

		actor, _ := requestcontext.Principal(ctx)
		if actor.IsZero() {
			actor = admin
		}
		if err := s.audit.configEvent(ctx, audit.EventRegistryInitialized, actor, "", admin.String()); err != nil {
			return err
		}
		if err := s.audit.configEvent(ctx, audit.EventFeeUpdated, actor, "0", formatAmount(fee)); err != nil {
			return err
		}
		out = cfg
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, &models.Treasury{})
	return out, nil
}

// UpdateFee is admin-only and stays available while paused.
func (s *Service) UpdateFee(ctx context.Context, fee uint64) (*models.RegistryConfig, error) {
	var out *models.RegistryConfig
	err := s.run(ctx, "update_fee", func(ctx context.Context, tx store.Tx) error {
		signer, err := caller(ctx)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(ctx, tx)
		if err != nil {
			return err
		}
		if err := cfg.RequireAdmin(signer); err != nil {
			return err
		}
		old := cfg.ApplyFee(fee, now(ctx))
		if err := tx.SaveConfig(ctx, cfg); err != nil {
			return storeErr(err, "failed to save registry config")
		}
		if err := s.audit.configEvent(ctx, audit.EventFeeUpdated, signer, formatAmount(old), formatAmount(fee)); err != nil {
			return err
		}
		out = cfg
		return nil
	})
	return out, err
}

// SetPause is admin-only.
func (s *Service) SetPause(ctx context.Context, paused bool) (*models.RegistryConfig, error) {
	var out *models.RegistryConfig
	err := s.run(ctx, "set_pause", func(ctx context.Context, tx store.Tx) error {
		signer, err := caller(ctx)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(ctx, tx)
		if err != nil {
			return err
		}
		if err := cfg.RequireAdmin(signer); err != nil {
			return err
		}
		old := cfg.ApplyPause(paused, now(ctx))
		if err := tx.SaveConfig(ctx, cfg); err != nil {
			return storeErr(err, "failed to save registry config")
		}
		if err := s.audit.configEvent(ctx, audit.EventPauseUpdated, signer,
			strconv.FormatBool(old), strconv.FormatBool(paused)); err != nil {
			return err
		}
		out = cfg
		return nil
	})
	return out, err
}

// AddVerifier is admin-only.
func (s *Service) AddVerifier(ctx context.Context, verifier id.Principal) (*models.VerifierDirectory, error) {
	return s.mutateDirectory(ctx, "add_verifier", audit.EventVerifierAdded, verifier,
		func(d *models.VerifierDirectory, ts int64) error { return d.Add(verifier, ts) })
}

// RemoveVerifier is admin-only.
func (s *Service) RemoveVerifier(ctx context.Context, verifier id.Principal) (*models.VerifierDirectory, error) {
	return s.mutateDirectory(ctx, "remove_verifier", audit.EventVerifierRemoved, verifier,
		func(d *models.VerifierDirectory, ts int64) error { return d.Remove(verifier, ts) })
}

func (s *Service) mutateDirectory(ctx context.Context, op string, action audit.AuditEvent, verifier id.Principal,
	mutate func(*models.VerifierDirectory, int64) error,
) (*models.VerifierDirectory, error) {
	var out *models.VerifierDirectory
	err := s.run(ctx, op, func(ctx context.Context, tx store.Tx) error {
		signer, err := caller(ctx)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(ctx, tx)
		if err != nil {
			return err
		}
		if err := cfg.RequireAdmin(signer); err != nil {
			return err
		}
		dir, err := loadDirectory(ctx, tx)
		if err != nil {
			return err
		}
		if err := mutate(dir, now(ctx)); err != nil {
			return err
		}
		if err := tx.SaveDirectory(ctx, dir); err != nil {
			return storeErr(err, "failed to save verifier directory")
		}
		if err := s.audit.emit(ctx, audit.Event{
			Component: audit.ComponentVerifiers,
			Action:    string(action),
			Actor:     actorOf(signer),
			Subject:   verifier.String(),
			NewValue:  strconv.Itoa(len(dir.Verifiers)),
		}); err != nil {
			return err
		}
		out = dir
		return nil
	})
	return out, err
}

// WithdrawTreasury moves amount from escrow to an arbitrary destination account.
func (s *Service) WithdrawTreasury(ctx context.Context, amount uint64, to id.Principal) (*models.Treasury, error) {
	var out *models.Treasury
	err := s.run(ctx, "withdraw_treasury", func(ctx context.Context, tx store.Tx) error {
		signer, err := caller(ctx)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(ctx, tx)
		if err != nil {
			return err
		}
		if err := cfg.RequireAdmin(signer); err != nil {
			return err
		}
		if err := cfg.RequireNotPaused(); err != nil {
			return err
		}
		treasury, err := loadTreasury(ctx, tx)
		if err != nil {
			return err
		}
		if err := treasury.Withdraw(amount); err != nil {
			return err
		}
		if to.IsZero() {
			return dErrors.New(dErrors.CodeInvalidTreasuryAccount, "withdrawal destination is required")
		}
		dest, err := loadAccount(ctx, tx, to)
		if err != nil {
			return err
		}
		if err := dest.Credit(amount); err != nil {
			return err
		}
		if err := tx.SaveTreasury(ctx, treasury); err != nil {
			return storeErr(err, "failed to save treasury")
		}
		if err := tx.SaveAccount(ctx, dest); err != nil {
			return storeErr(err, "failed to save account")
		}
		if err := s.audit.emit(ctx, audit.Event{
			Component: audit.ComponentTreasury,
			Action:    string(audit.EventTreasuryWithdrawn),
			Actor:     actorOf(signer),
			Subject:   to.String(),
			NewValue:  formatAmount(treasury.Balance),
			Amount:    amount,
		}); err != nil {
			return err
		}
		out = treasury
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.AddWithdrawn(amount)
	}
	s.afterCommit(ctx, out)
	return out, nil
}

// CreditAccount funds a principal's ledger balance from outside the registry.
func (s *Service) CreditAccount(ctx context.Context, principal id.Principal, amount uint64) (*models.Account, error) {
	var out *models.Account
	err := s.run(ctx, "credit_account", func(ctx context.Context, tx store.Tx) error {
		signer, err := caller(ctx)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(ctx, tx)
		if err != nil {
			return err
		}
		if err := cfg.RequireAdmin(signer); err != nil {
			return err
		}
		if principal.IsZero() {
			return dErrors.New(dErrors.CodeInvalidInput, "principal is required")
		}
		if amount == 0 {
			return dErrors.New(dErrors.CodeInvalidInput, "amount must be positive")
		}
		acct, err := loadAccount(ctx, tx, principal)
		if err != nil {
			return err
		}
		if err := acct.Credit(amount); err != nil {
			return err
		}
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return storeErr(err, "failed to save account")
		}
		if err := s.audit.emit(ctx, audit.Event{
			Component: audit.ComponentLedger,
			Action:    string(audit.EventAccountCredited),
			Actor:     actorOf(signer),
			Subject:   principal.String(),
			NewValue:  formatAmount(acct.Balance),
			Amount:    amount,
		}); err != nil {
			return err
		}
		out = acct
		return nil
	})
	return out, err
}
