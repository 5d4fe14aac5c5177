package service

import (
	"context"
	"errors"

	"prefixd/internal/registry/attestation"
	"prefixd/internal/registry/models"
	"prefixd/internal/registry/store"
	id "prefixd/pkg/domain"
	dErrors "prefixd/pkg/domain-errors"
	audit "prefixd/pkg/platform/audit"
	"prefixd/pkg/platform/sentinel"
	"prefixd/pkg/requestcontext"
)

// SubmitCommand carries a paid prefix submission. MetadataHash stays raw so that its
// length is checked in the same order as the other inputs.
type SubmitCommand struct {
	Prefix        string
	MetadataURI   string
	MetadataHash  []byte
	AuthorityKeys []id.Principal
	Attestations  []attestation.Operation
}

// UpdateMetadataCommand replaces a record's metadata.
type UpdateMetadataCommand struct {
	Prefix       string
	MetadataURI  string
	MetadataHash []byte
	Attestations []attestation.Operation
}

// SubmitPrefix reserves a prefix for the signer, moving the current fee into escrow.
func (s *Service) SubmitPrefix(ctx context.Context, cmd SubmitCommand) (*models.Prefix, error) {
	var (
		out      *models.Prefix
		treasury *models.Treasury
	)
	err := s.run(ctx, "submit_prefix", func(ctx context.Context, tx store.Tx) error {
		owner, err := caller(ctx)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(ctx, tx)
		if err != nil {
			return err
		}
		if err := cfg.RequireNotPaused(); err != nil {
			return err
		}
		key, err := models.ValidateSubmittedPrefix(cmd.Prefix)
		if err != nil {
			return err
		}
		hash, err := id.HashFromBytes(cmd.MetadataHash)
		if err != nil {
			return err
		}
		if err := models.ValidateMetadata(cmd.MetadataURI); err != nil {
			return err
		}
		if err := models.ValidateAuthorityKeys(cmd.AuthorityKeys); err != nil {
			return err
		}
		if _, err := tx.GetPrefix(ctx, key); err == nil {
			return dErrors.New(dErrors.CodePrefixAlreadyExists, "prefix already exists")
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return wrapPrefixErr(err)
		}
		if err := attestation.Verify(owner, hash, cmd.Attestations); err != nil {
			return err
		}
		if err := cfg.RequirePositiveFee(); err != nil {
			return err
		}
		fee := cfg.CurrentFee
		acct, err := loadAccount(ctx, tx, owner)
		if err != nil {
			return err
		}
		if err := acct.Debit(fee); err != nil {
			return err
		}
		treasury, err = loadTreasury(ctx, tx)
		if err != nil {
			return err
		}
		if err := treasury.Deposit(fee); err != nil {
			return err
		}

		p := models.NewPrefix(owner, key, cmd.MetadataURI, hash, cmd.AuthorityKeys, fee, now(ctx))
		if err := tx.CreatePrefix(ctx, p); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.New(dErrors.CodePrefixAlreadyExists, "prefix already exists")
			}
			return storeErr(err, "failed to create prefix")
		}
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return storeErr(err, "failed to save account")
		}
		if err := tx.SaveTreasury(ctx, treasury); err != nil {
			return storeErr(err, "failed to save treasury")
		}
		if err := s.audit.prefixEvent(ctx, audit.EventPrefixSubmitted, owner, key, func(e *audit.Event) {
			e.NewValue = hash.String()
			e.Amount = fee
		}); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.AddFeesCollected(out.FeePaid)
	}
	s.afterCommit(ctx, treasury, out.Key)
	return out, nil
}

// ApprovePrefix activates a pending, unexpired record on behalf of a listed verifier.
func (s *Service) ApprovePrefix(ctx context.Context, key string, ref id.Hash) (*models.Prefix, error) {
	return s.verifierDecision(ctx, "approve_prefix", key, func(ctx context.Context, verifier id.Principal, p *models.Prefix, ts int64) error {
		if err := p.CanApprove(ts); err != nil {
			return err
		}
		p.ApplyApproval(ref, ts)
		if err := s.audit.prefixEvent(ctx, audit.EventPrefixApproved, verifier, p.Key, func(e *audit.Event) {
			e.NewValue = ref.String()
		}); err != nil {
			return err
		}
		return s.audit.prefixEvent(ctx, audit.EventPrefixActivated, verifier, p.Key, func(e *audit.Event) {
			e.OldValue = models.StatusPending.String()
			e.NewValue = models.StatusActive.String()
		})
	})
}

// RejectPrefix closes a pending record. The reason is recorded in the audit trail only.
func (s *Service) RejectPrefix(ctx context.Context, key, reason string) (*models.Prefix, error) {
	return s.verifierDecision(ctx, "reject_prefix", key, func(ctx context.Context, verifier id.Principal, p *models.Prefix, ts int64) error {
		if err := p.CanReject(); err != nil {
			return err
		}
		p.ApplyRejection(ts)
		return s.audit.prefixEvent(ctx, audit.EventPrefixRejected, verifier, p.Key, func(e *audit.Event) {
			e.OldValue = models.StatusPending.String()
			e.NewValue = models.StatusRejected.String()
			e.Reason = reason
		})
	})
}

func (s *Service) verifierDecision(ctx context.Context, op, key string,
	decide func(ctx context.Context, verifier id.Principal, p *models.Prefix, ts int64) error,
) (*models.Prefix, error) {
	var out *models.Prefix
	err := s.run(ctx, op, func(ctx context.Context, tx store.Tx) error {
		verifier, err := caller(ctx)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(ctx, tx)
		if err != nil {
			return err
		}
		k, err := targetKey(key)
		if err != nil {
			return err
		}
		p, err := loadPrefix(ctx, tx, k)
		if err != nil {
			return err
		}
		if err := cfg.RequireNotPaused(); err != nil {
			return err
		}
		dir, err := loadDirectory(ctx, tx)
		if err != nil {
			return err
		}
		if err := dir.RequireVerifier(verifier); err != nil {
			return err
		}
		if err := decide(ctx, verifier, p, now(ctx)); err != nil {
			return err
		}
		if err := tx.SavePrefix(ctx, p); err != nil {
			return storeErr(err, "failed to save prefix")
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, nil, out.Key)
	return out, nil
}

// RefundPrefixFee returns the fee of a rejected or expired record to its owner and
// destroys the record. The same prefix may then be submitted again.
func (s *Service) RefundPrefixFee(ctx context.Context, key string) (*models.Treasury, error) {
	var (
		treasury *models.Treasury
		refunded uint64
		k        string
	)
	err := s.run(ctx, "refund_prefix_fee", func(ctx context.Context, tx store.Tx) error {
		owner, err := caller(ctx)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(ctx, tx)
		if err != nil {
			return err
		}
		if k, err = targetKey(key); err != nil {
			return err
		}
		p, err := loadPrefix(ctx, tx, k)
		if err != nil {
			return err
		}
		if err := cfg.RequireNotPaused(); err != nil {
			return err
		}
		if err := p.CanRefund(now(ctx)); err != nil {
			return err
		}
		if !p.IsOwner(owner) {
			return dErrors.New(dErrors.CodeUnauthorizedOwnerAction, "caller does not own the prefix")
		}
		treasury, err = loadTreasury(ctx, tx)
		if err != nil {
			return err
		}
		if p.FeePaid == 0 {
			return dErrors.New(dErrors.CodeRefundNotAllowed, "no fee to refund")
		}
		if err := treasury.Withdraw(p.FeePaid); err != nil {
			return err
		}
		acct, err := loadAccount(ctx, tx, p.Owner)
		if err != nil {
			return err
		}
		if err := acct.Credit(p.FeePaid); err != nil {
			return err
		}
		if err := tx.SaveTreasury(ctx, treasury); err != nil {
			return storeErr(err, "failed to save treasury")
		}
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return storeErr(err, "failed to save account")
		}
		if err := tx.DeletePrefix(ctx, p.Key); err != nil {
			return storeErr(err, "failed to delete prefix")
		}
		refunded = p.FeePaid
		return s.audit.prefixEvent(ctx, audit.EventPrefixRefunded, owner, p.Key, func(e *audit.Event) {
			e.OldValue = p.Status.String()
			e.Amount = p.FeePaid
		})
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.AddRefunded(refunded)
	}
	s.afterCommit(ctx, treasury, k)
	return treasury, nil
}

// UpdatePrefixMetadata replaces metadata under a fresh attestation. An Active record
// returns to Pending and needs approval again.
func (s *Service) UpdatePrefixMetadata(ctx context.Context, cmd UpdateMetadataCommand) (*models.Prefix, error) {
	return s.ownerUpdate(ctx, "update_prefix_metadata", cmd.Prefix, func(ctx context.Context, owner id.Principal, p *models.Prefix, ts int64) error {
		hash, err := id.HashFromBytes(cmd.MetadataHash)
		if err != nil {
			return err
		}
		if err := models.ValidateMetadata(cmd.MetadataURI); err != nil {
			return err
		}
		if err := attestation.Verify(owner, hash, cmd.Attestations); err != nil {
			return err
		}
		oldHash := p.MetadataHash
		oldStatus := p.Status
		p.ApplyMetadata(cmd.MetadataURI, hash, ts)
		return s.audit.prefixEvent(ctx, audit.EventPrefixMetadataUpdated, owner, p.Key, func(e *audit.Event) {
			e.OldValue = oldHash.String()
			e.NewValue = hash.String()
			if oldStatus != p.Status {
				e.Reason = "status " + oldStatus.String() + " -> " + p.Status.String()
			}
		})
	}, nil)
}

// UpdatePrefixAuthority replaces the delegated authority keys; status is unaffected.
func (s *Service) UpdatePrefixAuthority(ctx context.Context, key string, keys []id.Principal) (*models.Prefix, error) {
	precheck := func() error { return models.ValidateAuthorityKeys(keys) }
	return s.ownerUpdate(ctx, "update_prefix_authority", key, func(ctx context.Context, owner id.Principal, p *models.Prefix, ts int64) error {
		old := formatKeys(p.AuthorityKeys)
		p.ApplyAuthority(keys, ts)
		return s.audit.prefixEvent(ctx, audit.EventPrefixAuthorityUpdated, owner, p.Key, func(e *audit.Event) {
			e.OldValue = old
			e.NewValue = formatKeys(p.AuthorityKeys)
		})
	}, precheck)
}

// ownerUpdate loads the record, checks ownership and the not-Rejected guard, then
// applies mutate. precheck, when set, runs before the record is read.
func (s *Service) ownerUpdate(ctx context.Context, op, key string,
	mutate func(ctx context.Context, owner id.Principal, p *models.Prefix, ts int64) error,
	precheck func() error,
) (*models.Prefix, error) {
	var out *models.Prefix
	err := s.run(ctx, op, func(ctx context.Context, tx store.Tx) error {
		owner, err := caller(ctx)
		if err != nil {
			return err
		}
		if precheck != nil {
			if err := precheck(); err != nil {
				return err
			}
		}
		k, err := targetKey(key)
		if err != nil {
			return err
		}
		p, err := loadPrefix(ctx, tx, k)
		if err != nil {
			return err
		}
		if !p.IsOwner(owner) {
			return dErrors.New(dErrors.CodeUnauthorizedOwnerAction, "caller does not own the prefix")
		}
		if err := p.CanUpdate(); err != nil {
			return err
		}
		if err := mutate(ctx, owner, p, now(ctx)); err != nil {
			return err
		}
		if err := tx.SavePrefix(ctx, p); err != nil {
			return storeErr(err, "failed to save prefix")
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, nil, out.Key)
	return out, nil
}

// DeactivatePrefix suspends an Active record. Admin only.
func (s *Service) DeactivatePrefix(ctx context.Context, key string) (*models.Prefix, error) {
	return s.adminTransition(ctx, "deactivate_prefix", key, func(ctx context.Context, admin id.Principal, p *models.Prefix, ts int64) error {
		if err := p.CanDeactivate(); err != nil {
			return err
		}
		p.ApplyDeactivation(ts)
		return s.audit.prefixEvent(ctx, audit.EventPrefixDeactivated, admin, p.Key, func(e *audit.Event) {
			e.OldValue = models.StatusActive.String()
			e.NewValue = models.StatusInactive.String()
		})
	})
}

// ReactivatePrefix restores an Inactive record, keeping its reference hash. Admin only.
func (s *Service) ReactivatePrefix(ctx context.Context, key string) (*models.Prefix, error) {
	return s.adminTransition(ctx, "reactivate_prefix", key, func(ctx context.Context, admin id.Principal, p *models.Prefix, ts int64) error {
		if err := p.CanReactivate(); err != nil {
			return err
		}
		p.ApplyReactivation(ts)
		return s.audit.prefixEvent(ctx, audit.EventPrefixReactivated, admin, p.Key, func(e *audit.Event) {
			e.OldValue = models.StatusInactive.String()
			e.NewValue = models.StatusActive.String()
		})
	})
}

func (s *Service) adminTransition(ctx context.Context, op, key string,
	mutate func(ctx context.Context, admin id.Principal, p *models.Prefix, ts int64) error,
) (*models.Prefix, error) {
	var out *models.Prefix
	err := s.run(ctx, op, func(ctx context.Context, tx store.Tx) error {
		signer, err := caller(ctx)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(ctx, tx)
		if err != nil {
			return err
		}
		k, err := targetKey(key)
		if err != nil {
			return err
		}
		p, err := loadPrefix(ctx, tx, k)
		if err != nil {
			return err
		}
		if err := cfg.RequireAdmin(signer); err != nil {
			return err
		}
		if err := mutate(ctx, signer, p, now(ctx)); err != nil {
			return err
		}
		if err := tx.SavePrefix(ctx, p); err != nil {
			return storeErr(err, "failed to save prefix")
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, nil, out.Key)
	return out, nil
}

// RecoverPrefixOwner reassigns a record to newOwner. The admin signs the request and
// newOwner cosigns it; newOwner pays the current fee into escrow. The fee is not added
// to FeePaid and is never refundable.
func (s *Service) RecoverPrefixOwner(ctx context.Context, key string, newOwner id.Principal) (*models.Prefix, error) {
	var (
		out      *models.Prefix
		treasury *models.Treasury
		fee      uint64
	)
	err := s.run(ctx, "recover_prefix_owner", func(ctx context.Context, tx store.Tx) error {
		signer, err := caller(ctx)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(ctx, tx)
		if err != nil {
			return err
		}
		k, err := targetKey(key)
		if err != nil {
			return err
		}
		p, err := loadPrefix(ctx, tx, k)
		if err != nil {
			return err
		}
		if err := cfg.RequireAdmin(signer); err != nil {
			return err
		}
		if err := cfg.RequireNotPaused(); err != nil {
			return err
		}
		cosigner, ok := requestcontext.Cosigner(ctx)
		if !ok || newOwner.IsZero() || cosigner != newOwner {
			return dErrors.New(dErrors.CodeUnauthorizedOwnerAction, "new owner must cosign the recovery")
		}
		if err := cfg.RequirePositiveFee(); err != nil {
			return err
		}
		fee = cfg.CurrentFee
		payer, err := loadAccount(ctx, tx, newOwner)
		if err != nil {
			return err
		}
		if err := payer.Debit(fee); err != nil {
			return err
		}
		treasury, err = loadTreasury(ctx, tx)
		if err != nil {
			return err
		}
		if err := treasury.Deposit(fee); err != nil {
			return err
		}

		oldOwner := p.Owner
		p.ApplyOwnerRecovery(newOwner, now(ctx))
		if err := tx.SaveAccount(ctx, payer); err != nil {
			return storeErr(err, "failed to save account")
		}
		if err := tx.SaveTreasury(ctx, treasury); err != nil {
			return storeErr(err, "failed to save treasury")
		}
		if err := tx.SavePrefix(ctx, p); err != nil {
			return storeErr(err, "failed to save prefix")
		}
		if err := s.audit.prefixEvent(ctx, audit.EventPrefixOwnerRecovered, signer, p.Key, func(e *audit.Event) {
			e.OldValue = oldOwner.String()
			e.NewValue = newOwner.String()
			e.Amount = fee
		}); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.AddFeesCollected(fee)
	}
	s.afterCommit(ctx, treasury, out.Key)
	return out, nil
}
