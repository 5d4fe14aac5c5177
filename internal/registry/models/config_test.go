package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "prefixd/pkg/domain"
	dErrors "prefixd/pkg/domain-errors"
)

func TestRegistryConfig(t *testing.T) {
	admin := id.Principal{0xAA}
	_, err := NewRegistryConfig(id.ZeroPrincipal, 1, now)
	require.Error(t, err)

	cfg, err := NewRegistryConfig(admin, 0, now)
	require.NoError(t, err)

	assert.NoError(t, cfg.RequireAdmin(admin))
	assert.True(t, dErrors.HasCode(cfg.RequireAdmin(id.Principal{1}), dErrors.CodeUnauthorizedAdmin))
	assert.True(t, dErrors.HasCode(cfg.RequirePositiveFee(), dErrors.CodeInsufficientFee))

	old := cfg.ApplyFee(500, now+1)
	assert.Zero(t, old)
	assert.NoError(t, cfg.RequirePositiveFee())

	assert.False(t, cfg.ApplyPause(true, now+2))
	assert.True(t, dErrors.HasCode(cfg.RequireNotPaused(), dErrors.CodeFeeOperationsPaused))
	assert.Equal(t, now+2, cfg.UpdatedAt)
}

func TestVerifierDirectory(t *testing.T) {
	d := NewVerifierDirectory(id.Principal{0xAA}, now)
	a, b, c := id.Principal{1}, id.Principal{2}, id.Principal{3}

	require.NoError(t, d.Add(a, now))
	require.NoError(t, d.Add(b, now))
	require.NoError(t, d.Add(c, now))

	t.Run("duplicate keeps the legacy status code", func(t *testing.T) {
		assert.True(t, dErrors.HasCode(d.Add(a, now), dErrors.CodeInvalidPrefixStatus))
	})

	t.Run("remove preserves order", func(t *testing.T) {
		require.NoError(t, d.Remove(b, now+5))
		assert.Equal(t, []id.Principal{a, c}, d.Verifiers)
		assert.Equal(t, now+5, d.UpdatedAt)
	})

	t.Run("removing an absent verifier is unauthorized", func(t *testing.T) {
		assert.True(t, dErrors.HasCode(d.Remove(b, now), dErrors.CodeUnauthorizedVerifier))
	})

	t.Run("membership gate", func(t *testing.T) {
		assert.NoError(t, d.RequireVerifier(a))
		assert.True(t, dErrors.HasCode(d.RequireVerifier(b), dErrors.CodeUnauthorizedVerifier))
	})
}

func TestVerifierDirectory_Capacity(t *testing.T) {
	d := NewVerifierDirectory(id.Principal{0xAA}, now)
	for i := 0; i < MaxVerifiers; i++ {
		require.NoError(t, d.Add(id.Principal{byte(i), byte(i >> 8), 1}, now))
	}
	err := d.Add(id.Principal{0xFF, 0xFF, 0xFF}, now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeVerifierLimitReached))
	assert.Len(t, d.Verifiers, MaxVerifiers)
}

func TestTreasuryAndAccount(t *testing.T) {
	tr := &Treasury{}
	require.NoError(t, tr.Deposit(10))
	assert.True(t, dErrors.HasCode(tr.Withdraw(11), dErrors.CodeInsufficientTreasuryBalance))
	require.NoError(t, tr.Withdraw(10))
	assert.Zero(t, tr.Balance)

	acct := &Account{Principal: id.Principal{1}, Balance: 5}
	assert.True(t, dErrors.HasCode(acct.Debit(6), dErrors.CodeInsufficientFee))
	require.NoError(t, acct.Debit(5))

	acct.Balance = math.MaxUint64
	assert.True(t, dErrors.HasCode(acct.Credit(1), dErrors.CodeInvariantViolation))
}
