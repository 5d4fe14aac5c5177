package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"prefixd/internal/registry/models"
	id "prefixd/pkg/domain"
	dErrors "prefixd/pkg/domain-errors"
	"prefixd/pkg/platform/sentinel"
	txcontext "prefixd/pkg/platform/tx"
)

const uniqueViolation = "23505"

// PostgresStore persists registry state in PostgreSQL. Amounts are NUMERIC(20,0) so the
// full uint64 range round-trips; they travel as decimal text.
//
// This store is pure I/O: authorization and state rules stay in the service.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// RunInTx opens a transaction, carries it in ctx so that the audit outbox shares the
// commit, and locks every row it reads with FOR UPDATE.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin registry tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	txCtx := txcontext.WithTx(ctx, sqlTx)
	txCtx, hooks := txcontext.WithHooks(txCtx)
	if err = fn(txCtx, &postgresTx{tx: sqlTx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit registry tx: %w", err)
	}
	hooks.Run()
	return nil
}

type postgresTx struct {
	tx *sql.Tx
}

type rowScanner interface {
	Scan(dest ...any) error
}

func amountArg(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseAmount(raw string) (uint64, error) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return v, nil
}

func principalsArg(ps []id.Principal) any {
	raw := make([][]byte, len(ps))
	for i := range ps {
		raw[i] = append([]byte(nil), ps[i][:]...)
	}
	return pq.ByteaArray(raw)
}

func scanPrincipals(raw pq.ByteaArray) ([]id.Principal, error) {
	out := make([]id.Principal, len(raw))
	for i, b := range raw {
		if len(b) != id.Size {
			return nil, fmt.Errorf("principal %d has %d bytes", i, len(b))
		}
		copy(out[i][:], b)
	}
	return out, nil
}

func scanFixed(dst []byte, src []byte, what string) error {
	if len(src) != len(dst) {
		return fmt.Errorf("%s has %d bytes", what, len(src))
	}
	copy(dst, src)
	return nil
}

func (t *postgresTx) Initialize(ctx context.Context, cfg *models.RegistryConfig, dir *models.VerifierDirectory, treasury *models.Treasury) error {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO registry_config (id, admin, current_fee, paused, created_at, updated_at)
		VALUES (1, $1, $2::numeric, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, cfg.Admin[:], amountArg(cfg.CurrentFee), cfg.Paused, cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert registry config: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("insert registry config rows affected: %w", err)
	} else if n == 0 {
		return sentinel.ErrAlreadyUsed
	}
	if err := t.SaveDirectory(ctx, dir); err != nil {
		return err
	}
	return t.SaveTreasury(ctx, treasury)
}

func (t *postgresTx) GetConfig(ctx context.Context) (*models.RegistryConfig, error) {
	return getConfig(ctx, t.tx, " FOR UPDATE")
}

func getConfig(ctx context.Context, q txcontext.Executor, lock string) (*models.RegistryConfig, error) {
	var (
		cfg   models.RegistryConfig
		admin []byte
		fee   string
	)
	err := q.QueryRowContext(ctx, `
		SELECT admin, current_fee::text, paused, created_at, updated_at
		FROM registry_config WHERE id = 1`+lock,
	).Scan(&admin, &fee, &cfg.Paused, &cfg.CreatedAt, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get registry config: %w", err)
	}
	if err := scanFixed(cfg.Admin[:], admin, "admin"); err != nil {
		return nil, err
	}
	if cfg.CurrentFee, err = parseAmount(fee); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (t *postgresTx) SaveConfig(ctx context.Context, cfg *models.RegistryConfig) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE registry_config SET current_fee = $1::numeric, paused = $2, updated_at = $3
		WHERE id = 1
	`, amountArg(cfg.CurrentFee), cfg.Paused, cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save registry config: %w", err)
	}
	return nil
}

func (t *postgresTx) GetDirectory(ctx context.Context) (*models.VerifierDirectory, error) {
	return getDirectory(ctx, t.tx, " FOR UPDATE")
}

func getDirectory(ctx context.Context, q txcontext.Executor, lock string) (*models.VerifierDirectory, error) {
	var (
		dir       models.VerifierDirectory
		admin     []byte
		verifiers pq.ByteaArray
	)
	err := q.QueryRowContext(ctx, `
		SELECT admin, verifiers, updated_at FROM verifier_directory WHERE id = 1`+lock,
	).Scan(&admin, &verifiers, &dir.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get verifier directory: %w", err)
	}
	if err := scanFixed(dir.Admin[:], admin, "directory admin"); err != nil {
		return nil, err
	}
	if dir.Verifiers, err = scanPrincipals(verifiers); err != nil {
		return nil, err
	}
	return &dir, nil
}

func (t *postgresTx) SaveDirectory(ctx context.Context, dir *models.VerifierDirectory) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO verifier_directory (id, admin, verifiers, updated_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET verifiers = EXCLUDED.verifiers, updated_at = EXCLUDED.updated_at
	`, dir.Admin[:], principalsArg(dir.Verifiers), dir.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save verifier directory: %w", err)
	}
	return nil
}

func (t *postgresTx) GetTreasury(ctx context.Context) (*models.Treasury, error) {
	return getTreasury(ctx, t.tx, " FOR UPDATE")
}

func getTreasury(ctx context.Context, q txcontext.Executor, lock string) (*models.Treasury, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT balance::text FROM treasury WHERE id = 1`+lock).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get treasury: %w", err)
	}
	balance, err := parseAmount(raw)
	if err != nil {
		return nil, err
	}
	return &models.Treasury{Balance: balance}, nil
}

func (t *postgresTx) SaveTreasury(ctx context.Context, treasury *models.Treasury) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO treasury (id, balance) VALUES (1, $1::numeric)
		ON CONFLICT (id) DO UPDATE SET balance = EXCLUDED.balance
	`, amountArg(treasury.Balance))
	if err != nil {
		return fmt.Errorf("save treasury: %w", err)
	}
	return nil
}

func (t *postgresTx) GetAccount(ctx context.Context, p id.Principal) (*models.Account, error) {
	return getAccount(ctx, t.tx, p, " FOR UPDATE")
}

func getAccount(ctx context.Context, q txcontext.Executor, p id.Principal, lock string) (*models.Account, error) {
	var raw string
	err := q.QueryRowContext(ctx,
		`SELECT balance::text FROM accounts WHERE principal = $1`+lock, p[:],
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.Account{Principal: p}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	balance, err := parseAmount(raw)
	if err != nil {
		return nil, err
	}
	return &models.Account{Principal: p, Balance: balance}, nil
}

func (t *postgresTx) SaveAccount(ctx context.Context, acct *models.Account) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO accounts (principal, balance) VALUES ($1, $2::numeric)
		ON CONFLICT (principal) DO UPDATE SET balance = EXCLUDED.balance
	`, acct.Principal[:], amountArg(acct.Balance))
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

const prefixColumns = `key, owner, metadata_uri, metadata_hash, ref_hash, status, authority_keys,
	fee_paid::text, expiry_at, created_at, updated_at`

func scanPrefix(row rowScanner) (*models.Prefix, error) {
	var (
		p                models.Prefix
		owner, hash, ref []byte
		keys             pq.ByteaArray
		fee              string
		status           int16
	)
	if err := row.Scan(&p.Key, &owner, &p.MetadataURI, &hash, &ref, &status, &keys,
		&fee, &p.ExpiryAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := scanFixed(p.Owner[:], owner, "owner"); err != nil {
		return nil, err
	}
	if err := scanFixed(p.MetadataHash[:], hash, "metadata hash"); err != nil {
		return nil, err
	}
	if err := scanFixed(p.RefHash[:], ref, "ref hash"); err != nil {
		return nil, err
	}
	p.Status = models.Status(status)
	var err error
	if p.AuthorityKeys, err = scanPrincipals(keys); err != nil {
		return nil, err
	}
	if p.FeePaid, err = parseAmount(fee); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *postgresTx) GetPrefix(ctx context.Context, key string) (*models.Prefix, error) {
	return getPrefix(ctx, t.tx, key, " FOR UPDATE")
}

func getPrefix(ctx context.Context, q txcontext.Executor, key, lock string) (*models.Prefix, error) {
	p, err := scanPrefix(q.QueryRowContext(ctx,
		`SELECT `+prefixColumns+` FROM prefixes WHERE key = $1`+lock, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get prefix: %w", err)
	}
	return p, nil
}

func (t *postgresTx) CreatePrefix(ctx context.Context, p *models.Prefix) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO prefixes (key, owner, metadata_uri, metadata_hash, ref_hash, status, authority_keys,
			fee_paid, expiry_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11)
	`, p.Key, p.Owner[:], p.MetadataURI, p.MetadataHash[:], p.RefHash[:], int16(p.Status),
		principalsArg(p.AuthorityKeys), amountArg(p.FeePaid), p.ExpiryAt, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("create prefix: %w", err)
	}
	return nil
}

func (t *postgresTx) SavePrefix(ctx context.Context, p *models.Prefix) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE prefixes SET owner = $2, metadata_uri = $3, metadata_hash = $4, ref_hash = $5,
			status = $6, authority_keys = $7, updated_at = $8
		WHERE key = $1
	`, p.Key, p.Owner[:], p.MetadataURI, p.MetadataHash[:], p.RefHash[:], int16(p.Status),
		principalsArg(p.AuthorityKeys), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save prefix: %w", err)
	}
	return expectOneRow(res, "save prefix")
}

func (t *postgresTx) DeletePrefix(ctx context.Context, key string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM prefixes WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete prefix: %w", err)
	}
	return expectOneRow(res, "delete prefix")
}

func expectOneRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// Read side. No locks; each call sees the latest committed state.

func (s *PostgresStore) FindConfig(ctx context.Context) (*models.RegistryConfig, error) {
	return getConfig(ctx, s.db, "")
}

func (s *PostgresStore) FindDirectory(ctx context.Context) (*models.VerifierDirectory, error) {
	return getDirectory(ctx, s.db, "")
}

func (s *PostgresStore) FindTreasury(ctx context.Context) (*models.Treasury, error) {
	return getTreasury(ctx, s.db, "")
}

func (s *PostgresStore) FindAccount(ctx context.Context, p id.Principal) (*models.Account, error) {
	return getAccount(ctx, s.db, p, "")
}

func (s *PostgresStore) FindPrefix(ctx context.Context, key string) (*models.Prefix, error) {
	return getPrefix(ctx, s.db, key, "")
}

func (s *PostgresStore) ListPrefixes(ctx context.Context, filter PrefixFilter) ([]*models.Prefix, error) {
	var (
		where []string
		args  []any
	)
	args = append(args, filter.After)
	where = append(where, fmt.Sprintf("key > $%d", len(args)))
	if filter.Status != nil {
		args = append(args, int16(*filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Owner != nil {
		args = append(args, filter.Owner[:])
		where = append(where, fmt.Sprintf("owner = $%d", len(args)))
	}
	args = append(args, filter.PageSize())
	query := `SELECT ` + prefixColumns + ` FROM prefixes WHERE ` + strings.Join(where, " AND ") +
		fmt.Sprintf(" ORDER BY key LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list prefixes: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Prefix, 0)
	for rows.Next() {
		p, err := scanPrefix(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prefix: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prefixes: %w", err)
	}
	return out, nil
}
