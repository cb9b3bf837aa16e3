package wallets

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists wallets in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed wallet store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const walletColumns = `
	id, label, address, sealed_key, priority, enabled,
	coin_balance, token_balance, balance_refreshed_at,
	energy_available, energy_limit, bandwidth_available, bandwidth_limit,
	min_coin_balance, min_token_balance, min_energy, thresholds_enabled,
	health, total_transactions, success_count, fail_count, last_used_at,
	last_error, created_at, updated_at`

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (p *PostgresStore) Create(ctx context.Context, w *Wallet) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO wallets (`+walletColumns+`) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9,
			$10, $11, $12, $13,
			$14, $15, $16, $17,
			$18, $19, $20, $21, $22,
			$23, $24, $25
		)`,
		w.ID, w.Label, w.Address, w.SealedKey, w.Priority, w.Enabled,
		w.Balance.Coin, w.Balance.Token, nullTime(w.Balance.RefreshedAt),
		w.Resources.EnergyAvailable, w.Resources.EnergyLimit, w.Resources.BandwidthAvailable, w.Resources.BandwidthLimit,
		w.Thresholds.MinCoinBalance, w.Thresholds.MinTokenBalance, w.Thresholds.MinEnergy, w.Thresholds.Enabled,
		string(w.Health), w.Stats.TotalTransactions, w.Stats.SuccessCount, w.Stats.FailCount, w.Stats.LastUsedAt,
		w.LastError, w.CreatedAt, w.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateAddress
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Wallet, error) {
	w, err := scanWallet(p.db.QueryRowContext(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return w, err
}

func (p *PostgresStore) GetByAddress(ctx context.Context, address string) (*Wallet, error) {
	w, err := scanWallet(p.db.QueryRowContext(ctx, `SELECT `+walletColumns+` FROM wallets WHERE address = $1`, address))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return w, err
}

func (p *PostgresStore) List(ctx context.Context) ([]*Wallet, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+walletColumns+` FROM wallets ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Update(ctx context.Context, w *Wallet) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE wallets SET
			label = $1, priority = $2, enabled = $3,
			min_coin_balance = $4, min_token_balance = $5, min_energy = $6, thresholds_enabled = $7,
			health = $8, updated_at = $9
		WHERE id = $10`,
		w.Label, w.Priority, w.Enabled,
		w.Thresholds.MinCoinBalance, w.Thresholds.MinTokenBalance, w.Thresholds.MinEnergy, w.Thresholds.Enabled,
		string(w.Health), w.UpdatedAt,
		w.ID,
	)
	return expectOneRow(result, err)
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM wallets WHERE id = $1`, id)
	return expectOneRow(result, err)
}

func (p *PostgresStore) ApplySnapshot(ctx context.Context, id string, snap Snapshot) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE wallets SET
			coin_balance = $1, token_balance = $2, balance_refreshed_at = $3,
			energy_available = $4, energy_limit = $5, bandwidth_available = $6, bandwidth_limit = $7,
			health = $8, last_error = $9, updated_at = NOW()
		WHERE id = $10`,
		snap.Balance.Coin, snap.Balance.Token, nullTime(snap.Balance.RefreshedAt),
		snap.Resources.EnergyAvailable, snap.Resources.EnergyLimit,
		snap.Resources.BandwidthAvailable, snap.Resources.BandwidthLimit,
		string(snap.Health), snap.LastError,
		id,
	)
	return expectOneRow(result, err)
}

func (p *PostgresStore) RecordAttempt(ctx context.Context, id string, success bool, at time.Time) error {
	successInc, failInc := 0, 1
	if success {
		successInc, failInc = 1, 0
	}
	result, err := p.db.ExecContext(ctx, `
		UPDATE wallets SET
			total_transactions = total_transactions + 1,
			success_count = success_count + $1,
			fail_count = fail_count + $2,
			last_used_at = $3
		WHERE id = $4`,
		successInc, failInc, at, id,
	)
	return expectOneRow(result, err)
}

func (p *PostgresStore) ResetStats(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE wallets SET
			total_transactions = 0, success_count = 0, fail_count = 0,
			last_used_at = NULL, updated_at = NOW()
		WHERE id = $1`, id)
	return expectOneRow(result, err)
}

func expectOneRow(result sql.Result, err error) error {
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanWallet(sc scanner) (*Wallet, error) {
	w := &Wallet{}
	var (
		health      string
		refreshedAt sql.NullTime
		lastUsedAt  sql.NullTime
	)
	err := sc.Scan(
		&w.ID, &w.Label, &w.Address, &w.SealedKey, &w.Priority, &w.Enabled,
		&w.Balance.Coin, &w.Balance.Token, &refreshedAt,
		&w.Resources.EnergyAvailable, &w.Resources.EnergyLimit, &w.Resources.BandwidthAvailable, &w.Resources.BandwidthLimit,
		&w.Thresholds.MinCoinBalance, &w.Thresholds.MinTokenBalance, &w.Thresholds.MinEnergy, &w.Thresholds.Enabled,
		&health, &w.Stats.TotalTransactions, &w.Stats.SuccessCount, &w.Stats.FailCount, &lastUsedAt,
		&w.LastError, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	w.Health = Health(health)
	if refreshedAt.Valid {
		w.Balance.RefreshedAt = refreshedAt.Time
	}
	if lastUsedAt.Valid {
		t := lastUsedAt.Time
		w.Stats.LastUsedAt = &t
	}
	return w, nil
}
