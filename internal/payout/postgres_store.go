package payout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/mbd888/payoutd/internal/chain"
)

// PostgresStore persists orders and attempts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed order store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const orderColumns = `
	id, reference, pay_type, amount, fiat_total, service_fee, destination,
	payment_status, transfer_status,
	assigned_wallet_id, excluded_wallets, submitted, submitted_tx_ref, submitted_at, tx_reference,
	retry_count, last_failure, last_error, terminal,
	expires_at, paid_at, transferred_at, created_at, updated_at, version`

func (p *PostgresStore) Create(ctx context.Context, o *Order) error {
	o.Version = 1
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payout_orders (`+orderColumns+`) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9,
			$10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19,
			$20, $21, $22, $23, $24, $25
		)`,
		o.ID, o.Reference, string(o.PayType), o.Amount, o.FiatTotal, o.ServiceFee, o.Destination,
		string(o.PaymentStatus), string(o.TransferStatus),
		o.AssignedWalletID, pq.Array(o.ExcludedWallets), o.Submitted, o.SubmittedTxRef, o.SubmittedAt, o.TxReference,
		o.RetryCount, o.LastFailure, o.LastError, o.Terminal,
		o.ExpiresAt, o.PaidAt, o.TransferredAt, o.CreatedAt, o.UpdatedAt, o.Version,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicateRef
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Order, error) {
	o, err := scanOrder(p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM payout_orders WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	return o, err
}

func (p *PostgresStore) GetByReference(ctx context.Context, ref string) (*Order, error) {
	o, err := scanOrder(p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM payout_orders WHERE reference = $1`, ref))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	return o, err
}

func (p *PostgresStore) Update(ctx context.Context, o *Order) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE payout_orders SET
			payment_status = $1, transfer_status = $2,
			assigned_wallet_id = $3, excluded_wallets = $4, submitted = $5,
			submitted_tx_ref = $6, submitted_at = $7, tx_reference = $8,
			retry_count = $9, last_failure = $10, last_error = $11, terminal = $12,
			paid_at = $13, transferred_at = $14, updated_at = $15,
			version = version + 1
		WHERE id = $16 AND version = $17`,
		string(o.PaymentStatus), string(o.TransferStatus),
		o.AssignedWalletID, pq.Array(o.ExcludedWallets), o.Submitted,
		o.SubmittedTxRef, o.SubmittedAt, o.TxReference,
		o.RetryCount, o.LastFailure, o.LastError, o.Terminal,
		o.PaidAt, o.TransferredAt, o.UpdatedAt,
		o.ID, o.Version,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := p.Get(ctx, o.ID); err != nil {
			return err
		}
		return ErrConflict
	}
	o.Version++
	return nil
}

func (p *PostgresStore) ListDispatchable(ctx context.Context, limit int) ([]*Order, error) {
	return p.query(ctx, `
		SELECT `+orderColumns+` FROM payout_orders
		WHERE payment_status = 'paid' AND transfer_status = 'pending' AND NOT terminal
		ORDER BY created_at, id
		LIMIT $1`, limit)
}

func (p *PostgresStore) ListByTransferStatus(ctx context.Context, status TransferStatus, limit int) ([]*Order, error) {
	return p.query(ctx, `
		SELECT `+orderColumns+` FROM payout_orders
		WHERE transfer_status = $1
		ORDER BY created_at, id
		LIMIT $2`, string(status), limit)
}

func (p *PostgresStore) ListExpiredUnpaid(ctx context.Context, before time.Time, limit int) ([]*Order, error) {
	return p.query(ctx, `
		SELECT `+orderColumns+` FROM payout_orders
		WHERE payment_status = 'pending' AND expires_at < $1
		ORDER BY created_at, id
		LIMIT $2`, before, limit)
}

// List returns orders newest first.
func (p *PostgresStore) List(ctx context.Context, f ListFilter) ([]*Order, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.TransferStatus != "" {
		where = append(where, "transfer_status = "+arg(string(f.TransferStatus)))
	}
	if f.PaymentStatus != "" {
		where = append(where, "payment_status = "+arg(string(f.PaymentStatus)))
	}
	if !f.BeforeTime.IsZero() {
		where = append(where, fmt.Sprintf("(created_at, id) < (%s, %s)", arg(f.BeforeTime), arg(f.BeforeID)))
	}

	q := `SELECT ` + orderColumns + ` FROM payout_orders`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		q += ` LIMIT ` + arg(f.Limit)
	}
	return p.query(ctx, q, args...)
}

func (p *PostgresStore) query(ctx context.Context, q string, args ...any) ([]*Order, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreateAttempt(ctx context.Context, a *Attempt) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payout_attempts (
			id, order_id, wallet_id, outcome, reason, error, retry_count,
			tx_ref, energy_ticket_id, manual, latency_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.OrderID, a.WalletID, string(a.Outcome), a.Reason, a.Error, a.RetryCount,
		a.TxRef, a.EnergyTicketID, a.Manual, a.LatencyMS, a.CreatedAt,
	)
	return err
}

func (p *PostgresStore) ListAttempts(ctx context.Context, orderID string) ([]*Attempt, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, order_id, wallet_id, outcome, reason, error, retry_count,
		       tx_ref, energy_ticket_id, manual, latency_ms, created_at
		FROM payout_attempts
		WHERE order_id = $1
		ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Attempt
	for rows.Next() {
		var a Attempt
		var outcome string
		if err := rows.Scan(&a.ID, &a.OrderID, &a.WalletID, &outcome, &a.Reason, &a.Error, &a.RetryCount,
			&a.TxRef, &a.EnergyTicketID, &a.Manual, &a.LatencyMS, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Outcome = Outcome(outcome)
		out = append(out, &a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(sc scanner) (*Order, error) {
	var (
		o                                  Order
		payType, paymentStatus, transferSt string
		excluded                           pq.StringArray
		submittedAt, paidAt, transferredAt sql.NullTime
	)
	err := sc.Scan(
		&o.ID, &o.Reference, &payType, &o.Amount, &o.FiatTotal, &o.ServiceFee, &o.Destination,
		&paymentStatus, &transferSt,
		&o.AssignedWalletID, &excluded, &o.Submitted, &o.SubmittedTxRef, &submittedAt, &o.TxReference,
		&o.RetryCount, &o.LastFailure, &o.LastError, &o.Terminal,
		&o.ExpiresAt, &paidAt, &transferredAt, &o.CreatedAt, &o.UpdatedAt, &o.Version,
	)
	if err != nil {
		return nil, err
	}
	o.PayType = chain.Asset(payType)
	o.PaymentStatus = PaymentStatus(paymentStatus)
	o.TransferStatus = TransferStatus(transferSt)
	if len(excluded) > 0 {
		o.ExcludedWallets = []string(excluded)
	}
	o.SubmittedAt = timePtr(submittedAt)
	o.PaidAt = timePtr(paidAt)
	o.TransferredAt = timePtr(transferredAt)
	return &o, nil
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)
