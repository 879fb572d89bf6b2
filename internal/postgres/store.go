package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/apperr"
	"github.com/ariefcatur/go-marketplace-orders/internal/funds"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/wallet"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// querier is what both the pool and a transaction offer.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct{ DB *pgxpool.Pool }

func (s *Store) WithTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	return s.run(ctx, func(t *tx) error { return fn(t) })
}

func (s *Store) WithFundsTx(ctx context.Context, fn func(tx funds.Tx) error) error {
	return s.run(ctx, func(t *tx) error { return fn(t) })
}

func (s *Store) run(ctx context.Context, fn func(t *tx) error) error {
	pgtx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = pgtx.Rollback(ctx) }()

	if err := fn(&tx{q: pgtx}); err != nil {
		return err
	}
	return pgtx.Commit(ctx)
}

func (s *Store) GetOrder(ctx context.Context, id string) (*orders.Order, error) {
	return loadOrder(ctx, s.DB, id, false)
}

func (s *Store) ListOrders(ctx context.Context, userID string, party orders.Party) ([]orders.Order, error) {
	col := "buyer_id"
	if party == orders.PartySeller {
		col = "seller_id"
	}
	rows, err := s.DB.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE `+col+` = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []orders.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *Store) ListExpiredActivated(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id FROM orders
		WHERE status = 'activated' AND payment_deadline < $1
		ORDER BY payment_deadline
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) GetIntent(ctx context.Context, id string) (*funds.Intent, error) {
	return loadIntent(ctx, s.DB, id, false)
}

func (s *Store) Wallet(ctx context.Context, userID string) (wallet.Wallet, error) {
	return loadWallet(ctx, s.DB, userID)
}

func (s *Store) Contact(ctx context.Context, userID string) (funds.Contact, error) {
	c := funds.Contact{UserID: userID}
	err := s.DB.QueryRow(ctx, `SELECT email, name FROM users WHERE id = $1`, userID).Scan(&c.Email, &c.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, apperr.NotFound("user %s not found", userID)
	}
	return c, err
}

type tx struct{ q querier }

func (t *tx) Wallet(ctx context.Context, userID string) (wallet.Wallet, error) {
	return loadWallet(ctx, t.q, userID)
}

func (t *tx) Credit(ctx context.Context, userID string, amount int64) (int64, error) {
	if err := wallet.ValidateAmount(amount); err != nil {
		return 0, err
	}
	if err := t.ensureUser(ctx, userID); err != nil {
		return 0, err
	}
	var bal int64
	err := t.q.QueryRow(ctx,
		`UPDATE users SET balance = balance + $2 WHERE id = $1 RETURNING balance`,
		userID, amount).Scan(&bal)
	return bal, err
}

func (t *tx) Debit(ctx context.Context, userID string, amount int64) (int64, error) {
	return t.debit(ctx, userID, amount, 0)
}

func (t *tx) Withdraw(ctx context.Context, userID string, amount int64) (int64, error) {
	return t.debit(ctx, userID, amount, amount)
}

// debit checks and subtracts in one statement; a row that no longer
// covers amount is left alone.
func (t *tx) debit(ctx context.Context, userID string, amount, withdrawn int64) (int64, error) {
	if err := wallet.ValidateAmount(amount); err != nil {
		return 0, err
	}
	var bal int64
	err := t.q.QueryRow(ctx, `
		UPDATE users
		SET balance = balance - $2, total_withdrawn = total_withdrawn + $3
		WHERE id = $1 AND balance >= $2
		RETURNING balance`, userID, amount, withdrawn).Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		w, werr := loadWallet(ctx, t.q, userID)
		if werr != nil {
			return 0, werr
		}
		return w.Balance, apperr.InsufficientFunds(w.Balance, amount)
	}
	return bal, err
}

// Wallets are created on first credit.
func (t *tx) ensureUser(ctx context.Context, userID string) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO users (id, currency) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		userID, wallet.DefaultCurrency)
	return err
}

func (t *tx) LockUsers(ctx context.Context, ids ...string) error {
	ids = slices.Clone(ids)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	for _, id := range ids {
		if err := t.ensureUser(ctx, id); err != nil {
			return err
		}
	}
	rows, err := t.q.Query(ctx,
		`SELECT id FROM users WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return err
	}
	rows.Close()
	return rows.Err()
}

func (t *tx) LockOrder(ctx context.Context, id string) (*orders.Order, error) {
	return loadOrder(ctx, t.q, id, true)
}

func (t *tx) InsertOrder(ctx context.Context, o *orders.Order) error {
	delivery, extensions, err := encodeOrderJSON(o)
	if err != nil {
		return err
	}
	_, err = t.q.Exec(ctx, `
		INSERT INTO orders (
			id, buyer_id, seller_id, gig_id, job_id, proposal_id, conversation_id,
			title, description, price, delivery_days, due_date,
			status, payment_status, total_amount, commission, seller_amount,
			activated_at, payment_deadline, payment_completed_at, start_date, completion_date,
			cancelled_at, cancelled_by, cancellation_reason,
			delivery, extensions, version, created_at, updated_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,
			$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,1,$28,$29
		)`,
		o.ID, o.BuyerID, o.SellerID, o.GigID, o.JobID, o.ProposalID, o.ConversationID,
		o.Title, o.Description, o.Price, o.DeliveryDays, o.DueDate,
		string(o.Status), string(o.PaymentStatus), o.TotalAmount, o.Commission, o.SellerAmount,
		o.ActivatedAt, o.PaymentDeadline, o.PaymentCompletedAt, o.StartDate, o.CompletionDate,
		o.CancelledAt, o.CancelledBy, o.CancellationReason,
		delivery, extensions, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return mapWriteErr(err, "order %s", o.ID)
	}
	o.Version = 1
	return nil
}

func (t *tx) UpdateOrder(ctx context.Context, o *orders.Order, expected orders.Status) error {
	delivery, extensions, err := encodeOrderJSON(o)
	if err != nil {
		return err
	}
	ct, err := t.q.Exec(ctx, `
		UPDATE orders SET
			status = $4, payment_status = $5, due_date = $6,
			total_amount = $7, commission = $8, seller_amount = $9,
			activated_at = $10, payment_deadline = $11, payment_completed_at = $12,
			start_date = $13, completion_date = $14,
			cancelled_at = $15, cancelled_by = $16, cancellation_reason = $17,
			delivery = $18, extensions = $19, conversation_id = $20, updated_at = $21,
			version = version + 1
		WHERE id = $1 AND status = $2 AND version = $3`,
		o.ID, string(expected), o.Version,
		string(o.Status), string(o.PaymentStatus), o.DueDate,
		o.TotalAmount, o.Commission, o.SellerAmount,
		o.ActivatedAt, o.PaymentDeadline, o.PaymentCompletedAt,
		o.StartDate, o.CompletionDate,
		o.CancelledAt, o.CancelledBy, o.CancellationReason,
		delivery, extensions, o.ConversationID, o.UpdatedAt,
	)
	if err != nil {
		return mapWriteErr(err, "order %s", o.ID)
	}
	if ct.RowsAffected() != 1 {
		return apperr.Conflict("order %s was modified concurrently", o.ID)
	}
	o.Version++
	return nil
}

func (t *tx) HasInFlightOrder(ctx context.Context, q orders.InFlightQuery) (bool, error) {
	statuses := make([]string, len(orders.InFlightStatuses))
	for i, s := range orders.InFlightStatuses {
		statuses[i] = string(s)
	}
	where := []string{"status = ANY($1)"}
	args := []any{statuses}
	for _, f := range []struct{ col, val string }{
		{"buyer_id", q.BuyerID},
		{"seller_id", q.SellerID},
		{"gig_id", q.GigID},
		{"job_id", q.JobID},
	} {
		if f.val == "" {
			continue
		}
		args = append(args, f.val)
		where = append(where, fmt.Sprintf("%s = $%d", f.col, len(args)))
	}

	var exists bool
	err := t.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM orders WHERE `+strings.Join(where, " AND ")+`)`,
		args...).Scan(&exists)
	return exists, err
}

func (t *tx) GetGig(ctx context.Context, id string) (*orders.Gig, error) {
	g := &orders.Gig{ID: id}
	err := t.q.QueryRow(ctx, `
		SELECT seller_id, title, description, price, delivery_days
		FROM gigs WHERE id = $1`, id).
		Scan(&g.SellerID, &g.Title, &g.Description, &g.Price, &g.DeliveryDays)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("gig %s not found", id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := t.q.Query(ctx, `
		SELECT id, name, price, delivery_days
		FROM gig_tiers WHERE gig_id = $1 ORDER BY price`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var tier orders.GigTier
		if err := rows.Scan(&tier.ID, &tier.Name, &tier.Price, &tier.DeliveryDays); err != nil {
			return nil, err
		}
		g.Tiers = append(g.Tiers, tier)
	}
	return g, rows.Err()
}

func (t *tx) LockProposal(ctx context.Context, id string) (*orders.Proposal, error) {
	p := &orders.Proposal{ID: id}
	err := t.q.QueryRow(ctx, `
		SELECT job_id, freelancer_id, bid_amount, delivery_days, status
		FROM proposals WHERE id = $1 FOR UPDATE`, id).
		Scan(&p.JobID, &p.FreelancerID, &p.BidAmount, &p.DeliveryDays, &p.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("proposal %s not found", id)
	}
	return p, err
}

func (t *tx) SetProposalStatus(ctx context.Context, id, status string) error {
	ct, err := t.q.Exec(ctx, `UPDATE proposals SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return apperr.NotFound("proposal %s not found", id)
	}
	return nil
}

func (t *tx) LockJob(ctx context.Context, id string) (*orders.Job, error) {
	j := &orders.Job{ID: id}
	var status string
	err := t.q.QueryRow(ctx, `
		SELECT posted_by, title, description, status, hired_freelancer
		FROM jobs WHERE id = $1 FOR UPDATE`, id).
		Scan(&j.PostedBy, &j.Title, &j.Description, &status, &j.HiredFreelancer)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("job %s not found", id)
	}
	j.Status = orders.JobStatus(status)
	return j, err
}

func (t *tx) UpdateJob(ctx context.Context, j *orders.Job) error {
	ct, err := t.q.Exec(ctx,
		`UPDATE jobs SET status = $2, hired_freelancer = $3 WHERE id = $1`,
		j.ID, string(j.Status), j.HiredFreelancer)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return apperr.NotFound("job %s not found", j.ID)
	}
	return nil
}

func (t *tx) UpsertConversation(ctx context.Context, buyerID, sellerID string) (string, error) {
	// The no-op update makes RETURNING yield the existing row too.
	var id string
	err := t.q.QueryRow(ctx, `
		INSERT INTO conversations (id, buyer_id, seller_id) VALUES ($1, $2, $3)
		ON CONFLICT (buyer_id, seller_id) DO UPDATE SET buyer_id = EXCLUDED.buyer_id
		RETURNING id`, uuid.NewString(), buyerID, sellerID).Scan(&id)
	return id, err
}

func (t *tx) AddCounters(ctx context.Context, userID string, c orders.Counters) error {
	if err := t.ensureUser(ctx, userID); err != nil {
		return err
	}
	_, err := t.q.Exec(ctx, `
		UPDATE users SET
			completed_orders = completed_orders + $2,
			cancelled_orders = cancelled_orders + $3,
			earnings = earnings + $4
		WHERE id = $1`, userID, c.CompletedOrders, c.CancelledOrders, c.Earnings)
	return err
}

func (t *tx) InsertIntent(ctx context.Context, in *funds.Intent) error {
	details, err := json.Marshal(nonNilDetails(in.Details))
	if err != nil {
		return err
	}
	_, err = t.q.Exec(ctx, `
		INSERT INTO intents (
			id, user_id, kind, order_id, amount, method, details, code_hash,
			expires_at, status, failure_reason, created_at, completed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		in.ID, in.UserID, string(in.Kind), in.OrderID, in.Amount, string(in.Method), details, in.CodeHash,
		in.ExpiresAt, string(in.Status), in.FailureReason, in.CreatedAt, in.CompletedAt,
	)
	return mapWriteErr(err, "intent %s", in.ID)
}

func (t *tx) LockIntent(ctx context.Context, id string) (*funds.Intent, error) {
	return loadIntent(ctx, t.q, id, true)
}

func (t *tx) UpdateIntent(ctx context.Context, in *funds.Intent, expected funds.Status) error {
	ct, err := t.q.Exec(ctx, `
		UPDATE intents SET status = $3, failure_reason = $4, completed_at = $5
		WHERE id = $1 AND status = $2`,
		in.ID, string(expected), string(in.Status), in.FailureReason, in.CompletedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return apperr.Conflict("intent %s was already resolved", in.ID)
	}
	return nil
}

// Row helpers shared by the pool and transactions.

const orderColumns = `
	id, buyer_id, seller_id, gig_id, job_id, proposal_id, conversation_id,
	title, description, price, delivery_days, due_date,
	status, payment_status, total_amount, commission, seller_amount,
	activated_at, payment_deadline, payment_completed_at, start_date, completion_date,
	cancelled_at, cancelled_by, cancellation_reason,
	delivery, extensions, version, created_at, updated_at`

func loadOrder(ctx context.Context, q querier, id string, lock bool) (*orders.Order, error) {
	sql := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	o, err := scanOrder(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("order %s not found", id)
	}
	return o, err
}

func scanOrder(row pgx.Row) (*orders.Order, error) {
	var (
		o                    orders.Order
		status, payment      string
		delivery, extensions []byte
	)
	err := row.Scan(
		&o.ID, &o.BuyerID, &o.SellerID, &o.GigID, &o.JobID, &o.ProposalID, &o.ConversationID,
		&o.Title, &o.Description, &o.Price, &o.DeliveryDays, &o.DueDate,
		&status, &payment, &o.TotalAmount, &o.Commission, &o.SellerAmount,
		&o.ActivatedAt, &o.PaymentDeadline, &o.PaymentCompletedAt, &o.StartDate, &o.CompletionDate,
		&o.CancelledAt, &o.CancelledBy, &o.CancellationReason,
		&delivery, &extensions, &o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Status = orders.Status(status)
	o.PaymentStatus = orders.PaymentStatus(payment)
	if len(delivery) > 0 {
		if err := json.Unmarshal(delivery, &o.Delivery); err != nil {
			return nil, fmt.Errorf("decode delivery of order %s: %w", o.ID, err)
		}
	}
	if len(extensions) > 0 {
		if err := json.Unmarshal(extensions, &o.Extensions); err != nil {
			return nil, fmt.Errorf("decode extensions of order %s: %w", o.ID, err)
		}
		if len(o.Extensions) == 0 {
			o.Extensions = nil
		}
	}
	return &o, nil
}

func encodeOrderJSON(o *orders.Order) (delivery any, extensions []byte, err error) {
	if o.Delivery != nil {
		b, err := json.Marshal(o.Delivery)
		if err != nil {
			return nil, nil, err
		}
		delivery = b
	}
	exts := o.Extensions
	if exts == nil {
		exts = []orders.ExtensionRequest{}
	}
	extensions, err = json.Marshal(exts)
	return delivery, extensions, err
}

func loadIntent(ctx context.Context, q querier, id string, lock bool) (*funds.Intent, error) {
	sql := `
		SELECT id, user_id, kind, order_id, amount, method, details, code_hash,
		       expires_at, status, failure_reason, created_at, completed_at
		FROM intents WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	var (
		in                   funds.Intent
		kind, method, status string
		details              []byte
	)
	err := q.QueryRow(ctx, sql, id).Scan(
		&in.ID, &in.UserID, &kind, &in.OrderID, &in.Amount, &method, &details, &in.CodeHash,
		&in.ExpiresAt, &status, &in.FailureReason, &in.CreatedAt, &in.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("intent %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	in.Kind = funds.Kind(kind)
	in.Method = funds.Method(method)
	in.Status = funds.Status(status)
	if err := json.Unmarshal(details, &in.Details); err != nil {
		return nil, fmt.Errorf("decode details of intent %s: %w", id, err)
	}
	if len(in.Details) == 0 {
		in.Details = nil
	}
	return &in, nil
}

func nonNilDetails(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// loadWallet reports a zero wallet for users without a row yet.
func loadWallet(ctx context.Context, q querier, userID string) (wallet.Wallet, error) {
	w := wallet.Wallet{UserID: userID, Currency: wallet.DefaultCurrency}
	err := q.QueryRow(ctx,
		`SELECT balance, currency, total_withdrawn FROM users WHERE id = $1`, userID).
		Scan(&w.Balance, &w.Currency, &w.TotalWithdrawn)
	if errors.Is(err, pgx.ErrNoRows) {
		return w, nil
	}
	return w, err
}

func mapWriteErr(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return apperr.Conflict(format+" conflicts with an existing row", args...)
	}
	return err
}

var (
	_ orders.Store = (*Store)(nil)
	_ funds.Store  = (*Store)(nil)
	_ funds.Tx     = (*tx)(nil)
)
