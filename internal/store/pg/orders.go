package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"doorlist.app/internal/ledger"
	"doorlist.app/internal/payment"
)

var _ payment.Store = (*orderStore)(nil)

type orderStore struct{ db *sql.DB }

const orderCols = `id, user_id, ticket_id, quantity, original_price, final_price, coalesce(coupon_code,''), status, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (*payment.Order, error) {
	var o payment.Order
	err := row.Scan(&o.ID, &o.UserID, &o.TicketID, &o.Quantity, &o.OriginalPrice,
		&o.FinalPrice, &o.CouponCode, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payment.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *orderStore) CreateOrder(ctx context.Context, o *payment.Order) error {
	_, err := s.db.ExecContext(ctx, `
		insert into orders(id, user_id, ticket_id, quantity, original_price, final_price, coupon_code, status, created_at, updated_at)
		values($1,$2,$3,$4,$5,$6,nullif($7,''),$8,$9,$9)
	`, o.ID, o.UserID, o.TicketID, o.Quantity, o.OriginalPrice, o.FinalPrice, o.CouponCode, o.Status, o.CreatedAt)
	return err
}

func (s *orderStore) FindOrder(ctx context.Context, id string) (*payment.Order, error) {
	return scanOrder(s.db.QueryRowContext(ctx,
		`select `+orderCols+` from orders where id=$1`, id))
}

func (s *orderStore) ListOrders(ctx context.Context, userID string) ([]*payment.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+orderCols+` from orders
		where ($1 = '' or user_id = $1)
		order by created_at asc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (s *orderStore) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*payment.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+orderCols+` from orders
		where status='pending' and created_at < $1
		order by created_at asc
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func collectOrders(rows *sql.Rows) ([]*payment.Order, error) {
	var res []*payment.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// UpdateStatus is compare-and-swap on the status column. Zero rows means
// the order is gone or another writer got there first.
func (s *orderStore) UpdateStatus(ctx context.Context, orderID string, from, to payment.Status, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update orders set status=$3, updated_at=$4
		where id=$1 and status=$2
	`, orderID, from, to, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, ferr := s.FindOrder(ctx, orderID); errors.Is(ferr, payment.ErrOrderNotFound) {
			return payment.ErrOrderNotFound
		}
		return payment.ErrStatusConflict
	}
	return nil
}

const paymentCols = `id, order_id, gateway, gateway_event_id, amount, status, created_at`

func (s *orderStore) FindPaymentByEvent(ctx context.Context, gatewayEventID string) (*payment.Payment, error) {
	var p payment.Payment
	err := s.db.QueryRowContext(ctx,
		`select `+paymentCols+` from payments where gateway_event_id=$1`, gatewayEventID,
	).Scan(&p.ID, &p.OrderID, &p.Gateway, &p.GatewayEventID, &p.Amount, &p.Status, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payment.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *orderStore) ListPayments(ctx context.Context, orderID string) ([]*payment.Payment, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+paymentCols+` from payments where order_id=$1 order by created_at asc`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*payment.Payment
	for rows.Next() {
		var p payment.Payment
		if err := rows.Scan(&p.ID, &p.OrderID, &p.Gateway, &p.GatewayEventID, &p.Amount, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, &p)
	}
	return res, rows.Err()
}

// Finalize settles an order from a successful gateway event: payment row,
// status flip and ledger entry commit together or not at all. The unique
// index on payments.gateway_event_id downgrades webhook replays to
// ErrDuplicateEvent before anything else is touched.
func (s *orderStore) Finalize(ctx context.Context, orderID string, p *payment.Payment, entry *ledger.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		insert into payments(id, order_id, gateway, gateway_event_id, amount, status, created_at)
		values($1,$2,$3,$4,$5,$6,$7)
	`, p.ID, p.OrderID, p.Gateway, p.GatewayEventID, p.Amount, p.Status, p.CreatedAt)
	if uniqueViolation(err) {
		return payment.ErrDuplicateEvent
	}
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		update orders set status='paid', updated_at=$2
		where id=$1 and status='pending'
	`, orderID, p.CreatedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return payment.ErrStatusConflict
	}

	if entry != nil {
		if _, err := tx.ExecContext(ctx, `
			insert into ledger_entries(id, order_id, payment_id, entry_type, amount, currency, created_at)
			values($1,$2,nullif($3,''),$4,$5,$6,$7)
		`, entry.ID, entry.OrderID, entry.PaymentID, entry.Type, entry.Amount, entry.Currency, entry.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *orderStore) RecordPayment(ctx context.Context, p *payment.Payment) error {
	_, err := s.db.ExecContext(ctx, `
		insert into payments(id, order_id, gateway, gateway_event_id, amount, status, created_at)
		values($1,$2,$3,$4,$5,$6,$7)
	`, p.ID, p.OrderID, p.Gateway, p.GatewayEventID, p.Amount, p.Status, p.CreatedAt)
	if uniqueViolation(err) {
		return payment.ErrDuplicateEvent
	}
	return err
}
