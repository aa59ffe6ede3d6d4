package pg

import (
	"context"
	"database/sql"

	"doorlist.app/internal/ids"
	"doorlist.app/internal/ledger"
)

var _ ledger.Service = (*ledgerStore)(nil)

type ledgerStore struct{ db *sql.DB }

func (s *ledgerStore) Append(ctx context.Context, e ledger.Entry) (ledger.Entry, error) {
	if e.Amount <= 0 {
		return ledger.Entry{}, ledger.ErrInvalidAmount
	}
	if e.Currency == "" {
		return ledger.Entry{}, ledger.ErrInvalidCurrency
	}
	if e.ID == "" {
		e.ID = ids.New()
	}
	err := s.db.QueryRowContext(ctx, `
		insert into ledger_entries(id, order_id, payment_id, entry_type, amount, currency, created_at)
		values($1,$2,nullif($3,''),$4,$5,$6,$7) returning sequence
	`, e.ID, e.OrderID, e.PaymentID, e.Type, e.Amount, e.Currency, e.CreatedAt).Scan(&e.Sequence)
	if err != nil {
		return ledger.Entry{}, err
	}
	return e, nil
}

func (s *ledgerStore) List(ctx context.Context, limit int, afterSeq uint64) ([]ledger.Entry, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, order_id, coalesce(payment_id,''), entry_type, amount, currency, created_at, sequence
		from ledger_entries
		where sequence > $1
		order by sequence asc
		limit $2
	`, afterSeq, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		res  []ledger.Entry
		last uint64
	)
	for rows.Next() {
		var e ledger.Entry
		if err := rows.Scan(&e.ID, &e.OrderID, &e.PaymentID, &e.Type, &e.Amount, &e.Currency, &e.CreatedAt, &e.Sequence); err != nil {
			return nil, 0, err
		}
		res = append(res, e)
		last = e.Sequence
	}
	return res, last, rows.Err()
}
