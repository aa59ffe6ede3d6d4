package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"doorlist.app/internal/coupon"
	"doorlist.app/internal/ids"
	"doorlist.app/internal/invite"
	"doorlist.app/internal/ticket"
)

// Invite store --------------------------------------------------------------

var _ invite.Store = (*inviteStore)(nil)

type inviteStore struct{ db *sql.DB }

func (s *inviteStore) Create(ctx context.Context, inv *invite.Invite) error {
	_, err := s.db.ExecContext(ctx, `
		insert into invites(code, max_uses, uses_count, expires_at, active)
		values($1,$2,$3,nullif($4, '0001-01-01T00:00:00Z'::timestamptz),$5)
	`, invite.NormalizeCode(inv.Code), inv.MaxUses, inv.UsesCount, inv.ExpiresAt, inv.Active)
	if uniqueViolation(err) {
		return invite.ErrExists
	}
	return err
}

func (s *inviteStore) Find(ctx context.Context, code string) (*invite.Invite, error) {
	var (
		inv invite.Invite
		exp sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select code, max_uses, uses_count, expires_at, active, created_at
		from invites where code=$1
	`, invite.NormalizeCode(code)).Scan(&inv.Code, &inv.MaxUses, &inv.UsesCount, &exp, &inv.Active, &inv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, invite.ErrInvalid
	}
	if err != nil {
		return nil, err
	}
	if exp.Valid {
		inv.ExpiresAt = exp.Time
	}
	return &inv, nil
}

func (s *inviteStore) List(ctx context.Context) ([]*invite.Invite, error) {
	rows, err := s.db.QueryContext(ctx, `
		select code, max_uses, uses_count, expires_at, active, created_at
		from invites order by created_at asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*invite.Invite
	for rows.Next() {
		var (
			inv invite.Invite
			exp sql.NullTime
		)
		if err := rows.Scan(&inv.Code, &inv.MaxUses, &inv.UsesCount, &exp, &inv.Active, &inv.CreatedAt); err != nil {
			return nil, err
		}
		if exp.Valid {
			inv.ExpiresAt = exp.Time
		}
		res = append(res, &inv)
	}
	return res, rows.Err()
}

func (s *inviteStore) Consume(ctx context.Context, code string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update invites set uses_count = uses_count + 1
		where code=$1 and active
		  and uses_count < max_uses
		  and (expires_at is null or expires_at > $2)
	`, invite.NormalizeCode(code), now)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return invite.ErrInvalid
	}
	return nil
}

func (s *inviteStore) Deactivate(ctx context.Context, code string) error {
	res, err := s.db.ExecContext(ctx,
		`update invites set active=false where code=$1`, invite.NormalizeCode(code))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return invite.ErrInvalid
	}
	return nil
}

// Coupon store --------------------------------------------------------------

var _ coupon.Store = (*couponStore)(nil)

type couponStore struct{ db *sql.DB }

func (s *couponStore) Create(ctx context.Context, c *coupon.Coupon) error {
	_, err := s.db.ExecContext(ctx, `
		insert into coupons(code, discount_percent, discount_fixed, max_uses, uses_count, active, valid_from, valid_until)
		values($1,$2,$3,$4,$5,$6,
		       nullif($7, '0001-01-01T00:00:00Z'::timestamptz),
		       nullif($8, '0001-01-01T00:00:00Z'::timestamptz))
	`, coupon.NormalizeCode(c.Code), c.DiscountPercent, c.DiscountFixed, c.MaxUses, c.UsesCount, c.Active, c.ValidFrom, c.ValidUntil)
	if uniqueViolation(err) {
		return coupon.ErrExists
	}
	return err
}

const couponCols = `code, discount_percent, discount_fixed, max_uses, uses_count, active, valid_from, valid_until, created_at`

func scanCoupon(row interface{ Scan(...any) error }) (*coupon.Coupon, error) {
	var (
		c        coupon.Coupon
		from, to sql.NullTime
	)
	err := row.Scan(&c.Code, &c.DiscountPercent, &c.DiscountFixed, &c.MaxUses, &c.UsesCount, &c.Active, &from, &to, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, coupon.ErrInvalid
	}
	if err != nil {
		return nil, err
	}
	if from.Valid {
		c.ValidFrom = from.Time
	}
	if to.Valid {
		c.ValidUntil = to.Time
	}
	return &c, nil
}

func (s *couponStore) Find(ctx context.Context, code string) (*coupon.Coupon, error) {
	return scanCoupon(s.db.QueryRowContext(ctx,
		`select `+couponCols+` from coupons where code=$1`, coupon.NormalizeCode(code)))
}

func (s *couponStore) List(ctx context.Context) ([]*coupon.Coupon, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+couponCols+` from coupons order by created_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*coupon.Coupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (s *couponStore) Consume(ctx context.Context, code string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update coupons set uses_count = uses_count + 1
		where code=$1 and active
		  and uses_count < max_uses
		  and (valid_from is null or valid_from <= $2)
		  and (valid_until is null or valid_until >= $2)
	`, coupon.NormalizeCode(code), now)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return coupon.ErrInvalid
	}
	return nil
}

func (s *couponStore) Deactivate(ctx context.Context, code string) error {
	res, err := s.db.ExecContext(ctx,
		`update coupons set active=false where code=$1`, coupon.NormalizeCode(code))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return coupon.ErrInvalid
	}
	return nil
}

// Ticket store --------------------------------------------------------------

var _ ticket.Store = (*ticketStore)(nil)

type ticketStore struct{ db *sql.DB }

func (s *ticketStore) Create(ctx context.Context, t *ticket.Ticket) error {
	if t.ID == "" {
		t.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into tickets(id, name, price, stock, active)
		values($1,$2,$3,$4,$5)
	`, t.ID, t.Name, t.Price, t.Stock, t.Active)
	return err
}

func (s *ticketStore) Find(ctx context.Context, id string) (*ticket.Ticket, error) {
	var t ticket.Ticket
	err := s.db.QueryRowContext(ctx, `
		select id, name, price, stock, active, created_at, updated_at
		from tickets where id=$1
	`, id).Scan(&t.ID, &t.Name, &t.Price, &t.Stock, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ticket.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *ticketStore) List(ctx context.Context) ([]*ticket.Ticket, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, price, stock, active, created_at, updated_at
		from tickets order by created_at asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*ticket.Ticket
	for rows.Next() {
		var t ticket.Ticket
		if err := rows.Scan(&t.ID, &t.Name, &t.Price, &t.Stock, &t.Active, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, &t)
	}
	return res, rows.Err()
}

func (s *ticketStore) Update(ctx context.Context, t *ticket.Ticket) error {
	res, err := s.db.ExecContext(ctx, `
		update tickets set name=$2, price=$3, stock=$4, active=$5, updated_at=now()
		where id=$1
	`, t.ID, t.Name, t.Price, t.Stock, t.Active)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ticket.ErrNotFound
	}
	return nil
}

// Reserve decrements stock only while enough remains. The conditional
// UPDATE makes overselling impossible regardless of concurrency.
func (s *ticketStore) Reserve(ctx context.Context, id string, qty int) error {
	res, err := s.db.ExecContext(ctx, `
		update tickets set stock = stock - $2, updated_at=now()
		where id=$1 and active and stock >= $2
	`, id, qty)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, ferr := s.Find(ctx, id); errors.Is(ferr, ticket.ErrNotFound) {
			return ticket.ErrNotFound
		}
		return ticket.ErrSoldOut
	}
	return nil
}

func (s *ticketStore) Restore(ctx context.Context, id string, qty int) error {
	res, err := s.db.ExecContext(ctx, `
		update tickets set stock = stock + $2, updated_at=now() where id=$1
	`, id, qty)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ticket.ErrNotFound
	}
	return nil
}

// --- helpers ---

func metadataJSON(m map[string]string) []byte {
	if len(m) == 0 {
		return []byte("{}")
	}
	b, _ := json.Marshal(m)
	return b
}

func parseMetadata(b []byte) map[string]string {
	if len(b) == 0 {
		return nil
	}
	var m map[string]string
	_ = json.Unmarshal(b, &m)
	if len(m) == 0 {
		return nil
	}
	return m
}
