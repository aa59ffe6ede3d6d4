// Package pg implements the persistence contracts on PostgreSQL.
package pg

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"doorlist.app/internal/auth"
	"doorlist.app/internal/coupon"
	"doorlist.app/internal/invite"
	"doorlist.app/internal/ledger"
	"doorlist.app/internal/payment"
	"doorlist.app/internal/ticket"
)

type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing handle. Used by tests with sqlmock.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Auth() auth.Store       { return &authStore{db: s.db} }
func (s *Store) Invites() invite.Store  { return &inviteStore{db: s.db} }
func (s *Store) Coupons() coupon.Store  { return &couponStore{db: s.db} }
func (s *Store) Tickets() ticket.Store  { return &ticketStore{db: s.db} }
func (s *Store) Orders() payment.Store  { return &orderStore{db: s.db} }
func (s *Store) Ledger() ledger.Service { return &ledgerStore{db: s.db} }

// uniqueViolation reports whether err is a Postgres unique-constraint error.
func uniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
