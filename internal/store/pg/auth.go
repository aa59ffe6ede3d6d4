package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"doorlist.app/internal/auth"
	"doorlist.app/internal/ids"
	"doorlist.app/internal/invite"
)

var _ auth.Store = (*authStore)(nil)

type authStore struct{ db *sql.DB }

func (s *authStore) Profiles(context.Context) auth.ProfileStore {
	return &profileStore{db: s.db}
}
func (s *authStore) Events(context.Context) auth.EventStore {
	return &eventStore{db: s.db}
}
func (s *authStore) BackupCodes(context.Context) auth.BackupCodeStore {
	return &backupCodeStore{db: s.db}
}

// Profile store -------------------------------------------------------------

type profileStore struct{ db *sql.DB }

const profileCols = `id, email, display_name, role, password_hash, mfa_enabled, coalesce(mfa_secret,''), created_at, updated_at`

func scanProfile(row interface{ Scan(...any) error }) (*auth.Profile, error) {
	var p auth.Profile
	err := row.Scan(&p.ID, &p.Email, &p.DisplayName, &p.Role, &p.PasswordHash,
		&p.MFAEnabled, &p.MFASecret, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *profileStore) Create(ctx context.Context, p *auth.Profile) error {
	if p.ID == "" {
		p.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into profiles(id, email, display_name, role, password_hash, mfa_enabled, mfa_secret)
		 values($1, lower($2), $3, $4, $5, $6, nullif($7,''))`,
		p.ID, p.Email, p.DisplayName, p.Role, p.PasswordHash, p.MFAEnabled, p.MFASecret,
	)
	if uniqueViolation(err) {
		return auth.ErrEmailTaken
	}
	return err
}

// CreateWithInvite consumes the invite and creates the profile in one
// transaction. The conditional update on uses_count is the same guard the
// in-memory store takes under its lock.
func (s *profileStore) CreateWithInvite(ctx context.Context, p *auth.Profile, inviteCode string, now time.Time) error {
	if p.ID == "" {
		p.ID = ids.New()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update invites set uses_count = uses_count + 1
		where code=$1 and active
		  and uses_count < max_uses
		  and (expires_at is null or expires_at > $2)
	`, invite.NormalizeCode(inviteCode), now)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return auth.ErrInviteInvalid
	}

	_, err = tx.ExecContext(ctx,
		`insert into profiles(id, email, display_name, role, password_hash, mfa_enabled, mfa_secret)
		 values($1, lower($2), $3, $4, $5, $6, nullif($7,''))`,
		p.ID, p.Email, p.DisplayName, p.Role, p.PasswordHash, p.MFAEnabled, p.MFASecret,
	)
	if uniqueViolation(err) {
		return auth.ErrEmailTaken
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *profileStore) Find(ctx context.Context, id string) (*auth.Profile, error) {
	return scanProfile(s.db.QueryRowContext(ctx,
		`select `+profileCols+` from profiles where id=$1`, id))
}

func (s *profileStore) FindByEmail(ctx context.Context, email string) (*auth.Profile, error) {
	return scanProfile(s.db.QueryRowContext(ctx,
		`select `+profileCols+` from profiles where email=lower($1)`, email))
}

func (s *profileStore) List(ctx context.Context) ([]*auth.Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+profileCols+` from profiles order by created_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*auth.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (s *profileStore) Update(ctx context.Context, p *auth.Profile) error {
	res, err := s.db.ExecContext(ctx, `
		update profiles
		set email=lower($2), display_name=$3, role=$4, password_hash=$5, updated_at=now()
		where id=$1
	`, p.ID, p.Email, p.DisplayName, p.Role, p.PasswordHash)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *profileStore) SetMFA(ctx context.Context, id string, enabled bool, encryptedSecret string) error {
	res, err := s.db.ExecContext(ctx, `
		update profiles set mfa_enabled=$2, mfa_secret=nullif($3,''), updated_at=now()
		where id=$1
	`, id, enabled, encryptedSecret)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// Event store ---------------------------------------------------------------

type eventStore struct{ db *sql.DB }

func (s *eventStore) Append(ctx context.Context, e *auth.SecurityEvent) error {
	if e.ID == "" {
		e.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into security_events(id, profile_id, event_type, success, metadata, occurred_at)
		values($1,$2,$3,$4,$5,$6)
	`, e.ID, e.ProfileID, e.Type, e.Success, metadataJSON(e.Metadata), e.At)
	return err
}

func (s *eventStore) ListSince(ctx context.Context, profileID string, since time.Time) ([]auth.SecurityEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, profile_id, event_type, success, coalesce(metadata,'{}'), occurred_at
		from security_events
		where profile_id=$1 and occurred_at >= $2
		order by occurred_at asc
	`, profileID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []auth.SecurityEvent
	for rows.Next() {
		var (
			e    auth.SecurityEvent
			meta []byte
		)
		if err := rows.Scan(&e.ID, &e.ProfileID, &e.Type, &e.Success, &meta, &e.At); err != nil {
			return nil, err
		}
		e.Metadata = parseMetadata(meta)
		res = append(res, e)
	}
	return res, rows.Err()
}

func (s *eventStore) ClearAttempts(ctx context.Context, profileID string, before time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		delete from security_events
		where profile_id=$1 and occurred_at < $2 and event_type in ('login','2fa') and not success
	`, profileID, before)
	return err
}

// Backup code store ---------------------------------------------------------

type backupCodeStore struct{ db *sql.DB }

func (s *backupCodeStore) Replace(ctx context.Context, profileID string, hashes []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from backup_codes where profile_id=$1`, profileID); err != nil {
		return err
	}
	for _, h := range hashes {
		if _, err := tx.ExecContext(ctx,
			`insert into backup_codes(profile_id, code_hash) values($1,$2)`, profileID, h); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *backupCodeStore) Consume(ctx context.Context, profileID, hash string) error {
	res, err := s.db.ExecContext(ctx, `
		update backup_codes set used_at=now()
		where profile_id=$1 and code_hash=$2 and used_at is null
	`, profileID, hash)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return auth.ErrNotFound
	}
	return nil
}
