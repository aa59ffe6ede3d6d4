package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"doorlist.app/internal/ids"
	"doorlist.app/internal/invite"
)

// Memory implements Store in process, backed by the in-memory invite store
// so CreateWithInvite can hold both locks for its transactional contract.
type Memory struct {
	mu      sync.Mutex
	byID    map[string]*Profile
	byEmail map[string]string
	events  map[string][]SecurityEvent
	backup  map[string]map[string]bool // profileID -> hash -> used
	invites *invite.Memory
}

func NewMemory(invites *invite.Memory) *Memory {
	return &Memory{
		byID:    make(map[string]*Profile),
		byEmail: make(map[string]string),
		events:  make(map[string][]SecurityEvent),
		backup:  make(map[string]map[string]bool),
		invites: invites,
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) Profiles(ctx context.Context) ProfileStore       { return (*memProfiles)(m) }
func (m *Memory) Events(ctx context.Context) EventStore           { return (*memEvents)(m) }
func (m *Memory) BackupCodes(ctx context.Context) BackupCodeStore { return (*memBackup)(m) }

type memProfiles Memory

func (s *memProfiles) create(p *Profile) error {
	email := strings.ToLower(strings.TrimSpace(p.Email))
	if _, ok := s.byEmail[email]; ok {
		return ErrEmailTaken
	}
	if p.ID == "" {
		p.ID = ids.New()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	p.Email = email
	cp := *p
	s.byID[p.ID] = &cp
	s.byEmail[email] = p.ID
	return nil
}

func (s *memProfiles) Create(ctx context.Context, p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.create(p)
}

func (s *memProfiles) CreateWithInvite(ctx context.Context, p *Profile, inviteCode string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Consume first: it is the contended resource. Profile creation below can
	// only fail on a duplicate email, which signup pre-checks; if it fails
	// anyway the consumed use is not rolled back, matching a failed
	// registration burning its invite use.
	if err := s.invites.Consume(ctx, inviteCode, now); err != nil {
		return ErrInviteInvalid
	}
	return s.create(p)
}

func (s *memProfiles) Find(ctx context.Context, id string) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memProfiles) FindByEmail(ctx context.Context, email string) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *memProfiles) List(ctx context.Context) ([]*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]*Profile, 0, len(s.byID))
	for _, p := range s.byID {
		cp := *p
		res = append(res, &cp)
	}
	return res, nil
}

func (s *memProfiles) Update(ctx context.Context, p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[p.ID]
	if !ok {
		return ErrNotFound
	}
	cur.DisplayName = p.DisplayName
	cur.Role = p.Role
	cur.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memProfiles) SetMFA(ctx context.Context, id string, enabled bool, encryptedSecret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	p.MFAEnabled = enabled
	p.MFASecret = encryptedSecret
	p.UpdatedAt = time.Now().UTC()
	return nil
}

type memEvents Memory

func (s *memEvents) Append(ctx context.Context, e *SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	s.events[e.ProfileID] = append(s.events[e.ProfileID], *e)
	return nil
}

func (s *memEvents) ListSince(ctx context.Context, profileID string, since time.Time) ([]SecurityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []SecurityEvent
	for _, e := range s.events[profileID] {
		if e.At.Before(since) {
			continue
		}
		res = append(res, e)
	}
	return res, nil
}

func (s *memEvents) ClearAttempts(ctx context.Context, profileID string, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[profileID][:0]
	for _, e := range s.events[profileID] {
		attempt := e.Type == EventLogin || e.Type == EventTOTP
		if attempt && e.At.Before(before) {
			continue
		}
		kept = append(kept, e)
	}
	s.events[profileID] = kept
	return nil
}

type memBackup Memory

func (s *memBackup) Replace(ctx context.Context, profileID string, hashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		set[h] = false
	}
	s.backup[profileID] = set
	return nil
}

func (s *memBackup) Consume(ctx context.Context, profileID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.backup[profileID]
	if !ok {
		return ErrNotFound
	}
	used, ok := set[hash]
	if !ok || used {
		return ErrNotFound
	}
	set[hash] = true
	return nil
}
