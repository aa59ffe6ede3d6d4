// Package support hands members off to a human over WhatsApp.
package support

import (
	"context"
	"net/url"
	"sync"
	"time"

	"doorlist.app/internal/ids"
)

// Session is a recorded support handoff. The URL is a wa.me deep link
// with a prefilled message referencing the session id, so the agent can
// correlate the chat with the account.
type Session struct {
	ID          string    `json:"session_id"`
	ProfileID   string    `json:"-"`
	Topic       string    `json:"topic,omitempty"`
	WhatsAppURL string    `json:"whatsapp_url"`
	CreatedAt   time.Time `json:"created_at"`
}

// Service creates support sessions against a configured support number.
type Service struct {
	number string // digits only, international format without "+"
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(number string, opts ...Option) *Service {
	s := &Service{
		number:   number,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession opens a session for the profile and returns the deep link
// the client should redirect to.
func (s *Service) CreateSession(_ context.Context, profileID, topic string) (*Session, error) {
	sess := &Session{
		ID:        ids.New(),
		ProfileID: profileID,
		Topic:     topic,
		CreatedAt: s.now().UTC(),
	}

	text := "Hi, I need help with my account. Session: " + sess.ID
	if topic != "" {
		text += " (" + topic + ")"
	}
	sess.WhatsAppURL = "https://wa.me/" + s.number + "?text=" + url.QueryEscape(text)

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess, nil
}

// Find returns a previously created session.
func (s *Service) Find(_ context.Context, id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	cp := *sess
	return &cp, true
}
