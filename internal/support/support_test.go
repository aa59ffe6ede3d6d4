package support

import (
	"context"
	"net/url"
	"strings"
	"testing"
)

func TestCreateSessionBuildsDeepLink(t *testing.T) {
	svc := NewService("15551234567")

	sess, err := svc.CreateSession(context.Background(), "usr_1", "billing")
	if err != nil {
		t.Fatal(err)
	}
	if sess.ID == "" {
		t.Fatal("missing session id")
	}
	if !strings.HasPrefix(sess.WhatsAppURL, "https://wa.me/15551234567?text=") {
		t.Fatalf("unexpected url: %s", sess.WhatsAppURL)
	}

	u, err := url.Parse(sess.WhatsAppURL)
	if err != nil {
		t.Fatal(err)
	}
	text := u.Query().Get("text")
	if !strings.Contains(text, sess.ID) || !strings.Contains(text, "billing") {
		t.Fatalf("prefilled text missing session reference: %q", text)
	}

	got, ok := svc.Find(context.Background(), sess.ID)
	if !ok || got.ProfileID != "usr_1" {
		t.Fatalf("session not stored: %+v ok=%v", got, ok)
	}
}

func TestCreateSessionWithoutTopic(t *testing.T) {
	svc := NewService("15551234567")
	sess, err := svc.CreateSession(context.Background(), "usr_1", "")
	if err != nil {
		t.Fatal(err)
	}
	u, _ := url.Parse(sess.WhatsAppURL)
	if strings.Contains(u.Query().Get("text"), "()") {
		t.Fatalf("empty topic leaked into text: %s", sess.WhatsAppURL)
	}
}
