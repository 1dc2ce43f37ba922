package web

import (
	"errors"
	"testing"
	"time"

	"github.com/funnyzak/reportsync/internal/config"
)

func TestRolePermissions(t *testing.T) {
	tests := []struct {
		role string
		perm Permission
		want bool
	}{
		{roleViewer, PermRead, true},
		{roleViewer, PermSelect, false},
		{roleOperator, PermReplay, true},
		{roleOperator, PermClear, false},
		{roleAdmin, PermClear, true},
		{"unknown", PermRead, false},
	}
	for _, tt := range tests {
		s := &Session{Role: tt.role}
		if got := s.Can(tt.perm); got != tt.want {
			t.Errorf("%s.Can(%d) = %v, want %v", tt.role, tt.perm, got, tt.want)
		}
	}

	var nilSession *Session
	if nilSession.Can(PermRead) {
		t.Fatal("nil session must not be granted anything")
	}
}

func TestAuthManagerLoginAndExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	auth := NewAuthManager(config.WebAuthConfig{
		Enable:         true,
		SessionTimeout: time.Hour,
		Users: []config.WebUserConfig{
			{Username: "Ops", Password: "pw", Role: "OPERATOR"},
			{Username: "plain", Password: "pw"},
		},
	})
	auth.now = func() time.Time { return now }

	if _, err := auth.Login("ops", "wrong"); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}

	session, err := auth.Login(" ops ", "pw")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if session.Role != roleOperator || session.Username != "Ops" {
		t.Fatalf("unexpected session %+v", session)
	}

	plain, err := auth.Login("plain", "pw")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if plain.Role != roleViewer {
		t.Fatalf("expected default viewer role, got %q", plain.Role)
	}

	if _, err := auth.Validate(session.ID); err != nil {
		t.Fatalf("fresh session rejected: %v", err)
	}

	now = now.Add(2 * time.Hour)
	if removed := auth.Sweep(); removed != 2 {
		t.Fatalf("expected 2 expired sessions swept, got %d", removed)
	}
	if _, err := auth.Validate(session.ID); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expired session accepted: %v", err)
	}
}

func TestAuthManagerDisabled(t *testing.T) {
	auth := NewAuthManager(config.WebAuthConfig{})
	session, err := auth.Validate("")
	if err != nil {
		t.Fatalf("disabled auth should accept everyone: %v", err)
	}
	if !session.Can(PermClear) {
		t.Fatal("guest should hold every permission when auth is disabled")
	}
}
