package web

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/funnyzak/reportsync/internal/config"
)

// Permission is one capability of the control API.
type Permission uint8

const (
	// PermRead covers captures, selection, results and the event stream.
	PermRead Permission = 1 << iota
	// PermSelect edits the selection list.
	PermSelect
	// PermReplay starts batches.
	PermReplay
	// PermClear drops the result log.
	PermClear
)

const (
	roleAdmin    = "admin"
	roleOperator = "operator"
	roleViewer   = "viewer"
)

var rolePermissions = map[string]Permission{
	roleViewer:   PermRead,
	roleOperator: PermRead | PermSelect | PermReplay,
	roleAdmin:    PermRead | PermSelect | PermReplay | PermClear,
}

// ErrInvalidCredential indicates username/password mismatch or an unknown token.
var ErrInvalidCredential = errors.New("invalid username or password")

// Session describes an authenticated operator.
type Session struct {
	ID        string    `json:"-"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Can reports whether the session's role grants p.
func (s *Session) Can(p Permission) bool {
	if s == nil {
		return false
	}
	return rolePermissions[s.Role]&p == p
}

// guestSession stands in for every caller when auth is disabled.
func guestSession() *Session {
	return &Session{Username: "guest", Role: roleAdmin}
}

type account struct {
	password []byte
	role     string
	name     string
}

// AuthManager validates credentials and tracks live sessions in memory.
type AuthManager struct {
	enable   bool
	timeout  time.Duration
	accounts map[string]account

	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewAuthManager builds an AuthManager from configuration. Users without a
// role become viewers.
func NewAuthManager(cfg config.WebAuthConfig) *AuthManager {
	accounts := make(map[string]account, len(cfg.Users))
	for _, user := range cfg.Users {
		key := strings.ToLower(strings.TrimSpace(user.Username))
		if key == "" {
			continue
		}
		role := strings.ToLower(strings.TrimSpace(user.Role))
		if _, ok := rolePermissions[role]; !ok {
			role = roleViewer
		}
		accounts[key] = account{password: []byte(user.Password), role: role, name: user.Username}
	}

	timeout := cfg.SessionTimeout
	if timeout <= 0 {
		timeout = 24 * time.Hour
	}

	return &AuthManager{
		enable:   cfg.Enable,
		timeout:  timeout,
		accounts: accounts,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Enabled indicates whether authentication is active.
func (a *AuthManager) Enabled() bool {
	return a != nil && a.enable
}

// Login checks the credentials and opens a session.
func (a *AuthManager) Login(username, password string) (*Session, error) {
	if !a.Enabled() {
		return guestSession(), nil
	}

	acct, ok := a.accounts[strings.ToLower(strings.TrimSpace(username))]
	if !ok || subtle.ConstantTimeCompare(acct.password, []byte(password)) != 1 {
		return nil, ErrInvalidCredential
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}
	session := &Session{
		ID:        token,
		Username:  acct.name,
		Role:      acct.role,
		ExpiresAt: a.now().Add(a.timeout),
	}

	a.mu.Lock()
	a.sessions[token] = session
	a.mu.Unlock()
	return session, nil
}

// Validate resolves a token to a live session. Expired sessions are dropped.
func (a *AuthManager) Validate(token string) (*Session, error) {
	if !a.Enabled() {
		return guestSession(), nil
	}

	token = strings.TrimSpace(token)
	a.mu.Lock()
	defer a.mu.Unlock()

	session, ok := a.sessions[token]
	if !ok || token == "" {
		return nil, ErrInvalidCredential
	}
	if a.now().After(session.ExpiresAt) {
		delete(a.sessions, token)
		return nil, ErrInvalidCredential
	}
	return session, nil
}

// Logout ends a session.
func (a *AuthManager) Logout(token string) {
	if !a.Enabled() {
		return
	}
	a.mu.Lock()
	delete(a.sessions, strings.TrimSpace(token))
	a.mu.Unlock()
}

// Sweep drops expired sessions and returns how many were removed.
func (a *AuthManager) Sweep() int {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0
	for token, session := range a.sessions {
		if now.After(session.ExpiresAt) {
			delete(a.sessions, token)
			removed++
		}
	}
	return removed
}

// RunSweeper calls Sweep on a timer until ctx ends.
func (a *AuthManager) RunSweeper(ctx context.Context) {
	if !a.Enabled() {
		return
	}
	interval := a.timeout / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Sweep()
		}
	}
}

func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
