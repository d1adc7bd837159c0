// Package auth guards the facilitator endpoints with a shared password
// and short-lived session tokens. Participants never authenticate; their
// claim tokens are capability URLs.
package auth

import (
	"crypto/subtle"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/rlarsen/althing/internal/errors"
	"github.com/rlarsen/althing/internal/logger"
)

// SessionCookie is the facilitator session cookie name
const SessionCookie = "althing_session"

const sessionTTL = 12 * time.Hour

// passwordWords feed generated facilitator passwords; short enough to
// read aloud across a room.
var passwordWords = []string{
	"raven", "fjord", "shield", "saga", "rune", "drakkar",
	"mead", "thane", "skald", "holm", "vang", "storm",
}

// GeneratePassword returns a speakable two-word password
func GeneratePassword() string {
	a := passwordWords[rand.Intn(len(passwordWords))]
	b := passwordWords[rand.Intn(len(passwordWords))]
	return fmt.Sprintf("%s-%s-%02d", a, b, rand.Intn(100))
}

// Manager validates the facilitator password and tracks sessions
type Manager struct {
	log      logger.Logger
	password string

	mu       sync.Mutex
	sessions map[string]time.Time
}

// NewManager creates a Manager. An empty password gets a generated one;
// read it back with Password to display at startup.
func NewManager(log logger.Logger, password string) *Manager {
	if password == "" {
		password = GeneratePassword()
	}
	return &Manager{
		log:      log,
		password: password,
		sessions: make(map[string]time.Time),
	}
}

// Password returns the facilitator password in effect
func (m *Manager) Password() string {
	return m.password
}

// Login checks the password and mints a session token
func (m *Manager) Login(password string) (string, error) {
	if subtle.ConstantTimeCompare([]byte(password), []byte(m.password)) != 1 {
		return "", apperrors.Validation("wrong password")
	}
	token := uuid.New().String()
	m.mu.Lock()
	m.sessions[token] = time.Now().Add(sessionTTL)
	m.mu.Unlock()
	m.log.Info("facilitator logged in")
	return token, nil
}

// Valid reports whether the token belongs to a live session
func (m *Manager) Valid(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	expiry, ok := m.sessions[token]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(m.sessions, token)
		return false
	}
	return true
}

// Logout drops a session; unknown tokens are ignored
func (m *Manager) Logout(token string) {
	m.mu.Lock()
	delete(m.sessions, token)
	m.mu.Unlock()
}

// tokenFrom pulls the session token from the cookie or an Authorization
// bearer header.
func tokenFrom(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// Middleware rejects requests without a live facilitator session
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Valid(tokenFrom(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"code":"unauthorized","message":"facilitator login required"}}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
