package auth

import (
	"context"
	"net/http"
	"strings"
	"sync"
)

// Session is the snapshot handed out by the authentication collaborator. The
// subsystem never refreshes tokens itself; it only reads whatever the provider
// currently holds.
type Session struct {
	Token  string
	Role   string
	Active bool
}

// Provider exposes the current session, or nil when nobody is signed in.
// A nil session gates the streaming channel off entirely and causes request
// execution to proceed without credentials.
type Provider interface {
	Session(ctx context.Context) (*Session, error)
}

// CookieName is the session cookie the backend expects on every request.
const CookieName = "session"

// Attach adds the session credential to an outgoing request. A nil session is
// a no-op so anonymous reads still work against public endpoints.
func Attach(req *http.Request, session *Session) {
	if req == nil || session == nil {
		return
	}
	if strings.TrimSpace(session.Token) == "" {
		return
	}
	req.AddCookie(&http.Cookie{Name: CookieName, Value: session.Token})
}

// StaticProvider serves a fixed session, typically sourced from configuration.
// Swap lets tests and re-login flows replace the session atomically.
type StaticProvider struct {
	mu      sync.RWMutex
	session *Session
}

// Static builds a provider around a single token/role pair. An empty token
// yields a provider that reports no session.
func Static(token, role string) *StaticProvider {
	p := &StaticProvider{}
	if strings.TrimSpace(token) != "" {
		p.session = &Session{Token: token, Role: role, Active: true}
	}
	return p
}

// Session implements Provider.
func (p *StaticProvider) Session(context.Context) (*Session, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.session == nil {
		return nil, nil
	}
	copy := *p.session
	return &copy, nil
}

// Swap replaces the held session. Passing nil signs the provider out.
func (p *StaticProvider) Swap(session *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = session
}
