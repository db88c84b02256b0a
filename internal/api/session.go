package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cardauction/internal/apiclient"
	"cardauction/internal/store"
)

// Session is a logged-in browser.
type Session struct {
	ID        string
	Email     string
	Tokens    apiclient.Tokens
	ExpiresAt time.Time
}

// SessionStore manages browser sessions with database persistence
type SessionStore struct {
	store *store.Store
	ttl   time.Duration
	log   *slog.Logger

	mu     sync.RWMutex
	cache  map[string]*Session
	stopCh chan struct{}
	once   sync.Once
}

func NewSessionStore(st *store.Store, ttl time.Duration, log *slog.Logger) *SessionStore {
	ss := &SessionStore{
		store:  st,
		ttl:    ttl,
		log:    log,
		cache:  make(map[string]*Session),
		stopCh: make(chan struct{}),
	}
	go ss.cleanupLoop()
	return ss
}

func (ss *SessionStore) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ss.cleanup()
		case <-ss.stopCh:
			return
		}
	}
}

func (ss *SessionStore) cleanup() {
	ss.mu.Lock()
	now := time.Now()
	for id, sess := range ss.cache {
		if now.After(sess.ExpiresAt) {
			delete(ss.cache, id)
		}
	}
	ss.mu.Unlock()

	n, err := ss.store.CleanupExpiredSessions(context.Background())
	if err != nil {
		ss.log.Warn("session cleanup failed", "err", err)
		return
	}
	if n > 0 {
		ss.log.Debug("expired sessions removed", "count", n)
	}
}

// Stop halts the cleanup goroutine
func (ss *SessionStore) Stop() {
	ss.once.Do(func() { close(ss.stopCh) })
}

// Create opens a session for a fresh login.
func (ss *SessionStore) Create(ctx context.Context, email string, tokens apiclient.Tokens) (*Session, error) {
	raw, err := json.Marshal(tokens)
	if err != nil {
		return nil, err
	}
	sess := &Session{
		ID:        uuid.NewString(),
		Email:     email,
		Tokens:    tokens,
		ExpiresAt: time.Now().Add(ss.ttl),
	}
	if err := ss.store.CreateSession(ctx, &store.Session{
		ID:        sess.ID,
		Email:     email,
		Tokens:    raw,
		ExpiresAt: sess.ExpiresAt,
	}); err != nil {
		return nil, err
	}

	ss.mu.Lock()
	ss.cache[sess.ID] = sess
	ss.mu.Unlock()
	return sess, nil
}

// Get returns the live session for id, or nil.
func (ss *SessionStore) Get(ctx context.Context, id string) *Session {
	if id == "" {
		return nil
	}
	ss.mu.RLock()
	if sess, ok := ss.cache[id]; ok && time.Now().Before(sess.ExpiresAt) {
		cp := *sess
		ss.mu.RUnlock()
		return &cp
	}
	ss.mu.RUnlock()

	row, err := ss.store.GetSession(ctx, id)
	if err != nil {
		ss.log.Warn("load session failed", "err", err)
		return nil
	}
	if row == nil {
		ss.mu.Lock()
		delete(ss.cache, id)
		ss.mu.Unlock()
		return nil
	}
	sess := &Session{ID: row.ID, Email: row.Email, ExpiresAt: row.ExpiresAt}
	if err := json.Unmarshal(row.Tokens, &sess.Tokens); err != nil {
		ss.log.Warn("corrupt session tokens", "err", err)
		ss.Delete(ctx, id)
		return nil
	}

	ss.mu.Lock()
	ss.cache[id] = sess
	ss.mu.Unlock()
	cp := *sess
	return &cp
}

// UpdateTokens stores a refreshed token set.
func (ss *SessionStore) UpdateTokens(ctx context.Context, id string, tokens apiclient.Tokens) error {
	raw, err := json.Marshal(tokens)
	if err != nil {
		return err
	}
	if err := ss.store.UpdateSessionTokens(ctx, id, raw); err != nil {
		return err
	}
	ss.mu.Lock()
	if sess, ok := ss.cache[id]; ok {
		sess.Tokens = tokens
	}
	ss.mu.Unlock()
	return nil
}

func (ss *SessionStore) Delete(ctx context.Context, id string) {
	ss.mu.Lock()
	delete(ss.cache, id)
	ss.mu.Unlock()
	if err := ss.store.DeleteSession(ctx, id); err != nil {
		ss.log.Warn("delete session failed", "err", err)
	}
}

// TokenSource binds a session to the API client. Clearing the tokens ends
// the session.
func (ss *SessionStore) TokenSource(id string) apiclient.TokenSource {
	return &sessionTokens{ss: ss, id: id}
}

type sessionTokens struct {
	ss *SessionStore
	id string
}

func (t *sessionTokens) Tokens(ctx context.Context) (apiclient.Tokens, error) {
	sess := t.ss.Get(ctx, t.id)
	if sess == nil {
		return apiclient.Tokens{}, nil
	}
	return sess.Tokens, nil
}

func (t *sessionTokens) SaveTokens(ctx context.Context, tokens apiclient.Tokens) error {
	return t.ss.UpdateTokens(ctx, t.id, tokens)
}

func (t *sessionTokens) ClearTokens(ctx context.Context) error {
	t.ss.Delete(ctx, t.id)
	return nil
}

type ctxKey int

const sessionKey ctxKey = iota

func sessionFrom(r *http.Request) *Session {
	sess, _ := r.Context().Value(sessionKey).(*Session)
	return sess
}

// withSession attaches the cookie's session, if any, to the request.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(s.opts.CookieName)
		if err != nil || c.Value == "" {
			next.ServeHTTP(w, r)
			return
		}
		sess := s.sessions.Get(r.Context(), c.Value)
		if sess == nil {
			s.clearCookie(w)
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAuth sends anonymous browsers to the login page and back again
// afterwards. JSON and socket endpoints get a bare 401.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sessionFrom(r) != nil {
			next.ServeHTTP(w, r)
			return
		}
		if wantsJSON(r) {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		http.Redirect(w, r, loginURL(r.URL.RequestURI()), http.StatusSeeOther)
	})
}

func loginURL(next string) string {
	if next == "" || next == "/" {
		return "/login"
	}
	return "/login?next=" + url.QueryEscape(next)
}

// safeNext keeps post-login redirects on this site.
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, `\`) {
		return "/"
	}
	if u, err := url.Parse(next); err != nil || u.Host != "" {
		return "/"
	}
	return next
}

func (s *Server) setCookie(w http.ResponseWriter, sess *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.opts.CookieName,
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.opts.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
