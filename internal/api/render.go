package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"cardauction/internal/apiclient"
	"cardauction/internal/auction"
)

const flashCookie = "cardauction_flash"

// pageNames lists every page template. Each is parsed together with
// layout.html into its own set.
var pageNames = []string{
	"home", "search", "bidding", "error",
	"login", "register", "confirm", "forgot_password", "reset_password",
	"my_auctions", "create_auction", "owned_auction", "winning_auctions",
	"card_entry", "my_cards", "edit_card", "unvalidated_cards",
	"profile", "public_profile",
}

// page is the data every template receives.
type page struct {
	Title   string
	Session *Session
	Flash   string
	Error   string
	Data    any
}

type renderer struct {
	fsys  fs.FS
	dev   bool
	funcs template.FuncMap

	mu    sync.RWMutex
	pages map[string]*template.Template
}

func newRenderer(fsys fs.FS, dev bool, apiBase string) (*renderer, error) {
	rd := &renderer{
		fsys:  fsys,
		dev:   dev,
		funcs: templateFuncs(apiBase),
	}
	if err := rd.load(); err != nil {
		return nil, err
	}
	return rd, nil
}

func (rd *renderer) load() error {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := template.New("layout.html").Funcs(rd.funcs).ParseFS(rd.fsys, "layout.html", name+".html")
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		pages[name] = t
	}
	rd.mu.Lock()
	rd.pages = pages
	rd.mu.Unlock()
	return nil
}

func (rd *renderer) render(w http.ResponseWriter, status int, name string, p page) error {
	if rd.dev {
		if err := rd.load(); err != nil {
			return err
		}
	}
	rd.mu.RLock()
	t, ok := rd.pages[name]
	rd.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown page %q", name)
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", p); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

func templateFuncs(apiBase string) template.FuncMap {
	return template.FuncMap{
		"image": func(ref string) string {
			return auction.ImageURL(apiBase, ref)
		},
		"money": func(v float64) string {
			return fmt.Sprintf("$%.2f", v)
		},
		"countdown": func(ts apiclient.Timestamp) string {
			return auction.TimeLeft(ts.Time, time.Now()).Text
		},
		"unix": func(ts apiclient.Timestamp) int64 {
			return ts.Unix()
		},
		"stars": func(rating float64) string {
			n := int(rating + 0.5)
			if n > 5 {
				n = 5
			}
			if n < 0 {
				n = 0
			}
			return strings.Repeat("★", n) + strings.Repeat("☆", 5-n)
		},
		"rating": func(v float64) string {
			return fmt.Sprintf("%.1f", v)
		},
		"pathEscape": url.PathEscape,
		"seq": func(from, to int) []int {
			var out []int
			for i := from; i <= to; i++ {
				out = append(out, i)
			}
			return out
		},
	}
}

// page renders name with the session and any pending flash message.
func (s *Server) page(w http.ResponseWriter, r *http.Request, status int, name, title string, data any, errMsg string) {
	p := page{
		Title:   title,
		Session: sessionFrom(r),
		Flash:   s.popFlash(w, r),
		Error:   errMsg,
		Data:    data,
	}
	if err := s.pages.render(w, status, name, p); err != nil {
		s.log.Error("render failed", "page", name, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// fail turns an upstream error into a response. An unauthorized session is
// dropped and the browser sent to log in again.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, apiclient.ErrUnauthorized):
		if sess := sessionFrom(r); sess != nil {
			s.sessions.Delete(r.Context(), sess.ID)
		}
		s.clearCookie(w)
		if wantsJSON(r) {
			http.Error(w, "session expired", http.StatusUnauthorized)
			return
		}
		s.setFlash(w, "Your session has expired. Please log in again.")
		http.Redirect(w, r, loginURL(r.URL.RequestURI()), http.StatusSeeOther)
		return
	case errors.Is(err, apiclient.ErrNotFound):
		if wantsJSON(r) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": apiclient.Message(err)})
			return
		}
		s.page(w, r, http.StatusNotFound, "error", "Not found", nil, apiclient.Message(err))
		return
	}

	s.log.Warn("upstream request failed", "path", r.URL.Path, "err", err)
	status := http.StatusBadGateway
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) && apiErr.Status < 500 {
		status = apiErr.Status
	}
	if wantsJSON(r) {
		writeJSON(w, status, map[string]string{"error": apiclient.Message(err)})
		return
	}
	s.page(w, r, status, "error", "Something went wrong", nil, apiclient.Message(err))
}

func (s *Server) setFlash(w http.ResponseWriter, msg string) {
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    url.QueryEscape(msg),
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) popFlash(w http.ResponseWriter, r *http.Request) string {
	c, err := r.Cookie(flashCookie)
	if err != nil {
		return ""
	}
	http.SetCookie(w, &http.Cookie{Name: flashCookie, Path: "/", MaxAge: -1})
	msg, err := url.QueryUnescape(c.Value)
	if err != nil {
		return ""
	}
	return msg
}

func wantsJSON(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/") || strings.HasPrefix(r.URL.Path, "/ws/") ||
		strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
