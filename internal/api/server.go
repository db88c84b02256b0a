package api

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"cardauction/internal/apiclient"
	"cardauction/internal/assistant"
	"cardauction/internal/metrics"
	"cardauction/internal/notify"
	"cardauction/internal/store"
)

// Options wires a Server to its collaborators.
type Options struct {
	Client *apiclient.Client
	Store  *store.Store

	Templates    fs.FS
	Static       fs.FS
	DevTemplates bool

	// CORSOrigins restricts cross-origin access. Empty allows any origin
	// without credentials.
	CORSOrigins  []string
	CookieName   string
	CookieSecure bool
	SessionTTL   time.Duration

	SocketBaseURL  string
	ReconnectDelay time.Duration
	PollInterval   time.Duration

	AssistantLimit  int
	AssistantWindow time.Duration

	Logger *slog.Logger
}

type Server struct {
	opts      Options
	client    *apiclient.Client
	store     *store.Store
	sessions  *SessionStore
	hub       *Hub
	feed      *notify.Feed
	assistant *assistant.Assistant
	limiter   *RateLimiter
	pages     *renderer
	upgrader  websocket.Upgrader
	log       *slog.Logger
}

func NewServer(opts Options) (*Server, error) {
	if opts.Client == nil || opts.Store == nil {
		return nil, errors.New("api: client and store are required")
	}
	if opts.Templates == nil {
		return nil, errors.New("api: templates are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CookieName == "" {
		opts.CookieName = "cardauction_session"
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	if opts.AssistantLimit <= 0 {
		opts.AssistantLimit = 20
	}
	if opts.AssistantWindow <= 0 {
		opts.AssistantWindow = time.Minute
	}

	pages, err := newRenderer(opts.Templates, opts.DevTemplates, opts.Client.BaseURL())
	if err != nil {
		return nil, err
	}

	log := opts.Logger
	s := &Server{
		opts:     opts,
		client:   opts.Client,
		store:    opts.Store,
		sessions: NewSessionStore(opts.Store, opts.SessionTTL, log),
		hub:      NewHub(),
		limiter:  NewRateLimiter(opts.AssistantLimit, opts.AssistantWindow),
		pages:    pages,
		log:      log,
	}
	s.feed = notify.New(notify.Config{
		SocketBaseURL:  opts.SocketBaseURL,
		ReconnectDelay: opts.ReconnectDelay,
		PollInterval:   opts.PollInterval,
	}, opts.Client, s.hub, log)
	s.assistant = assistant.New(opts.Client, transcript{opts.Store}, log)
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return s.checkCORSOrigin(r.Header.Get("Origin"))
		},
	}
	return s, nil
}

// checkCORSOrigin checks if an origin is allowed
func (s *Server) checkCORSOrigin(origin string) bool {
	if len(s.opts.CORSOrigins) == 0 || origin == "" {
		return true
	}
	for _, allowed := range s.opts.CORSOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	// Credentialed cross-origin requests need an explicit origin list; the
	// open default is for local development only.
	allowedOrigins := s.opts.CORSOrigins
	allowCredentials := len(allowedOrigins) > 0
	if !allowCredentials {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: allowCredentials,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	if s.opts.Static != nil {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(s.opts.Static))))
	}

	r.Group(func(r chi.Router) {
		r.Use(s.withSession)

		// Public pages
		r.Get("/", s.handleHome)
		r.Get("/search", s.handleSearch)
		r.Get("/bidding/{id}", s.handleBidding)
		r.Get("/profiles/{username}", s.handlePublicProfile)
		r.Get("/login", s.handleLoginPage)
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
		r.Get("/register", s.handleRegisterPage)
		r.Post("/register", s.handleRegister)
		r.Get("/confirm", s.handleConfirmPage)
		r.Post("/confirm", s.handleConfirm)
		r.Post("/confirm/resend", s.handleResendCode)
		r.Get("/forgot-password", s.handleForgotPage)
		r.Post("/forgot-password", s.handleForgot)
		r.Get("/reset-password", s.handleResetPage)
		r.Post("/reset-password", s.handleReset)
		r.Get("/api/auctions/{id}/countdown", s.handleCountdown)

		// Behind the auth gate
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Post("/bidding/{id}", s.handlePlaceBid)

			r.Get("/card-entry", s.handleCardEntryPage)
			r.Post("/card-entry", s.handleCardEntry)
			r.Get("/my-cards", s.handleMyCards)
			r.Get("/cards/{id}/edit", s.handleEditCardPage)
			r.Post("/cards/{id}/edit", s.handleEditCard)
			r.Get("/unvalidated-cards", s.handleUnvalidatedCards)
			r.Post("/unvalidated-cards/{id}/verify", s.handleVerifyCard)

			r.Get("/my-auctions", s.handleMyAuctions)
			r.Get("/create-auction", s.handleCreateAuctionPage)
			r.Post("/create-auction", s.handleCreateAuction)
			r.Get("/auction/{id}", s.handleOwnedAuction)
			r.Post("/auction/{id}", s.handleUpdateAuction)
			r.Post("/auction/{id}/delete", s.handleDeleteAuction)
			r.Get("/winning-auctions", s.handleWinningAuctions)
			r.Post("/winning-auctions/{id}/rate", s.handleRateSeller)

			r.Get("/profile", s.handleProfile)

			r.Get("/api/notifications", s.handleNotifications)
			r.Post("/api/notifications/read", s.handleMarkRead)
			r.Get("/ws/notifications", s.handleWebSocket)

			r.With(s.limiter.Middleware).Post("/api/assistant", s.handleAssistantAsk)
			r.Get("/api/assistant", s.handleAssistantHistory)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Shutdown stops internal goroutines (session cleanup, rate limiter, feed, hub)
func (s *Server) Shutdown() {
	s.sessions.Stop()
	s.limiter.Stop()
	s.feed.Stop()
	s.hub.Stop()
}
