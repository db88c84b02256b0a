// Package notify relays the marketplace notification socket to browser
// connections. Each logged-in email gets one upstream socket; while that
// socket is down the feed falls back to polling the notifications endpoint.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	"cardauction/internal/apiclient"
	"cardauction/internal/metrics"
)

const (
	EventNotification = "notification"
	EventSnapshot     = "snapshot"
	EventStatus       = "status"
)

// Event is what browser sockets receive.
type Event struct {
	Type          string                   `json:"type"`
	Live          bool                     `json:"live"`
	Unread        int                      `json:"unread"`
	Notification  *apiclient.Notification  `json:"notification,omitempty"`
	Notifications []apiclient.Notification `json:"notifications,omitempty"`
}

// Publisher fans events out to the browser connections of one user.
type Publisher interface {
	Publish(email string, ev Event)
	Listeners(email string) int
}

type Poller interface {
	MyNotifications(ctx context.Context, ts apiclient.TokenSource) (*apiclient.NotificationList, error)
}

type Config struct {
	// SocketBaseURL is the ws:// or wss:// root; "/ws/<email>" is appended.
	SocketBaseURL  string
	ReconnectDelay time.Duration
	PollInterval   time.Duration
	Dialer         *websocket.Dialer
}

// Feed owns the upstream sockets.
type Feed struct {
	cfg    Config
	poller Poller
	pub    Publisher
	log    *slog.Logger

	mu      sync.Mutex
	watches map[string]*watch

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// watch is the upstream socket and poller of one email. Its context is
// cancelled when the watch is dropped so the socket closes with it.
type watch struct {
	email  string
	live   atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc

	mu sync.Mutex
	ts apiclient.TokenSource
}

func (w *watch) tokens() apiclient.TokenSource {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ts
}

func New(cfg Config, poller Poller, pub Publisher, log *slog.Logger) *Feed {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Feed{
		cfg:     cfg,
		poller:  poller,
		pub:     pub,
		log:     log.With("component", "notify"),
		watches: make(map[string]*watch),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Watch makes sure an upstream socket exists for email. The token source of
// the most recent caller is used for polling.
func (f *Feed) Watch(email string, ts apiclient.TokenSource) {
	if email == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ctx.Err() != nil {
		return
	}
	if w, ok := f.watches[email]; ok {
		w.mu.Lock()
		w.ts = ts
		w.mu.Unlock()
		return
	}

	w := &watch{email: email, ts: ts}
	w.ctx, w.cancel = context.WithCancel(f.ctx)
	f.watches[email] = w
	f.wg.Add(2)
	go f.socketLoop(w)
	go f.pollLoop(w)
}

// Live reports whether the upstream socket for email is connected.
func (f *Feed) Live(email string) bool {
	f.mu.Lock()
	w, ok := f.watches[email]
	f.mu.Unlock()
	return ok && w.live.Load()
}

// Stop closes every upstream socket and waits for the loops to exit.
func (f *Feed) Stop() {
	f.mu.Lock()
	f.cancel()
	f.mu.Unlock()
	f.wg.Wait()
}

// done drops the watch once no browser is listening. Dropping cancels the
// watch, which closes its socket and stops both loops.
func (f *Feed) done(w *watch) bool {
	if w.ctx.Err() != nil {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pub.Listeners(w.email) > 0 {
		return false
	}
	if f.watches[w.email] == w {
		delete(f.watches, w.email)
	}
	w.cancel()
	return true
}

func (f *Feed) socketURL(email string) string {
	return strings.TrimRight(f.cfg.SocketBaseURL, "/") + "/ws/" + url.PathEscape(email)
}

func (f *Feed) socketLoop(w *watch) {
	defer f.wg.Done()
	for {
		if f.done(w) {
			return
		}

		conn, _, err := f.cfg.Dialer.DialContext(w.ctx, f.socketURL(w.email), nil)
		if err != nil {
			f.log.Debug("notification socket dial failed", "email", w.email, "err", err)
		} else {
			f.readLoop(w, conn)
		}

		if f.done(w) {
			return
		}
		metrics.FeedReconnect()
		select {
		case <-w.ctx.Done():
			return
		case <-time.After(f.cfg.ReconnectDelay):
		}
	}
}

func (f *Feed) readLoop(w *watch, conn *websocket.Conn) {
	w.live.Store(true)
	f.pub.Publish(w.email, Event{Type: EventStatus, Live: true})
	f.log.Info("notification socket connected", "email", w.email)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-w.ctx.Done():
		case <-stop:
		}
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		n, ok := decodeNotification(data)
		if !ok {
			continue
		}
		f.pub.Publish(w.email, Event{Type: EventNotification, Live: true, Notification: n})
	}

	w.live.Store(false)
	f.log.Info("notification socket closed", "email", w.email)
	// A cancelled watch may already have a successor for the same email.
	if w.ctx.Err() == nil {
		f.pub.Publish(w.email, Event{Type: EventStatus, Live: false})
	}
}

// decodeNotification accepts a notification object or a bare message.
func decodeNotification(data []byte) (*apiclient.Notification, bool) {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, false
	}
	var n apiclient.Notification
	if err := json.Unmarshal(data, &n); err == nil && n.Message != "" {
		return &n, true
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		text = s
	}
	return &apiclient.Notification{Message: text}, true
}

func (f *Feed) pollLoop(w *watch) {
	defer f.wg.Done()
	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
		}
		if f.done(w) {
			return
		}
		if w.live.Load() {
			continue
		}
		f.poll(w)
	}
}

func (f *Feed) poll(w *watch) {
	ctx, cancel := context.WithTimeout(w.ctx, f.cfg.PollInterval)
	defer cancel()

	list, err := f.poller.MyNotifications(ctx, w.tokens())
	metrics.FeedPoll(err == nil)
	if err != nil {
		f.log.Warn("notification poll failed", "email", w.email, "err", err)
		return
	}
	f.pub.Publish(w.email, Event{
		Type:          EventSnapshot,
		Unread:        list.Unread(),
		Notifications: list.Notifications,
	})
}
