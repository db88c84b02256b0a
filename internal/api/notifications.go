package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"cardauction/internal/apiclient"
	"cardauction/internal/notify"
)

type notificationsResponse struct {
	Unread        int                      `json:"unread"`
	Total         int                      `json:"total"`
	Live          bool                     `json:"live"`
	Notifications []apiclient.Notification `json:"notifications"`
}

// handleNotifications serves the bell's initial state.
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := s.client.MyNotifications(r.Context(), s.tokens(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items := list.Notifications
	if items == nil {
		items = []apiclient.Notification{}
	}
	writeJSON(w, http.StatusOK, notificationsResponse{
		Unread:        list.Unread(),
		Total:         list.Total,
		Live:          s.feed.Live(sessionFrom(r).Email),
		Notifications: items,
	})
}

// handleMarkRead marks everything read and pushes the refreshed list to
// every open tab of the user.
func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	ts := s.tokens(r)
	if err := s.client.MarkAllRead(r.Context(), ts); err != nil {
		s.fail(w, r, err)
		return
	}

	list, err := s.client.MyNotifications(r.Context(), ts)
	if err != nil {
		if errors.Is(err, apiclient.ErrUnauthorized) {
			s.fail(w, r, err)
			return
		}
		// The browser marks its own copy read when no list comes back.
		s.log.Warn("reload notifications after mark read", "err", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	live := s.feed.Live(sess.Email)
	s.hub.Publish(sess.Email, notify.Event{
		Type:          notify.EventSnapshot,
		Live:          live,
		Unread:        list.Unread(),
		Notifications: list.Notifications,
	})
	items := list.Notifications
	if items == nil {
		items = []apiclient.Notification{}
	}
	writeJSON(w, http.StatusOK, notificationsResponse{
		Unread:        list.Unread(),
		Total:         list.Total,
		Live:          live,
		Notifications: items,
	})
}

// handleWebSocket attaches a browser to its user's notification feed.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &Client{
		hub:   s.hub,
		email: sess.Email,
		conn:  conn,
		send:  make(chan []byte, 64),
	}
	hello, _ := json.Marshal(notify.Event{Type: notify.EventStatus, Live: s.feed.Live(sess.Email)})
	client.send <- hello

	if !s.hub.Register(client) {
		conn.Close()
		return
	}
	s.feed.Watch(sess.Email, s.sessions.TokenSource(sess.ID))

	go client.WritePump()
	go client.ReadPump()
}
