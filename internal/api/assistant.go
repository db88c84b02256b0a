package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"cardauction/internal/apiclient"
	"cardauction/internal/assistant"
	"cardauction/internal/store"
)

const chatHistoryLimit = 50

// transcript keeps chat messages in the session store.
type transcript struct {
	st *store.Store
}

func (t transcript) AppendChat(ctx context.Context, sessionID string, m assistant.Message) error {
	return t.st.AppendChatMessage(ctx, &store.ChatMessage{
		SessionID: sessionID,
		Role:      m.Role,
		Content:   m.Content,
		IsHTML:    m.IsHTML,
	})
}

func (t transcript) ChatHistory(ctx context.Context, sessionID string, limit int) ([]assistant.Message, error) {
	rows, err := t.st.ChatMessages(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]assistant.Message, 0, len(rows))
	for _, row := range rows {
		out = append(out, assistant.Message{Role: row.Role, Content: row.Content, IsHTML: row.IsHTML})
	}
	return out, nil
}

type askRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleAssistantAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sess := sessionFrom(r)
	reply, err := s.assistant.Ask(r.Context(), sess.ID, s.tokens(r), req.Message)
	switch {
	case errors.Is(err, assistant.ErrEmptyMessage):
		http.Error(w, "message is empty", http.StatusBadRequest)
		return
	case errors.Is(err, apiclient.ErrUnauthorized):
		s.fail(w, r, err)
		return
	case err != nil && reply.Content == "":
		s.log.Error("assistant failed", "err", err)
		http.Error(w, "assistant unavailable", http.StatusInternalServerError)
		return
	case err != nil:
		s.log.Warn("assistant transcript", "err", err)
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleAssistantHistory(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.assistant.History(r.Context(), sessionFrom(r).ID, chatHistoryLimit)
	if err != nil {
		s.log.Error("load chat history failed", "err", err)
		http.Error(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []assistant.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}
