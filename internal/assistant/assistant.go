package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cardauction/internal/apiclient"
)

var ErrEmptyMessage = errors.New("message is empty")

// DefaultQuery is sent with every lookup.
const DefaultQuery = "Tell me about this Pokémon"

type Fetcher interface {
	FetchCardInfo(ctx context.Context, ts apiclient.TokenSource, name, query string) (*apiclient.CardInfo, error)
}

// Transcript persists the conversation of one browser session.
type Transcript interface {
	AppendChat(ctx context.Context, sessionID string, m Message) error
	ChatHistory(ctx context.Context, sessionID string, limit int) ([]Message, error)
}

type Assistant struct {
	fetcher    Fetcher
	transcript Transcript
	log        *slog.Logger
}

func New(f Fetcher, t Transcript, log *slog.Logger) *Assistant {
	if log == nil {
		log = slog.Default()
	}
	return &Assistant{fetcher: f, transcript: t, log: log}
}

// Ask records the user's message, looks the card up and records the reply.
// Lookup failures become a bot reply; only ErrUnauthorized is returned so
// the caller can end the session.
func (a *Assistant) Ask(ctx context.Context, sessionID string, ts apiclient.TokenSource, input string) (Message, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Message{}, ErrEmptyMessage
	}

	if err := a.transcript.AppendChat(ctx, sessionID, Message{Role: RoleUser, Content: input}); err != nil {
		return Message{}, fmt.Errorf("record user message: %w", err)
	}

	var reply Message
	info, err := a.fetcher.FetchCardInfo(ctx, ts, input, DefaultQuery)
	switch {
	case errors.Is(err, apiclient.ErrUnauthorized):
		return Message{}, err
	case err != nil:
		a.log.Warn("card lookup failed", "query", input, "err", err)
		reply = ErrorReply(err)
	default:
		reply = Format(info)
	}

	if err := a.transcript.AppendChat(ctx, sessionID, reply); err != nil {
		return reply, fmt.Errorf("record reply: %w", err)
	}
	return reply, nil
}

// History returns the most recent messages, oldest first.
func (a *Assistant) History(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	return a.transcript.ChatHistory(ctx, sessionID, limit)
}
