package apiclient

import (
	"context"
	"net/http"
)

const groupAssistant = "assistant"

// FetchCardInfo asks the metadata lookup behind the API about a card name.
func (c *Client) FetchCardInfo(ctx context.Context, ts TokenSource, name, query string) (*CardInfo, error) {
	if query == "" {
		query = "Tell me about this Pokémon"
	}
	r, err := jsonRequest(groupAssistant, http.MethodPost, "/rag/fetch", map[string]string{
		"pokemon_name": name,
		"user_query":   query,
	})
	if err != nil {
		return nil, err
	}
	var out CardInfo
	if err := c.do(ctx, ts, r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
