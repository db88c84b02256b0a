package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

const groupCards = "cards"

// CardForm is the multipart body of card creation and update. Image is
// optional on update.
type CardForm struct {
	CardID   int64
	Name     string
	Quality  string
	ImageURL string
	Image    FilePart
}

func (c *Client) CreateCard(ctx context.Context, ts TokenSource, f CardForm) error {
	f.Image.Field = "image"
	r, err := formRequest(groupCards, http.MethodPost, "/entry/card-entry/create", map[string]string{
		"card_name":    f.Name,
		"card_quality": f.Quality,
	}, f.Image)
	if err != nil {
		return err
	}
	return c.do(ctx, ts, r, nil)
}

func (c *Client) MyCards(ctx context.Context, ts TokenSource, page int) (*CardPage, error) {
	if page < 1 {
		page = 1
	}
	var out CardPage
	err := c.do(ctx, ts, request{
		group:  groupCards,
		method: http.MethodGet,
		path:   "/entry/my-cards",
		query:  url.Values{"page": {strconv.Itoa(page)}},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Card(ctx context.Context, ts TokenSource, id int64) (*OwnedCard, error) {
	var out OwnedCard
	err := c.do(ctx, ts, request{
		group:  groupCards,
		method: http.MethodGet,
		path:   fmt.Sprintf("/entry/card-entry/%d", id),
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.CardID == 0 {
		out.CardID = id
	}
	return &out, nil
}

func (c *Client) UpdateCard(ctx context.Context, ts TokenSource, f CardForm) error {
	fields := map[string]string{
		"card_id":      strconv.FormatInt(f.CardID, 10),
		"card_name":    f.Name,
		"card_quality": f.Quality,
	}
	if f.ImageURL != "" {
		fields["image_url"] = f.ImageURL
	}
	f.Image.Field = "image"
	r, err := formRequest(groupCards, http.MethodPut, "/entry/card-entry/update", fields, f.Image)
	if err != nil {
		return err
	}
	return c.do(ctx, ts, r, nil)
}

// UnvalidatedCards lists cards awaiting authenticity verification.
func (c *Client) UnvalidatedCards(ctx context.Context, ts TokenSource) ([]Card, error) {
	var out []Card
	err := c.do(ctx, ts, request{group: groupCards, method: http.MethodGet, path: "/entry/card-entry/unvalidated"}, &out)
	return out, err
}

// VerifyCard asks the API to check a card against the third-party card id.
func (c *Client) VerifyCard(ctx context.Context, ts TokenSource, id int64) (*VerifyResult, error) {
	var out VerifyResult
	err := c.do(ctx, ts, request{
		group:  groupCards,
		method: http.MethodPost,
		path:   fmt.Sprintf("/verification/verify-card/%d", id),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
