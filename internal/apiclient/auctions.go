package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

const (
	groupAuctions = "auctions"
	groupSearch   = "search"
)

// ListAuctions fetches one page of the public auction collection.
func (c *Client) ListAuctions(ctx context.Context, page int) (*AuctionPage, error) {
	if page < 1 {
		page = 1
	}
	var out AuctionPage
	err := c.do(ctx, nil, request{
		group:  groupAuctions,
		method: http.MethodGet,
		path:   "/bidding/auction-collection",
		query:  url.Values{"page": {strconv.Itoa(page)}},
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.TotalPages < 1 {
		out.TotalPages = 1
	}
	return &out, nil
}

// AuctionDetails fetches the public bidding view of one auction.
func (c *Client) AuctionDetails(ctx context.Context, ts TokenSource, id int64) (*Auction, error) {
	var out Auction
	err := c.do(ctx, ts, request{
		group:  groupAuctions,
		method: http.MethodGet,
		path:   fmt.Sprintf("/bidding/auction-details/%d", id),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// PlaceBid submits a bid. Acceptance is decided by the API.
func (c *Client) PlaceBid(ctx context.Context, ts TokenSource, id int64, amount float64) (*BidResult, error) {
	r, err := jsonRequest(groupAuctions, http.MethodPost, fmt.Sprintf("/bidding/place-bid/%d", id), map[string]float64{
		"bid_value": amount,
	})
	if err != nil {
		return nil, err
	}
	var out BidResult
	if err := c.do(ctx, ts, r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchAll queries cards, auctions and profiles at once.
func (c *Client) SearchAll(ctx context.Context, query string) (*SearchResponse, error) {
	var out SearchResponse
	err := c.do(ctx, nil, request{
		group:  groupSearch,
		method: http.MethodGet,
		path:   "/search/all",
		query:  url.Values{"query": {query}},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
