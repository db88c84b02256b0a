package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
)

const (
	groupListings = "listings"

	// DefaultDurationHours is sent when an update carries no duration.
	DefaultDurationHours = 24
)

func (f AuctionForm) fields(withCard bool) map[string]string {
	hours := f.DurationHours
	if hours <= 0 {
		hours = DefaultDurationHours
	}
	m := map[string]string{
		"starting_bid":      strconv.FormatFloat(f.StartingBid, 'f', -1, 64),
		"minimum_increment": strconv.FormatFloat(f.MinimumIncrement, 'f', -1, 64),
		"auction_duration":  strconv.Itoa(hours),
	}
	if withCard {
		m["card_id"] = strconv.FormatInt(f.CardID, 10)
	}
	return m
}

// ValidatedCards lists the caller's cards eligible for listing.
func (c *Client) ValidatedCards(ctx context.Context, ts TokenSource) ([]Card, error) {
	var out []Card
	err := c.do(ctx, ts, request{group: groupListings, method: http.MethodGet, path: "/auction/validated-cards"}, &out)
	return out, err
}

func (c *Client) CreateAuction(ctx context.Context, ts TokenSource, f AuctionForm) (*CreatedAuction, error) {
	r, err := formRequest(groupListings, http.MethodPost, "/auction/submit-auction", f.fields(true))
	if err != nil {
		return nil, err
	}
	var out CreatedAuction
	if err := c.do(ctx, ts, r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) MyAuctions(ctx context.Context, ts TokenSource) ([]Auction, error) {
	var out []Auction
	err := c.do(ctx, ts, request{group: groupListings, method: http.MethodGet, path: "/auction/my-auctions"}, &out)
	return out, err
}

// OwnedAuction fetches the seller's view of one of their auctions.
func (c *Client) OwnedAuction(ctx context.Context, ts TokenSource, id int64) (*Auction, error) {
	var out Auction
	err := c.do(ctx, ts, request{
		group:  groupListings,
		method: http.MethodGet,
		path:   fmt.Sprintf("/auction/auction-details/%d", id),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateAuction(ctx context.Context, ts TokenSource, id int64, f AuctionForm) (*Auction, error) {
	r, err := formRequest(groupListings, http.MethodPut, fmt.Sprintf("/auction/update-auction/%d", id), f.fields(false))
	if err != nil {
		return nil, err
	}
	var out Auction
	if err := c.do(ctx, ts, r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteAuction(ctx context.Context, ts TokenSource, id int64) error {
	return c.do(ctx, ts, request{
		group:  groupListings,
		method: http.MethodDelete,
		path:   fmt.Sprintf("/auction/delete-auction/%d", id),
	}, nil)
}

// WinningAuctions lists auctions where the caller holds the highest bid.
func (c *Client) WinningAuctions(ctx context.Context, ts TokenSource) ([]Auction, error) {
	var out []Auction
	err := c.do(ctx, ts, request{group: groupListings, method: http.MethodGet, path: "/winning-auctions"}, &out)
	return out, err
}

func (c *Client) SellerAuctions(ctx context.Context, userID int64) ([]Auction, error) {
	var out []Auction
	err := c.do(ctx, nil, request{
		group:  groupListings,
		method: http.MethodGet,
		path:   fmt.Sprintf("/auction/seller/%d", userID),
	}, &out)
	return out, err
}
