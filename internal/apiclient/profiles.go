package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

const groupProfiles = "profiles"

// ProfileInfo returns the signed-in user's profile.
func (c *Client) ProfileInfo(ctx context.Context, ts TokenSource) (*Profile, error) {
	var out Profile
	if err := c.do(ctx, ts, request{group: groupProfiles, method: http.MethodGet, path: "/profile/info"}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ProfileByUsername(ctx context.Context, username string) (*Profile, error) {
	var out Profile
	err := c.do(ctx, nil, request{
		group:  groupProfiles,
		method: http.MethodGet,
		path:   "/profile/" + url.PathEscape(username),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// RateSeller rates the seller of a won auction.
func (c *Client) RateSeller(ctx context.Context, ts TokenSource, auctionID int64, rating int) (*RatingResult, error) {
	r, err := formRequest(groupProfiles, http.MethodPut, "/rate-seller", map[string]string{
		"auction_id": strconv.FormatInt(auctionID, 10),
		"rating":     strconv.Itoa(rating),
	})
	if err != nil {
		return nil, err
	}
	var out RatingResult
	if err := c.do(ctx, ts, r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
