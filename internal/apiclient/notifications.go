package apiclient

import (
	"context"
	"net/http"
)

const groupNotifications = "notifications"

func (c *Client) MyNotifications(ctx context.Context, ts TokenSource) (*NotificationList, error) {
	var out NotificationList
	err := c.do(ctx, ts, request{
		group:  groupNotifications,
		method: http.MethodGet,
		path:   "/notifications/my-notifications",
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) MarkAllRead(ctx context.Context, ts TokenSource) error {
	return c.do(ctx, ts, request{
		group:  groupNotifications,
		method: http.MethodPut,
		path:   "/notifications/mark-read",
	}, nil)
}
