package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/url"
)

const groupAuth = "auth"

type loginResponse struct {
	Message string  `json:"message"`
	Tokens  *Tokens `json:"tokens"`
}

// Login exchanges credentials for a token set. The token issuer takes the
// credentials as query parameters.
func (c *Client) Login(ctx context.Context, email, password string) (Tokens, error) {
	r := request{
		group:  groupAuth,
		method: http.MethodPost,
		path:   "/login",
		query:  url.Values{"email": {email}, "password": {password}},
	}
	var resp loginResponse
	if err := c.do(ctx, nil, r, &resp); err != nil {
		return Tokens{}, err
	}
	if resp.Tokens == nil || resp.Tokens.AccessToken == "" {
		return Tokens{}, errors.New("no tokens in login response")
	}
	return *resp.Tokens, nil
}

// Refresh trades a refresh token for a new token set.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	r, err := jsonRequest(groupAuth, http.MethodPost, "/refresh-token", map[string]string{
		"refresh_token": refreshToken,
	})
	if err != nil {
		return Tokens{}, err
	}
	var resp loginResponse
	if err := c.do(ctx, nil, r, &resp); err != nil {
		return Tokens{}, err
	}
	if resp.Tokens == nil || resp.Tokens.AccessToken == "" {
		return Tokens{}, errors.New("no tokens in refresh response")
	}
	return *resp.Tokens, nil
}

func (c *Client) Register(ctx context.Context, email, password string) (*RegisterResult, error) {
	r := request{
		group:  groupAuth,
		method: http.MethodPost,
		path:   "/registration",
		query:  url.Values{"email": {email}, "password": {password}},
	}
	var out RegisterResult
	if err := c.do(ctx, nil, r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ConfirmRegistration(ctx context.Context, email, code string) error {
	return c.do(ctx, nil, request{
		group:  groupAuth,
		method: http.MethodPost,
		path:   "/confirmation",
		query:  url.Values{"email": {email}, "confirmation_code": {code}},
	}, nil)
}

func (c *Client) ResendConfirmationCode(ctx context.Context, email string) error {
	return c.do(ctx, nil, request{
		group:  groupAuth,
		method: http.MethodPost,
		path:   "/resend-confirmation-code",
		query:  url.Values{"email": {email}},
	}, nil)
}

// ForgotPassword asks the issuer to mail a reset code.
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	return c.do(ctx, nil, request{
		group:  groupAuth,
		method: http.MethodPost,
		path:   "/reset-password",
		query:  url.Values{"email": {email}},
	}, nil)
}

func (c *Client) ResetPassword(ctx context.Context, email, newPassword, code string) error {
	return c.do(ctx, nil, request{
		group:  groupAuth,
		method: http.MethodPost,
		path:   "/confirm-password-reset",
		query: url.Values{
			"email":                   {email},
			"new_password":            {newPassword},
			"reset_confirmation_code": {code},
		},
	}, nil)
}
