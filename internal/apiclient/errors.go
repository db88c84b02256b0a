package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrUnauthorized = errors.New("authentication required")
	ErrForbidden    = errors.New("permission denied")
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
)

// APIError is a non-2xx answer from the marketplace API.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Detail)
}

// Is maps status codes onto the package sentinels so callers can use
// errors.Is without inspecting Status.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrForbidden:
		return e.Status == http.StatusForbidden
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrRateLimited:
		return e.Status == http.StatusTooManyRequests ||
			strings.Contains(strings.ToLower(e.Detail), "rate limit")
	}
	return false
}

// Message returns the human-readable part of err for flash messages.
func Message(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Detail
	}
	return err.Error()
}

type validationItem struct {
	Loc []any  `json:"loc"`
	Msg string `json:"msg"`
}

// decodeDetail turns an error body into a single line. The API answers
// with {"detail": "..."} or, for validation failures, with
// {"detail": [{"loc": [..., "field"], "msg": "..."}]}.
func decodeDetail(status int, body []byte) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Detail) == 0 {
		return http.StatusText(status)
	}

	var s string
	if err := json.Unmarshal(envelope.Detail, &s); err == nil {
		return s
	}

	var items []validationItem
	if err := json.Unmarshal(envelope.Detail, &items); err == nil && len(items) > 0 {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			field := "input"
			if len(it.Loc) > 0 {
				field = fmt.Sprint(it.Loc[len(it.Loc)-1])
			}
			msgs = append(msgs, field+": "+it.Msg)
		}
		return strings.Join(msgs, ", ")
	}

	return http.StatusText(status)
}
