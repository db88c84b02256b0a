// Package auction holds the view-layer rules the pages apply before and
// after talking to the API: countdown text, the bid pre-check, listing
// guards, page bounds, upload checks and image URL resolution.
package auction

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const expiredText = "Expired"

// Countdown is the remaining time of an auction as shown on a page.
type Countdown struct {
	Expired bool   `json:"expired"`
	Text    string `json:"time_left"`
	Seconds int64  `json:"seconds"`
}

// TimeLeft computes the countdown from a server-supplied end time.
func TimeLeft(end, now time.Time) Countdown {
	diff := int64(end.Sub(now) / time.Second)
	if diff <= 0 {
		return Countdown{Expired: true, Text: expiredText}
	}
	days := diff / 86400
	hours := diff % 86400 / 3600
	minutes := diff % 3600 / 60
	seconds := diff % 60
	return Countdown{
		Text:    fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds),
		Seconds: diff,
	}
}

var (
	ErrBidNotANumber = errors.New("Please enter a valid bid amount")
	ErrBidTooLow     = errors.New("Bid must be higher than the current bid")
	ErrHasBids       = errors.New("Cannot delete auction that has active bids")
	ErrInProgress    = errors.New("You cannot update auction because it is already in progress")
	ErrInvalidPage   = errors.New("Invalid page number")
)

// CheckBid parses a bid typed by the user and rejects amounts that cannot
// beat the current bid. Everything else is left to the API.
func CheckBid(input string, current float64) (float64, error) {
	amount, err := strconv.ParseFloat(strings.TrimSpace(input), 64)
	if err != nil {
		return 0, ErrBidNotANumber
	}
	if amount <= current {
		return 0, ErrBidTooLow
	}
	return amount, nil
}

// CanDelete reports whether a listing may be deleted by its seller.
func CanDelete(hasBidder bool) error {
	if hasBidder {
		return ErrHasBids
	}
	return nil
}

// CanUpdate reports whether a listing may still be edited.
func CanUpdate(hasBidder bool) error {
	if hasBidder {
		return ErrInProgress
	}
	return nil
}

// ValidPage checks a "go to page" request against the page count.
func ValidPage(input string, total int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || n < 1 || n > total {
		return 0, ErrInvalidPage
	}
	return n, nil
}

// Pager describes the previous/next links around a page.
type Pager struct {
	Page, Total int
	Prev, Next  int
}

func NewPager(page, total int) Pager {
	if total < 1 {
		total = 1
	}
	if page < 1 {
		page = 1
	}
	if page > total {
		page = total
	}
	p := Pager{Page: page, Total: total}
	if page > 1 {
		p.Prev = page - 1
	}
	if page < total {
		p.Next = page + 1
	}
	return p
}

// PlaceholderImage is shown for cards without an uploaded image.
const PlaceholderImage = "https://placehold.co/300x400/png?text=No+Image+Available"

// ImageURL resolves a card image reference. Relative paths are served by
// the API host.
func ImageURL(apiBase, ref string) string {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return PlaceholderImage
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return ref
	}
	base := strings.TrimRight(apiBase, "/")
	if !strings.HasPrefix(ref, "/") {
		ref = "/" + ref
	}
	return base + ref
}

// MaxImageSize is the largest card image accepted for upload.
const MaxImageSize = 5 << 20

var (
	ErrImageTooLarge = errors.New("File size too large. Please upload an image under 5MB.")
	ErrNotAnImage    = errors.New("Please upload a valid image file.")
)

// CheckImage validates an upload before it is forwarded. The content type
// is sniffed from the data; the browser's claim is not trusted.
func CheckImage(data []byte) error {
	if len(data) > MaxImageSize {
		return ErrImageTooLarge
	}
	if !strings.HasPrefix(http.DetectContentType(data), "image/") {
		return ErrNotAnImage
	}
	return nil
}
