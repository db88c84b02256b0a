package apiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Timestamp accepts the API's end-time encodings: Unix seconds (number or
// numeric string) and ISO-8601 with or without a zone. Zoneless values are
// taken as UTC.
type Timestamp struct {
	time.Time
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseTimestamp parses one end-time value.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	raw := string(b)
	if strings.HasPrefix(raw, `"`) {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
	}
	parsed, err := ParseTimestamp(raw)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.UTC().Format(time.RFC3339))
}

// Auction covers the collection, detail, owner, winning and seller views;
// each endpoint fills the subset it knows.
type Auction struct {
	AuctionID             int64     `json:"AuctionID"`
	CardID                int64     `json:"CardID"`
	Title                 string    `json:"title,omitempty"`
	Status                string    `json:"Status"`
	HighestBid            float64   `json:"HighestBid"`
	StartingBid           float64   `json:"StartingBid,omitempty"`
	MinimumIncrement      float64   `json:"MinimumIncrement,omitempty"`
	EndTime               Timestamp `json:"EndTime"`
	IsValidated           bool      `json:"IsValidated"`
	CardName              string    `json:"CardName"`
	CardQuality           string    `json:"CardQuality"`
	ImageURL              string    `json:"ImageURL"`
	SellerID              int64     `json:"SellerID,omitempty"`
	SellerUsername        string    `json:"SellerUsername,omitempty"`
	HighestBidderID       *int64    `json:"HighestBidderID,omitempty"`
	HighestBidderUsername string    `json:"HighestBidderUsername,omitempty"`
}

// HasBidder reports whether someone holds the highest bid.
func (a *Auction) HasBidder() bool {
	return a.HighestBidderID != nil && *a.HighestBidderID != 0
}

type AuctionPage struct {
	Auctions   []Auction `json:"auctions"`
	TotalPages int       `json:"total_pages"`
}

type BidResult struct {
	Message       string  `json:"message"`
	NewHighestBid float64 `json:"new_highest_bid"`
}

// AuctionForm is the multipart body of submit-auction and update-auction.
type AuctionForm struct {
	CardID           int64
	StartingBid      float64
	MinimumIncrement float64
	DurationHours    int
}

type CreatedAuction struct {
	AuctionID        int64     `json:"auction_id"`
	CardID           int64     `json:"card_id"`
	StartingBid      float64   `json:"starting_bid"`
	CurrentBid       float64   `json:"current_bid"`
	MinimumIncrement float64   `json:"minimum_increment"`
	EndTime          Timestamp `json:"end_time"`
}

// Card is the PascalCase card record of the auction and verification
// endpoints.
type Card struct {
	CardID      int64  `json:"CardID"`
	CardName    string `json:"CardName"`
	CardQuality string `json:"CardQuality"`
	ImageURL    string `json:"ImageURL"`
	IsValidated bool   `json:"IsValidated"`
	OwnerID     int64  `json:"OwnerID"`
}

// OwnedCard is the snake_case card record of the card-entry endpoints.
type OwnedCard struct {
	CardID      int64  `json:"card_id"`
	CardName    string `json:"card_name"`
	CardQuality string `json:"card_quality"`
	IsValidated bool   `json:"is_validated"`
	ImageURL    string `json:"image_url"`
}

type Pagination struct {
	CurrentPage int  `json:"current_page"`
	TotalPages  int  `json:"total_pages"`
	TotalCards  int  `json:"total_cards"`
	HasNext     bool `json:"has_next"`
	HasPrevious bool `json:"has_previous"`
}

type CardPage struct {
	Cards      []OwnedCard `json:"cards"`
	Pagination Pagination  `json:"pagination"`
}

type VerifyResult struct {
	Message     string `json:"message"`
	CardID      int64  `json:"card_id"`
	IsValidated bool   `json:"is_validated"`
}

type Profile struct {
	UserID         int64   `json:"UserID"`
	Username       string  `json:"Username"`
	Email          string  `json:"Email"`
	NumberOfRating int     `json:"NumberOfRating"`
	CurrentRating  float64 `json:"CurrentRating"`
}

type RatingResult struct {
	Message       string  `json:"message"`
	SellerProfile Profile `json:"seller_profile"`
}

type Notification struct {
	ID        int64  `json:"notification_id"`
	AuctionID int64  `json:"auction_id"`
	Message   string `json:"message"`
	SentDate  string `json:"sent_date"`
	IsRead    bool   `json:"is_read"`
}

type NotificationList struct {
	Notifications []Notification `json:"Notifications"`
	Total         int            `json:"Total"`
}

// Unread counts notifications not yet marked read.
func (l *NotificationList) Unread() int {
	n := 0
	for _, item := range l.Notifications {
		if !item.IsRead {
			n++
		}
	}
	return n
}

type RegisterResult struct {
	Message       string `json:"message"`
	UserSub       string `json:"user_sub"`
	UserConfirmed bool   `json:"user_confirmed"`
}

// SearchResponse is the /search/all envelope. Results stay raw: the API
// has shipped both a flat list and a table-keyed object.
type SearchResponse struct {
	Total      int             `json:"total"`
	Results    json.RawMessage `json:"results"`
	Categories map[string]int  `json:"categories"`
}

type Attack struct {
	Name                string   `json:"name"`
	Cost                []string `json:"cost"`
	ConvertedEnergyCost int      `json:"convertedEnergyCost"`
	Damage              string   `json:"damage"`
	Text                string   `json:"text"`
}

type Weakness struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// CardInfo is the card-metadata document returned to the chat assistant.
type CardInfo struct {
	Name        string     `json:"name,omitempty"`
	Supertype   string     `json:"supertype,omitempty"`
	Subtypes    []string   `json:"subtypes,omitempty"`
	Level       string     `json:"level,omitempty"`
	HP          string     `json:"hp,omitempty"`
	Types       []string   `json:"types,omitempty"`
	EvolvesFrom string     `json:"evolvesFrom,omitempty"`
	Set         string     `json:"set,omitempty"`
	Rarity      string     `json:"rarity,omitempty"`
	Attacks     []Attack   `json:"attacks,omitempty"`
	Weaknesses  []Weakness `json:"weaknesses,omitempty"`
	FlavorText  string     `json:"flavorText,omitempty"`
	ImageURL    string     `json:"image_url,omitempty"`
	Description string     `json:"description,omitempty"`
	Error       string     `json:"error,omitempty"`
}
