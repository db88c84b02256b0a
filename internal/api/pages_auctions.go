package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"cardauction/internal/apiclient"
	"cardauction/internal/auction"
	"cardauction/internal/search"
)

const bidPlacedText = "Bid placed successfully!"

// tokens returns the session's token source, or nil for anonymous
// requests.
func (s *Server) tokens(r *http.Request) apiclient.TokenSource {
	sess := sessionFrom(r)
	if sess == nil {
		return nil
	}
	return s.sessions.TokenSource(sess.ID)
}

func idParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

type homeData struct {
	Auctions []apiclient.Auction
	Pager    auction.Pager
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("page"))
	requested := 1
	if n, err := strconv.Atoi(raw); err == nil && n > 1 {
		requested = n
	}

	list, err := s.client.ListAuctions(r.Context(), requested)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var errMsg string
	if raw != "" {
		if _, err := auction.ValidPage(raw, list.TotalPages); err != nil {
			errMsg = err.Error()
			if requested != 1 {
				requested = 1
				if list, err = s.client.ListAuctions(r.Context(), 1); err != nil {
					s.fail(w, r, err)
					return
				}
			}
		}
	}

	s.page(w, r, http.StatusOK, "home", "Auctions", homeData{
		Auctions: list.Auctions,
		Pager:    auction.NewPager(requested, list.TotalPages),
	}, errMsg)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	res, err := search.Run(r.Context(), s.client, r.URL.Query().Get("query"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.page(w, r, http.StatusOK, "search", "Search", res, "")
}

type biddingData struct {
	Auction   *apiclient.Auction
	Countdown auction.Countdown
	Amount    string
}

func (s *Server) handleBidding(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		http.Error(w, "invalid auction id", http.StatusBadRequest)
		return
	}
	a, err := s.client.AuctionDetails(r.Context(), s.tokens(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.page(w, r, http.StatusOK, "bidding", a.CardName, biddingData{
		Auction:   a,
		Countdown: auction.TimeLeft(a.EndTime.Time, time.Now()),
	}, "")
}

func (s *Server) handlePlaceBid(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		http.Error(w, "invalid auction id", http.StatusBadRequest)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	ts := s.tokens(r)
	input := r.PostFormValue("amount")

	a, err := s.client.AuctionDetails(r.Context(), ts, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	data := biddingData{
		Auction:   a,
		Countdown: auction.TimeLeft(a.EndTime.Time, time.Now()),
		Amount:    input,
	}

	amount, err := auction.CheckBid(input, a.HighestBid)
	if err != nil {
		s.page(w, r, http.StatusBadRequest, "bidding", a.CardName, data, err.Error())
		return
	}

	res, err := s.client.PlaceBid(r.Context(), ts, id, amount)
	if err != nil {
		if errors.Is(err, apiclient.ErrUnauthorized) {
			s.fail(w, r, err)
			return
		}
		s.page(w, r, statusFor(err), "bidding", a.CardName, data, detailOr(err, "Failed to place bid"))
		return
	}

	msg := bidPlacedText
	if res.Message != "" {
		msg = res.Message
	}
	s.setFlash(w, msg)
	http.Redirect(w, r, "/bidding/"+strconv.FormatInt(id, 10), http.StatusSeeOther)
}

type countdownResponse struct {
	AuctionID int64 `json:"auction_id"`
	EndTime   int64 `json:"end_time"`
	auction.Countdown
}

// handleCountdown serves the end time so widgets can tick locally.
func (s *Server) handleCountdown(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		http.Error(w, "invalid auction id", http.StatusBadRequest)
		return
	}
	a, err := s.client.AuctionDetails(r.Context(), s.tokens(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countdownResponse{
		AuctionID: id,
		EndTime:   a.EndTime.Unix(),
		Countdown: auction.TimeLeft(a.EndTime.Time, time.Now()),
	})
}
