package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cardauction/internal/apiclient"
	"cardauction/internal/auction"
)

var errInvalidAuctionForm = errors.New("Starting bid, minimum increment and duration must be positive numbers")

func (s *Server) handleMyAuctions(w http.ResponseWriter, r *http.Request) {
	list, err := s.client.MyAuctions(r.Context(), s.tokens(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.page(w, r, http.StatusOK, "my_auctions", "My auctions", list, "")
}

type createAuctionData struct {
	Cards []apiclient.Card
	Form  auctionFormValues
}

// auctionFormValues echoes what the user typed back into the form.
type auctionFormValues struct {
	CardID           string
	StartingBid      string
	MinimumIncrement string
	DurationHours    string
}

func readAuctionForm(r *http.Request, withCard bool) (apiclient.AuctionForm, auctionFormValues, error) {
	v := auctionFormValues{
		CardID:           strings.TrimSpace(r.PostFormValue("card_id")),
		StartingBid:      strings.TrimSpace(r.PostFormValue("starting_bid")),
		MinimumIncrement: strings.TrimSpace(r.PostFormValue("minimum_increment")),
		DurationHours:    strings.TrimSpace(r.PostFormValue("auction_duration")),
	}
	var f apiclient.AuctionForm

	if withCard {
		id, err := strconv.ParseInt(v.CardID, 10, 64)
		if err != nil || id <= 0 {
			return f, v, errors.New("Please select a card")
		}
		f.CardID = id
	}

	start, err1 := strconv.ParseFloat(v.StartingBid, 64)
	incr, err2 := strconv.ParseFloat(v.MinimumIncrement, 64)
	if err1 != nil || err2 != nil || start <= 0 || incr <= 0 {
		return f, v, errInvalidAuctionForm
	}
	f.StartingBid, f.MinimumIncrement = start, incr

	if v.DurationHours != "" {
		hours, err := strconv.Atoi(v.DurationHours)
		if err != nil || hours <= 0 {
			return f, v, errInvalidAuctionForm
		}
		f.DurationHours = hours
	}
	return f, v, nil
}

func (s *Server) handleCreateAuctionPage(w http.ResponseWriter, r *http.Request) {
	cards, err := s.client.ValidatedCards(r.Context(), s.tokens(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	data := createAuctionData{
		Cards: cards,
		Form:  auctionFormValues{CardID: r.URL.Query().Get("card"), DurationHours: strconv.Itoa(apiclient.DefaultDurationHours)},
	}
	s.page(w, r, http.StatusOK, "create_auction", "Create auction", data, "")
}

func (s *Server) handleCreateAuction(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	ts := s.tokens(r)
	form, values, formErr := readAuctionForm(r, true)

	rerender := func(status int, msg string) {
		cards, err := s.client.ValidatedCards(r.Context(), ts)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.page(w, r, status, "create_auction", "Create auction", createAuctionData{Cards: cards, Form: values}, msg)
	}

	if formErr != nil {
		rerender(http.StatusBadRequest, formErr.Error())
		return
	}

	created, err := s.client.CreateAuction(r.Context(), ts, form)
	if err != nil {
		if errors.Is(err, apiclient.ErrUnauthorized) {
			s.fail(w, r, err)
			return
		}
		rerender(statusFor(err), detailOr(err, "Failed to create auction"))
		return
	}
	s.log.Info("auction created", "auction_id", created.AuctionID, "card_id", created.CardID)
	s.setFlash(w, "Auction created successfully!")
	http.Redirect(w, r, "/my-auctions", http.StatusSeeOther)
}

type ownedAuctionData struct {
	Auction   *apiclient.Auction
	Countdown auction.Countdown
	CanUpdate bool
	CanDelete bool
	Form      auctionFormValues
}

func newOwnedAuctionData(a *apiclient.Auction) ownedAuctionData {
	return ownedAuctionData{
		Auction:   a,
		Countdown: auction.TimeLeft(a.EndTime.Time, time.Now()),
		CanUpdate: auction.CanUpdate(a.HasBidder()) == nil,
		CanDelete: auction.CanDelete(a.HasBidder()) == nil,
		Form: auctionFormValues{
			StartingBid:      strconv.FormatFloat(a.StartingBid, 'f', -1, 64),
			MinimumIncrement: strconv.FormatFloat(a.MinimumIncrement, 'f', -1, 64),
			DurationHours:    strconv.Itoa(apiclient.DefaultDurationHours),
		},
	}
}

func (s *Server) handleOwnedAuction(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		http.Error(w, "invalid auction id", http.StatusBadRequest)
		return
	}
	a, err := s.client.OwnedAuction(r.Context(), s.tokens(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.page(w, r, http.StatusOK, "owned_auction", a.CardName, newOwnedAuctionData(a), "")
}

func (s *Server) handleUpdateAuction(w http.ResponseWriter, r *http.Request) {
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

	a, err := s.client.OwnedAuction(r.Context(), ts, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	data := newOwnedAuctionData(a)
	if err := auction.CanUpdate(a.HasBidder()); err != nil {
		s.page(w, r, http.StatusConflict, "owned_auction", a.CardName, data, err.Error())
		return
	}

	form, values, err := readAuctionForm(r, false)
	if err != nil {
		data.Form = values
		s.page(w, r, http.StatusBadRequest, "owned_auction", a.CardName, data, err.Error())
		return
	}
	if _, err := s.client.UpdateAuction(r.Context(), ts, id, form); err != nil {
		if errors.Is(err, apiclient.ErrUnauthorized) {
			s.fail(w, r, err)
			return
		}
		data.Form = values
		s.page(w, r, statusFor(err), "owned_auction", a.CardName, data, detailOr(err, "Failed to update auction"))
		return
	}
	s.setFlash(w, "Auction updated successfully!")
	http.Redirect(w, r, fmt.Sprintf("/auction/%d", id), http.StatusSeeOther)
}

func (s *Server) handleDeleteAuction(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		http.Error(w, "invalid auction id", http.StatusBadRequest)
		return
	}
	ts := s.tokens(r)

	a, err := s.client.OwnedAuction(r.Context(), ts, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := auction.CanDelete(a.HasBidder()); err != nil {
		s.page(w, r, http.StatusConflict, "owned_auction", a.CardName, newOwnedAuctionData(a), err.Error())
		return
	}
	if err := s.client.DeleteAuction(r.Context(), ts, id); err != nil {
		if errors.Is(err, apiclient.ErrUnauthorized) {
			s.fail(w, r, err)
			return
		}
		s.page(w, r, statusFor(err), "owned_auction", a.CardName, newOwnedAuctionData(a), detailOr(err, "Failed to delete auction"))
		return
	}
	s.setFlash(w, "Auction deleted.")
	http.Redirect(w, r, "/my-auctions", http.StatusSeeOther)
}

func (s *Server) handleWinningAuctions(w http.ResponseWriter, r *http.Request) {
	list, err := s.client.WinningAuctions(r.Context(), s.tokens(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.page(w, r, http.StatusOK, "winning_auctions", "Winning auctions", list, "")
}

func (s *Server) handleRateSeller(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		http.Error(w, "invalid auction id", http.StatusBadRequest)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	rating, err := strconv.Atoi(r.PostFormValue("rating"))
	if err != nil || rating < 1 || rating > 5 {
		s.setFlash(w, "Rating must be between 1 and 5")
		http.Redirect(w, r, "/winning-auctions", http.StatusSeeOther)
		return
	}

	res, err := s.client.RateSeller(r.Context(), s.tokens(r), id, rating)
	if err != nil {
		if errors.Is(err, apiclient.ErrUnauthorized) {
			s.fail(w, r, err)
			return
		}
		s.setFlash(w, detailOr(err, "Failed to rate seller"))
		http.Redirect(w, r, "/winning-auctions", http.StatusSeeOther)
		return
	}
	msg := res.Message
	if msg == "" {
		msg = "Thanks for rating the seller!"
	}
	s.setFlash(w, msg)
	http.Redirect(w, r, "/winning-auctions", http.StatusSeeOther)
}
