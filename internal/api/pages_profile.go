package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"cardauction/internal/apiclient"
)

type profileData struct {
	Profile  *apiclient.Profile
	Auctions []apiclient.Auction
	Own      bool
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.client.ProfileInfo(r.Context(), s.tokens(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	auctions, err := s.client.SellerAuctions(r.Context(), p.UserID)
	if err != nil {
		s.log.Warn("seller auctions failed", "user_id", p.UserID, "err", err)
	}
	s.page(w, r, http.StatusOK, "profile", "My profile", profileData{Profile: p, Auctions: auctions, Own: true}, "")
}

func (s *Server) handlePublicProfile(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	p, err := s.client.ProfileByUsername(r.Context(), username)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var errMsg string
	auctions, err := s.client.SellerAuctions(r.Context(), p.UserID)
	if err != nil {
		s.log.Warn("seller auctions failed", "user_id", p.UserID, "err", err)
		errMsg = "Failed to load profile data"
	}
	own := false
	if sess := sessionFrom(r); sess != nil && sess.Email != "" && sess.Email == p.Email {
		own = true
	}
	s.page(w, r, http.StatusOK, "public_profile", p.Username, profileData{Profile: p, Auctions: auctions, Own: own}, errMsg)
}
