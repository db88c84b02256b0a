package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"cardauction/internal/apiclient"
	"cardauction/internal/auction"
)

const maxUploadBytes = auction.MaxImageSize + 1<<20

var errInvalidForm = errors.New("invalid form")

// parseUpload reads a multipart card form within the upload limit. Only an
// oversized body is reported as too large; anything else is errInvalidForm.
func parseUpload(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	err := r.ParseMultipartForm(maxUploadBytes)
	if err == nil {
		return nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || errors.Is(err, multipart.ErrMessageTooLarge) {
		return auction.ErrImageTooLarge
	}
	return errInvalidForm
}

type cardFormValues struct {
	Name    string
	Quality string
}

// readImage returns the uploaded image, or a zero FilePart when none was
// sent.
func readImage(r *http.Request) (apiclient.FilePart, error) {
	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return apiclient.FilePart{}, nil
	}
	if err != nil {
		return apiclient.FilePart{}, err
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, auction.MaxImageSize+1))
	if err != nil {
		return apiclient.FilePart{}, err
	}
	if len(data) == 0 {
		return apiclient.FilePart{}, nil
	}
	if err := auction.CheckImage(data); err != nil {
		return apiclient.FilePart{}, err
	}
	return apiclient.FilePart{Field: "image", Filename: header.Filename, Data: data}, nil
}

func (s *Server) handleCardEntryPage(w http.ResponseWriter, r *http.Request) {
	s.page(w, r, http.StatusOK, "card_entry", "Add a card", cardFormValues{}, "")
}

func (s *Server) handleCardEntry(w http.ResponseWriter, r *http.Request) {
	if err := parseUpload(w, r); err != nil {
		if errors.Is(err, errInvalidForm) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.page(w, r, http.StatusBadRequest, "card_entry", "Add a card", cardFormValues{}, err.Error())
		return
	}
	values := cardFormValues{
		Name:    strings.TrimSpace(r.PostFormValue("card_name")),
		Quality: strings.TrimSpace(r.PostFormValue("card_quality")),
	}
	if values.Name == "" || values.Quality == "" {
		s.page(w, r, http.StatusBadRequest, "card_entry", "Add a card", values, "Card name and quality are required")
		return
	}
	image, err := readImage(r)
	if err != nil {
		s.page(w, r, http.StatusBadRequest, "card_entry", "Add a card", values, err.Error())
		return
	}

	err = s.client.CreateCard(r.Context(), s.tokens(r), apiclient.CardForm{
		Name:    values.Name,
		Quality: values.Quality,
		Image:   image,
	})
	if err != nil {
		if errors.Is(err, apiclient.ErrUnauthorized) {
			s.fail(w, r, err)
			return
		}
		s.page(w, r, statusFor(err), "card_entry", "Add a card", values,
			detailOr(err, "Failed to create card entry. Please try again."))
		return
	}
	s.setFlash(w, "Card entry created successfully!")
	http.Redirect(w, r, "/my-cards", http.StatusSeeOther)
}

type myCardsData struct {
	Cards      []apiclient.OwnedCard
	Pagination apiclient.Pagination
	Prev, Next int
}

func (s *Server) handleMyCards(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	res, err := s.client.MyCards(r.Context(), s.tokens(r), page)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	data := myCardsData{Cards: res.Cards, Pagination: res.Pagination}
	if data.Pagination.CurrentPage < 1 {
		data.Pagination.CurrentPage = page
	}
	if data.Pagination.HasPrevious {
		data.Prev = data.Pagination.CurrentPage - 1
	}
	if data.Pagination.HasNext {
		data.Next = data.Pagination.CurrentPage + 1
	}
	s.page(w, r, http.StatusOK, "my_cards", "My cards", data, "")
}

type editCardData struct {
	Card   *apiclient.OwnedCard
	Values cardFormValues
}

func (s *Server) handleEditCardPage(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		http.Error(w, "invalid card id", http.StatusBadRequest)
		return
	}
	card, err := s.client.Card(r.Context(), s.tokens(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.page(w, r, http.StatusOK, "edit_card", "Edit card", editCardData{
		Card:   card,
		Values: cardFormValues{Name: card.CardName, Quality: card.CardQuality},
	}, "")
}

func (s *Server) handleEditCard(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		http.Error(w, "invalid card id", http.StatusBadRequest)
		return
	}
	ts := s.tokens(r)
	card, err := s.client.Card(r.Context(), ts, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	data := editCardData{Card: card, Values: cardFormValues{Name: card.CardName, Quality: card.CardQuality}}

	if err := parseUpload(w, r); err != nil {
		if errors.Is(err, errInvalidForm) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.page(w, r, http.StatusBadRequest, "edit_card", "Edit card", data, err.Error())
		return
	}
	data.Values = cardFormValues{
		Name:    strings.TrimSpace(r.PostFormValue("card_name")),
		Quality: strings.TrimSpace(r.PostFormValue("card_quality")),
	}
	if data.Values.Name == "" || data.Values.Quality == "" {
		s.page(w, r, http.StatusBadRequest, "edit_card", "Edit card", data, "Card name and quality are required")
		return
	}
	image, err := readImage(r)
	if err != nil {
		s.page(w, r, http.StatusBadRequest, "edit_card", "Edit card", data, err.Error())
		return
	}

	err = s.client.UpdateCard(r.Context(), ts, apiclient.CardForm{
		CardID:   id,
		Name:     data.Values.Name,
		Quality:  data.Values.Quality,
		ImageURL: card.ImageURL,
		Image:    image,
	})
	if err != nil {
		if errors.Is(err, apiclient.ErrUnauthorized) {
			s.fail(w, r, err)
			return
		}
		s.page(w, r, statusFor(err), "edit_card", "Edit card", data, detailOr(err, "Failed to update card"))
		return
	}
	s.setFlash(w, "Card updated successfully!")
	http.Redirect(w, r, "/my-cards", http.StatusSeeOther)
}

func (s *Server) handleUnvalidatedCards(w http.ResponseWriter, r *http.Request) {
	cards, err := s.client.UnvalidatedCards(r.Context(), s.tokens(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.page(w, r, http.StatusOK, "unvalidated_cards", "Verify cards", cards, "")
}

func (s *Server) handleVerifyCard(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		http.Error(w, "invalid card id", http.StatusBadRequest)
		return
	}
	res, err := s.client.VerifyCard(r.Context(), s.tokens(r), id)
	if err != nil {
		if errors.Is(err, apiclient.ErrUnauthorized) {
			s.fail(w, r, err)
			return
		}
		s.setFlash(w, detailOr(err, "Verification failed"))
		http.Redirect(w, r, "/unvalidated-cards", http.StatusSeeOther)
		return
	}

	msg := res.Message
	if msg == "" {
		if res.IsValidated {
			msg = fmt.Sprintf("Card %d verified.", id)
		} else {
			msg = fmt.Sprintf("Card %d could not be verified.", id)
		}
	}
	s.setFlash(w, msg)
	http.Redirect(w, r, "/unvalidated-cards", http.StatusSeeOther)
}
