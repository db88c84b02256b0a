package api

import (
	"bytes"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cardauction/internal/auction"
)

func multipartBody(t *testing.T, image []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("card_name", "Pikachu")
	fw, err := mw.CreateFormFile("image", "pikachu.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fw.Write(image)
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestParseUpload(t *testing.T) {
	body, ctype := multipartBody(t, []byte("\x89PNG\r\n\x1a\n"))
	req := httptest.NewRequest(http.MethodPost, "/card-entry", body)
	req.Header.Set("Content-Type", ctype)
	if err := parseUpload(httptest.NewRecorder(), req); err != nil {
		t.Fatalf("small upload: %v", err)
	}
	if got := req.FormValue("card_name"); got != "Pikachu" {
		t.Fatalf("expected card_name, got %q", got)
	}

	req = httptest.NewRequest(http.MethodPost, "/card-entry", strings.NewReader("card_name=Pikachu"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if err := parseUpload(httptest.NewRecorder(), req); !errors.Is(err, errInvalidForm) {
		t.Fatalf("urlencoded body: expected errInvalidForm, got %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/card-entry", strings.NewReader("--x\r\nbroken"))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	if err := parseUpload(httptest.NewRecorder(), req); !errors.Is(err, errInvalidForm) {
		t.Fatalf("truncated multipart: expected errInvalidForm, got %v", err)
	}

	body, ctype = multipartBody(t, bytes.Repeat([]byte{0xff}, maxUploadBytes+1024))
	req = httptest.NewRequest(http.MethodPost, "/card-entry", body)
	req.Header.Set("Content-Type", ctype)
	if err := parseUpload(httptest.NewRecorder(), req); !errors.Is(err, auction.ErrImageTooLarge) {
		t.Fatalf("oversized upload: expected ErrImageTooLarge, got %v", err)
	}
}
