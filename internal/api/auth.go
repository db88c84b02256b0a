package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"cardauction/internal/apiclient"
)

const (
	loginFailedText    = "Login failed. Please check your credentials and try again."
	registerFailedText = "Registration failed. Please try again."
	resendFailedText   = "Failed to resend confirmation code. Please try again."
	forgotFailedText   = "Failed to send reset confirmation code. Please check your email and try again."
	resetFailedText    = "Password reset failed. Please check your details and try again."
)

type authForm struct {
	Email string
	Next  string
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if sessionFrom(r) != nil {
		http.Redirect(w, r, safeNext(r.URL.Query().Get("next")), http.StatusSeeOther)
		return
	}
	s.page(w, r, http.StatusOK, "login", "Log in", authForm{Next: r.URL.Query().Get("next")}, "")
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	form := authForm{Email: strings.TrimSpace(r.PostFormValue("email")), Next: r.PostFormValue("next")}
	password := r.PostFormValue("password")
	if form.Email == "" || password == "" {
		s.page(w, r, http.StatusBadRequest, "login", "Log in", form, "Email and password are required")
		return
	}

	tokens, err := s.client.Login(r.Context(), form.Email, password)
	if err != nil {
		s.log.Info("login rejected", "email", form.Email, "err", err)
		s.page(w, r, http.StatusUnauthorized, "login", "Log in", form, loginFailedText)
		return
	}

	if old := sessionFrom(r); old != nil {
		s.sessions.Delete(r.Context(), old.ID)
	}
	sess, err := s.sessions.Create(r.Context(), form.Email, tokens)
	if err != nil {
		s.log.Error("create session failed", "err", err)
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}
	s.setCookie(w, sess)
	http.Redirect(w, r, safeNext(form.Next), http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sess := sessionFrom(r); sess != nil {
		s.sessions.Delete(r.Context(), sess.ID)
	}
	s.clearCookie(w)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) handleRegisterPage(w http.ResponseWriter, r *http.Request) {
	s.page(w, r, http.StatusOK, "register", "Register", authForm{}, "")
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	form := authForm{Email: strings.TrimSpace(r.PostFormValue("email"))}
	password := r.PostFormValue("password")
	if form.Email == "" || password == "" {
		s.page(w, r, http.StatusBadRequest, "register", "Register", form, "Email and password are required")
		return
	}
	if confirm := r.PostFormValue("confirm_password"); confirm != "" && confirm != password {
		s.page(w, r, http.StatusBadRequest, "register", "Register", form, "Passwords do not match")
		return
	}

	res, err := s.client.Register(r.Context(), form.Email, password)
	if err != nil {
		s.page(w, r, statusFor(err), "register", "Register", form, detailOr(err, registerFailedText))
		return
	}
	if res.Message != "" {
		s.setFlash(w, res.Message)
	}
	if res.UserConfirmed {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/confirm?email="+url.QueryEscape(form.Email), http.StatusSeeOther)
}

func (s *Server) handleConfirmPage(w http.ResponseWriter, r *http.Request) {
	s.page(w, r, http.StatusOK, "confirm", "Confirm registration", authForm{Email: r.URL.Query().Get("email")}, "")
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	form := authForm{Email: strings.TrimSpace(r.PostFormValue("email"))}
	code := strings.TrimSpace(r.PostFormValue("code"))
	if form.Email == "" || code == "" {
		s.page(w, r, http.StatusBadRequest, "confirm", "Confirm registration", form, "Email and confirmation code are required")
		return
	}

	if err := s.client.ConfirmRegistration(r.Context(), form.Email, code); err != nil {
		s.page(w, r, statusFor(err), "confirm", "Confirm registration", form,
			detailOr(err, "Please check your details and try again."))
		return
	}
	s.setFlash(w, "Registration confirmed. You can log in now.")
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) handleResendCode(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	form := authForm{Email: strings.TrimSpace(r.PostFormValue("email"))}
	if form.Email == "" {
		s.page(w, r, http.StatusBadRequest, "confirm", "Confirm registration", form, "Email is required")
		return
	}
	if err := s.client.ResendConfirmationCode(r.Context(), form.Email); err != nil {
		s.page(w, r, statusFor(err), "confirm", "Confirm registration", form, resendFailedText)
		return
	}
	s.setFlash(w, "A new confirmation code has been sent to your email.")
	http.Redirect(w, r, "/confirm?email="+url.QueryEscape(form.Email), http.StatusSeeOther)
}

func (s *Server) handleForgotPage(w http.ResponseWriter, r *http.Request) {
	s.page(w, r, http.StatusOK, "forgot_password", "Forgot password", authForm{}, "")
}

func (s *Server) handleForgot(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	form := authForm{Email: strings.TrimSpace(r.PostFormValue("email"))}
	if form.Email == "" {
		s.page(w, r, http.StatusBadRequest, "forgot_password", "Forgot password", form, "Email is required")
		return
	}
	if err := s.client.ForgotPassword(r.Context(), form.Email); err != nil {
		s.page(w, r, statusFor(err), "forgot_password", "Forgot password", form, forgotFailedText)
		return
	}
	s.setFlash(w, "A reset code has been sent to your email.")
	http.Redirect(w, r, "/reset-password?email="+url.QueryEscape(form.Email), http.StatusSeeOther)
}

func (s *Server) handleResetPage(w http.ResponseWriter, r *http.Request) {
	s.page(w, r, http.StatusOK, "reset_password", "Reset password", authForm{Email: r.URL.Query().Get("email")}, "")
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	form := authForm{Email: strings.TrimSpace(r.PostFormValue("email"))}
	code := strings.TrimSpace(r.PostFormValue("code"))
	password := r.PostFormValue("new_password")
	if form.Email == "" || code == "" || password == "" {
		s.page(w, r, http.StatusBadRequest, "reset_password", "Reset password", form, "All fields are required")
		return
	}
	if confirm := r.PostFormValue("confirm_password"); confirm != "" && confirm != password {
		s.page(w, r, http.StatusBadRequest, "reset_password", "Reset password", form, "Passwords do not match")
		return
	}

	if err := s.client.ResetPassword(r.Context(), form.Email, password, code); err != nil {
		s.page(w, r, statusFor(err), "reset_password", "Reset password", form, resetFailedText)
		return
	}
	s.setFlash(w, "Your password has been reset. You can log in now.")
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// statusFor picks the status a re-rendered form is served with.
func statusFor(err error) int {
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
		return apiErr.Status
	}
	return http.StatusBadGateway
}

// detailOr prefers the API's own explanation over a canned message.
func detailOr(err error, fallback string) string {
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return fallback
}
