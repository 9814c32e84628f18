package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/task-manager/internal/auth"
	"github.com/sakif/task-manager/internal/model"
	"github.com/sakif/task-manager/internal/service"
)

// AccountAPIHandler manages sign-up, login and session for API clients.
//
//   - HandleSignup  → create an account (inactive until verified, if required)
//   - HandleLogin   → check credentials, issue a JWT as body and cookie
//   - HandleLogout  → clear the cookie
//   - HandleProfile → return the logged-in user
type AccountAPIHandler struct {
	accounts      *service.AccountService
	secureCookies bool
	logger        *slog.Logger
}

func NewAccountAPIHandler(accounts *service.AccountService, secureCookies bool, logger *slog.Logger) *AccountAPIHandler {
	return &AccountAPIHandler{accounts: accounts, secureCookies: secureCookies, logger: logger}
}

type signupRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
	Nickname        string `json:"nickname"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
}

type signupResponse struct {
	User                 *model.User `json:"user"`
	VerificationRequired bool        `json:"verification_required"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

// HandleSignup registers a new account.
//
// HTTP: POST /api/accounts/signup → 201
func (h *AccountAPIHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, err := h.accounts.SignUp(r.Context(), service.NewUserInput{
		Email:           req.Email,
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
		Nickname:        req.Nickname,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, signupResponse{
		User:                 user,
		VerificationRequired: !user.IsActive,
	})
}

// HandleLogin exchanges email and password for a session token.
//
// HTTP: POST /api/accounts/login
//
// The token is returned in the body for API clients and also set as an
// HttpOnly cookie so a browser session works without extra steps.
func (h *AccountAPIHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.accounts.Authenticate(r.Context(), req.Email, req.Password, clientIP(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	auth.SetSessionCookie(w, res.Token, res.TTL, h.secureCookies)
	writeJSON(w, http.StatusOK, loginResponse{Token: res.Token, User: res.User})
}

// HandleLogout clears the session cookie.
//
// HTTP: POST /api/accounts/logout
//
// Tokens are stateless, so a bearer token stays valid until it expires.
func (h *AccountAPIHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookie(w, h.secureCookies)
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// RequireActive runs after auth.RequireAuth and rejects tokens whose
// account has since been deactivated, with the same 401 as a bad token.
func (h *AccountAPIHandler) RequireActive(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := h.accounts.ActiveUser(r.Context(), callerID(r)); err != nil {
			writeError(w, h.logger, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HandleProfile returns the authenticated user.
//
// HTTP: GET /api/accounts/profile (RequireAuth)
func (h *AccountAPIHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	user, err := h.accounts.GetUserByID(r.Context(), callerID(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
