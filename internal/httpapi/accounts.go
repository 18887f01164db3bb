package httpapi

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/lifecycle"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/models"
)

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Password string `json:"password" validate:"required,min=6,max=128"`
	FullName string `json:"full_name" validate:"max=120"`
	Email    string `json:"email" validate:"omitempty,email"`
	Phone    string `json:"phone" validate:"max=20"`
}

type createAccountRequest struct {
	registerRequest
	Role models.Role `json:"role" validate:"required,oneof=customer staff technician admin"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token     string         `json:"token"`
	TokenType string         `json:"token_type"`
	ExpiresAt time.Time      `json:"expires_at"`
	Account   models.Account `json:"account"`
}

type profileRequest struct {
	FullName *string `json:"full_name" validate:"omitempty,max=120"`
	Email    *string `json:"email" validate:"omitempty,max=254"`
	Phone    *string `json:"phone" validate:"omitempty,max=20"`
}

type accessRequest struct {
	Role   *models.Role          `json:"role" validate:"omitempty,oneof=customer staff technician admin"`
	Status *models.AccountStatus `json:"status" validate:"omitempty,oneof=active inactive banned"`
}

func (req registerRequest) toAccount(role models.Role) lifecycle.AccountRequest {
	return lifecycle.AccountRequest{
		Username: req.Username,
		Password: req.Password,
		FullName: req.FullName,
		Email:    req.Email,
		Phone:    req.Phone,
		Role:     role,
	}
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	account, err := h.manager.Register(r.Context(), req.toAccount(models.RoleCustomer))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusCreated, account)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	account, err := h.manager.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeFailure(w, err)
		return
	}
	token, claims, err := h.tokens.Issue(account)
	if err != nil {
		writeFailure(w, err)
		return
	}
	markAccount(w, account.AccountID)
	writeData(w, http.StatusOK, loginResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: claims.ExpiresAt.Time,
		Account:   account,
	})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	account, err := h.manager.GetAccount(r.Context(), actor, actor.AccountID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, account)
}

func (h *Handler) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	h.updateProfile(w, r, actor.AccountID)
}

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	h.updateProfile(w, r, pathID(r, "id"))
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request, accountID string) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req profileRequest
	if !decode(w, r, &req) {
		return
	}
	account, err := h.manager.UpdateProfile(r.Context(), actor, accountID, lifecycle.ProfileRequest{
		FullName: req.FullName,
		Email:    req.Email,
		Phone:    req.Phone,
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, account)
}

// handleLogout revokes the presented token until it would have expired.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	claims, err := h.tokens.Parse(bearerToken(r.Header.Get("Authorization")))
	if err != nil {
		writeFailure(w, err)
		return
	}
	if err := h.revoker.Revoke(r.Context(), actor.TokenID, claims.ExpiresAt.Time); err != nil {
		h.logger.Error("token revoke failed", zap.String("account_id", actor.AccountID), zap.Error(err))
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"logged_out": true})
}

func (h *Handler) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	accounts, err := h.manager.ListAccounts(r.Context(), actor, models.Role(r.URL.Query().Get("role")))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, accounts)
}

func (h *Handler) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req createAccountRequest
	if !decode(w, r, &req) {
		return
	}
	account, err := h.manager.CreateAccount(r.Context(), actor, req.toAccount(req.Role))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusCreated, account)
}

func (h *Handler) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	account, err := h.manager.GetAccount(r.Context(), actor, pathID(r, "id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, account)
}

func (h *Handler) handleUpdateAccess(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req accessRequest
	if !decode(w, r, &req) {
		return
	}
	account, err := h.manager.UpdateAccess(r.Context(), actor, pathID(r, "id"), lifecycle.AccessRequest{
		Role:   req.Role,
		Status: req.Status,
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, account)
}
