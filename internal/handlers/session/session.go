// internal/handlers/session/session.go
package session

import (
	"context"
	"net/http"

	"optiquantia/internal/auth"
	"optiquantia/internal/events"
	httpserver "optiquantia/internal/http"
	"optiquantia/internal/models"
)

// Resolver is the part of *auth.Resolver the session endpoints drive.
type Resolver interface {
	Identity() (models.Identity, bool)
	Resolving() bool
	Mode() models.ProviderMode
	Refresh(ctx context.Context)
	Login(ctx context.Context, email, credential string) auth.Result
	Register(ctx context.Context, in auth.RegisterInput) auth.Result
	Logout(ctx context.Context)
	UpdateProfile(ctx context.Context, u auth.ProfileUpdate) auth.Result
}

type Handler struct {
	resolver Resolver
	notices  *events.NoticeLog
}

func New(resolver Resolver, notices *events.NoticeLog) *Handler {
	return &Handler{resolver: resolver, notices: notices}
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Name     string `json:"name" validate:"max=200"`
	Company  string `json:"company" validate:"max=200"`
}

type stateResponse struct {
	Identity  *models.Identity    `json:"identity"`
	Resolving bool                `json:"resolving"`
	Mode      models.ProviderMode `json:"mode"`
}

func (h *Handler) state() stateResponse {
	out := stateResponse{Resolving: h.resolver.Resolving(), Mode: h.resolver.Mode()}
	if id, ok := h.resolver.Identity(); ok {
		out.Identity = &id
	}
	return out
}

// StatusFor maps an operation result to the HTTP status the client sees.
// Partial successes are 200; the warning travels in the body.
func StatusFor(res auth.Result) int {
	switch res.Kind {
	case auth.KindNone, auth.KindInconsistentState:
		return http.StatusOK
	case auth.KindRejection, auth.KindPrecondition:
		return http.StatusUnauthorized
	case auth.KindTransport:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type resultResponse struct {
	auth.Result
	Identity *models.Identity `json:"identity"`
}

func (h *Handler) writeResult(w http.ResponseWriter, res auth.Result) {
	out := resultResponse{Result: res}
	if id, ok := h.resolver.Identity(); ok {
		out.Identity = &id
	}
	httpserver.JSON(w, StatusFor(res), out)
}

// Get returns the current identity (or null), whether resolution is in
// progress and the provider mode.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	httpserver.JSON(w, http.StatusOK, h.state())
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.resolver.Refresh(r.Context())
	httpserver.JSON(w, http.StatusOK, h.state())
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httpserver.Decode(w, r, &req); err != nil {
		httpserver.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeResult(w, h.resolver.Login(r.Context(), req.Email, req.Password))
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := httpserver.Decode(w, r, &req); err != nil {
		httpserver.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeResult(w, h.resolver.Register(r.Context(), auth.RegisterInput{
		Email:        req.Email,
		Credential:   req.Password,
		DisplayName:  req.Name,
		Organization: req.Company,
	}))
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.resolver.Logout(r.Context())
	httpserver.JSON(w, http.StatusOK, map[string]any{"ok": true, "redirect": "/login"})
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req auth.ProfileUpdate
	if err := httpserver.Decode(w, r, &req); err != nil {
		httpserver.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeResult(w, h.resolver.UpdateProfile(r.Context(), req))
}

// Notices returns the most recent user notices, newest first.
func (h *Handler) Notices(w http.ResponseWriter, r *http.Request) {
	httpserver.JSON(w, http.StatusOK, map[string]any{"content": h.notices.Recent()})
}
