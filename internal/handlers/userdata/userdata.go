// internal/handlers/userdata/userdata.go
package userdata

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	httpserver "optiquantia/internal/http"
	"optiquantia/internal/models"
	svc "optiquantia/internal/userdata"
)

// Service is the part of *userdata.Service the endpoints use.
type Service interface {
	ListReports(ctx context.Context) ([]models.Report, error)
	CreateReport(ctx context.Context, in svc.NewReport) (models.Report, error)
	ListDashboards(ctx context.Context) ([]models.Dashboard, error)
	CreateDashboard(ctx context.Context, in svc.NewDashboard) (models.Dashboard, error)
	ListActivity(ctx context.Context) ([]models.Activity, error)
	ListUserActivity(ctx context.Context, userID string) ([]models.Activity, error)
	RecordAIUse(details string) error
}

type Handler struct {
	svc Service
}

func New(s Service) *Handler {
	return &Handler{svc: s}
}

func writeErr(w http.ResponseWriter, op string, err error) {
	var verr *svc.ValidationError
	switch {
	case errors.Is(err, svc.ErrNotAuthenticated):
		httpserver.JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized", "redirect": "/login"})
	case errors.Is(err, svc.ErrForbidden):
		httpserver.JSON(w, http.StatusForbidden, map[string]string{"error": "forbidden", "redirect": "/"})
	case errors.As(err, &verr):
		httpserver.JSON(w, http.StatusBadRequest, map[string]any{"error": "invalid input", "fields": verr.Fields})
	default:
		httpserver.Error(w, http.StatusInternalServerError, "failed to "+op)
	}
}

func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	reports, err := h.svc.ListReports(r.Context())
	if err != nil {
		writeErr(w, "list reports", err)
		return
	}
	httpserver.JSON(w, http.StatusOK, map[string]any{"content": reports})
}

func (h *Handler) CreateReport(w http.ResponseWriter, r *http.Request) {
	var req svc.NewReport
	if err := httpserver.Decode(w, r, &req); err != nil {
		httpserver.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	rep, err := h.svc.CreateReport(r.Context(), req)
	if err != nil {
		writeErr(w, "create report", err)
		return
	}
	httpserver.JSON(w, http.StatusCreated, rep)
}

func (h *Handler) ListDashboards(w http.ResponseWriter, r *http.Request) {
	dashes, err := h.svc.ListDashboards(r.Context())
	if err != nil {
		writeErr(w, "list dashboards", err)
		return
	}
	httpserver.JSON(w, http.StatusOK, map[string]any{"content": dashes})
}

func (h *Handler) CreateDashboard(w http.ResponseWriter, r *http.Request) {
	var req svc.NewDashboard
	if err := httpserver.Decode(w, r, &req); err != nil {
		httpserver.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := h.svc.CreateDashboard(r.Context(), req)
	if err != nil {
		writeErr(w, "create dashboard", err)
		return
	}
	httpserver.JSON(w, http.StatusCreated, d)
}

func (h *Handler) ListActivity(w http.ResponseWriter, r *http.Request) {
	acts, err := h.svc.ListActivity(r.Context())
	if err != nil {
		writeErr(w, "list activity", err)
		return
	}
	httpserver.JSON(w, http.StatusOK, map[string]any{"content": acts})
}

func (h *Handler) ListUserActivity(w http.ResponseWriter, r *http.Request) {
	acts, err := h.svc.ListUserActivity(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeErr(w, "list activity", err)
		return
	}
	httpserver.JSON(w, http.StatusOK, map[string]any{"content": acts})
}

type aiUseRequest struct {
	Details string `json:"details" validate:"max=500"`
}

func (h *Handler) RecordAIUse(w http.ResponseWriter, r *http.Request) {
	var req aiUseRequest
	if err := httpserver.Decode(w, r, &req); err != nil {
		httpserver.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.RecordAIUse(req.Details); err != nil {
		writeErr(w, "record activity", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
