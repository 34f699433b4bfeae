package auth

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sentra-iam/sentra/internal/platform/httpx"
)

// Guard authorizes access to administrative endpoints.
type Guard interface {
	Require(perms ...string) func(http.Handler) http.Handler
}

// Handler exposes token management over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	guard    Guard
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard Guard) *Handler {
	return &Handler{logger: logger, service: service, guard: guard, validate: validator.New()}
}

// MountRoutes registers token management routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require("tokens:manage"))
		r.Post("/", h.issue)
		r.Get("/users/{userID}", h.listByUser)
		r.Delete("/{id}", h.revoke)
	})
}

type issueRequest struct {
	UserID int64  `json:"userId" validate:"required,gt=0"`
	Name   string `json:"name" validate:"required,max=120"`
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	token, plaintext, err := h.service.Issue(r.Context(), req.UserID, req.Name)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"token":      token,
		"credential": plaintext,
	})
}

func (h *Handler) listByUser(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.PathInt64(r, "userID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid user id")
		return
	}
	tokens, err := h.service.ListByUser(r.Context(), userID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"tokens": tokens})
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Revoke(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
