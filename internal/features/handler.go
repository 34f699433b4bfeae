package features

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sentra-iam/sentra/internal/platform/httpx"
	"github.com/sentra-iam/sentra/internal/shared"
)

// Guard authorizes access to administrative endpoints.
type Guard interface {
	Require(perms ...string) func(http.Handler) http.Handler
}

// Handler exposes the feature catalog over HTTP.
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

// MountRoutes registers feature routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require("features:read", "features:manage"))
		r.Get("/tree", h.tree)
		r.Get("/{code}", h.getByCode)
		r.Get("/{code}/permissions", h.allPermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require("features:manage"))
		r.Post("/", h.create)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.delete)
	})
}

type featureRequest struct {
	Code          string   `json:"code" validate:"required"`
	Name          string   `json:"name" validate:"required"`
	Description   string   `json:"description"`
	Active        bool     `json:"active"`
	Operations    []string `json:"operations"`
	PermissionIDs []int64  `json:"permissionIds"`
	ParentID      *int64   `json:"parentFeatureId"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req featureRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	created, err := h.service.Create(r.Context(), principal.UserID, Input{
		Code:          req.Code,
		Name:          req.Name,
		Description:   req.Description,
		Active:        req.Active,
		Operations:    req.Operations,
		PermissionIDs: req.PermissionIDs,
		ParentID:      req.ParentID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid feature id")
		return
	}
	var req featureRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	updated, err := h.service.Update(r.Context(), principal.UserID, id, Input{
		Name:          req.Name,
		Description:   req.Description,
		Active:        req.Active,
		Operations:    req.Operations,
		PermissionIDs: req.PermissionIDs,
		ParentID:      req.ParentID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid feature id")
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	if err := h.service.Delete(r.Context(), principal.UserID, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) tree(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.service.Tree(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, nodes)
}

func (h *Handler) getByCode(w http.ResponseWriter, r *http.Request) {
	feature, err := h.service.GetByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, feature)
}

func (h *Handler) allPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.AllPermissions(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}
