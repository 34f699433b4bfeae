package permissions

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

// Handler exposes the permission catalog over HTTP.
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

// MountRoutes registers permission routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require("permissions:read", "permissions:manage"))
		r.Get("/", h.list)
		r.Get("/by-name/{name}", h.byName)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require("permissions:manage"))
		r.Post("/", h.create)
		r.Patch("/{id}", h.update)
	})
}

type createPermissionRequest struct {
	Name             string `json:"name" validate:"required"`
	Description      string `json:"description"`
	ResourceType     string `json:"resourceType" validate:"required"`
	OperationType    string `json:"operationType" validate:"required"`
	RequiresApproval bool   `json:"requiresApproval"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	created, err := h.service.Create(r.Context(), principal.UserID, CreateInput{
		Name:             req.Name,
		Description:      req.Description,
		Resource:         ResourceType(req.ResourceType),
		Operation:        OperationType(req.OperationType),
		RequiresApproval: req.RequiresApproval,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

type updatePermissionRequest struct {
	Description      string `json:"description"`
	RequiresApproval bool   `json:"requiresApproval"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid permission id")
		return
	}
	var req updatePermissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	updated, err := h.service.Update(r.Context(), principal.UserID, id, req.Description, req.RequiresApproval)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	var (
		perms []Permission
		err   error
	)
	if resource := r.URL.Query().Get("resource"); resource != "" {
		perms, err = h.service.ListByResource(r.Context(), ResourceType(resource))
	} else {
		perms, err = h.service.List(r.Context())
	}
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) byName(w http.ResponseWriter, r *http.Request) {
	perm, found, err := h.service.FindByName(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if !found {
		httpx.RespondError(w, shared.NewNotFound("permission"))
		return
	}
	httpx.JSON(w, http.StatusOK, perm)
}
