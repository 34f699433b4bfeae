package roles

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

// Handler exposes role hierarchy management over HTTP.
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

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require("roles:read", "roles:manage"))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Get("/{id}/descendants", h.descendants)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require("roles:manage"))
		r.Post("/", h.create)
		r.Post("/{id}/children/{childID}", h.addChild)
		r.Delete("/{id}/children/{childID}", h.removeChild)
	})
}

type createRoleRequest struct {
	Name          string  `json:"name" validate:"required"`
	Description   string  `json:"description"`
	Precedence    int     `json:"precedence" validate:"gte=0"`
	System        bool    `json:"system"`
	PermissionIDs []int64 `json:"permissionIds"`
	ChildRoleIDs  []int64 `json:"childRoleIds"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
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
		Name:          req.Name,
		Description:   req.Description,
		Precedence:    req.Precedence,
		System:        req.System,
		PermissionIDs: req.PermissionIDs,
		ChildRoleIDs:  req.ChildRoleIDs,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListByPrecedence(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	role, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) descendants(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	closure, err := h.service.AllChildRoles(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, closure)
}

func (h *Handler) addChild(w http.ResponseWriter, r *http.Request) {
	parentID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	childID, ok := h.pathID(w, r, "childID")
	if !ok {
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	if err := h.service.AddChildRole(r.Context(), principal.UserID, parentID, childID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeChild(w http.ResponseWriter, r *http.Request) {
	parentID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	childID, ok := h.pathID(w, r, "childID")
	if !ok {
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	if err := h.service.RemoveChildRole(r.Context(), principal.UserID, parentID, childID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid "+param)
		return 0, false
	}
	return id, true
}
