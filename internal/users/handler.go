package users

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

// Handler exposes user policy attachments over HTTP.
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

// MountRoutes registers user assignment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require("users:manage"))
		r.Post("/{id}/roles/{roleID}", h.assignRole)
		r.Delete("/{id}/roles/{roleID}", h.removeRole)
		r.Post("/{id}/groups/{groupID}", h.assignGroup)
		r.Delete("/{id}/groups/{groupID}", h.removeGroup)
		r.Put("/{id}/overrides", h.addOverride)
		r.Delete("/{id}/overrides/{name}", h.removeOverride)
	})
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	userID, roleID, ok := h.pathIDs(w, r, "roleID")
	if !ok {
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	if err := h.service.AssignRole(r.Context(), principal.UserID, userID, roleID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeRole(w http.ResponseWriter, r *http.Request) {
	userID, roleID, ok := h.pathIDs(w, r, "roleID")
	if !ok {
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	if err := h.service.RemoveRole(r.Context(), principal.UserID, userID, roleID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) assignGroup(w http.ResponseWriter, r *http.Request) {
	userID, groupID, ok := h.pathIDs(w, r, "groupID")
	if !ok {
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	if err := h.service.AssignGroup(r.Context(), principal.UserID, userID, groupID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeGroup(w http.ResponseWriter, r *http.Request) {
	userID, groupID, ok := h.pathIDs(w, r, "groupID")
	if !ok {
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	if err := h.service.RemoveGroup(r.Context(), principal.UserID, userID, groupID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type overrideRequest struct {
	PermissionName string `json:"permissionName" validate:"required"`
	Effect         string `json:"effect" validate:"required,oneof=GRANT REVOKE"`
}

func (h *Handler) addOverride(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req overrideRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	err := h.service.AddOverride(r.Context(), principal.UserID, userID, Override{
		PermissionName: req.PermissionName,
		Effect:         OverrideEffect(req.Effect),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeOverride(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	if err := h.service.RemoveOverride(r.Context(), principal.UserID, userID, chi.URLParam(r, "name")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid user id")
		return 0, false
	}
	return id, true
}

func (h *Handler) pathIDs(w http.ResponseWriter, r *http.Request, param string) (int64, int64, bool) {
	userID, ok := h.pathID(w, r)
	if !ok {
		return 0, 0, false
	}
	other, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid "+param)
		return 0, 0, false
	}
	return userID, other, true
}
