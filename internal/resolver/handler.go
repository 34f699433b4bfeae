package resolver

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/sentra-iam/sentra/internal/platform/httpx"
	"github.com/sentra-iam/sentra/internal/shared"
)

// Handler exposes permission and feature checks over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	rate     int
}

// NewHandler builds Handler instance. rate caps check requests per
// minute per client IP; zero disables the limit.
func NewHandler(logger *slog.Logger, service *Service, rate int) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New(), rate: rate}
}

// MountRoutes registers resolution routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.rate > 0 {
			r.Use(httprate.LimitByIP(h.rate, time.Minute))
		}
		r.Get("/me/permissions", h.myPermissions)
		r.Post("/check", h.check)
		r.Post("/check/batch", h.checkBatch)
		r.Get("/features/{code}/access", h.featureAccess)
		r.Get("/features/{code}/operations/{op}", h.featureOperation)
	})
}

func (h *Handler) myPermissions(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	perms, err := h.service.EffectivePermissions(r.Context(), principal.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

type checkRequest struct {
	UserID     int64  `json:"userId" validate:"required,gt=0"`
	Permission string `json:"permission" validate:"required"`
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	allowed, err := h.service.HasPermission(r.Context(), req.UserID, req.Permission)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"userId":     req.UserID,
		"permission": req.Permission,
		"allowed":    allowed,
	})
}

type batchCheckRequest struct {
	UserID      int64    `json:"userId" validate:"required,gt=0"`
	Permissions []string `json:"permissions" validate:"required,min=1,max=100,dive,required"`
}

func (h *Handler) checkBatch(w http.ResponseWriter, r *http.Request) {
	var req batchCheckRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	results, err := h.service.CheckPermissions(r.Context(), req.UserID, req.Permissions)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"userId":  req.UserID,
		"results": results,
	})
}

func (h *Handler) featureAccess(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.queryUserID(w, r)
	if !ok {
		return
	}
	access, err := h.service.ResolveFeatureAccess(r.Context(), userID, chi.URLParam(r, "code"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, access)
}

func (h *Handler) featureOperation(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.queryUserID(w, r)
	if !ok {
		return
	}
	code := chi.URLParam(r, "code")
	op := chi.URLParam(r, "op")
	allowed, err := h.service.HasFeatureOperation(r.Context(), userID, code, op)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"feature":   code,
		"operation": op,
		"allowed":   allowed,
	})
}

// queryUserID reads ?userId= and falls back to the authenticated user.
func (h *Handler) queryUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.URL.Query().Get("userId")
	if raw == "" {
		principal, ok := shared.PrincipalFromContext(r.Context())
		if !ok {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
			return 0, false
		}
		return principal.UserID, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid userId")
		return 0, false
	}
	return id, true
}
