package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"galleryaccess/internal/captcha"
	"galleryaccess/internal/config"
	"galleryaccess/internal/export"
	"galleryaccess/internal/middleware"
	"galleryaccess/internal/models"
	"galleryaccess/internal/service"
	"galleryaccess/internal/timestamp"
	"galleryaccess/internal/util"
	"galleryaccess/internal/version"
)

const maxBodyBytes = 64 << 10

// Used for both gates.
const credentialMessage = "Credenziali non corrette"

type Handlers struct {
	cfg             config.Config
	svc             *service.Service
	log             *zap.Logger
	captchaVerifier captcha.Verifier
}

func NewRouter(cfg config.Config, svc *service.Service, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handlers{
		cfg:             cfg,
		svc:             svc,
		log:             log,
		captchaVerifier: captcha.NewVerifier(cfg),
	}
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.RequestLogger(log, cfg.TrustProxy))
	r.Use(middleware.SecurityHeaders)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type", middleware.AdminKeyHeader},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		util.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", h.Ready)
	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		util.WriteJSON(w, http.StatusOK, version.Current())
	})

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(cfg.RequestsPerMinute, time.Minute, cfg.TrustProxy))
			r.Get("/galleries/{galleryId}/access-info", h.AccessInfo)
			r.Post("/galleries/{galleryId}/verify-access", h.VerifyAccess)
			r.Get("/galleries/{galleryId}", h.OpenGallery)
			r.Get("/gallery-codes/{code}", h.GalleryByCode)
			r.Post("/password-requests", h.SubmitPasswordRequest)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.AdminKey(cfg.AdminAPIKey))
			r.Get("/galleries", h.AdminListGalleries)
			r.Post("/galleries", h.AdminCreateGallery)
			r.Get("/galleries/{id}", h.AdminGetGallery)
			r.Put("/galleries/{id}", h.AdminUpdateGallery)
			r.Delete("/galleries/{id}", h.AdminDeleteGallery)
			r.Put("/galleries/{id}/access", h.AdminUpdateAccess)
			r.Get("/password-requests", h.AdminListPasswordRequests)
			r.Get("/password-requests/export.xlsx", h.AdminExportPasswordRequests)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		util.WriteError(w, http.StatusNotFound, "not_found", "route not found", middleware.RequestID(r.Context()))
	})
	return r
}

func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"checked_at": time.Now().UTC().Format(time.RFC3339)}
	if err := h.svc.Ready(r.Context()); err != nil {
		h.log.Warn("readiness_failed", zap.Error(err))
		out["status"] = "degraded"
		out["error"] = err.Error()
		util.WriteJSON(w, http.StatusServiceUnavailable, out)
		return
	}
	out["status"] = "ready"
	util.WriteJSON(w, http.StatusOK, out)
}

func (h *Handlers) AccessInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.GetAccessInfo(r.Context(), chi.URLParam(r, "galleryId"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, info)
}

type verifyRequest struct {
	Password       string `json:"password"`
	SecurityAnswer string `json:"securityAnswer"`
}

type verifyDenied struct {
	RequiresPassword         bool   `json:"requiresPassword,omitempty"`
	RequiresSecurityQuestion bool   `json:"requiresSecurityQuestion,omitempty"`
	Error                    string `json:"error"`
}

func (h *Handlers) VerifyAccess(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	grant, err := h.svc.VerifyAccess(r.Context(), service.VerifyRequest{
		GalleryID:      chi.URLParam(r, "galleryId"),
		Password:       req.Password,
		SecurityAnswer: req.SecurityAnswer,
		ClientKey:      middleware.ClientIP(r, h.cfg.TrustProxy),
	})
	switch {
	case errors.Is(err, service.ErrWrongPassword):
		util.WriteJSON(w, http.StatusForbidden, verifyDenied{RequiresPassword: true, Error: credentialMessage})
		return
	case errors.Is(err, service.ErrWrongSecurityAnswer):
		util.WriteJSON(w, http.StatusForbidden, verifyDenied{RequiresSecurityQuestion: true, Error: credentialMessage})
		return
	case err != nil:
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, map[string]any{
		"granted":   true,
		"galleryId": grant.GalleryID,
		"token":     grant.Token,
		"expiresAt": grant.ExpiresAt,
	})
}

func (h *Handlers) OpenGallery(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.OpenGallery(r.Context(), chi.URLParam(r, "galleryId"), middleware.BearerToken(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, view)
}

func (h *Handlers) GalleryByCode(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.GetGalleryInfo(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, info)
}

type passwordRequestBody struct {
	GalleryID      string `json:"galleryId"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	Email          string `json:"email"`
	Relation       string `json:"relation"`
	SecurityAnswer string `json:"securityAnswer"`
	CaptchaToken   string `json:"captchaToken"`
}

func (h *Handlers) SubmitPasswordRequest(w http.ResponseWriter, r *http.Request) {
	var req passwordRequestBody
	if !h.decode(w, r, &req) {
		return
	}
	ip := middleware.ClientIP(r, h.cfg.TrustProxy)
	if err := h.captchaVerifier.Verify(r.Context(), req.CaptchaToken, ip); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	res, err := h.svc.SubmitPasswordRequest(r.Context(), service.PasswordRequestInput{
		GalleryID:      req.GalleryID,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Email:          req.Email,
		Relation:       req.Relation,
		SecurityAnswer: req.SecurityAnswer,
		ClientKey:      ip,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, res)
}

func (h *Handlers) AdminListGalleries(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	items, err := h.svc.ListGalleries(r.Context(), limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]models.AdminGallery, 0, len(items))
	for _, g := range items {
		view, err := h.svc.AdminView(r.Context(), g)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		out = append(out, view)
	}
	util.WriteJSON(w, http.StatusOK, util.NewPage(out, limit, offset))
}

type galleryRequest struct {
	Code      string                `json:"code"`
	Name      string                `json:"name"`
	EventDate any                   `json:"eventDate"`
	Access    *service.AccessUpdate `json:"access"`
}

func (req galleryRequest) input() (service.GalleryInput, error) {
	in := service.GalleryInput{Code: req.Code, Name: req.Name}
	if req.EventDate != nil {
		t, err := timestamp.Parse(req.EventDate)
		if err != nil {
			return service.GalleryInput{}, errors.Join(service.ErrValidation, err)
		}
		in.EventDate = &t
	}
	return in, nil
}

func (h *Handlers) AdminCreateGallery(w http.ResponseWriter, r *http.Request) {
	var req galleryRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	ng := service.NewGallery{GalleryInput: in}
	if req.Access != nil {
		ng.Access = *req.Access
	}
	g, err := h.svc.CreateGallery(r.Context(), ng)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeAdminGallery(w, r, http.StatusCreated, g)
}

func (h *Handlers) AdminGetGallery(w http.ResponseWriter, r *http.Request) {
	g, err := h.svc.GetGallery(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeAdminGallery(w, r, http.StatusOK, g)
}

func (h *Handlers) AdminUpdateGallery(w http.ResponseWriter, r *http.Request) {
	var req galleryRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Access != nil {
		h.writeServiceError(w, r, fmt.Errorf("%w: access settings are changed with PUT /api/admin/galleries/{id}/access", service.ErrValidation))
		return
	}
	in, err := req.input()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	g, err := h.svc.UpdateGallery(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeAdminGallery(w, r, http.StatusOK, g)
}

func (h *Handlers) AdminDeleteGallery(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteGallery(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) AdminUpdateAccess(w http.ResponseWriter, r *http.Request) {
	var req service.AccessUpdate
	if !h.decode(w, r, &req) {
		return
	}
	g, err := h.svc.UpdateGalleryAccess(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeAdminGallery(w, r, http.StatusOK, g)
}

func (h *Handlers) AdminListPasswordRequests(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	items, err := h.svc.ListPasswordRequests(r.Context(), models.PasswordRequestQuery{
		GalleryID: r.URL.Query().Get("galleryId"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, util.NewPage(items, limit, offset))
}

func (h *Handlers) AdminExportPasswordRequests(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.AllPasswordRequests(r.Context(), r.URL.Query().Get("galleryId"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	data, err := export.PasswordRequests(items, time.UTC)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteAttachment(w, export.ContentType, "password-requests.xlsx", data)
}

func (h *Handlers) writeAdminGallery(w http.ResponseWriter, r *http.Request, status int, g models.Gallery) {
	view, err := h.svc.AdminView(r.Context(), g)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, status, view)
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := util.DecodeJSON(w, r, v, maxBodyBytes); err != nil {
		util.WriteError(w, http.StatusBadRequest, "bad_request", "invalid json", middleware.RequestID(r.Context()))
		return false
	}
	return true
}

func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	rid := middleware.RequestID(r.Context())
	switch {
	case errors.Is(err, service.ErrNotFound):
		util.WriteError(w, http.StatusNotFound, "not_found", "Galleria non trovata", rid)
	case errors.Is(err, service.ErrValidation):
		util.WriteError(w, http.StatusBadRequest, "validation_error", err.Error(), rid)
	case errors.Is(err, service.ErrTooManyAttempts):
		util.WriteError(w, http.StatusTooManyRequests, "too_many_attempts", "Troppi tentativi, riprova più tardi", rid)
	case errors.Is(err, service.ErrConflict):
		util.WriteError(w, http.StatusConflict, "conflict", err.Error(), rid)
	case errors.Is(err, service.ErrGrantRequired):
		util.WriteError(w, http.StatusUnauthorized, "grant_required", "access grant required", rid)
	case errors.Is(err, service.ErrWrongPassword):
		util.WriteError(w, http.StatusForbidden, "wrong_password", credentialMessage, rid)
	case errors.Is(err, service.ErrWrongSecurityAnswer):
		util.WriteError(w, http.StatusForbidden, "wrong_security_answer", "Risposta di sicurezza non corretta", rid)
	case errors.Is(err, captcha.ErrCaptchaRequired):
		util.WriteError(w, http.StatusBadRequest, "captcha_required", "captcha validation failed", rid)
	case errors.Is(err, captcha.ErrCaptchaUnavailable):
		h.log.Warn("captcha_unavailable", zap.String("request_id", rid), zap.Error(err))
		util.WriteError(w, http.StatusServiceUnavailable, "captcha_unavailable", "captcha verification unavailable", rid)
	default:
		h.log.Error("request_failed", zap.String("request_id", rid), zap.String("path", r.URL.Path), zap.Error(err))
		util.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error", rid)
	}
}

func parsePagination(r *http.Request) (int, int) {
	limit := 50
	offset := 0
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = min(max(n, 1), 500)
		}
	}
	if v := strings.TrimSpace(r.URL.Query().Get("offset")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			offset = n
		}
	}
	return limit, offset
}
