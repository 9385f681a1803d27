package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/cartoncaps/referral-api/internal/auth"
	"github.com/cartoncaps/referral-api/internal/handler/dto"
	"github.com/cartoncaps/referral-api/internal/model"
	"github.com/cartoncaps/referral-api/internal/service"
)

// Success messages returned by the status transition endpoints.
const (
	msgInstalled = "Referral marked as installed successfully."
	msgCompleted = "Referral marked as completed successfully."
)

// ReferralHandler handles HTTP requests for referral operations.
type ReferralHandler struct {
	svc      *service.ReferralService
	validate *validator.Validate
	logger   *slog.Logger
}

// NewReferralHandler creates a new ReferralHandler.
func NewReferralHandler(svc *service.ReferralService, logger *slog.Logger) *ReferralHandler {
	return &ReferralHandler{
		svc:      svc,
		validate: validator.New(),
		logger:   logger.With("component", "handler.referral"),
	}
}

// List handles GET /api/referrals.
// The optional status query parameter takes comma-separated status names and
// may be repeated.
func (h *ReferralHandler) List(w http.ResponseWriter, r *http.Request) {
	statuses, err := parseStatusFilter(r.URL.Query()["status"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_STATUS",
			"Unknown referral status. Expected any of Pending, Installed, Completed, Cancelled.")
		return
	}

	userID := auth.UserIDFromContext(r.Context())
	referrals, err := h.svc.ListUserReferrals(r.Context(), userID, statuses...)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToReferralListResponse(referrals))
}

// Get handles GET /api/referrals/{id}.
func (h *ReferralHandler) Get(w http.ResponseWriter, r *http.Request) {
	rawID := chi.URLParam(r, "id")
	id, err := uuid.Parse(rawID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid referral ID format.")
		return
	}

	referral, err := h.svc.GetReferralByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrReferralNotFound) {
			writeError(w, http.StatusNotFound, "REFERRAL_NOT_FOUND", fmt.Sprintf("Referral with ID '%s' not found or you don't have access to it.", rawID))
			return
		}
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToReferralResponse(referral))
}

// GetByCode handles GET /api/referrals/code/{code}.
func (h *ReferralHandler) GetByCode(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	details, err := h.svc.GetReferralByCode(r.Context(), code)
	if err != nil {
		if errors.Is(err, service.ErrReferralNotFound) {
			writeError(w, http.StatusNotFound, "REFERRAL_NOT_FOUND", fmt.Sprintf("Referral code '%s' not found.", code))
			return
		}
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToReferralDetailsResponse(details))
}

// Create handles POST /api/referrals.
func (h *ReferralHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateReferralRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}
	req.RefereeEmail = service.NormalizeEmail(req.RefereeEmail)
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_EMAIL", "Referee email is invalid.")
		return
	}

	userID := auth.UserIDFromContext(r.Context())
	referral, err := h.svc.CreateReferral(r.Context(), service.CreateReferralInput{
		ReferrerUserID: userID,
		RefereeEmail:   req.RefereeEmail,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.logger.Info("referral_created",
		"referral_id", referral.ID,
		"referral_code", referral.ReferralCode,
		"referrer_user_id", referral.ReferrerUserID,
		"has_referee", referral.RefereeUserID != nil,
	)

	w.Header().Set("Location", "/api/referrals/"+referral.ID.String())
	writeJSON(w, http.StatusCreated, dto.ToReferralResponse(referral))
}

// Stats handles GET /api/referrals/stats.
func (h *ReferralHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	stats, err := h.svc.GetReferralStats(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToReferralStatsResponse(stats))
}

// MarkInstalled handles POST /api/referrals/code/{code}/installed.
func (h *ReferralHandler) MarkInstalled(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	ok, err := h.svc.MarkReferralAsInstalled(r.Context(), code)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if !ok {
		writeCodeNotUsable(w, code)
		return
	}

	h.logger.Info("referral_installed", "referral_code", code)
	writeJSON(w, http.StatusOK, dto.MessageResponse{Message: msgInstalled})
}

// MarkCompleted handles POST /api/referrals/code/{code}/completed.
func (h *ReferralHandler) MarkCompleted(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	var req dto.CompleteReferralRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REFEREE_ID", "Referee user ID is required.")
		return
	}
	refereeID, err := uuid.Parse(req.RefereeUserID)
	if err != nil || refereeID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "INVALID_REFEREE_ID", "Referee user ID is required.")
		return
	}

	ok, err := h.svc.MarkReferralAsCompleted(r.Context(), code, refereeID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if !ok {
		writeCodeNotUsable(w, code)
		return
	}

	h.logger.Info("referral_completed",
		"referral_code", code,
		"referee_user_id", refereeID,
	)
	writeJSON(w, http.StatusOK, dto.MessageResponse{Message: msgCompleted})
}

// handleServiceError maps service errors to HTTP responses.
func (h *ReferralHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrReferralNotFound):
		writeError(w, http.StatusNotFound, "REFERRAL_NOT_FOUND", "Referral not found.")
	case errors.Is(err, service.ErrReferrerNotFound):
		writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "Referrer user not found.")
	case errors.Is(err, service.ErrRefereeNotFound):
		writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "Referee user not found.")
	case errors.Is(err, service.ErrInvalidEmail):
		writeError(w, http.StatusBadRequest, "INVALID_EMAIL", "Referee email is invalid.")
	case errors.Is(err, service.ErrInvalidRefereeID):
		writeError(w, http.StatusBadRequest, "INVALID_REFEREE_ID", "Referee user ID is required.")
	case errors.Is(err, service.ErrCodeExhausted):
		h.logger.Error("referral code space exhausted", "error", err)
		writeError(w, http.StatusServiceUnavailable, "CODE_UNAVAILABLE", "Could not allocate a referral code, please retry.")
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to send.
		h.logger.Debug("request canceled", "path", r.URL.Path)
	default:
		h.logger.Error("unexpected error",
			"error", err,
			"method", r.Method,
			"path", r.URL.Path,
		)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
	}
}

func writeCodeNotUsable(w http.ResponseWriter, code string) {
	writeError(w, http.StatusNotFound, "REFERRAL_NOT_FOUND", fmt.Sprintf("Referral code '%s' not found or is invalid.", code))
}

// decodeOptionalJSON decodes the body into dst, treating an empty body as
// an empty object.
func decodeOptionalJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// parseStatusFilter parses repeated, comma-separated status names. Duplicates
// are dropped.
func parseStatusFilter(values []string) ([]model.ReferralStatus, error) {
	var (
		statuses []model.ReferralStatus
		seen     = make(map[model.ReferralStatus]bool)
	)
	for _, v := range values {
		for _, name := range strings.Split(v, ",") {
			if strings.TrimSpace(name) == "" {
				continue
			}
			status, err := model.ParseReferralStatus(name)
			if err != nil {
				return nil, err
			}
			if !seen[status] {
				seen[status] = true
				statuses = append(statuses, status)
			}
		}
	}
	return statuses, nil
}
