package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/MRwang520a/pixelstudio-api/internal/api/shared"
	"github.com/MRwang520a/pixelstudio-api/internal/domain"
	"github.com/MRwang520a/pixelstudio-api/internal/service"
)

// QuotaHandler handles quota-related HTTP requests
type QuotaHandler struct {
	quotaService service.QuotaService
}

// NewQuotaHandler creates a new QuotaHandler
func NewQuotaHandler(quotaService service.QuotaService) *QuotaHandler {
	return &QuotaHandler{
		quotaService: quotaService,
	}
}

// GetQuotas handles GET /api/quotas requests. With a quota_type query
// parameter only that category is returned; otherwise all of the user's
// categories are returned.
func (h *QuotaHandler) GetQuotas(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(shared.UserIDContextKey).(uuid.UUID)
	if !ok || userID == uuid.Nil {
		respondServiceError(w, r, domain.ErrUnauthorized)
		return
	}

	quotaType := r.URL.Query().Get("quota_type")

	quotas, err := h.quotaService.GetRemaining(r.Context(), userID, quotaType)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	// First contact with the ledger: provision the user's default budgets.
	if len(quotas) == 0 && quotaType == "" {
		if err := h.quotaService.EnsureDefaults(r.Context(), userID); err != nil {
			respondServiceError(w, r, err)
			return
		}
		quotas, err = h.quotaService.GetRemaining(r.Context(), userID, "")
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
	}

	items := make([]QuotaResponse, 0, len(quotas))
	for _, q := range quotas {
		items = append(items, quotaToResponse(q))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, QuotaListResponse{Quotas: items})
}

// ConsumeQuota handles POST /api/quotas/consume requests.
func (h *QuotaHandler) ConsumeQuota(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(shared.UserIDContextKey).(uuid.UUID)
	if !ok || userID == uuid.Nil {
		respondServiceError(w, r, domain.ErrUnauthorized)
		return
	}

	var req ConsumeQuotaRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	remaining, err := h.quotaService.Consume(r.Context(), userID, req.QuotaType, req.Amount)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, ConsumeQuotaResponse{
		QuotaType: req.QuotaType,
		Remaining: remaining,
	})
}
