/**
 * @description
 * HTTP handlers for the ledger API. Handlers parse requests, call the
 * application service and map domain errors onto HTTP status codes.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: URL parameters.
 * - internal/app, internal/domain, internal/store: service logic, models and store errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bonafide-ptnguyen/Mealathon/internal/app"
	"github.com/bonafide-ptnguyen/Mealathon/internal/domain"
	"github.com/bonafide-ptnguyen/Mealathon/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const maxRequestBodyBytes = 1 << 20

// Handlers holds the application service used by every route.
type Handlers struct {
	service *app.Service
	logger  *slog.Logger
	now     func() time.Time
}

func NewHandlers(service *app.Service, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		service: service,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type recordDonationBody struct {
	Amount         decimal.Decimal `json:"amount"`
	DonorName      string          `json:"donor_name"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type sweepBody struct {
	Now *time.Time `json:"now"`
}

type repairBody struct {
	OlderThanSeconds int `json:"older_than_seconds"`
}

// CreateCampaignHandler opens a campaign owned by the caller.
func (h *Handlers) CreateCampaignHandler(w http.ResponseWriter, r *http.Request) {
	providerID, ok := GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	var req domain.CreateCampaignRequest
	if !decodeBody(w, r, &req) {
		return
	}
	campaign, err := h.service.CreateCampaign(r.Context(), providerID, req)
	if err != nil {
		h.writeServiceError(w, "create_campaign", err)
		return
	}
	writeJSON(w, http.StatusCreated, domain.NewCampaignView(*campaign))
}

// GetCampaignHandler returns one campaign with its derived meal count.
func (h *Handlers) GetCampaignHandler(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := parseCampaignID(w, r)
	if !ok {
		return
	}
	campaign, err := h.service.GetCampaign(r.Context(), campaignID)
	if err != nil {
		h.writeServiceError(w, "get_campaign", err)
		return
	}
	writeJSON(w, http.StatusOK, domain.NewCampaignView(*campaign))
}

// ListCampaignsHandler lists campaigns, optionally by status and provider.
func (h *Handlers) ListCampaignsHandler(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseCampaignFilter(w, r)
	if !ok {
		return
	}
	filter.ProviderID = strings.TrimSpace(r.URL.Query().Get("provider_id"))
	h.listCampaigns(w, r, filter)
}

// ListMyCampaignsHandler is the provider dashboard listing.
func (h *Handlers) ListMyCampaignsHandler(w http.ResponseWriter, r *http.Request) {
	providerID, ok := GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}
	filter, ok := parseCampaignFilter(w, r)
	if !ok {
		return
	}
	filter.ProviderID = providerID
	h.listCampaigns(w, r, filter)
}

func (h *Handlers) listCampaigns(w http.ResponseWriter, r *http.Request, filter domain.CampaignFilter) {
	campaigns, err := h.service.ListCampaigns(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, "list_campaigns", err)
		return
	}
	views := make([]domain.CampaignView, 0, len(campaigns))
	for _, c := range campaigns {
		views = append(views, domain.NewCampaignView(c))
	}
	writeJSON(w, http.StatusOK, views)
}

// RecordDonationHandler records a donation from the caller. The idempotency key
// comes from the Idempotency-Key header, or the body when the header is absent.
func (h *Handlers) RecordDonationHandler(w http.ResponseWriter, r *http.Request) {
	donorID, ok := GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}
	campaignID, ok := parseCampaignID(w, r)
	if !ok {
		return
	}

	var body recordDonationBody
	if !decodeBody(w, r, &body) {
		return
	}
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" {
		key = body.IdempotencyKey
	}

	resp, err := h.service.RecordDonation(r.Context(), domain.RecordDonationRequest{
		CampaignID:     campaignID,
		DonorID:        donorID,
		DonorName:      body.DonorName,
		Amount:         body.Amount,
		IdempotencyKey: key,
	})
	if err != nil {
		h.writeServiceError(w, "record_donation", err)
		return
	}

	status := http.StatusCreated
	if resp.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

// AddDistributionUpdateHandler appends a provider update to a campaign.
func (h *Handlers) AddDistributionUpdateHandler(w http.ResponseWriter, r *http.Request) {
	providerID, ok := GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}
	campaignID, ok := parseCampaignID(w, r)
	if !ok {
		return
	}
	var req domain.AddDistributionUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	campaign, err := h.service.AddDistributionUpdate(r.Context(), campaignID, providerID, req)
	if err != nil {
		h.writeServiceError(w, "add_distribution_update", err)
		return
	}
	writeJSON(w, http.StatusCreated, domain.NewCampaignView(*campaign))
}

// ListMyDonationsHandler is the donor dashboard listing.
func (h *Handlers) ListMyDonationsHandler(w http.ResponseWriter, r *http.Request) {
	donorID, ok := GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	donations, err := h.service.ListDonorDonations(r.Context(), donorID, limit)
	if err != nil {
		h.writeServiceError(w, "list_donations", err)
		return
	}
	writeJSON(w, http.StatusOK, donations)
}

// GetLeaderboardHandler serves /leaderboard/{kind}.
func (h *Handlers) GetLeaderboardHandler(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseLeaderboardKind(chi.URLParam(r, "kind"))
	if err != nil {
		h.writeServiceError(w, "get_leaderboard", err)
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	board, err := h.service.GetLeaderboard(r.Context(), kind, limit)
	if err != nil {
		h.writeServiceError(w, "get_leaderboard", err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// SweepHandler runs one lifecycle sweep, at the given time or now.
func (h *Handlers) SweepHandler(w http.ResponseWriter, r *http.Request) {
	var body sweepBody
	if !decodeOptionalBody(w, r, &body) {
		return
	}
	now := h.now()
	if body.Now != nil {
		now = body.Now.UTC()
	}
	result, err := h.service.Sweep(r.Context(), now)
	if err != nil {
		h.logger.Error("sweep finished with errors", "endpoint", "sweep", "error", err)
		writeJSON(w, http.StatusMultiStatus, map[string]interface{}{"result": result, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// RunRefundSagaHandler runs the refund saga for one failed campaign synchronously.
func (h *Handlers) RunRefundSagaHandler(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := parseCampaignID(w, r)
	if !ok {
		return
	}
	report, err := h.service.RunRefundSaga(r.Context(), campaignID)
	if err != nil {
		if report.Refunded > 0 || report.Failed > 0 {
			h.logger.Error("refund saga finished with errors", "campaign_id", campaignID, "error", err)
			writeJSON(w, http.StatusMultiStatus, map[string]interface{}{"report": report, "error": err.Error()})
			return
		}
		h.writeServiceError(w, "run_refund_saga", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// RecoverRefundsHandler re-dispatches campaigns with refunds still pending.
func (h *Handlers) RecoverRefundsHandler(w http.ResponseWriter, r *http.Request) {
	dispatched, err := h.service.RecoverRefunds(r.Context())
	if err != nil {
		h.logger.Error("refund recovery finished with errors", "dispatched", dispatched, "error", err)
		writeJSON(w, http.StatusMultiStatus, map[string]interface{}{"dispatched": dispatched, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"dispatched": dispatched})
}

// RepairPropagationHandler applies missing totals for donations older than the given age.
func (h *Handlers) RepairPropagationHandler(w http.ResponseWriter, r *http.Request) {
	var body repairBody
	if !decodeOptionalBody(w, r, &body) {
		return
	}
	if body.OlderThanSeconds < 0 {
		writeError(w, http.StatusBadRequest, "older_than_seconds must not be negative")
		return
	}
	olderThan := h.now().Add(-time.Duration(body.OlderThanSeconds) * time.Second)
	result, err := h.service.RepairPropagation(r.Context(), olderThan)
	if err != nil {
		h.logger.Error("propagation repair finished with errors", "error", err)
		writeJSON(w, http.StatusMultiStatus, map[string]interface{}{"result": result, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func parseCampaignID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid campaign ID")
		return uuid.Nil, false
	}
	return id, true
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return limit, true
}

func parseCampaignFilter(w http.ResponseWriter, r *http.Request) (domain.CampaignFilter, bool) {
	var filter domain.CampaignFilter
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, ok := domain.ParseCampaignStatus(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "Invalid status filter")
			return filter, false
		}
		filter.Status = status
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return filter, false
	}
	filter.Limit = limit
	return filter, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// decodeOptionalBody accepts an empty body.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes)).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// writeServiceError maps service errors onto HTTP responses.
func (h *Handlers) writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Message, "field": verr.Field})
	case errors.Is(err, store.ErrCampaignNotFound):
		writeError(w, http.StatusNotFound, "Campaign not found")
	case errors.Is(err, store.ErrDonationNotFound), errors.Is(err, store.ErrDonorAggregateNotFound):
		writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "Only the campaign provider can do this")
	case errors.Is(err, domain.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrIdempotencyConflict):
		writeError(w, http.StatusUnprocessableEntity, "Idempotency key was already used with a different payload")
	case errors.Is(err, domain.ErrRateLimited):
		var limited *domain.RateLimitError
		if errors.As(err, &limited) {
			w.Header().Set("Retry-After", strconv.Itoa(limited.RetryAfterSeconds()))
		}
		writeError(w, http.StatusTooManyRequests, "Too many donations. Please wait and try again.")
	case domain.IsRetryable(err):
		h.logger.Warn("store unavailable", "endpoint", endpoint, "error", err)
		writeError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
	default:
		h.logger.Error("request failed", "endpoint", endpoint, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
