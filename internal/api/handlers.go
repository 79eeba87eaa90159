package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/finchlabs/portfolio-ledger/internal/audit"
	"github.com/finchlabs/portfolio-ledger/internal/database"
	"github.com/finchlabs/portfolio-ledger/internal/ledger"
	"github.com/finchlabs/portfolio-ledger/internal/models"
	"github.com/finchlabs/portfolio-ledger/internal/pricesync"
)

// actorHeader carries the authenticated actor id. Credential verification
// happens upstream; this layer only consumes the resulting identity.
const actorHeader = "X-Actor-Id"

// Handler holds dependencies for HTTP handlers
type Handler struct {
	positions *ledger.Service
	sync      *pricesync.Engine
	trail     *audit.Trail
	log       zerolog.Logger
}

// NewHandler creates a new Handler
func NewHandler(positions *ledger.Service, sync *pricesync.Engine, trail *audit.Trail, log zerolog.Logger) *Handler {
	return &Handler{
		positions: positions,
		sync:      sync,
		trail:     trail,
		log:       log.With().Str("component", "api").Logger(),
	}
}

func (h *Handler) actorID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.Header.Get(actorHeader)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "missing or invalid actor id", http.StatusUnauthorized)
		return 0, false
	}
	return id, true
}

func requestMeta(r *http.Request) audit.RequestMeta {
	return audit.RequestMeta{
		ClientIP:  ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var validationErr *ledger.ValidationError
	switch {
	case errors.As(err, &validationErr):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, database.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		h.log.Error().Err(err).Msg("request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// CreatePosition handles POST /positions
func (h *Handler) CreatePosition(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actorID(w, r)
	if !ok {
		return
	}

	var input ledger.PositionInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	position, err := h.positions.Create(r.Context(), actorID, input, requestMeta(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, position)
}

// GetPosition handles GET /positions/{id}
func (h *Handler) GetPosition(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actorID(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid position id", http.StatusBadRequest)
		return
	}

	position, err := h.positions.GetByID(actorID, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, position)
}

// GetAllPositions handles GET /positions
func (h *Handler) GetAllPositions(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actorID(w, r)
	if !ok {
		return
	}

	positions, err := h.positions.GetAll(actorID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if positions == nil {
		positions = []*models.Position{}
	}
	respondJSON(w, http.StatusOK, positions)
}

// UpdatePosition handles PUT /positions/{id}
func (h *Handler) UpdatePosition(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actorID(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid position id", http.StatusBadRequest)
		return
	}

	var input ledger.PositionInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	position, err := h.positions.Update(r.Context(), actorID, id, input, requestMeta(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, position)
}

// DeletePosition handles DELETE /positions/{id}
func (h *Handler) DeletePosition(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actorID(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid position id", http.StatusBadRequest)
		return
	}

	if err := h.positions.Delete(r.Context(), actorID, id, requestMeta(r)); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetPortfolioSummary handles GET /portfolio/summary
func (h *Handler) GetPortfolioSummary(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actorID(w, r)
	if !ok {
		return
	}

	summary, err := h.positions.Aggregate(actorID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// GetPortfolioBreakdown handles GET /portfolio/breakdown
func (h *Handler) GetPortfolioBreakdown(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actorID(w, r)
	if !ok {
		return
	}

	breakdown, err := h.positions.AggregateByClass(actorID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if breakdown == nil {
		breakdown = []*models.ClassAggregate{}
	}
	respondJSON(w, http.StatusOK, breakdown)
}

// SyncPrices handles POST /sync
func (h *Handler) SyncPrices(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actorID(w, r)
	if !ok {
		return
	}

	result := h.sync.SyncAll(r.Context(), actorID)
	respondJSON(w, http.StatusOK, result)
}

// GetHistory handles GET /history
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actorID(w, r)
	if !ok {
		return
	}

	filter := models.AuditFilter{
		Action:     models.AuditAction(r.URL.Query().Get("action")),
		EntityType: r.URL.Query().Get("entity_type"),
	}
	if filter.Action != "" && !filter.Action.Valid() {
		http.Error(w, "unknown action filter", http.StatusBadRequest)
		return
	}
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 25)

	records, err := h.trail.QueryHistory(actorID, filter, page, pageSize)
	if err != nil {
		h.respondError(w, err)
		return
	}
	total, err := h.trail.CountHistory(actorID, filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if records == nil {
		records = []*models.AuditRecord{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"records":   records,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetFinancialOperations handles GET /operations
func (h *Handler) GetFinancialOperations(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actorID(w, r)
	if !ok {
		return
	}

	records, err := h.trail.QueryFinancialOperations(actorID, queryInt(r, "limit", 20))
	if err != nil {
		h.respondError(w, err)
		return
	}
	if records == nil {
		records = []*models.FinancialOperationRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}

// GetActivityStats handles GET /activity
func (h *Handler) GetActivityStats(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actorID(w, r)
	if !ok {
		return
	}

	buckets, err := h.trail.QueryActivityStats(actorID, queryInt(r, "days", 30))
	if err != nil {
		h.respondError(w, err)
		return
	}
	if buckets == nil {
		buckets = []*models.ActivityBucket{}
	}
	respondJSON(w, http.StatusOK, buckets)
}

// Login handles POST /auth/login. Credential verification happens upstream;
// this endpoint opens the session for an already-authenticated actor.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actorID(w, r)
	if !ok {
		return
	}

	token := uuid.NewString()
	session, err := h.trail.StartSession(actorID, token, requestMeta(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, session)
}

// Logout handles POST /auth/logout. Always succeeds for unknown sessions.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actorID(w, r)
	if !ok {
		return
	}

	var req struct {
		SessionToken string `json:"session_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.trail.EndSession(actorID, req.SessionToken, requestMeta(r)); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

func queryInt(r *http.Request, key string, defaultValue int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
