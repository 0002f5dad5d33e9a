// Package handlers provides HTTP handlers for rebalancing plans.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantfolio/quantfolio/internal/modules/rebalancing"
)

// Handler provides HTTP handlers for rebalancing endpoints.
type Handler struct {
	service *rebalancing.Service
	store   *rebalancing.PlanStore
	log     zerolog.Logger
}

// NewHandler creates a rebalancing handler.
func NewHandler(service *rebalancing.Service, store *rebalancing.PlanStore, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		store:   store,
		log:     log.With().Str("handler", "rebalancing").Logger(),
	}
}

// planRequest is the optional body of a plan request.
type planRequest struct {
	// Balance overrides the spendable balance derived from holdings.
	Balance *decimal.Decimal `json:"balance,omitempty"`
}

// HandleCreatePlan handles POST /api/rebalancing/{user}/plan
func (h *Handler) HandleCreatePlan(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")

	var req planRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	plan, err := h.service.PlanPurchases(user, req.Balance)
	if err != nil {
		h.log.Error().Err(err).Str("user", user).Msg("Failed to generate plan")
		http.Error(w, "Failed to generate plan", http.StatusInternalServerError)
		return
	}

	h.store.Save(plan)
	writeJSON(w, plan)
}

// HandleLatestPlan handles GET /api/rebalancing/{user}/plan
func (h *Handler) HandleLatestPlan(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")

	plan := h.store.Latest(user)
	if plan == nil {
		http.Error(w, "No plan generated yet", http.StatusNotFound)
		return
	}

	writeJSON(w, plan)
}

// HandlePlanHistory handles GET /api/rebalancing/{user}/plans
func (h *Handler) HandlePlanHistory(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	writeJSON(w, h.store.History(user))
}

// HandlePortfolio handles GET /api/rebalancing/{user}/portfolio
func (h *Handler) HandlePortfolio(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")

	view, err := h.service.PortfolioView(user)
	if err != nil {
		h.log.Error().Err(err).Str("user", user).Msg("Failed to build portfolio view")
		http.Error(w, "Failed to build portfolio view", http.StatusInternalServerError)
		return
	}

	writeJSON(w, view)
}

// HandleIndex handles GET /api/rebalancing/{user}/index
func (h *Handler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")

	targetIndex, err := h.service.TargetIndex(user)
	if err != nil {
		h.log.Error().Err(err).Str("user", user).Msg("Failed to build target index")
		http.Error(w, "Failed to build target index", http.StatusInternalServerError)
		return
	}

	writeJSON(w, targetIndex)
}

// HandleIndexStats handles GET /api/rebalancing/{user}/index/stats
func (h *Handler) HandleIndexStats(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")

	stats, err := h.service.IndexStats(user)
	if err != nil {
		h.log.Error().Err(err).Str("user", user).Msg("Failed to compute index stats")
		http.Error(w, "Failed to compute index stats", http.StatusInternalServerError)
		return
	}

	writeJSON(w, stats)
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
