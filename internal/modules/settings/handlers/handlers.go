// Package handlers provides HTTP handlers for settings and user
// preferences.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/quantfolio/quantfolio/internal/domain"
	"github.com/quantfolio/quantfolio/internal/modules/settings"
)

// Handler provides HTTP handlers for settings endpoints.
type Handler struct {
	service *settings.Service
	log     zerolog.Logger
}

// NewHandler creates a settings handler.
func NewHandler(service *settings.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "settings").Logger(),
	}
}

// HandleGetAll handles GET /api/settings
func (h *Handler) HandleGetAll(w http.ResponseWriter, r *http.Request) {
	all, err := h.service.GetAll()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get all settings")
		http.Error(w, "Failed to get settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, all)
}

// settingUpdate is the body of a setting update.
type settingUpdate struct {
	Value string `json:"value"`
}

// HandleUpdate handles PUT /api/settings/{key}
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		http.Error(w, "Key is required", http.StatusBadRequest)
		return
	}

	var update settingUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.Set(key, update.Value); err != nil {
		h.log.Error().Err(err).Str("key", key).Msg("Failed to update setting")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, map[string]string{key: update.Value})
}

// HandleListUsers handles GET /api/users
func (h *Handler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.Users()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list users")
		http.Error(w, "Failed to list users", http.StatusInternalServerError)
		return
	}
	if users == nil {
		users = []string{}
	}
	writeJSON(w, users)
}

// HandleGetPreferences handles GET /api/users/{user}/preferences
func (h *Handler) HandleGetPreferences(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")

	prefs, err := h.service.Preferences(user)
	if err != nil {
		h.log.Error().Err(err).Str("user", user).Msg("Failed to get preferences")
		http.Error(w, "Failed to get preferences", http.StatusInternalServerError)
		return
	}
	writeJSON(w, prefs)
}

// HandleSavePreferences handles PUT /api/users/{user}/preferences
func (h *Handler) HandleSavePreferences(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	if user == "" {
		http.Error(w, "User is required", http.StatusBadRequest)
		return
	}

	// Unknown fields fall back to defaults rather than erroring; partial
	// updates are the common case from the UI.
	prefs := domain.DefaultPreferences()
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.SavePreferences(user, prefs); err != nil {
		h.log.Warn().Err(err).Str("user", user).Msg("Rejected preferences update")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, prefs)
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
