package settings

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/quantfolio/quantfolio/internal/domain"
)

// prefsKeyPrefix namespaces per-user preference blobs inside the settings
// table.
const prefsKeyPrefix = "user_prefs:"

// Service exposes typed access to per-user rebalancing preferences on top
// of the key-value repository. Preferences are stored as one JSON blob per
// user; missing users get defaults.
type Service struct {
	repo *Repository
	log  zerolog.Logger
}

// NewService creates a settings service.
func NewService(repo *Repository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With().Str("service", "settings").Logger(),
	}
}

// Preferences returns the saved preferences for a user, or defaults when
// the user has never saved any. A corrupt blob also falls back to defaults
// rather than blocking the rebalancing cycle.
func (s *Service) Preferences(user string) (domain.UserPreferences, error) {
	raw, err := s.repo.Get(prefsKeyPrefix + user)
	if err != nil {
		return domain.UserPreferences{}, err
	}
	if raw == nil {
		return domain.DefaultPreferences(), nil
	}

	prefs := domain.DefaultPreferences()
	if err := json.Unmarshal([]byte(*raw), &prefs); err != nil {
		s.log.Warn().Err(err).Str("user", user).Msg("Corrupt preferences blob, using defaults")
		return domain.DefaultPreferences(), nil
	}
	return prefs, nil
}

// SavePreferences validates and persists a user's preferences, registering
// the user if needed.
func (s *Service) SavePreferences(user string, prefs domain.UserPreferences) error {
	if err := validatePreferences(prefs); err != nil {
		return err
	}

	blob, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("failed to serialize preferences: %w", err)
	}

	if err := s.repo.EnsureUser(user); err != nil {
		return err
	}
	if err := s.repo.Set(prefsKeyPrefix+user, string(blob), nil); err != nil {
		return fmt.Errorf("failed to save preferences for %s: %w", user, err)
	}

	s.log.Info().Str("user", user).Msg("Preferences saved")
	return nil
}

// Users returns all enabled user ids.
func (s *Service) Users() ([]string, error) {
	return s.repo.EnabledUsers()
}

// GetAll returns the raw key-value settings map.
func (s *Service) GetAll() (map[string]string, error) {
	return s.repo.GetAll()
}

// Set stores a raw key-value setting.
func (s *Service) Set(key, value string) error {
	return s.repo.Set(key, value, nil)
}

func validatePreferences(prefs domain.UserPreferences) error {
	if prefs.ReferenceCurrency == "" {
		return fmt.Errorf("reference currency is required")
	}
	if !prefs.PurchaseMin.IsPositive() {
		return fmt.Errorf("purchase minimum must be positive, got %s", prefs.PurchaseMin)
	}
	if prefs.PurchaseMax.LessThan(prefs.PurchaseMin) {
		return fmt.Errorf("purchase maximum %s is below minimum %s", prefs.PurchaseMax, prefs.PurchaseMin)
	}

	switch prefs.IndexStrategy {
	case domain.StrategyMarketCap, domain.StrategySqrtMarketCap, domain.StrategySMA:
	default:
		return fmt.Errorf("unknown index strategy %q", prefs.IndexStrategy)
	}

	if prefs.IndexLimit < 0 {
		return fmt.Errorf("index limit cannot be negative")
	}
	return nil
}
