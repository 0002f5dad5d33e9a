package settings

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfolio/quantfolio/internal/database"
	"github.com/quantfolio/quantfolio/internal/domain"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    "file:settings_test_" + t.Name() + "?mode=memory&cache=shared",
		Profile: database.ProfileStandard,
		Name:    "config",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	repo := NewRepository(db.Conn(), zerolog.Nop())
	return NewService(repo, zerolog.Nop())
}

func TestPreferences_UnknownUserGetsDefaults(t *testing.T) {
	svc := newTestService(t)

	prefs, err := svc.Preferences("alice")
	require.NoError(t, err)

	assert.Equal(t, "USD", prefs.ReferenceCurrency)
	assert.True(t, prefs.PurchaseMin.Equal(decimal.NewFromInt(10)))
	assert.True(t, prefs.PurchaseMax.Equal(decimal.NewFromInt(25)))
	assert.Contains(t, prefs.ExcludedTags, "stablecoin")
}

func TestSaveAndLoadPreferences(t *testing.T) {
	svc := newTestService(t)

	prefs := domain.DefaultPreferences()
	prefs.IndexStrategy = domain.StrategySqrtMarketCap
	prefs.IndexLimit = 15
	prefs.PurchaseMax = decimal.NewFromInt(50)
	prefs.ExcludedSymbols = []string{"SHIB"}

	require.NoError(t, svc.SavePreferences("alice", prefs))

	loaded, err := svc.Preferences("alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StrategySqrtMarketCap, loaded.IndexStrategy)
	assert.Equal(t, 15, loaded.IndexLimit)
	assert.True(t, loaded.PurchaseMax.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, []string{"SHIB"}, loaded.ExcludedSymbols)

	users, err := svc.Users()
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, users)
}

func TestSavePreferences_Validation(t *testing.T) {
	svc := newTestService(t)

	tests := []struct {
		name   string
		mutate func(*domain.UserPreferences)
	}{
		{"empty reference currency", func(p *domain.UserPreferences) { p.ReferenceCurrency = "" }},
		{"zero purchase min", func(p *domain.UserPreferences) { p.PurchaseMin = decimal.Zero }},
		{"max below min", func(p *domain.UserPreferences) { p.PurchaseMax = decimal.NewFromInt(5) }},
		{"unknown strategy", func(p *domain.UserPreferences) { p.IndexStrategy = "equal_weight" }},
		{"negative index limit", func(p *domain.UserPreferences) { p.IndexLimit = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prefs := domain.DefaultPreferences()
			tt.mutate(&prefs)
			assert.Error(t, svc.SavePreferences("bob", prefs))
		})
	}
}

func TestPreferences_CorruptBlobFallsBackToDefaults(t *testing.T) {
	svc := newTestService(t)

	require.NoError(t, svc.repo.Set(prefsKeyPrefix+"carol", "{not json", nil))

	prefs, err := svc.Preferences("carol")
	require.NoError(t, err)
	assert.Equal(t, "USD", prefs.ReferenceCurrency)
}

func TestRepositoryTypedGetters(t *testing.T) {
	svc := newTestService(t)
	repo := svc.repo

	require.NoError(t, repo.Set("live_mode", "true", nil))
	require.NoError(t, repo.Set("index_limit", "12.0", nil))

	live, err := repo.GetBool("live_mode", false)
	require.NoError(t, err)
	assert.True(t, live)

	limit, err := repo.GetInt("index_limit", 0)
	require.NoError(t, err)
	assert.Equal(t, 12, limit)

	missing, err := repo.GetInt("absent", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, missing)

	require.NoError(t, repo.Delete("live_mode"))
	val, err := repo.Get("live_mode")
	require.NoError(t, err)
	assert.Nil(t, val)
}
