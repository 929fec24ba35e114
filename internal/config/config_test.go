package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	viper.Reset()
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.Server.Port)

	assert.Equal(t, 50, cfg.RateLimits.Free.RequestsPerDay)
	assert.Equal(t, 10, cfg.RateLimits.Free.RequestsPerHour)
	assert.Equal(t, 10000, cfg.RateLimits.Pro.RequestsPerDay)
	assert.Equal(t, 500, cfg.RateLimits.Pro.RequestsPerHour)
	assert.Equal(t, -1, cfg.RateLimits.Enterprise.RequestsPerDay)
	assert.Equal(t, -1, cfg.RateLimits.Enterprise.RequestsPerHour)

	assert.Equal(t, 3, cfg.Analysis.NewsFloor)
	assert.Equal(t, 0.5, cfg.Analysis.NoEvidenceMultiplier)
	assert.Equal(t, 0.7, cfg.Analysis.SparseNewsMultiplier)
	assert.Equal(t, 0.8, cfg.Analysis.MissingPriceMultiplier)
	assert.Equal(t, 0.8, cfg.Analysis.StaleNewsMultiplier)
	assert.Equal(t, 0.85, cfg.Analysis.WarningDamping)
	assert.Equal(t, 4*time.Second, cfg.Analysis.GatherTimeoutDuration())
}

func validTestConfig() *Config {
	return &Config{
		Environment: "development",
		Analysis: AnalysisConfig{
			GatherTimeout:          "4s",
			NewsFloor:              3,
			NoEvidenceMultiplier:   0.5,
			SparseNewsMultiplier:   0.7,
			MissingPriceMultiplier: 0.8,
			StaleNewsMultiplier:    0.8,
			WarningDamping:         0.85,
		},
		RateLimits: RateLimitConfig{
			Free:       TierLimitConfig{RequestsPerDay: 50, RequestsPerHour: 10},
			Pro:        TierLimitConfig{RequestsPerDay: 10000, RequestsPerHour: 500},
			Enterprise: TierLimitConfig{RequestsPerDay: -1, RequestsPerHour: -1},
		},
	}
}

func TestValidate_AcceptsSaneConfig(t *testing.T) {
	assert.NoError(t, validTestConfig().validate())
}

func TestValidate_RejectsBadGatherTimeout(t *testing.T) {
	cfg := validTestConfig()
	cfg.Analysis.GatherTimeout = "not-a-duration"
	assert.Error(t, cfg.validate())
}

func TestValidate_RejectsOutOfRangeMultiplier(t *testing.T) {
	cfg := validTestConfig()
	cfg.Analysis.WarningDamping = 1.5
	err := cfg.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warning_damping")
}

func TestValidate_RejectsZeroTierLimit(t *testing.T) {
	cfg := validTestConfig()
	cfg.RateLimits.Free.RequestsPerHour = 0
	err := cfg.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "free")
}

func TestValidate_RejectsProviderWithoutName(t *testing.T) {
	cfg := validTestConfig()
	cfg.Providers = []ProviderConfig{{Timeout: "10s"}}
	assert.Error(t, cfg.validate())
}

func TestValidate_RejectsProviderBadTimeout(t *testing.T) {
	cfg := validTestConfig()
	cfg.Providers = []ProviderConfig{{Name: "ollama", Timeout: "soon"}}
	err := cfg.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ollama")
}

func TestGatherTimeoutDuration_FallsBackOnUnparsed(t *testing.T) {
	cfg := AnalysisConfig{GatherTimeout: ""}
	assert.Equal(t, 4*time.Second, cfg.GatherTimeoutDuration())
}
