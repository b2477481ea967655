package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8085, cfg.Service.Port)
	assert.Equal(t, 4, cfg.Negotiation.MaxRounds)
	assert.False(t, cfg.Database.Enabled)
	assert.False(t, cfg.Oracle.Enabled)
	assert.True(t, cfg.Scheduler.AutoNegotiate)
}

func TestLoadEnvOverride(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("CONCORD_PORT", "9000")
	t.Setenv("CONCORD_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Service.Port)
	assert.Equal(t, "debug", cfg.Service.LogLevel)
}

func TestLoadRejectsEnabledOracleWithoutKey(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("CONCORD_ORACLE_ENABLED", "true")
	t.Setenv("OPENAI_API_KEY", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestDatabaseDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host: "db", Port: 5432, Database: "concord",
		Username: "concord", Password: "secret", SSLMode: "disable",
	}
	assert.Equal(t, "host=db port=5432 dbname=concord user=concord password=secret sslmode=disable", cfg.DSN())
}
