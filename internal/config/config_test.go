package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "http://localhost:8000/api", cfg.APIURL())
	assert.Equal(t, 10*time.Second, cfg.CartOperationTimeout())
	assert.Equal(t, 2*time.Second, cfg.QuickAddReset())
	assert.Equal(t, 3*time.Second, cfg.ToastInfoDuration())
	assert.Equal(t, 6*time.Second, cfg.ToastErrorDuration())
	assert.Equal(t, 168*time.Hour, cfg.SnapshotTTLDuration())
	assert.Equal(t, "/login", cfg.LoginPath)
	assert.False(t, cfg.AnalyticsEnabled)
}

func TestLoad_InvalidHTTPPort(t *testing.T) {
	t.Setenv("STOREFRONT_HTTP_PORT", "0")

	cfg, err := Load()

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid HTTP port")
}

func TestLoad_InvalidBaseURL(t *testing.T) {
	t.Setenv("API_BASE_URL", "not a url")

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid API_BASE_URL")
}

func TestLoad_PrefixMustBeAbsolute(t *testing.T) {
	t.Setenv("API_PREFIX", "api")

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "API_PREFIX")
}

func TestLoad_InvalidOTELSampleRate(t *testing.T) {
	t.Setenv("OTEL_SAMPLE_RATE", "2.0")

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "OTEL_SAMPLE_RATE must be between 0.0 and 1.0")
}

func TestLoad_NonPositiveOperationTimeout(t *testing.T) {
	t.Setenv("CART_OPERATION_TIMEOUT_SECONDS", "0")

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "CART_OPERATION_TIMEOUT_SECONDS")
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("API_BASE_URL", "https://shop.example.com/")
	t.Setenv("API_PREFIX", "/api/")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("ANALYTICS_ENABLED", "true")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "https://shop.example.com/api", cfg.APIURL())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.AnalyticsEnabled)
}

func TestLoad_MalformedNumber(t *testing.T) {
	t.Setenv("REDIS_DB", "zero")

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}
