package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.Admission.DailyCap)
	assert.Equal(t, 5*time.Second, cfg.Admission.PostInterval)
	assert.Equal(t, time.Second, cfg.Admission.RetrievalInterval)
	assert.Equal(t, time.Hour, cfg.Admission.JanitorInterval)
	assert.Equal(t, ":8080", cfg.GetServerAddress())
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadConfig_AdmissionOverrides(t *testing.T) {
	t.Setenv("DAILY_POST_LIMIT", "0")
	t.Setenv("POST_INTERVAL_MS", "0")
	t.Setenv("RETRIEVAL_INTERVAL_MS", "250")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092 ,")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.Admission.DailyCap)
	assert.Zero(t, cfg.Admission.PostInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.Admission.RetrievalInterval)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
}

func TestLoadConfig_RejectsNonNumeric(t *testing.T) {
	t.Setenv("POST_INTERVAL_MS", "five seconds")

	_, err := LoadConfig()
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "POST_INTERVAL_MS")
}

func TestLoadConfig_RejectsNegative(t *testing.T) {
	t.Setenv("DAILY_POST_LIMIT", "-1")
	t.Setenv("RETRIEVAL_INTERVAL_MS", "-10")

	_, err := LoadConfig()
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "DAILY_POST_LIMIT")
	assert.Contains(t, err.Error(), "RETRIEVAL_INTERVAL_MS")
}

func TestValidate_ProductionNeedsPepper(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")

	_, err := LoadConfig()
	require.ErrorIs(t, err, ErrInvalidConfig)

	t.Setenv("PASSWORD_PEPPER", "s3cret-pepper")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}

func TestLoadConfig_CORSDefaultsToLocalhost(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"http://localhost:*", "http://127.0.0.1:*"}, cfg.CORS.AllowedOrigins)
	for _, origin := range cfg.CORS.AllowedOrigins {
		assert.False(t, isWildcardHost(origin), origin)
	}
}

func TestValidate_ProductionRejectsWildcardOrigins(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("PASSWORD_PEPPER", "s3cret-pepper")

	for _, origins := range []string{"https://*", "*", "https://app.example.com,https://*.example.com"} {
		t.Setenv("CORS_ALLOWED_ORIGINS", origins)
		_, err := LoadConfig()
		require.ErrorIs(t, err, ErrInvalidConfig, origins)
		assert.Contains(t, err.Error(), "CORS_ALLOWED_ORIGINS")
	}

	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com")
	_, err := LoadConfig()
	assert.NoError(t, err)
}

func TestLoadConfig_StorageBackend(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, StorageRedis, cfg.Storage.Backend)
	assert.Zero(t, cfg.Redis.CommentRetention)

	t.Setenv("STORAGE_BACKEND", "Scylla")
	t.Setenv("SCYLLA_HOSTS", "scylla-1:9042,scylla-2:9042")
	cfg, err = LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, StorageScylla, cfg.Storage.Backend)
	assert.Equal(t, []string{"scylla-1:9042", "scylla-2:9042"}, cfg.Scylla.Hosts)

	t.Setenv("STORAGE_BACKEND", "postgres")
	_, err = LoadConfig()
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "STORAGE_BACKEND")
}

func TestValidate_KMSNeedsKeyID(t *testing.T) {
	t.Setenv("KMS_ENABLED", "true")

	_, err := LoadConfig()
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "KMS_KEY_ID")

	t.Setenv("KMS_KEY_ID", "alias/bulletin-pii")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.Encryption.KMSEnabled)
}

func TestLoadConfig_RegistrationLimits(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Admission.RegistrationCap)
	assert.Equal(t, time.Minute, cfg.Admission.RegistrationInterval)

	t.Setenv("REGISTRATION_DAILY_LIMIT", "-2")
	_, err = LoadConfig()
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "REGISTRATION_DAILY_LIMIT")
}
