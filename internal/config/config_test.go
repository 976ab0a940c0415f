package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func missingEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), ".env")
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(missingEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.True(t, cfg.IsDev())
	assert.Equal(t, 15*time.Second, cfg.BackendTimeout)
	assert.Equal(t, 30*time.Minute, cfg.WizardIdleTTL)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, AssistantBackend, cfg.AssistantMode)

	fb := cfg.Fallbacks()
	assert.Equal(t, 25, fb.Age)
	assert.Equal(t, 1, fb.Gravida)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BACKEND_URL", "https://api.example.org/")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("WIZARD_IDLE_TTL", "5m")
	t.Setenv("INTAKE_FALLBACK_AGE", "22")

	cfg, err := load(missingEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.org", cfg.BackendURL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 5*time.Minute, cfg.WizardIdleTTL)
	assert.Equal(t, 22, cfg.Fallbacks().Age)
}

func TestLoadFromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=9090\nSUBMIT_WORKERS=3\n"), 0o600))

	cfg, err := load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 3, cfg.SubmitWorkers)
}

func TestValidate(t *testing.T) {
	t.Setenv("ASSISTANT_MODE", AssistantOpenAI)
	_, err := load(missingEnvFile(t))
	assert.ErrorContains(t, err, "OPENAI_API_KEY")

	t.Setenv("ASSISTANT_MODE", "local")
	_, err = load(missingEnvFile(t))
	assert.ErrorContains(t, err, "ASSISTANT_MODE")
}
