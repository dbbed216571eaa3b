package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "LABELS_PATH", "LABELS_FORMAT", "WEIGHTS_STRATEGY", "MODEL_ARCH",
		"NUTRITION_TIMEOUT", "NUTRITION_RATE_LIMIT", "CORS_ORIGINS", "INFERENCE_WORKERS",
		"EXIF_ORIENTATION", "NUTRITION_CACHE", "MAX_UPLOAD_SIZE", "MAX_IMAGE_PIXELS",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, "data/labels.txt", cfg.LabelsPath)
	assert.Equal(t, "text", cfg.LabelsFormat)
	assert.Equal(t, "default", cfg.WeightsStrategy)
	assert.Equal(t, "resnet50", cfg.ModelArch)
	assert.Equal(t, 10*time.Second, cfg.NutritionTimeout)
	assert.Equal(t, 5.0, cfg.NutritionRateLimit)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.False(t, cfg.ExifOrientation)
	assert.True(t, cfg.NutritionCache)
	assert.GreaterOrEqual(t, cfg.InferenceWorkers, 1)
	assert.Equal(t, int64(DefaultMaxUploadSize), cfg.MaxUploadSize)
	assert.Equal(t, DefaultMaxImagePixels, cfg.MaxImagePixels)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("WEIGHTS_STRATEGY", "checkpoint")
	t.Setenv("NUTRITION_TIMEOUT", "2s")
	t.Setenv("CORS_ORIGINS", "http://localhost:8501, https://smartbite.app ,")
	t.Setenv("INFERENCE_WORKERS", "3")
	t.Setenv("EXIF_ORIENTATION", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "checkpoint", cfg.WeightsStrategy)
	assert.Equal(t, 2*time.Second, cfg.NutritionTimeout)
	assert.Equal(t, []string{"http://localhost:8501", "https://smartbite.app"}, cfg.CORSOrigins)
	assert.Equal(t, 3, cfg.InferenceWorkers)
	assert.True(t, cfg.ExifOrientation)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("INFERENCE_WORKERS", "many")
	t.Setenv("NUTRITION_TIMEOUT", "-1s")
	t.Setenv("MAX_IMAGE_PIXELS", "0")
	t.Setenv("CORS_ORIGINS", "https://smartbite.app, localhost:3000")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INFERENCE_WORKERS must be an integer")
	assert.Contains(t, err.Error(), "NUTRITION_TIMEOUT must be positive")
	assert.Contains(t, err.Error(), "MAX_IMAGE_PIXELS must be positive")
	assert.Contains(t, err.Error(), `CORS_ORIGINS entry "localhost:3000"`)
	assert.NotContains(t, err.Error(), "smartbite.app")
}

func TestCheckRequiredConfig(t *testing.T) {
	t.Setenv("NUTRITION_CLIENT_KEY", "")
	t.Setenv("NUTRITION_CLIENT_SECRET", "secret")

	assert.Equal(t, []string{"NUTRITION_CLIENT_KEY"}, CheckRequiredConfig())

	t.Setenv("NUTRITION_CLIENT_KEY", "key")
	assert.Empty(t, CheckRequiredConfig())
}
