package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	AppName     = "smartbite"
	EnvFileName = "config.env"
)

const (
	DefaultPort             = 8000
	DefaultNutritionBaseURL = "https://platform.fatsecret.com/rest/server.api"
	DefaultMaxUploadSize    = 10 * 1024 * 1024
	DefaultMaxImagePixels   = 64_000_000
)

// Config holds every setting the service reads from the environment.
type Config struct {
	Port     int
	LogLevel string

	LabelsPath       string
	LabelsFormat     string
	WeightsStrategy  string
	WeightsPath      string
	CheckpointPath   string
	ModelArch        string
	Device           string
	InferenceWorkers int
	ExifOrientation  bool

	NutritionBaseURL        string
	NutritionClientKey      string
	NutritionClientSecret   string
	NutritionTimeout        time.Duration
	NutritionRateLimit      float64
	NutritionMismatchPolicy string
	NutritionCache          bool

	MaxUploadSize  int64
	MaxImagePixels int
	CORSOrigins    []string
	HistorySize    int

	BotToken string
}

// LoadEnvFile loads environment variables from a .env file in the working
// directory and from the config file in the user's config directory. Errors
// are ignored since neither file has to exist. Variables already present in
// the environment win.
func LoadEnvFile() {
	_ = godotenv.Load()

	configBase, err := os.UserConfigDir()
	if err != nil {
		return
	}
	configPath := filepath.Join(configBase, AppName, EnvFileName)
	_ = godotenv.Load(configPath)
}

// CheckRequiredConfig returns the names of required variables that are unset.
func CheckRequiredConfig() []string {
	var missing []string
	for _, key := range []string{"NUTRITION_CLIENT_KEY", "NUTRITION_CLIENT_SECRET"} {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// Load reads the configuration from the environment, applying defaults.
func Load() (*Config, error) {
	p := &parser{}

	cfg := &Config{
		Port:     p.int("PORT", DefaultPort),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		LabelsPath:       getEnv("LABELS_PATH", "data/labels.txt"),
		LabelsFormat:     getEnv("LABELS_FORMAT", "text"),
		WeightsStrategy:  getEnv("WEIGHTS_STRATEGY", "default"),
		WeightsPath:      getEnv("WEIGHTS_PATH", "models/food101.safetensors"),
		CheckpointPath:   getEnv("CHECKPOINT_PATH", "models/food101.ckpt.safetensors"),
		ModelArch:        getEnv("MODEL_ARCH", "resnet50"),
		Device:           getEnv("DEVICE", "auto"),
		InferenceWorkers: p.int("INFERENCE_WORKERS", runtime.NumCPU()),
		ExifOrientation:  p.bool("EXIF_ORIENTATION", false),

		NutritionBaseURL:        getEnv("NUTRITION_BASE_URL", DefaultNutritionBaseURL),
		NutritionClientKey:      os.Getenv("NUTRITION_CLIENT_KEY"),
		NutritionClientSecret:   os.Getenv("NUTRITION_CLIENT_SECRET"),
		NutritionTimeout:        p.duration("NUTRITION_TIMEOUT", 10*time.Second),
		NutritionRateLimit:      p.float("NUTRITION_RATE_LIMIT", 5),
		NutritionMismatchPolicy: getEnv("NUTRITION_MISMATCH_POLICY", "soft"),
		NutritionCache:          p.bool("NUTRITION_CACHE", true),

		MaxUploadSize:  int64(p.int("MAX_UPLOAD_SIZE", DefaultMaxUploadSize)),
		MaxImagePixels: p.int("MAX_IMAGE_PIXELS", DefaultMaxImagePixels),
		CORSOrigins:    splitList(getEnv("CORS_ORIGINS", "*")),
		HistorySize:    p.int("HISTORY_SIZE", 100),

		BotToken: os.Getenv("BOT_TOKEN"),
	}

	if cfg.InferenceWorkers < 1 {
		p.errs = append(p.errs, fmt.Errorf("INFERENCE_WORKERS must be at least 1, got %d", cfg.InferenceWorkers))
	}
	if cfg.NutritionTimeout <= 0 {
		p.errs = append(p.errs, fmt.Errorf("NUTRITION_TIMEOUT must be positive, got %s", cfg.NutritionTimeout))
	}
	if cfg.MaxUploadSize <= 0 {
		p.errs = append(p.errs, fmt.Errorf("MAX_UPLOAD_SIZE must be positive, got %d", cfg.MaxUploadSize))
	}
	for _, origin := range cfg.CORSOrigins {
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			p.errs = append(p.errs, fmt.Errorf("CORS_ORIGINS entry %q must be * or start with http:// or https://", origin))
		}
	}
	if cfg.MaxImagePixels <= 0 {
		p.errs = append(p.errs, fmt.Errorf("MAX_IMAGE_PIXELS must be positive, got %d", cfg.MaxImagePixels))
	}

	if err := errors.Join(p.errs...); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parser collects conversion errors so Load can report all of them at once.
type parser struct {
	errs []error
}

func (p *parser) int(key string, fallback int) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be an integer: %w", key, err))
		return fallback
	}
	return n
}

func (p *parser) float(key string, fallback float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be a number: %w", key, err))
		return fallback
	}
	return f
}

func (p *parser) bool(key string, fallback bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be a boolean: %w", key, err))
		return fallback
	}
	return b
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be a duration: %w", key, err))
		return fallback
	}
	return d
}
