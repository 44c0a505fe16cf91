package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"google.golang.org/api/option"
)

// Config holds the settings of both services. Each binary validates the
// subset it needs.
type Config struct {
	Port      string
	ProjectID string
	LogLevel  string

	CredentialsFile string
	StorageEndpoint string

	Bucket            string
	PreprocessedTopic string
	ClassifiedTopic   string
	PublishTimeout    time.Duration

	TargetSize  int
	JPEGQuality int

	ModelPath         string
	ModelMetadataPath string
	ONNXRuntimeLib    string

	RedisAddr      string
	CacheTTL       time.Duration
	CacheNamespace string

	DatabaseDSN string

	JWTSecret   string
	JWTAudience string

	ShutdownTimeout time.Duration
}

// Load reads the environment, after merging an optional .env file.
func Load() (*Config, error) {
	// a missing .env is fine
	_ = godotenv.Load()

	var errs []error
	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		ProjectID:         firstEnv("GOOGLE_CLOUD_PROJECT", "PROJECT_ID"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		CredentialsFile:   strings.TrimSpace(os.Getenv("GOOGLE_CREDENTIALS_FILE")),
		StorageEndpoint:   strings.TrimSpace(os.Getenv("STORAGE_ENDPOINT")),
		Bucket:            strings.TrimSpace(os.Getenv("BUCKET")),
		PreprocessedTopic: strings.TrimSpace(os.Getenv("PREPROCESSED_TOPIC")),
		ClassifiedTopic:   strings.TrimSpace(os.Getenv("CLASSIFIED_TOPIC")),
		ModelPath:         getEnv("MODEL_PATH", "models/mobilenet_v2.onnx"),
		ModelMetadataPath: getEnv("MODEL_METADATA_PATH", "models/mobilenet_v2.json"),
		ONNXRuntimeLib:    strings.TrimSpace(os.Getenv("ONNXRUNTIME_LIB")),
		RedisAddr:         strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		CacheNamespace:    strings.TrimSpace(os.Getenv("CACHE_NAMESPACE")),
		DatabaseDSN:       strings.TrimSpace(os.Getenv("DATABASE_DSN")),
		JWTSecret:         strings.TrimSpace(os.Getenv("AUTH_JWT_SECRET")),
		JWTAudience:       strings.TrimSpace(os.Getenv("AUTH_JWT_AUDIENCE")),
	}

	cfg.PublishTimeout = getDuration("PUBLISH_TIMEOUT", 10*time.Second, &errs)
	cfg.CacheTTL = getDuration("CACHE_TTL", 10*time.Minute, &errs)
	cfg.ShutdownTimeout = getDuration("SHUTDOWN_TIMEOUT", 15*time.Second, &errs)
	cfg.TargetSize = getInt("TARGET_SIZE", 224, &errs)
	cfg.JPEGQuality = getInt("JPEG_QUALITY", 90, &errs)

	if cfg.TargetSize <= 0 {
		errs = append(errs, fmt.Errorf("TARGET_SIZE must be positive, got %d", cfg.TargetSize))
	}
	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("JPEG_QUALITY must be within 1..100, got %d", cfg.JPEGQuality))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidatePreprocess checks the settings the preprocess service cannot run without.
func (c *Config) ValidatePreprocess() error {
	if c.Bucket == "" {
		return errors.New("missing required env BUCKET")
	}
	if c.PreprocessedTopic != "" && c.ProjectID == "" {
		return errors.New("PREPROCESSED_TOPIC requires GOOGLE_CLOUD_PROJECT")
	}
	return nil
}

// ValidateClassify checks the settings the classify service cannot run without.
func (c *Config) ValidateClassify() error {
	if c.ModelPath == "" || c.ModelMetadataPath == "" {
		return errors.New("MODEL_PATH and MODEL_METADATA_PATH are required")
	}
	if c.ClassifiedTopic != "" && c.ProjectID == "" {
		return errors.New("CLASSIFIED_TOPIC requires GOOGLE_CLOUD_PROJECT")
	}
	return nil
}

// GoogleOptions are the client options shared by the storage and pubsub
// clients. Without a credentials file the SDKs fall back to application
// default credentials.
func (c *Config) GoogleOptions() []option.ClientOption {
	var opts []option.ClientOption
	if c.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(c.CredentialsFile))
	}
	return opts
}

// StorageOptions extends GoogleOptions with STORAGE_ENDPOINT.
func (c *Config) StorageOptions() []option.ClientOption {
	opts := c.GoogleOptions()
	if c.StorageEndpoint != "" {
		opts = append(opts, option.WithEndpoint(c.StorageEndpoint))
	}
	return opts
}

// Addr is the listen address derived from Port.
func (c *Config) Addr() string {
	return ":" + c.Port
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func getDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		*errs = append(*errs, fmt.Errorf("invalid %s %q", key, raw))
		return fallback
	}
	return d
}

func getInt(key string, fallback int, errs *[]error) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s %q", key, raw))
		return fallback
	}
	return n
}
