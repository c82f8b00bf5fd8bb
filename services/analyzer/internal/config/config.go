package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents analyzer configuration loaded from YAML.
type FileConfig struct {
	Port           string  `yaml:"port"`
	DatabaseURL    string  `yaml:"databaseURL"`
	LogLevel       string  `yaml:"logLevel"`
	MinioEndpoint  string  `yaml:"minioEndpoint"`
	MinioAccessKey string  `yaml:"minioAccessKey"`
	MinioSecretKey string  `yaml:"minioSecretKey"`
	MinioBucket    string  `yaml:"minioBucket"`
	MinioUseSSL    bool    `yaml:"minioUseSSL"`
	AIProvider     string  `yaml:"aiProvider"` // openai | gemini
	AIBaseURL      string  `yaml:"aiBaseURL"`
	AIAPIKey       string  `yaml:"aiAPIKey"`
	AIModel        string  `yaml:"aiModel"`
	AITemperature  float64 `yaml:"aiTemperature"`
	MaxPromptChars int     `yaml:"maxPromptChars"`
	AuthJWKSURL    string  `yaml:"authJWKSURL"`
	JWTIssuer      string  `yaml:"jwtIssuer"`
	JWTAudience    string  `yaml:"jwtAudience"`
	JWTLeeway      string  `yaml:"jwtLeeway"`
}

// Load reads config from path (defaults to config.yaml) with env overrides.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("AI_API_KEY"); v != "" {
		cfg.AIAPIKey = v
	}
	if v := os.Getenv("AI_MODEL"); v != "" {
		cfg.AIModel = v
	}
	if v := os.Getenv("ANALYZER_MAX_PROMPT_CHARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxPromptChars = n
		}
	}
	if cfg.AITemperature == 0 {
		cfg.AITemperature = 0.3
	}
	if cfg.MaxPromptChars == 0 {
		cfg.MaxPromptChars = 15000
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ParseJWTLeeway parses the configured leeway duration ("" means default).
func ParseJWTLeeway(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse jwtLeeway: %w", err)
	}
	return d, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml)")
	}
	if cfg.MinioEndpoint == "" {
		return errors.New("config: minioEndpoint is required (set in config.yaml)")
	}
	if cfg.MinioAccessKey == "" {
		return errors.New("config: minioAccessKey is required (set in config.yaml)")
	}
	if cfg.MinioSecretKey == "" {
		return errors.New("config: minioSecretKey is required (set in config.yaml)")
	}
	if cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required (set in config.yaml)")
	}
	switch cfg.AIProvider {
	case "openai", "gemini":
	default:
		return errors.New("config: aiProvider must be openai or gemini")
	}
	if cfg.AIProvider == "openai" && cfg.AIBaseURL == "" {
		return errors.New("config: aiBaseURL is required for the openai provider")
	}
	if cfg.AIAPIKey == "" && cfg.AIProvider == "gemini" {
		return errors.New("config: aiAPIKey is required (set in config.yaml or AI_API_KEY)")
	}
	if cfg.AIModel == "" {
		return errors.New("config: aiModel is required (set in config.yaml)")
	}
	if cfg.AuthJWKSURL == "" {
		return errors.New("config: authJWKSURL is required (set in config.yaml)")
	}
	return nil
}
