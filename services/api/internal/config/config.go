package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents api-service configuration loaded from YAML.
type FileConfig struct {
	Port                      string   `yaml:"port"`
	DatabaseURL               string   `yaml:"databaseURL"`
	LogLevel                  string   `yaml:"logLevel"`
	MinioEndpoint             string   `yaml:"minioEndpoint"`
	MinioAccessKey            string   `yaml:"minioAccessKey"`
	MinioSecretKey            string   `yaml:"minioSecretKey"`
	MinioBucket               string   `yaml:"minioBucket"`
	MinioUseSSL               bool     `yaml:"minioUseSSL"`
	AnalyzerURL               string   `yaml:"analyzerURL"`
	MaxUploadBytes            int64    `yaml:"maxUploadBytes"`
	AuthJWKSURL               string   `yaml:"authJWKSURL"`
	JWTIssuer                 string   `yaml:"jwtIssuer"`
	JWTAudience               string   `yaml:"jwtAudience"`
	JWTLeeway                 string   `yaml:"jwtLeeway"`
	RedisAddr                 string   `yaml:"redisAddr"`
	RedisPassword             string   `yaml:"redisPassword"`
	TrustedProxyCIDRs         []string `yaml:"trustedProxyCidrs"`
	UploadRateLimitPerMinute  int      `yaml:"uploadRateLimitPerMinute"`
	AnalyzeRateLimitPerMinute int      `yaml:"analyzeRateLimitPerMinute"`
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
	if v := os.Getenv("ANALYZER_URL"); v != "" {
		cfg.AnalyzerURL = v
	}
	if v := os.Getenv("API_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("API_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("API_UPLOAD_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.UploadRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("API_ANALYZE_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AnalyzeRateLimitPerMinute = n
		}
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 10 * 1024 * 1024
	}
	if cfg.UploadRateLimitPerMinute == 0 {
		cfg.UploadRateLimitPerMinute = 10
	}
	if cfg.AnalyzeRateLimitPerMinute == 0 {
		cfg.AnalyzeRateLimitPerMinute = 6
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
	if cfg.AnalyzerURL == "" {
		return errors.New("config: analyzerURL is required (set in config.yaml)")
	}
	if cfg.AuthJWKSURL == "" {
		return errors.New("config: authJWKSURL is required (set in config.yaml)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml)")
	}
	return nil
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
