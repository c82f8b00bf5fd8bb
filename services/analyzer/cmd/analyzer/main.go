package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"contractlens/internal/usertoken"
	"contractlens/internal/util"
	"contractlens/pkg/ai"
	"contractlens/services/analyzer/internal/app"
	"contractlens/services/analyzer/internal/config"
	"contractlens/services/analyzer/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)
	jwtLeeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse jwt leeway: %v", err)
	}
	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:    cfg.AuthJWKSURL,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		Leeway:     jwtLeeway,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	})
	if err != nil {
		log.Fatalf("failed to init jwks verifier: %v", err)
	}

	generator, err := newGenerator(cfg)
	if err != nil {
		log.Fatalf("failed to init text generator: %v", err)
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:    cfg.DatabaseURL,
		Generator:      generator,
		MinioEndpoint:  cfg.MinioEndpoint,
		MinioAccessKey: cfg.MinioAccessKey,
		MinioSecretKey: cfg.MinioSecretKey,
		MinioBucket:    cfg.MinioBucket,
		MinioUseSSL:    cfg.MinioUseSSL,
		MaxPromptChars: cfg.MaxPromptChars,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:           appCore,
		TokenVerifier: tokenVerifier,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 180 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("analyzer server listening", "addr", addr, "provider", cfg.AIProvider, "model", cfg.AIModel)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

func newGenerator(cfg config.FileConfig) (ai.TextGenerator, error) {
	switch cfg.AIProvider {
	case "gemini":
		client, err := ai.NewGeminiClient(cfg.AIAPIKey)
		if err != nil {
			return nil, err
		}
		return ai.NewGeminiGenerator(client, cfg.AIModel, cfg.AITemperature), nil
	default:
		return ai.NewOpenAICompatGenerator(cfg.AIBaseURL, cfg.AIAPIKey, cfg.AIModel, cfg.AITemperature), nil
	}
}
