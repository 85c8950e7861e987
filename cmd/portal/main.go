package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"medportal/internal/app"
	"medportal/internal/config"
	"medportal/internal/server"
	"medportal/internal/util"
	"medportal/pkg/ai"
	"medportal/pkg/storage"
	"medportal/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}
	aiTimeout, err := config.ParseAITimeout(cfg.AITimeout)
	if err != nil {
		log.Fatalf("failed to parse AI timeout: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	dataStore, err := newStore(cfg)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	sessions, err := newSessions(cfg, sessionTTL)
	if err != nil {
		log.Fatalf("failed to init session store: %v", err)
	}
	objects, err := newObjects(cfg)
	if err != nil {
		log.Fatalf("failed to init object storage: %v", err)
	}
	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	client := ai.NewClient(ai.ClientConfig{
		BaseURL:    cfg.AIBaseURL,
		CustomerID: cfg.AICustomerID,
		APIKey:     cfg.AIAPIKey,
		Timeout:    aiTimeout,
	})

	appCore, err := app.New(app.Config{
		Store:              dataStore,
		Sessions:           sessions,
		Objects:            objects,
		AI:                 client,
		MaxAttachmentBytes: cfg.MaxAttachmentBytes,
		SeedDemoUsers:      cfg.SeedDemoUsers,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                      appCore,
		RedisAddr:                cfg.RedisAddr,
		RedisPassword:            cfg.RedisPassword,
		SignupRateLimitPerMinute: cfg.SignupRateLimitPerMinute,
		LoginRateLimitPerMinute:  cfg.LoginRateLimitPerMinute,
		ChatRateLimitPerMinute:   cfg.ChatRateLimitPerMinute,
		TrustedProxies:           trustedProxies,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("portal server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

func newStore(cfg config.FileConfig) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		return store.NewGormStore(cfg.DatabaseURL)
	case config.StoreFile:
		docs, err := store.NewFileDocumentStore(cfg.DocumentPath)
		if err != nil {
			return nil, err
		}
		return store.NewDocStore(docs), nil
	default:
		return store.NewMemoryStore(), nil
	}
}

func newSessions(cfg config.FileConfig, ttl time.Duration) (store.SessionStore, error) {
	if cfg.SessionStrategy == config.SessionJWT {
		return store.NewJWTSessionStore(cfg.SessionSecret, ttl)
	}
	return store.NewRedisSessionStore(cfg.RedisAddr, cfg.RedisPassword, ttl), nil
}

func newObjects(cfg config.FileConfig) (storage.ObjectStore, error) {
	if cfg.MinioEndpoint == "" {
		slog.Warn("no object storage configured, attachments held in memory")
		return storage.NewMemoryStore(), nil
	}
	return storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
}
