package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/passkeep/passkeep/internal/api"
	"github.com/passkeep/passkeep/internal/capstore"
	"github.com/passkeep/passkeep/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type config struct {
	ListenAddr     string `yaml:"listen_addr"`
	TLSCertFile    string `yaml:"tls_cert"`
	TLSKeyFile     string `yaml:"tls_key"`
	DBUrl          string `yaml:"db_url"`
	MigrationsDir  string `yaml:"migrations_dir"`
	TokenSecret    string `yaml:"token_secret"`
	AuditQueueSize int    `yaml:"audit_queue_size"`
	LogLevel       string `yaml:"log_level"`
}

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load config
	cfgFile := "config.yaml"
	if v := os.Getenv("PASSKEEP_CONFIG"); v != "" {
		cfgFile = v
	}

	cfg := config{
		ListenAddr:     ":8400",
		MigrationsDir:  "migrations",
		AuditQueueSize: 256,
		LogLevel:       "info",
	}

	if data, err := os.ReadFile(cfgFile); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatal().Err(err).Msg("failed to parse config")
		}
	} else {
		log.Warn().Str("file", cfgFile).Msg("config file not found, using defaults")
	}

	// Env overrides
	if v := os.Getenv("PASSKEEP_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DBUrl = v
	}
	if v := os.Getenv("PASSKEEP_TOKEN_SECRET"); v != "" {
		cfg.TokenSecret = v
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.DBUrl == "" {
		log.Fatal().Msg("db_url must be configured (or DATABASE_URL env var)")
	}
	if cfg.TokenSecret == "" {
		log.Fatal().Msg("token_secret must be configured (or PASSKEEP_TOKEN_SECRET env var)")
	}

	ctx := context.Background()

	// Connect to database
	store, err := storage.NewPostgresStore(ctx, cfg.DBUrl)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer store.Close()

	// Run migrations
	if err := storage.RunMigrations(cfg.DBUrl, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}
	log.Info().Msg("migrations applied")

	// The capability store shares the relational pool.
	caps := capstore.NewPostgres(store.Pool())

	// Create server
	srv := api.NewServer(store, caps, api.Config{
		ListenAddr:     cfg.ListenAddr,
		TLSCertFile:    cfg.TLSCertFile,
		TLSKeyFile:     cfg.TLSKeyFile,
		DBUrl:          cfg.DBUrl,
		MigrationsDir:  cfg.MigrationsDir,
		TokenSecret:    cfg.TokenSecret,
		AuditQueueSize: cfg.AuditQueueSize,
	})

	// Background maintenance: expired capability entries and metric
	// gauges, on one timer.
	maintCtx, stopMaint := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-maintCtx.Done():
				return
			case <-ticker.C:
				caps.SweepExpired(maintCtx)
				srv.RefreshGauges(maintCtx)
			}
		}
	}()

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("server started")
	<-quit

	log.Info().Msg("shutting down...")
	stopMaint()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	srv.Auditor().Close()
	log.Info().Msg("server stopped")
}
