package main

import (
	"context"

	"sealreg/internal/config"
	"sealreg/internal/infra/db"
	httpinfra "sealreg/internal/infra/http"
	"sealreg/internal/infra/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	store, err := db.NewStore(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to init store")
	}
	if cfg.SeedFile != "" {
		seed, err := db.ReadSeed(cfg.SeedFile)
		if err != nil {
			logger.WithError(err).Fatal("failed to read seed file")
		}
		n, err := db.NewLedgerRepository(store.DB).ApplySeed(context.Background(), seed)
		if err != nil {
			logger.WithError(err).Fatal("failed to apply seed file")
		}
		logger.WithField("rows", n).Info("ledger seeded")
	}

	srv := httpinfra.NewServer(cfg, store, logger)
	logger.WithField("addr", cfg.HTTPAddr).WithField("mode", store.Mode()).Info("sealregd starting")
	if err := srv.Run(); err != nil {
		logger.WithError(err).Fatal("server exited")
	}
}
