package main

import (
	"context"

	"github.com/sirupsen/logrus"

	"chipforge-gateway/internal/config"
	"chipforge-gateway/internal/db"
	"chipforge-gateway/internal/logging"
	"chipforge-gateway/internal/migrations"
	"chipforge-gateway/internal/storage"
	"chipforge-gateway/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	logging.Configure(cfg)
	log := logging.For("worker")

	if !cfg.ArchiveEnabled() {
		log.Fatal("REDIS_ADDR is not set")
	}
	if err := migrations.Run(cfg.DatabaseURL); err != nil {
		log.WithError(err).Fatal("Migrations failed")
	}

	dbase, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("Database unavailable")
	}
	defer dbase.Close()

	s3c, err := storage.New(context.Background(), cfg.Storage)
	if err != nil {
		log.WithError(err).Fatal("Object storage unavailable")
	}

	if err := worker.Run(cfg, s3c, db.NewLedger(dbase)); err != nil {
		log.WithError(err).Fatal("Worker stopped")
	}
}
