package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"chipforge-gateway/internal/backend"
	"chipforge-gateway/internal/config"
	"chipforge-gateway/internal/dispatch"
	"chipforge-gateway/internal/evaluate"
	httpSrv "chipforge-gateway/internal/http"
	"chipforge-gateway/internal/logging"
	"chipforge-gateway/internal/migrations"
	"chipforge-gateway/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	logging.Configure(cfg)
	log := logging.For("api")

	// Run embedded migrations (idempotent)
	if cfg.DatabaseURL != "" {
		if err := migrations.Run(cfg.DatabaseURL); err != nil {
			log.WithError(err).Fatal("Migrations failed")
		}
	}

	if cfg.APIToken == "" {
		log.Warn("API_TOKEN is not set, every authenticated request will be refused")
	}

	sim := backend.NewSimulation(cfg)
	synth := backend.NewSynthesis(cfg)

	var archiver evaluate.Archiver
	if cfg.ArchiveEnabled() {
		asq := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer asq.Close()
		archiver = worker.NewEnqueuer(asq)
		log.WithField("redis", cfg.RedisAddr).Info("Result archival enabled")
	}

	svc := evaluate.NewService(dispatch.New(sim, synth), archiver)
	srv := httpSrv.NewServer(cfg, svc, sim, synth)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("Gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Unclean shutdown")
	}
}
