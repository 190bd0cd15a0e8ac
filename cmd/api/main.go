package main

import (
	"fmt"
	"net/http"
	"time"

	"visit-reports-go/internal/config"
	"visit-reports-go/internal/logger"
	"visit-reports-go/internal/pipeline"
	"visit-reports-go/internal/report"
	"visit-reports-go/internal/store"
	"visit-reports-go/internal/transcription"
)

func main() {
	log := logger.New()
	log.WithField("service", "visit-reports-go").Info("starting service")

	cfg, err := config.Load("")
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	if err := cfg.Validate(config.ModeFull); err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	coord := pipeline.New(
		transcription.NewFromConfig(cfg.Transcription, log),
		store.New(cfg.Storage.TranscriptDir),
		report.NewFromConfig(cfg.Generation, log),
		pipeline.SettingsFromConfig(cfg),
		log,
	)

	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     newServer(coord, log).routes(),
		ReadTimeout: 2 * time.Minute,
		// a request spans the whole transcription wait plus generation
		WriteTimeout: cfg.Transcription.Timeout + cfg.Generation.HTTPTimeout + time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	log.WithField("addr", addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("server terminated")
	}
}
