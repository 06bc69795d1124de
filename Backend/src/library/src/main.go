package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg := LoadConfig()
	log.Info().
		Str("addr", cfg.HTTPAddr).
		Str("db", cfg.DBPath).
		Str("rabbit", cfg.RabbitURL).
		Str("auth", cfg.AuthURL).
		Msg("starting library service")

	repo, err := NewRepository(cfg.DBPath)
	must(err)
	defer repo.Close()

	if cfg.SeedOnStart {
		must(repo.Seed(context.Background()))
		log.Info().Msg("seeded initial inventory")
	}

	rabbit, err := NewRabbit(cfg.RabbitURL, cfg.RabbitExchange)
	if err != nil {
		log.Warn().Err(err).Msg("RabbitMQ not available, continuing without events")
		rabbit = nil
	}
	defer rabbit.Close()

	verifier := NewVerifier(cfg.AuthURL, cfg.TokenCacheSize, cfg.TokenCacheTTL)
	server := NewServer(repo, rabbit, verifier)

	c := cors.New(cors.Options{
		AllowedOrigins: strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})

	httpSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: c.Handler(server.Routes()),
	}

	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		log.Warn().Msg("shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), ShutdownGrace)
		defer cancel()
		_ = httpSrv.Shutdown(ctx)
	}()

	log.Info().Msg("HTTP listening")
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("fatal")
	}
}

func must(err error) {
	if err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}
