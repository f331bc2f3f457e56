package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Wyydra/yacall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/yacall/internal/adapter/driven/media/pion"
	"github.com/Wyydra/yacall/internal/adapter/driven/persistence/memory"
	"github.com/Wyydra/yacall/internal/adapter/driven/persistence/postgres"
	handler "github.com/Wyydra/yacall/internal/adapter/driving/http"
	"github.com/Wyydra/yacall/internal/config"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/Wyydra/yacall/internal/core/service"
	"github.com/Wyydra/yacall/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "yacall.ini", "path to the ini config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if err := cfg.ValidateServer(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}
	logFile, err := logging.Setup(cfg.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up logging")
	}
	defer logFile.Close()

	ctx := context.Background()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	repo, closeRepo := openProfiles(ctx, cfg)
	defer closeRepo()
	profiles := service.NewProfileService(repo)
	seedProfiles(ctx, profiles, cfg.Server.SeedProfiles)

	hub := ws.NewHub()
	relay := service.NewRelayService(hub, service.NewRelayMetrics(reg))

	sfu, err := pion.NewSFU(pion.SFUConfig{ICEServers: cfg.Media.ICEServers, GatherTimeout: cfg.Media.GatherTimeout})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create media relay")
	}

	h := handler.NewHandler(relay, profiles, hub, sfu, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	go hub.Run()

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: h.NewRouter(),
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	hub.Stop()
	sfu.Close()
	log.Info().Msg("Server exited")
}

func openProfiles(ctx context.Context, cfg config.Config) (port.ProfileRepository, func()) {
	if cfg.Database.DSN == "" {
		log.Info().Msg("Using in-memory profile store")
		return memory.NewProfileRepository(), func() {}
	}

	pool, err := postgres.Open(ctx, cfg.Database.DSN, postgres.PoolConfig{MaxConns: int32(cfg.Database.MaxConns)})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		log.Fatal().Err(err).Msg("Failed to prepare schema")
	}
	log.Info().Msg("Using postgres profile store")
	return postgres.NewProfileRepository(pool), pool.Close
}

// seedProfiles loads "id=name,id=name" into the profile store.
func seedProfiles(ctx context.Context, profiles *service.ProfileService, seed string) {
	for _, entry := range strings.Split(seed, ",") {
		id, name, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		if err := profiles.Register(ctx, domain.UserID(strings.TrimSpace(id)), strings.TrimSpace(name), ""); err != nil {
			log.Warn().Err(err).Str("entry", entry).Msg("Skipping seed profile")
		}
	}
}
