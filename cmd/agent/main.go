package main

import (
	"context"
	"flag"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	directory "github.com/Wyydra/yacall/internal/adapter/driven/directory/http"
	"github.com/Wyydra/yacall/internal/adapter/driven/media/pion"
	"github.com/Wyydra/yacall/internal/adapter/driven/signaling/memory"
	sigredis "github.com/Wyydra/yacall/internal/adapter/driven/signaling/redis"
	sigws "github.com/Wyydra/yacall/internal/adapter/driven/signaling/ws"
	"github.com/Wyydra/yacall/internal/adapter/driving/presentation"
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
	if err := cfg.ValidateAgent(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}
	logFile, err := logging.Setup(cfg.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up logging")
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	userID := domain.UserID(cfg.Agent.UserID)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	channel, err := openSignaling(ctx, cfg, userID)
	if err != nil {
		log.Fatal().Err(err).Str("transport", cfg.Signaling.Transport).Msg("Failed to open signaling channel")
	}
	defer channel.Close()

	engine, err := pion.NewEngine(pion.EngineConfig{
		BaseURL:       cfg.Media.BaseURL,
		ICEServers:    cfg.Media.ICEServers,
		GatherTimeout: cfg.Media.GatherTimeout,
		HTTPTimeout:   cfg.Agent.Join,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create media engine")
	}

	calls, err := service.NewCallService(service.CallConfig{
		LocalUserID:      userID,
		LocalName:        cfg.Agent.Name,
		TeardownDelay:    cfg.Agent.Teardown,
		JoinTimeout:      cfg.Agent.Join,
		LeaveTimeout:     cfg.Agent.Leave,
		SendTimeout:      cfg.Agent.Send,
		DirectoryTimeout: cfg.Agent.Directory,
	}, channel, directory.NewDirectory(cfg.Directory.URL, cfg.Directory.Timeout), engine, service.NewMetrics(reg))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create call service")
	}
	go calls.Run()

	kind, _ := domain.ParseCallKind(cfg.Agent.CallKind)
	h := presentation.NewHandler(calls, kind, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &nethttp.Server{
		Addr:    cfg.Agent.Addr,
		Handler: h.NewRouter(),
	}

	go func() {
		log.Info().Str("addr", cfg.Agent.Addr).Str("user_id", userID.String()).Msg("Starting agent")
		if err := srv.ListenAndServe(); err != nil && err != nethttp.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start agent")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down agent...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Agent forced to shutdown")
	}

	calls.Stop()
	select {
	case <-calls.Done():
	case <-shutdownCtx.Done():
		log.Warn().Msg("Call service did not stop in time")
	}
	log.Info().Msg("Agent exited")
}

func openSignaling(ctx context.Context, cfg config.Config, userID domain.UserID) (port.SignalingChannel, error) {
	switch cfg.Signaling.Transport {
	case "redis":
		rdb, err := sigredis.Open(ctx, sigredis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, err
		}
		ch, err := sigredis.Subscribe(ctx, rdb, userID, cfg.Redis.Prefix)
		if err != nil {
			rdb.Close()
			return nil, err
		}
		return ch, nil
	case "memory":
		// Only this agent is on the bus, so signals go nowhere. Useful to
		// exercise the API without a relay.
		return memory.NewBus().Connect(userID), nil
	default:
		ch, err := sigws.Dial(ctx, sigws.Config{URL: cfg.Signaling.URL, UserID: userID})
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
}
