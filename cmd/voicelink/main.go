package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicelink/internal/adapters/bridge"
	"github.com/dkeye/voicelink/internal/config"
	"github.com/dkeye/voicelink/internal/core"
	"github.com/dkeye/voicelink/internal/media"
	"github.com/dkeye/voicelink/internal/recovery"
	"github.com/dkeye/voicelink/internal/rtc"
	"github.com/dkeye/voicelink/internal/session"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	bus := core.NewBus()
	negotiator := rtc.NewHTTPNegotiator(cfg.NegotiationURL)

	iceServers := make([]webrtc.ICEServer, 0, len(cfg.ICEServers))
	for _, url := range cfg.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
	}
	transport := rtc.NewTransport(negotiator, bus, rtc.Options{
		ICEServers:         iceServers,
		ConnectTimeout:     cfg.ConnectTimeout,
		NegotiationTimeout: cfg.NegotiationTimeout,
		ChannelOpenTimeout: cfg.ChannelOpenTimeout,
		StatsInterval:      cfg.StatsInterval,
		QueueCapacity:      cfg.QueueCapacity,
	})

	router := recovery.NewRouter(bus, cfg.MaxRetryAttempts, recovery.BackoffPolicy{
		Base:       cfg.RetryBaseDelay,
		Cap:        cfg.RetryMaxDelay,
		Multiplier: cfg.RetryMultiplier,
	})

	mgr := media.NewManager(media.NewSilenceCapture(), nil)
	creds := session.NewStaticCredentialProvider(cfg.APIToken, time.Minute)

	orch := session.NewOrchestrator(transport, mgr, router, creds, bus)
	orch.Voice = cfg.Voice
	orch.QualityPoll = cfg.QualityPoll

	go func() {
		if err := orch.Connect(ctx); err != nil {
			log.Error().Err(err).Msg("initial connect failed")
		}
	}()

	ctl := bridge.NewController(bus, orch)
	r := bridge.SetupRouter(ctx, cfg, ctl)
	addr := fmt.Sprintf(":%d", cfg.BridgePort)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("voicelink bridge started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	orch.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
