package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"matchplay-gameserver/allocation"
	"matchplay-gameserver/config"
	"matchplay-gameserver/events"
	epubsub "matchplay-gameserver/events/pubsub"
	"matchplay-gameserver/health"
	"matchplay-gameserver/hostlobby"
	"matchplay-gameserver/matchplay"
	"matchplay-gameserver/metrics"
	"matchplay-gameserver/server"
	"matchplay-gameserver/services"
	"matchplay-gameserver/services/rest"
	"matchplay-gameserver/session"
	"matchplay-gameserver/transport"
	"matchplay-gameserver/transport/ws"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var version = "source"

func setLogger() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if os.Getenv("DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	setLogger()
	log.Info().Msgf("Starting matchplay-gameserver version: %s", version)
	cfg := config.Load()
	log.Info().Interface("config", cfg.Redacted()).Msg("config loaded")

	// Context and shutdown handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var ready func() bool
	switch cfg.Mode {
	case config.ModeHost:
		ready = runHost(ctx, cfg)
	default:
		ready = runServer(ctx, cfg)
	}

	// Metrics and health HTTP server
	mux := http.NewServeMux()
	metrics.Register(mux)
	health.Register(mux, ready)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr()).Msg("starting metrics/health server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Block until shutdown
	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server graceful shutdown failed")
	}
	log.Info().Msg("shutdown complete")
}

// runServer drives the dedicated-server lifecycle and returns its
// readiness probe.
func runServer(ctx context.Context, cfg *config.Config) func() bool {
	if cfg.MultiplayURL == "" || cfg.MatchmakerURL == "" {
		log.Fatal().Msg("server mode requires MULTIPLAY_URL and MATCHMAKER_URL")
	}

	matchmaker := rest.NewMatchmakerClient(cfg.MatchmakerURL, cfg.ServiceToken)
	multiplay := rest.NewMultiplayClient(cfg.MultiplayURL, cfg.ServiceToken)

	var sub events.Subscriber
	if cfg.EventSubscription != "" {
		if cfg.GoogleProjectID == "" {
			log.Fatal().Msg("ALLOCATION_EVENT_SUBSCRIPTION is set but no Google project id resolved")
		}
		sub = epubsub.NewSubscriber(cfg.GoogleProjectID, cfg.EventSubscription, cfg.CredentialsFile)
	}

	registry := session.NewRegistry()
	monitor := allocation.NewMonitor(multiplay, sub)
	listener := ws.NewListener(
		func(connectionID uint64, payload []byte) transport.Decision {
			d := registry.Approve(connectionID, payload)
			return transport.Decision{Accept: d.Accept, CreatePlayerEntity: d.CreatePlayerEntity}
		},
		registry.OnDisconnect,
	)

	factory := func(connection, queueName string, props services.MatchProperties, maxPlayers int) *matchplay.Backfiller {
		return matchplay.NewBackfiller(matchmaker, connection, queueName, props, maxPlayers)
	}

	mgr := server.NewManager(server.Settings{
		IP:         cfg.ServerIP,
		Port:       cfg.ServerPort,
		QueryPort:  cfg.QueryPort,
		ServerName: cfg.ServerName,
		BuildID:    cfg.BuildID,
		Map:        cfg.Map,
		GameMode:   cfg.GameMode,
		MaxPlayers: cfg.MaxPlayers,
	}, registry, monitor, factory, listener)

	go func() {
		if err := mgr.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("server startup failed")
		}
	}()
	go func() {
		select {
		case <-mgr.Done():
			// Drained on its own; bring the whole process down.
			log.Info().Msg("server drained")
			_ = syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
		case <-ctx.Done():
			mgr.Drain(context.Background())
		}
	}()
	return mgr.Ready
}

// runHost starts a peer-hosted lobby session and returns its readiness
// probe.
func runHost(ctx context.Context, cfg *config.Config) func() bool {
	if cfg.LobbyURL == "" || cfg.RelayURL == "" {
		log.Fatal().Msg("host mode requires LOBBY_URL and RELAY_URL")
	}

	relay := rest.NewRelayClient(cfg.RelayURL, cfg.ServiceToken)
	lobbies := rest.NewLobbyClient(cfg.LobbyURL, cfg.ServiceToken)
	coord := hostlobby.NewCoordinator(relay, lobbies)

	sess, err := coord.StartHost(ctx, cfg.ServerName, cfg.MaxPlayers)
	if err != nil {
		log.Fatal().Err(err).Msg("could not start hosted session")
	}
	log.Info().Str("lobbyId", sess.Lobby.ID).Str("joinCode", sess.JoinCode).Msg("hosted session ready")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		coord.Shutdown(shutdownCtx)
	}()
	return func() bool { return true }
}
