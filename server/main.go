package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	setupLogger(cfg.LogLevel, cfg.LogFormat)

	var events *EventLog
	if cfg.DBPath != "" {
		events, err = OpenEventLog(cfg.DBPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open event log")
		}
		log.Info().Str("path", cfg.DBPath).Msg("event log enabled")
	}

	ids := NewIdentitySource()
	hub := NewHub()
	rooms := NewRoomRegistry(ids, LayoutByName(cfg.CoinLayout, cfg.CoinSeed), events)
	presence := NewPresence(rooms, hub, ids, events, PresenceConfig{
		MaxRoomSize: cfg.MaxRoomSize,
		GracePeriod: cfg.GracePeriod,
	})
	hub.SetHandler(NewRouter(presence, hub))

	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           SetupRoutes(hub, rooms, events, ids, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", addr).
			Strs("origins", cfg.Origins).
			Int("max_room_size", cfg.MaxRoomSize).
			Dur("grace_period", cfg.GracePeriod).
			Str("coin_layout", cfg.CoinLayout).
			Msg("room server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("ListenAndServe")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	presence.Shutdown()
	// let write pumps flush the roomDisconnected notices
	time.Sleep(100 * time.Millisecond)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	stopHub()
	if err := events.Close(); err != nil {
		log.Error().Err(err).Msg("event log close")
	}
	log.Info().Msg("Server exited gracefully")
}

// setupLogger configures the global zerolog logger
func setupLogger(level, format string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	if format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}
