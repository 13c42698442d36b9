package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meridian/internal/config"
	"meridian/internal/engine"
	"meridian/internal/net"
	"meridian/internal/publish"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Parse(os.Args[0], os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	zerolog.SetGlobalLevel(cfg.LogLevel)
	if cfg.PrettyLogs {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	// Exit only once run has released the producer and signal handlers.
	if err := run(cfg); err != nil {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	// Setup the TCP server and the matching engine.
	eng := engine.New(cfg.Symbols, engine.WithTradeRetention(cfg.TradeRetention))
	srv := net.New(cfg.Address, cfg.Port, eng,
		net.WithWorkers(cfg.Workers),
		net.WithIdleTimeout(cfg.IdleTimeout),
		net.WithWriteTimeout(cfg.WriteTimeout),
	)

	reporters := publish.Fanout{srv}
	if len(cfg.KafkaBrokers) > 0 {
		producer := publish.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := producer.Close(); err != nil {
				log.Error().Err(err).Msg("unable to close kafka producer")
			}
		}()
		reporters = append(reporters, producer)
		log.Info().
			Strs("brokers", cfg.KafkaBrokers).
			Str("topic", cfg.KafkaTopic).
			Msg("publishing order events to kafka")
	}
	eng.SetReporter(reporters)

	log.Info().Strs("symbols", eng.Symbols()).Msg("order books ready")

	// Block on running the server.
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("run server: %w", err)
	}
	return nil
}
