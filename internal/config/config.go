package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"meridian/internal/engine"

	"github.com/rs/zerolog"
)

var (
	ErrNoSymbols     = errors.New("at least one symbol is required")
	ErrInvalidPort   = errors.New("port must be between 0 and 65535")
	ErrInvalidWorker = errors.New("workers must be positive")
	ErrNoKafkaTopic  = errors.New("kafka brokers given without a topic")
)

// Config holds everything the server process reads at startup.
type Config struct {
	Address        string
	Port           int
	Symbols        []string
	Workers        int
	IdleTimeout    time.Duration
	WriteTimeout   time.Duration
	TradeRetention int
	KafkaBrokers   []string
	KafkaTopic     string
	LogLevel       zerolog.Level
	PrettyLogs     bool
}

func Default() Config {
	return Config{
		Address:        "0.0.0.0",
		Port:           9001,
		Symbols:        engine.DefaultSymbols(),
		Workers:        64,
		IdleTimeout:    5 * time.Minute,
		WriteTimeout:   5 * time.Second,
		TradeRetention: engine.DefaultTradeRetention,
		KafkaTopic:     "order-events",
		LogLevel:       zerolog.InfoLevel,
	}
}

// Parse fills a Config from command line arguments on top of Default.
func Parse(name string, args []string) (Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&cfg.Address, "address", cfg.Address, "Address to listen on")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Port to listen on")
	symbols := fs.String("symbols", strings.Join(cfg.Symbols, ","), "Comma-separated tradable symbols")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Maximum concurrently handled requests")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Close sessions idle for this long")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "Deadline for each report write")
	fs.IntVar(&cfg.TradeRetention, "trade-retention", cfg.TradeRetention, "Trades kept per symbol (0 keeps all)")
	brokers := fs.String("kafka-brokers", "", "Comma-separated Kafka brokers; empty disables publishing")
	fs.StringVar(&cfg.KafkaTopic, "kafka-topic", cfg.KafkaTopic, "Kafka topic for order events")
	level := fs.String("log-level", cfg.LogLevel.String(), "Log level: debug, info, warn, error")
	fs.BoolVar(&cfg.PrettyLogs, "pretty", false, "Human readable console logs")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.Symbols = splitList(*symbols)
	cfg.KafkaBrokers = splitList(*brokers)

	lvl, err := zerolog.ParseLevel(*level)
	if err != nil {
		return Config{}, fmt.Errorf("log-level: %w", err)
	}
	cfg.LogLevel = lvl

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if len(c.Symbols) == 0 {
		return ErrNoSymbols
	}
	if c.Port < 0 || c.Port > 65535 {
		return ErrInvalidPort
	}
	if c.Workers < 1 {
		return ErrInvalidWorker
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return ErrNoKafkaTopic
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
