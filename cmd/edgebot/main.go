// Command edgebot is the entry point for the news-edge trading bot. It loads
// configuration, validates it, wires dependencies, sets up signal handling,
// and starts the application in the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dkrueger/edgebot/internal/app"
	"github.com/dkrueger/edgebot/internal/config"
	"github.com/dkrueger/edgebot/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	encryptKeyPath := flag.String("encrypt-key", "",
		"seal EDGEBOT_WALLET_PRIVATE_KEY under EDGEBOT_WALLET_KEY_PASSWORD, write the key file here, and exit")
	flag.Parse()

	if *encryptKeyPath != "" {
		if err := writeEncryptedKeyFile(*encryptKeyPath); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt-key: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("encrypted key written to %s\n", *encryptKeyPath)
		return
	}

	// Bootstrap logger until the config-driven one takes over.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger = newLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("edge bot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("edge bot stopped")
}

// writeEncryptedKeyFile seals the private key from the environment into a
// password-protected key file usable as wallet.encrypted_key_path. Key and
// password come from the environment so neither lands in shell history.
func writeEncryptedKeyFile(path string) error {
	key := os.Getenv("EDGEBOT_WALLET_PRIVATE_KEY")
	if key == "" {
		return errors.New("EDGEBOT_WALLET_PRIVATE_KEY is not set")
	}
	password := os.Getenv("EDGEBOT_WALLET_KEY_PASSWORD")
	if password == "" {
		return errors.New("EDGEBOT_WALLET_KEY_PASSWORD is not set")
	}
	blob, err := crypto.EncryptKey(key, password)
	if err != nil {
		return err
	}
	return os.WriteFile(path, blob, 0o600)
}

// newLogger builds the JSON logger from config: stdout always, plus a
// size-rotated file when log.file is set.
func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var sink io.Writer = os.Stdout
	if cfg.File != "" {
		sink = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		})
	}

	return slog.New(slog.NewJSONHandler(sink, &slog.HandlerOptions{Level: level}))
}
