// Command wiserd bridges a Feller Wiser controller to a smart-home hub.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/wiserd/internal/app"
	"github.com/dokzlo13/wiserd/internal/config"
)

func main() {
	var (
		configPath string
		checkOnly  bool
	)
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&configPath, "c", "config.yaml", "Path to configuration file (shorthand)")
	flag.BoolVar(&checkOnly, "check", false, "Validate the configuration and exit")
	flag.Parse()

	if err := run(configPath, checkOnly); err != nil {
		log.Fatal().Err(err).Msg("wiserd exited with error")
	}
}

func run(configPath string, checkOnly bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", configPath, err)
	}
	setupLogging(cfg.Log)

	if checkOnly {
		log.Info().Str("config", configPath).Msg("Configuration is valid")
		return nil
	}

	log.Info().Str("config", configPath).Str("controller", cfg.Wiser.Address).Msg("Starting wiserd")

	application, err := app.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := app.SignalContext(context.Background())
	defer stop()

	return application.Run(ctx)
}

func setupLogging(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.UseJSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05.000",
			NoColor:    !cfg.Colors,
		})
	}

	lvl, err := zerolog.ParseLevel(cfg.GetLevel())
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
