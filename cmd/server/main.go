package main

import (
	"io"
	"os"
	"runtime/debug"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/dkeye/talkie/internal/config"
)

func version() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				return setting.Value
			}
		}
		return info.Main.Version
	}
	return "unknown"
}

// setupLogger configures the global zerolog logger from config.
func setupLogger(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = newLogger(cfg.Format, os.Stderr)
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

// newLogger writes one JSON object per line for format "json" and
// console output otherwise.
func newLogger(format string, w io.Writer) zerolog.Logger {
	if format == "json" {
		return zerolog.New(w).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
}

func main() {
	// Human-friendly output until the config says otherwise.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	app := &cli.App{
		Name:                 "talkie",
		Usage:                "real-time relay for audio rooms and chats",
		Version:              version(),
		EnableBashCompletion: true,
		Action:               serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the relay server (default)",
				Action: serve,
			},
			tokenCommand(),
			migrateCommand(),
			roomCommand(),
			userCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("talkie failed")
	}
}
