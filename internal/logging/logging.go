// Package logging configures the global zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sisques-labs/project-starter-sub009/config"
)

// Setup sets the global level and output format. Console output is used for
// the "console" format and in development when no format is configured.
func Setup(cfg config.LoggingConfig, environment string) error {
	return setup(os.Stderr, cfg, environment)
}

func setup(out io.Writer, cfg config.LoggingConfig, environment string) error {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return err
		}
		level = parsed
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	format := strings.ToLower(cfg.Format)
	if format == "console" || (format == "" && environment == "development") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return nil
}
