// Package main is the entry point for the reviews ETL service.
package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/stacklok/reviews-etl/cmd/etl-service/app"
	"github.com/stacklok/reviews-etl/internal/config"
	"github.com/stacklok/reviews-etl/internal/logging"
)

// getLogLevel reads ETL_LOG_LEVEL and falls back to LOG_LEVEL.
// Defaults to slog.LevelInfo if neither is set or if the value is invalid.
func getLogLevel() slog.Level {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	levelStr := v.GetString("LOG_LEVEL")
	if levelStr == "" {
		levelStr = os.Getenv("LOG_LEVEL")
	}

	level, ok := logging.ParseLevel(levelStr)
	if !ok {
		slog.Warn("Invalid LOG_LEVEL, using INFO", "value", levelStr)
	}
	return level
}

func main() {
	// Logs go to stderr so that stdout stays clean for `version --format json`
	slog.SetDefault(slog.New(logging.NewHandler(logging.WithLevel(getLogLevel()))))

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
