// Package logging builds the service's zap logger.
package logging

import (
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a JSON logger for production and a console logger for
// development, at the given level ("debug", "info", "warn", "error").
func New(environment, level string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
			return nil, fmt.Errorf("logging: invalid level %q: %w", level, err)
		}
	}

	var cfg zap.Config
	if strings.EqualFold(environment, "development") {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build logger: %w", err)
	}
	return logger, nil
}

// DSNFields describes a database DSN without its credentials.
func DSNFields(dsn string) []zap.Field {
	u, err := url.Parse(dsn)
	if err != nil {
		return []zap.Field{zap.String("dsn", "unparseable")}
	}
	return []zap.Field{
		zap.String("host", u.Hostname()),
		zap.String("db", strings.TrimPrefix(u.Path, "/")),
	}
}
