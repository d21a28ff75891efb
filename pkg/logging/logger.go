// Package logging builds the process-wide zap logger and provides helpers
// for keeping secrets out of log output.
package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// New builds the root logger for the given environment.
// "local" and "dev" use the human-readable development encoder; anything
// else gets production JSON output.
func New(env string) (*zap.Logger, error) {
	var cfg zap.Config
	switch env {
	case "local", "dev":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
