package cmd

import (
	"fmt"
	"strings"

	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing/config"
	"go.uber.org/zap"
)

// setupLogger builds a production logger writing to stderr, so stdout stays
// free for chat output. level is the configured level; the flags override it.
func setupLogger(level string) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = resolveLevel(level)
	zapConfig.Development = GetDebug()
	zapConfig.OutputPaths = []string{"stderr"}
	zapConfig.ErrorOutputPaths = []string{"stderr"}

	return zapConfig.Build()
}

func resolveLevel(level string) zap.AtomicLevel {
	if logLevel != "" {
		level = logLevel
	}
	if GetDebug() {
		level = "debug"
	} else if GetVerbose() && (level == "" || level == "info") {
		level = "debug"
	}

	switch strings.ToLower(level) {
	case "debug":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn", "warning":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}

// loadConfig reads the configuration sources and applies flag overrides. It
// runs before the logger exists, so the logger level can come from the files.
func loadConfig() (*config.Config, error) {
	cfg, diags := config.NewConfig().
		WithSources(stringSliceToAnySlice(configPaths)...).
		Build()
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to load configuration: %w", diags)
	}

	if widgetKey != "" {
		cfg.WidgetKey = widgetKey
	}
	if endpointURL != "" {
		cfg.Endpoint.URL = endpointURL
	}
	if pageURL != "" {
		cfg.Endpoint.PageURL = pageURL
	}
	return cfg, nil
}

// Helper to convert []string to []any
func stringSliceToAnySlice(strs []string) []any {
	anys := make([]any, len(strs))
	for i, s := range strs {
		anys[i] = s
	}
	return anys
}
