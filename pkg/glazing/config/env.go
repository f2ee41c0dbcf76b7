package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/zclconf/go-cty/cty"
)

// envOverrides are GLAZING_* variables that take precedence over file
// values. Zero values mean "not set".
type envOverrides struct {
	WidgetKey         string        `env:"GLAZING_WIDGET_KEY"`
	EndpointURL       string        `env:"GLAZING_ENDPOINT_URL"`
	PageURL           string        `env:"GLAZING_PAGE_URL"`
	LogLevel          string        `env:"GLAZING_LOG_LEVEL"`
	LoopbackPort      int           `env:"GLAZING_LOOPBACK_PORT"`
	MaxAttempts       int           `env:"GLAZING_MAX_ATTEMPTS"`
	HeartbeatInterval time.Duration `env:"GLAZING_HEARTBEAT_INTERVAL"`
}

func applyEnvOverrides(config *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if o.WidgetKey != "" {
		config.WidgetKey = o.WidgetKey
	}
	if o.EndpointURL != "" {
		config.Endpoint.URL = o.EndpointURL
	}
	if o.PageURL != "" {
		config.Endpoint.PageURL = o.PageURL
	}
	if o.LogLevel != "" {
		config.LogLevel = o.LogLevel
	}
	if o.LoopbackPort != 0 {
		config.Endpoint.LoopbackPort = o.LoopbackPort
	}
	if o.MaxAttempts != 0 {
		config.Reconnect.MaxAttempts = o.MaxAttempts
	}
	if o.HeartbeatInterval != 0 {
		config.Heartbeat.Interval = o.HeartbeatInterval
	}
	return nil
}

// GetEnvObject returns a cty object containing all environment variables
// as attributes, suitable for providing to an HCL evaluation context.
func GetEnvObject() cty.Value {
	envMap := make(map[string]cty.Value)

	for _, envVar := range os.Environ() {
		key, value, ok := strings.Cut(envVar, "=")
		if !ok {
			continue
		}
		envMap[sanitizeEnvVarName(key)] = cty.StringVal(value)
	}

	return cty.ObjectVal(envMap)
}

// sanitizeEnvVarName converts an environment variable name to a valid HCL
// attribute name.
func sanitizeEnvVarName(name string) string {
	if name == "" {
		return "_"
	}

	var result strings.Builder
	for i, char := range name {
		switch {
		case i == 0 && !isValidFirstChar(char):
			result.WriteRune('_')
		case i > 0 && !isValidChar(char):
			result.WriteRune('_')
		default:
			result.WriteRune(char)
		}
	}

	return result.String()
}

func isValidFirstChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
}

func isValidChar(r rune) bool {
	return isValidFirstChar(r) || (r >= '0' && r <= '9') || r == '-'
}
