// Package config loads widget settings from HCL files and GLAZING_*
// environment variables and turns them into the pieces the connection
// manager is built from.
package config

import (
	"fmt"
	"math"
	"time"

	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing/backoff"
	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing/connection"
	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing/diag"
	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing/endpoint"
	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing/websockets"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/zclconf/go-cty/cty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type EndpointConfig struct {
	// URL bypasses endpoint resolution when set.
	URL          string
	PageURL      string
	LoopbackPort int
	DialTimeout  time.Duration
	Headers      map[string]string
}

type ReconnectConfig struct {
	BaseDelay    time.Duration
	GrowthFactor float64
	MaxAttempts  int
}

type HeartbeatConfig struct {
	// Interval of zero disables the heartbeat.
	Interval time.Duration
}

type ProbeConfig struct {
	Timeout  time.Duration
	Settle   time.Duration
	Schedule string
}

type Config struct {
	WidgetKey string
	LogLevel  string
	Endpoint  EndpointConfig
	Reconnect ReconnectConfig
	Heartbeat HeartbeatConfig
	Probe     ProbeConfig
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		WidgetKey: endpoint.DefaultWidgetKey,
		LogLevel:  "info",
		Endpoint: EndpointConfig{
			LoopbackPort: endpoint.DefaultLoopbackPort,
			DialTimeout:  websockets.DefaultDialTimeout,
		},
		Reconnect: ReconnectConfig{
			BaseDelay:    backoff.DefaultBaseDelay,
			GrowthFactor: backoff.DefaultGrowthFactor,
			MaxAttempts:  backoff.DefaultMaxAttempts,
		},
		Heartbeat: HeartbeatConfig{
			Interval: connection.DefaultHeartbeatInterval,
		},
		Probe: ProbeConfig{
			Timeout: diag.DefaultTimeout,
			Settle:  diag.DefaultSettle,
		},
	}
}

type ConfigBuilder struct {
	logger    *zap.Logger
	sources   []any
	ignoreEnv bool
}

func NewConfig() *ConfigBuilder {
	return &ConfigBuilder{
		logger:  zap.NewNop(),
		sources: make([]any, 0),
	}
}

func (cb *ConfigBuilder) WithLogger(logger *zap.Logger) *ConfigBuilder {
	if logger != nil {
		cb.logger = logger
	}
	return cb
}

// WithSources adds configuration sources: file or directory paths, or raw
// HCL as []byte.
func (cb *ConfigBuilder) WithSources(sources ...any) *ConfigBuilder {
	cb.sources = append(cb.sources, sources...)
	return cb
}

// WithoutEnvOverrides stops GLAZING_* variables from overriding file values.
func (cb *ConfigBuilder) WithoutEnvOverrides() *ConfigBuilder {
	cb.ignoreEnv = true
	return cb
}

// Build parses all sources on top of the defaults, then applies environment
// overrides and validates the result.
func (cb *ConfigBuilder) Build() (*Config, hcl.Diagnostics) {
	config := Default()

	bodies, diags := ParseConfigFiles(cb.sources...)
	if diags.HasErrors() {
		return nil, diags
	}

	if len(bodies) > 0 {
		evalCtx := &hcl.EvalContext{
			Variables: map[string]cty.Value{"env": GetEnvObject()},
			Functions: GetFunctions(),
		}
		diags = diags.Extend(decodeBody(hcl.MergeBodies(bodies), evalCtx, config))
		if diags.HasErrors() {
			return nil, diags
		}
	}

	if !cb.ignoreEnv {
		if err := applyEnvOverrides(config); err != nil {
			return nil, diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid environment override",
				Detail:   err.Error(),
			})
		}
	}

	diags = diags.Extend(config.validate())
	if diags.HasErrors() {
		return nil, diags
	}

	cb.logger.Debug("Configuration loaded",
		zap.String("widget_key", config.WidgetKey),
		zap.String("endpoint_url", config.Endpoint.URL),
		zap.Int("max_attempts", config.Reconnect.MaxAttempts),
	)

	return config, diags
}

type fileConfig struct {
	WidgetKey *string         `hcl:"widget_key,optional"`
	LogLevel  *string         `hcl:"log_level,optional"`
	Endpoint  *endpointBlock  `hcl:"endpoint,block"`
	Reconnect *reconnectBlock `hcl:"reconnect,block"`
	Heartbeat *heartbeatBlock `hcl:"heartbeat,block"`
	Probe     *probeBlock     `hcl:"probe,block"`
}

type endpointBlock struct {
	URL          *string           `hcl:"url,optional"`
	PageURL      *string           `hcl:"page_url,optional"`
	LoopbackPort *int              `hcl:"loopback_port,optional"`
	DialTimeout  hcl.Expression    `hcl:"dial_timeout,optional"`
	Headers      map[string]string `hcl:"headers,optional"`
}

type reconnectBlock struct {
	BaseDelay    hcl.Expression `hcl:"base_delay,optional"`
	GrowthFactor *float64       `hcl:"growth_factor,optional"`
	MaxAttempts  *int           `hcl:"max_attempts,optional"`
}

type heartbeatBlock struct {
	Interval hcl.Expression `hcl:"interval,optional"`
}

type probeBlock struct {
	Timeout  hcl.Expression `hcl:"timeout,optional"`
	Settle   hcl.Expression `hcl:"settle,optional"`
	Schedule *string        `hcl:"schedule,optional"`
}

func decodeBody(body hcl.Body, evalCtx *hcl.EvalContext, config *Config) hcl.Diagnostics {
	var fc fileConfig
	diags := gohcl.DecodeBody(body, evalCtx, &fc)
	if diags.HasErrors() {
		return diags
	}

	setString(&config.WidgetKey, fc.WidgetKey)
	setString(&config.LogLevel, fc.LogLevel)

	if b := fc.Endpoint; b != nil {
		setString(&config.Endpoint.URL, b.URL)
		setString(&config.Endpoint.PageURL, b.PageURL)
		if b.LoopbackPort != nil {
			config.Endpoint.LoopbackPort = *b.LoopbackPort
		}
		if b.Headers != nil {
			config.Endpoint.Headers = b.Headers
		}
		diags = diags.Extend(setDuration(&config.Endpoint.DialTimeout, b.DialTimeout, evalCtx, false))
	}

	if b := fc.Reconnect; b != nil {
		diags = diags.Extend(setDuration(&config.Reconnect.BaseDelay, b.BaseDelay, evalCtx, false))
		if b.GrowthFactor != nil {
			config.Reconnect.GrowthFactor = *b.GrowthFactor
		}
		if b.MaxAttempts != nil {
			config.Reconnect.MaxAttempts = *b.MaxAttempts
		}
	}

	if b := fc.Heartbeat; b != nil {
		diags = diags.Extend(setDuration(&config.Heartbeat.Interval, b.Interval, evalCtx, true))
	}

	if b := fc.Probe; b != nil {
		diags = diags.Extend(setDuration(&config.Probe.Timeout, b.Timeout, evalCtx, false))
		diags = diags.Extend(setDuration(&config.Probe.Settle, b.Settle, evalCtx, true))
		setString(&config.Probe.Schedule, b.Schedule)
	}

	return diags
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

// setDuration leaves dst alone when the attribute is absent.
func setDuration(dst *time.Duration, expr hcl.Expression, evalCtx *hcl.EvalContext, allowZero bool) hcl.Diagnostics {
	if expr == nil {
		return nil
	}
	val, diags := expr.Value(evalCtx)
	if diags.HasErrors() || val.IsNull() {
		return diags
	}

	d, durDiags := ParseDuration(expr, evalCtx)
	diags = diags.Extend(durDiags)
	if durDiags.HasErrors() {
		return diags
	}
	if d == 0 && !allowZero {
		return diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid duration",
			Detail:   "Duration must be greater than zero",
			Subject:  expr.Range().Ptr(),
		})
	}
	*dst = d
	return diags
}

func (c *Config) validate() hcl.Diagnostics {
	var diags hcl.Diagnostics
	invalid := func(summary, detail string) {
		diags = diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  summary,
			Detail:   detail,
		})
	}

	if c.Endpoint.LoopbackPort < 1 || c.Endpoint.LoopbackPort > 65535 {
		invalid("Invalid loopback port", fmt.Sprintf("loopback_port must be between 1 and 65535, got %d", c.Endpoint.LoopbackPort))
	}
	if c.Endpoint.PageURL != "" {
		if _, err := endpoint.EnvironmentFromURL(c.Endpoint.PageURL); err != nil {
			invalid("Invalid page URL", err.Error())
		}
	}
	if c.Reconnect.GrowthFactor < 1 || math.IsInf(c.Reconnect.GrowthFactor, 0) || math.IsNaN(c.Reconnect.GrowthFactor) {
		invalid("Invalid growth factor", fmt.Sprintf("growth_factor must be a finite number of at least 1, got %v", c.Reconnect.GrowthFactor))
	}
	if c.Reconnect.MaxAttempts < 1 {
		invalid("Invalid max attempts", fmt.Sprintf("max_attempts must be at least 1, got %d", c.Reconnect.MaxAttempts))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		invalid("Invalid log level", err.Error())
	}
	if c.Probe.Schedule != "" {
		if _, err := ParseSchedule(c.Probe.Schedule); err != nil {
			invalid("Invalid probe schedule", err.Error())
		}
	}

	return diags
}

// Resolver returns the endpoint resolver for the configured widget key and
// page environment.
func (c *Config) Resolver() (*endpoint.Resolver, error) {
	var env endpoint.Environment
	if c.Endpoint.PageURL != "" {
		var err error
		if env, err = endpoint.EnvironmentFromURL(c.Endpoint.PageURL); err != nil {
			return nil, err
		}
	}
	return endpoint.NewResolver(c.WidgetKey, env).WithLoopbackPort(c.Endpoint.LoopbackPort), nil
}

// EndpointURL returns the explicit URL if one is set, otherwise the resolved one.
func (c *Config) EndpointURL() (string, error) {
	if c.Endpoint.URL != "" {
		return c.Endpoint.URL, nil
	}
	r, err := c.Resolver()
	if err != nil {
		return "", err
	}
	return r.Resolve(), nil
}

func (c *Config) BackoffPolicy() backoff.Policy {
	return backoff.NewPolicy().
		WithBaseDelay(c.Reconnect.BaseDelay).
		WithGrowthFactor(c.Reconnect.GrowthFactor).
		WithMaxAttempts(c.Reconnect.MaxAttempts).
		Build()
}

func (c *Config) Dialer(logger *zap.Logger) *websockets.CoderDialer {
	b := websockets.NewDialer().WithLogger(logger).WithDialTimeout(c.Endpoint.DialTimeout)
	for key, value := range c.Endpoint.Headers {
		b.WithHeader(key, value)
	}
	return b.Build()
}

func (c *Config) Level() zapcore.Level {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}
