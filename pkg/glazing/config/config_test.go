package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing/backoff"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestDefaults(t *testing.T) {
	cfg, diags := NewConfig().WithoutEnvOverrides().Build()
	require.False(t, diags.HasErrors(), diags.Error())

	assert.Equal(t, "demo-widget-key", cfg.WidgetKey)
	assert.Equal(t, 8000, cfg.Endpoint.LoopbackPort)
	assert.Equal(t, backoff.Default(), cfg.BackoffPolicy())
	assert.Equal(t, 20*time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, 5*time.Second, cfg.Probe.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Probe.Settle)
	assert.Equal(t, zapcore.InfoLevel, cfg.Level())

	url, err := cfg.EndpointURL()
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8000/ws/demo-widget-key", url)
}

func TestBuildFromHCL(t *testing.T) {
	t.Setenv("SHOP_KEY", "from-env")

	src := []byte(`
widget_key = env.SHOP_KEY
log_level  = "debug"

endpoint {
  page_url      = "https://shop.example.com/products"
  loopback_port = 9000
  dial_timeout  = "PT10S"
  headers       = { "User-Agent" = "glazing-${lower("CLI")}" }
}

reconnect {
  base_delay    = 0.5
  growth_factor = 2
  max_attempts  = 4
}

heartbeat {
  interval = 0
}

probe {
  timeout  = "3s"
  settle   = "250ms"
  schedule = "@every 5m"
}
`)

	cfg, diags := NewConfig().WithLogger(zaptest.NewLogger(t)).WithoutEnvOverrides().WithSources(src).Build()
	require.False(t, diags.HasErrors(), diags.Error())

	assert.Equal(t, "from-env", cfg.WidgetKey)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level())
	assert.Equal(t, 9000, cfg.Endpoint.LoopbackPort)
	assert.Equal(t, 10*time.Second, cfg.Endpoint.DialTimeout)
	assert.Equal(t, map[string]string{"User-Agent": "glazing-cli"}, cfg.Endpoint.Headers)
	assert.Equal(t, time.Duration(0), cfg.Heartbeat.Interval)
	assert.Equal(t, 3*time.Second, cfg.Probe.Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Probe.Settle)
	assert.Equal(t, "@every 5m", cfg.Probe.Schedule)

	policy := cfg.BackoffPolicy()
	assert.Equal(t, 500*time.Millisecond, policy.BaseDelay())
	assert.Equal(t, 2.0, policy.GrowthFactor())
	assert.Equal(t, 4, policy.MaxAttempts())

	url, err := cfg.EndpointURL()
	require.NoError(t, err)
	assert.Equal(t, "wss://shop.example.com/ws/from-env", url)

	resolver, err := cfg.Resolver()
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:9000/ws/from-env", resolver.Candidates()[0].URL)
	assert.NotNil(t, cfg.Dialer(zap.NewNop()))
}

func TestExplicitURLWins(t *testing.T) {
	cfg, diags := NewConfig().WithoutEnvOverrides().WithSources([]byte(`
endpoint {
  url      = "ws://chat.internal:8080/ws/k"
  page_url = "https://shop.example.com"
}
`)).Build()
	require.False(t, diags.HasErrors(), diags.Error())

	url, err := cfg.EndpointURL()
	require.NoError(t, err)
	assert.Equal(t, "ws://chat.internal:8080/ws/k", url)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GLAZING_WIDGET_KEY", "env-key")
	t.Setenv("GLAZING_ENDPOINT_URL", "ws://override/ws/env-key")
	t.Setenv("GLAZING_LOG_LEVEL", "warn")
	t.Setenv("GLAZING_MAX_ATTEMPTS", "7")
	t.Setenv("GLAZING_HEARTBEAT_INTERVAL", "45s")

	cfg, diags := NewConfig().WithSources([]byte(`widget_key = "file-key"`)).Build()
	require.False(t, diags.HasErrors(), diags.Error())

	assert.Equal(t, "env-key", cfg.WidgetKey)
	assert.Equal(t, "ws://override/ws/env-key", cfg.Endpoint.URL)
	assert.Equal(t, zapcore.WarnLevel, cfg.Level())
	assert.Equal(t, 7, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 45*time.Second, cfg.Heartbeat.Interval)

	t.Run("malformed value is reported", func(t *testing.T) {
		t.Setenv("GLAZING_LOOPBACK_PORT", "not-a-port")
		_, diags := NewConfig().Build()
		require.True(t, diags.HasErrors())
		assert.Contains(t, diags.Error(), "Invalid environment override")
	})
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		summary string
	}{
		{"port out of range", `endpoint { loopback_port = 70000 }`, "Invalid loopback port"},
		{"bad page url", `endpoint { page_url = "not a url" }`, "Invalid page URL"},
		{"shrinking backoff", `reconnect { growth_factor = 0.5 }`, "Invalid growth factor"},
		{"no attempts", `reconnect { max_attempts = 0 }`, "Invalid max attempts"},
		{"unknown level", `log_level = "loud"`, "Invalid log level"},
		{"bad schedule", `probe { schedule = "every so often" }`, "Invalid probe schedule"},
		{"zero dial timeout", `endpoint { dial_timeout = 0 }`, "Invalid duration"},
		{"negative delay", `reconnect { base_delay = -1 }`, "Invalid duration"},
		{"garbage duration", `probe { timeout = "soon" }`, "Invalid duration format"},
		{"unknown attribute", `colour = "blue"`, "Unsupported argument"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, diags := NewConfig().WithoutEnvOverrides().WithSources([]byte(tt.src)).Build()
			require.True(t, diags.HasErrors())
			assert.Contains(t, diags.Error(), tt.summary)
		})
	}
}

func TestParseConfigFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.hcl"), []byte(`widget_key = "dir-key"`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.hcl"), []byte(`reconnect { max_attempts = 2 }`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte(`not hcl {`), 0o600))

	t.Run("directory", func(t *testing.T) {
		bodies, diags := ParseConfigFiles(dir)
		require.False(t, diags.HasErrors(), diags.Error())
		assert.Len(t, bodies, 2)

		cfg, diags := NewConfig().WithoutEnvOverrides().WithSources(dir).Build()
		require.False(t, diags.HasErrors(), diags.Error())
		assert.Equal(t, "dir-key", cfg.WidgetKey)
		assert.Equal(t, 2, cfg.Reconnect.MaxAttempts)
	})

	t.Run("single file", func(t *testing.T) {
		bodies, diags := ParseConfigFiles(filepath.Join(dir, "a.hcl"))
		require.False(t, diags.HasErrors(), diags.Error())
		assert.Len(t, bodies, 1)
	})

	t.Run("missing file", func(t *testing.T) {
		_, diags := ParseConfigFiles(filepath.Join(dir, "missing.hcl"))
		assert.True(t, diags.HasErrors())
	})

	t.Run("syntax error", func(t *testing.T) {
		_, diags := ParseConfigFiles([]byte(`widget_key = `))
		assert.True(t, diags.HasErrors())
	})

	t.Run("unsupported source", func(t *testing.T) {
		_, diags := ParseConfigFiles(42)
		require.True(t, diags.HasErrors())
		assert.Contains(t, diags.Error(), "Invalid source type")
	})
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		expr     string
		expected time.Duration
		wantErr  bool
	}{
		{`20`, 20 * time.Second, false},
		{`1.5`, 1500 * time.Millisecond, false},
		{`"750ms"`, 750 * time.Millisecond, false},
		{`" 2m "`, 2 * time.Minute, false},
		{`"PT1M30S"`, 90 * time.Second, false},
		{`"P1D"`, 24 * time.Hour, false},
		{`-5`, 0, true},
		{`"-1s"`, 0, true},
		{`"P?"`, 0, true},
		{`"later"`, 0, true},
		{`true`, 0, true},
		{`null`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			expr, diags := hclsyntax.ParseExpression([]byte(tt.expr), "test.hcl", hcl.InitialPos)
			require.False(t, diags.HasErrors())

			d, diags := ParseDuration(expr, nil)
			if tt.wantErr {
				assert.True(t, diags.HasErrors())
				return
			}
			require.False(t, diags.HasErrors(), diags.Error())
			assert.Equal(t, tt.expected, d)
		})
	}
}

func TestEnvObject(t *testing.T) {
	t.Setenv("GLAZING_TEST_VALUE", "present")

	obj := GetEnvObject()
	require.True(t, obj.Type().IsObjectType())
	assert.Equal(t, cty.StringVal("present"), obj.GetAttr("GLAZING_TEST_VALUE"))

	tests := map[string]string{
		"":          "_",
		"PATH":      "PATH",
		"1ST":       "_ST",
		"MY.VAR":    "MY_VAR",
		"with-dash": "with-dash",
		"a b":       "a_b",
	}
	for in, expected := range tests {
		assert.Equal(t, expected, sanitizeEnvVarName(in), in)
	}
}

func TestSchedule(t *testing.T) {
	schedule, err := ParseSchedule("@every 5m")
	require.NoError(t, err)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, start.Add(5*time.Minute), schedule.Next(start))

	_, err = ParseSchedule("nope")
	assert.Error(t, err)
}

func TestZapCronLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	var logger cron.Logger = NewZapCronLogger(zap.New(core))

	logger.Info("schedule", "entry", 1, "dangling")
	logger.Error(assert.AnError, "job failed", "entry", 2)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, map[string]any{"entry": int64(1)}, entries[0].ContextMap())
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, assert.AnError.Error(), entries[1].ContextMap()["error"])
}
