package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing/config"
	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing/diag"
	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing/endpoint"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// probeCmd represents the probe command
var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test which endpoint forms accept a connection",
	Long: `Try the loopback, hostname and same-origin endpoint URLs for the widget
key one after another. Each candidate that opens is sent a ping, kept open
briefly and closed normally. The results are printed as a table.

With --schedule the probe repeats on a cron schedule until interrupted.

Examples:
  glazing probe
  glazing probe --page-url https://shop.example.com --timeout 2s
  glazing probe --schedule "@every 5m" --json`,
	Args: cobra.NoArgs,
	RunE: runProbe,
}

var (
	probeTimeout  time.Duration
	probeSettle   time.Duration
	probeSchedule string
	probeJSON     bool
)

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 0, "connection timeout per candidate (default from config, 5s)")
	probeCmd.Flags().DurationVar(&probeSettle, "settle", 0, "how long an opened probe stays open (default from config, 2s)")
	probeCmd.Flags().StringVar(&probeSchedule, "schedule", "", `cron schedule for repeated probes, e.g. "@every 5m"`)
	probeCmd.Flags().BoolVar(&probeJSON, "json", false, "print reports as JSON")
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if probeTimeout > 0 {
		cfg.Probe.Timeout = probeTimeout
	}
	if probeSettle > 0 {
		cfg.Probe.Settle = probeSettle
	}
	if probeSchedule != "" {
		cfg.Probe.Schedule = probeSchedule
	}

	logger, err := setupLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	resolver, err := cfg.Resolver()
	if err != nil {
		return fmt.Errorf("failed to resolve endpoint: %w", err)
	}
	candidates := resolver.Candidates()
	if cfg.Endpoint.URL != "" {
		candidates = append([]endpoint.Candidate{{Form: "explicit", URL: cfg.Endpoint.URL}}, candidates...)
	}

	prober := diag.NewProber().
		WithLogger(logger).
		WithDialer(cfg.Dialer(logger)).
		WithTimeout(cfg.Probe.Timeout).
		WithSettle(cfg.Probe.Settle).
		Build()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	if cfg.Probe.Schedule == "" {
		return probeOnce(ctx, prober, candidates, out)
	}

	schedule, err := config.ParseSchedule(cfg.Probe.Schedule)
	if err != nil {
		return err
	}

	c := cron.New(cron.WithLogger(config.NewZapCronLogger(logger)))
	c.Schedule(schedule, cron.FuncJob(func() {
		if err := probeOnce(ctx, prober, candidates, out); err != nil {
			logger.Warn("Scheduled probe failed", zap.Error(err))
		}
	}))

	logger.Info("Starting scheduled probes", zap.String("schedule", cfg.Probe.Schedule))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	return nil
}

func probeOnce(ctx context.Context, prober *diag.Prober, candidates []endpoint.Candidate, out io.Writer) error {
	report, err := prober.Probe(ctx, candidates)
	if probeJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(report); encErr != nil {
			return encErr
		}
	} else if tableErr := report.WriteTable(out); tableErr != nil {
		return tableErr
	}
	return err
}
