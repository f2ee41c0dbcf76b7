package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing"
	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing/activation"
	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing/connection"
	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing/monitor"
	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing/o11y"
	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing/otel"
	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing/transform"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// chatCmd represents the chat command
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat through a resilient connection",
	Long: `Open a connection for the widget key and chat interactively.

Each line read from standard input is sent as a message. Lines starting
with a slash are commands:

  /reconnect   reset the retry counter and connect now
  /hide        deactivate the widget (closes the connection)
  /show        activate the widget again
  /key <key>   switch to another widget key
  /status      print the connection state
  /quit        close the connection and exit

Examples:
  glazing chat
  glazing chat --widget-key my-key --page-url https://shop.example.com
  glazing chat --format '.timestamp + " " + .text'`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

var (
	chatFormat   string
	chatEchoUser bool
	chatOtel     bool
)

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringVar(&chatFormat, "format", "", "jq expression used to print messages")
	chatCmd.Flags().BoolVar(&chatEchoUser, "echo-user", false, "also print your own messages")
	chatCmd.Flags().BoolVar(&chatOtel, "otel", false, "record metrics and traces with the global OpenTelemetry providers")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := setupLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	url, err := cfg.EndpointURL()
	if err != nil {
		return fmt.Errorf("failed to resolve endpoint: %w", err)
	}
	resolver, err := cfg.Resolver()
	if err != nil {
		return fmt.Errorf("failed to resolve endpoint: %w", err)
	}

	formatter, err := transform.NewMessageFormatter(chatFormat, logger)
	if err != nil {
		return err
	}

	// /status shows the in-memory counters unless OpenTelemetry takes over
	var metrics *o11y.MemoryProvider
	var observability o11y.Config
	if chatOtel {
		provider := otel.NewProvider("glazing", Version)
		observability = o11y.Config{MetricsProvider: provider, TracingProvider: provider}
	} else {
		metrics = o11y.NewMemoryProvider()
		observability = o11y.Config{MetricsProvider: metrics}
	}

	var manager *connection.Manager
	terminal := &terminalMonitor{
		out:       cmd.OutOrStdout(),
		formatter: formatter,
		endpoint:  func() string { return manager.Endpoint() },
		echoUser:  chatEchoUser,
	}

	manager, err = connection.NewManager().
		WithURL(url).
		WithLogger(logger).
		WithDialer(cfg.Dialer(logger)).
		WithBackoff(cfg.BackoffPolicy()).
		WithHeartbeatInterval(cfg.Heartbeat.Interval).
		WithMonitor(monitor.NewNamedLoggingMonitor(nil, logger, zap.DebugLevel, "chat")).
		WithMonitor(terminal).
		WithObservability(observability).
		Build()
	if err != nil {
		return fmt.Errorf("failed to create connection manager: %w", err)
	}
	if err := manager.Start(); err != nil {
		return err
	}

	controller := activation.NewController(manager).WithLogger(logger).WithResolver(resolver)
	defer controller.Close()

	logger.Info("Starting chat",
		zap.String("widget_key", cfg.WidgetKey),
		zap.String("endpoint", url),
		zap.Int("max_attempts", manager.MaxAttempts()),
	)

	if err := controller.Set(true); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session := &chatSession{
		out:        cmd.OutOrStdout(),
		manager:    manager,
		controller: controller,
		metrics:    metrics,
	}
	return session.run(ctx, cmd.InOrStdin())
}

type chatSession struct {
	out        io.Writer
	manager    glazing.Connection
	controller *activation.Controller
	metrics    *o11y.MemoryProvider
}

// run reads lines until EOF, /quit or ctx is done.
func (s *chatSession) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := s.handle(strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func (s *chatSession) handle(line string) (quit bool) {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		if err := s.manager.Send(line); err != nil {
			fmt.Fprintf(s.out, "* not sent: %v\n", err)
		}
		return false
	}

	command, arg, _ := strings.Cut(line, " ")
	var err error
	switch command {
	case "/quit":
		return true
	case "/reconnect":
		err = s.manager.RequestReconnect()
	case "/hide":
		err = s.controller.Set(false)
	case "/show":
		err = s.controller.Set(true)
	case "/key":
		err = s.controller.SetWidgetKey(strings.TrimSpace(arg))
	case "/status":
		s.printStatus()
	default:
		fmt.Fprintf(s.out, "* unknown command %s\n", command)
	}
	if err != nil {
		fmt.Fprintf(s.out, "* %s failed: %v\n", command, err)
	}
	return false
}

func (s *chatSession) printStatus() {
	fmt.Fprintf(s.out, "* state=%s active=%t endpoint=%s attempts=%d exhausted=%t messages=%d\n",
		s.manager.State(), s.controller.Active(), s.manager.Endpoint(),
		s.manager.ReconnectAttempts(), s.manager.RetriesExhausted(), len(s.manager.Transcript()))

	if s.metrics == nil {
		return
	}
	counters := s.metrics.Snapshot().Counters
	names := make([]string, 0, len(counters))
	for name := range counters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(s.out, "*   %s %d\n", name, counters[name])
	}
}
