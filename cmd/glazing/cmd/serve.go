package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Avinash-jetwani/glazing-ai-bot/internal/chatserver"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a local echo chat API",
	Long: `Run a local stand-in for the chat API on /ws/{widget-key}. It greets
each connection with a system message, echoes every text message and
answers pings, which is enough to develop against the widget offline.

Examples:
  glazing serve
  glazing serve --addr :9000 --keepalive 10s`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveAddr      string
	serveKeepalive time.Duration
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8000", "listen address")
	serveCmd.Flags().DurationVar(&serveKeepalive, "keepalive", 30*time.Second, "server ping interval, 0 to disable")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger("")
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	srv := &http.Server{
		Addr:              serveAddr,
		Handler:           chatserver.New(logger).WithKeepalive(serveKeepalive),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Chat API listening", zap.String("addr", serveAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
