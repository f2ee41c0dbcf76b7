package cmd

import (
	"github.com/spf13/cobra"
)

// Version is reported to OpenTelemetry as the instrumentation version.
var Version = "dev"

var (
	verbose     bool
	debug       bool
	logLevel    string
	configPaths []string
	widgetKey   string
	endpointURL string
	pageURL     string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "glazing",
	Short: "Glazing chat widget client",
	Long: `Glazing connects to the chat API the way the embeddable widget does:
one resilient WebSocket connection per widget key that reconnects with
exponential backoff and keeps itself alive with heartbeats.

Settings come from HCL configuration files, GLAZING_* environment
variables and command line flags, in increasing order of precedence.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.BoolVarP(&debug, "debug", "d", false, "debug output")
	flags.StringVarP(&logLevel, "log-level", "l", "", "log level (debug, info, warn, error)")
	flags.StringSliceVarP(&configPaths, "config", "c", nil, "configuration files or directories")
	flags.StringVarP(&widgetKey, "widget-key", "k", "", "widget key")
	flags.StringVar(&endpointURL, "url", "", "explicit endpoint URL, bypassing resolution")
	flags.StringVar(&pageURL, "page-url", "", "URL of the page hosting the widget")
}

// GetVerbose returns the verbose flag value
func GetVerbose() bool {
	return verbose
}

// GetDebug returns the debug flag value
func GetDebug() bool {
	return debug
}
