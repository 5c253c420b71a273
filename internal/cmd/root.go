package cmd

import (
	"context"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-portal/config"
	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "portal",
	Short: "IT operations customer dashboard",
	Long: `portal serves the customer dashboard: sign in, services, billing and
support tickets, plus the administrator ticket queue.

Configuration starts from built-in defaults with the JSON file given by
--config layered on top (config/app.json when omitted).`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx, cancelled on shutdown signals
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", config.DefaultPath, "path to a JSON config file")
}

// loadConfig reads the configuration and returns it with the root logger,
// raised to trace level when debug logging is on.
func loadConfig(ctx context.Context) (*config.Config, *glog.BaseLogger, error) {
	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Info),
		glog.WithName("portal"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	cfg, err := config.Load(ctx, configFile, lgr.GetLogger("config"))
	if err != nil {
		return nil, nil, err
	}

	if cfg.Log.Debug {
		lgr.WithLevel(glog.Trace)
	}
	return cfg, lgr, nil
}
