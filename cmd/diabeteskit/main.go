// Command diabeteskit trains, stores and serves the diabetes risk model.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/YuminosukeSato/diabeteskit/pkg/config"
	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
	"github.com/YuminosukeSato/diabeteskit/pkg/log"
)

var version = "dev"

// app is the state shared by every subcommand of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	logger  log.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.NewViper()}

	root := &cobra.Command{
		Use:   "diabeteskit",
		Short: "Diabetes risk model training and serving",
		Long: `diabeteskit selects a diabetes risk classifier with a cross-validated grid
search, stores the winner as a versioned artifact and serves predictions
from the latest artifact over HTTP.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.initConfig,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default: ./diabeteskit.yaml or $HOME/.config/diabeteskit/config.yaml)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "console", "log format (console, json)")
	flags.String("artifacts-dir", "artifacts", "directory holding model artifacts")
	_ = a.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("log.format", flags.Lookup("log-format"))
	_ = a.v.BindPFlag("artifacts.dir", flags.Lookup("artifacts-dir"))

	root.AddCommand(
		a.trainCmd(),
		a.serveCmd(),
		a.predictCmd(),
		a.artifactsCmd(),
		a.synthCmd(),
		versionCmd(),
	)
	return root
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}

func (a *app) initConfig(cmd *cobra.Command, _ []string) error {
	path, err := config.ReadFile(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg, err = config.Load(a.v)
	if err != nil {
		return errors.Wrap(err, "load config")
	}

	provider, err := a.cfg.Log.NewLoggerProvider(log.WithWriter(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	log.SetProvider(provider)
	a.logger = log.GetLoggerWithName("CLI")
	if path != "" {
		a.logger.Debug("Config file loaded", log.PathKey, path)
	}
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "diabeteskit %s\n", version)
		},
	}
}

// openOutput returns stdout for "" and "-", a created file otherwise.
func openOutput(cmd *cobra.Command, path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{cmd.OutOrStdout()}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", path)
	}
	return f, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
