package main

import (
	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/diabeteskit/artifact"
	"github.com/YuminosukeSato/diabeteskit/inference"
	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
	"github.com/YuminosukeSato/diabeteskit/pkg/log"
	"github.com/YuminosukeSato/diabeteskit/server"
)

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve predictions from the latest artifact",
		Long: `Start the prediction API. The latest artifact is loaded at startup and
again on POST /reload or every --reload-interval. Without an artifact the
server still starts and reports not ready until one is stored.`,
		Args: cobra.NoArgs,
		RunE: a.runServe,
	}

	flags := cmd.Flags()
	flags.String("addr", ":5000", "listen address")
	flags.Duration("request-timeout", server.DefaultRequestTimeout, "per request timeout")
	flags.Duration("reload-interval", 0, "reload the latest artifact periodically (0 disables)")
	_ = a.v.BindPFlag("server.addr", flags.Lookup("addr"))
	_ = a.v.BindPFlag("server.request_timeout", flags.Lookup("request-timeout"))
	_ = a.v.BindPFlag("server.reload_interval", flags.Lookup("reload-interval"))
	return cmd
}

func (a *app) runServe(cmd *cobra.Command, _ []string) error {
	cfg := a.cfg
	store, err := artifact.Open(cfg.Artifacts.Dir)
	if err != nil {
		return err
	}
	defer store.Close()

	logger := log.GetLoggerWithName("Server")
	srv := server.New(
		inference.NewAdapter(artifact.NewHandle(nil), logger),
		store,
		server.WithLogger(logger),
		server.WithRequestTimeout(cfg.Server.RequestTimeout),
		server.WithReloadInterval(cfg.Server.ReloadInterval),
	)

	if _, err := srv.Reload(cmd.Context()); err != nil {
		var missing *errors.NoArtifactFoundError
		if !errors.As(err, &missing) {
			return err
		}
		logger.Warn("Serving without a model until an artifact is stored", log.PathKey, store.Dir())
	}
	return srv.Run(cmd.Context(), cfg.Server.Addr)
}
