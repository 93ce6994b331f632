// EmberDB - an in-memory key/value server speaking a RESP-style protocol
//
// Usage:
//
//	emberdb [serve] [flags]
//	emberdb version
//
// Serve flags:
//
//	--config string    YAML configuration file
//	--addr string      RESP listen address (default ":6379")
//	--web-addr string  Admin HTTP address (default ":8080")
//	--no-web           Disable the admin HTTP server
//	--loglevel string  Log level: trace, debug, info, warn, error (default "info")
//
// Every setting can also come from the environment, e.g. EMBERDB_SERVER_ADDR.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/emberdb/emberdb/internal/config"
	"github.com/emberdb/emberdb/internal/hotkeys"
	"github.com/emberdb/emberdb/internal/logging"
	"github.com/emberdb/emberdb/internal/metrics"
	"github.com/emberdb/emberdb/internal/server"
	"github.com/emberdb/emberdb/internal/store"
	"github.com/emberdb/emberdb/internal/version"
	"github.com/emberdb/emberdb/internal/web"
)

type serveFlags struct {
	configFile string
	addr       string
	webAddr    string
	noWeb      bool
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags serveFlags

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the EmberDB server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	addServeFlags(serve, &flags)

	root := &cobra.Command{
		Use:          "emberdb",
		Short:        "In-memory key/value server with a RESP-style protocol",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE:         serve.RunE,
	}
	addServeFlags(root, &flags)

	root.AddCommand(serve, &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	})
	return root
}

func addServeFlags(cmd *cobra.Command, f *serveFlags) {
	cmd.Flags().StringVar(&f.configFile, "config", "", "YAML configuration file")
	cmd.Flags().StringVar(&f.addr, "addr", "", "RESP listen address")
	cmd.Flags().StringVar(&f.webAddr, "web-addr", "", "Admin HTTP address")
	cmd.Flags().BoolVar(&f.noWeb, "no-web", false, "Disable the admin HTTP server")
	cmd.Flags().StringVar(&f.logLevel, "loglevel", "", "Log level: trace, debug, info, warn, error")
}

// loadConfig layers the flags the user actually set on top of the file and
// environment configuration.
func loadConfig(cmd *cobra.Command, f serveFlags) (*config.Config, error) {
	cfg, err := config.Load(f.configFile)
	if err != nil {
		return nil, err
	}

	set := cmd.Flags().Changed
	if set("addr") {
		cfg.Server.Addr = f.addr
	}
	if set("web-addr") {
		cfg.Web.Addr = f.webAddr
	}
	if set("no-web") {
		cfg.Web.Enabled = !f.noWeb
	}
	if set("loglevel") {
		cfg.Log.Level = f.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// run wires the store, RESP server and admin interface together and blocks
// until ctx is cancelled or one of the servers fails.
func run(ctx context.Context, cfg *config.Config) error {
	logger := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	logger.Info("starting", "version", version.Version, "commit", version.Commit)

	st := store.New(cfg.Store.Shards)

	m := metrics.New()
	m.RegisterStore(st)

	tracker := hotkeys.New(cfg.HotKeys.TopN, cfg.HotKeys.Window)
	defer tracker.Close()

	srv := server.NewWithConfig(cfg.Server.Addr, st, server.Config{
		MaxClients:    cfg.Server.MaxClients,
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
		RateLimit:     cfg.Server.RateLimit,
		MaxFrameBytes: cfg.Server.MaxFrameBytes,
	},
		server.WithLogger(logger.Named("server")),
		server.WithMetrics(m),
		server.WithHotKeys(tracker),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(ctx)
	})

	if cfg.Web.Enabled {
		admin := web.New(cfg.Web.Addr, web.Deps{
			Server:  srv,
			Store:   st,
			Metrics: m,
			HotKeys: tracker,
			Logger:  logger.Named("web"),
		})
		g.Go(func() error {
			return admin.Start(ctx)
		})
	}

	err := g.Wait()
	logShutdown(logger, err)
	return err
}

func logShutdown(logger hclog.Logger, err error) {
	if err != nil {
		logger.Error("shutdown with error", "error", err)
		return
	}
	logger.Info("shutdown complete")
}
