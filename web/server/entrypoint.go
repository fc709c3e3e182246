// Package server implements the entry point for running a map server.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/rdk/logging"

	"go.viam.com/mapserver/config"
	"go.viam.com/mapserver/console"
	"go.viam.com/mapserver/inbox"
	"go.viam.com/mapserver/internal/logfile"
	"go.viam.com/mapserver/mapmanager"
	"go.viam.com/mapserver/mapserver"
	"go.viam.com/mapserver/posegraph"
)

// Flags.
const (
	flagConfig      = "config"
	flagDebug       = "debug"
	flagHTTPAddress = "http-address"
)

const httpShutdownTimeout = 5 * time.Second

// RunServer is an entry point to starting the map server that can be used as a
// ContextualMain. It returns once ctx is done or the node fails.
func RunServer(ctx context.Context, args []string, logger logging.Logger) error {
	app := &cli.App{
		Name:  "map-server",
		Usage: "merge submaps from many robots into one shared map",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     flagConfig,
				Aliases:  []string{"c"},
				Usage:    "load configuration from `FILE`",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagHTTPAddress,
				Usage: "override the configured http_address",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Read(c.String(flagConfig), logger)
			if err != nil {
				return err
			}
			if c.IsSet(flagHTTPAddress) {
				cfg.HTTPAddress = c.String(flagHTTPAddress)
			}
			config.InitLoggingSettings(logger, c.Bool(flagDebug), cfg.Debug)
			return serve(c.Context, cfg, logger)
		},
	}
	return app.RunContext(ctx, args)
}

// serve runs the node, the inbox and the HTTP surface until ctx is done or the node fails. On
// the way out it stops taking submaps, drains the node and saves the shared map.
func serve(ctx context.Context, cfg *config.Config, logger logging.Logger) (err error) {
	if cfg.LogFile != "" {
		appender := logfile.NewAppender(cfg.LogFile)
		logger.AddAppender(appender)
		defer func() {
			err = multierr.Combine(err, appender.Close())
		}()
	}

	store := mapmanager.New()
	runner := console.New(store, logger.Sublogger("console"))
	node, err := mapserver.New(cfg.Config, store, runner, posegraph.PoseInterpolator{}, logger.Sublogger("node"))
	if err != nil {
		return err
	}
	if err := node.Start(); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.HTTPAddress)
	if err != nil {
		return multierr.Combine(errors.Wrap(err, "cannot listen for http"), node.Shutdown())
	}
	webLogger := logger.Sublogger("web")
	httpServer := &http.Server{
		Handler:           newMux(node, webLogger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpWorkers := goutils.NewBackgroundStoppableWorkers(func(context.Context) {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			webLogger.Errorw("http server stopped", "error", err)
		}
	})
	logger.Infow("serving map server", "address", listener.Addr().String())

	ib, err := inbox.New(cfg.InboxDir, node, logger.Sublogger("inbox"))
	if err != nil {
		err = multierr.Combine(err, stopHTTP(httpServer, httpWorkers))
		return multierr.Combine(err, node.Shutdown())
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down map server")
	case <-node.Fatal():
		logger.Errorw("map server node failed", "error", node.Err())
	}

	err = multierr.Combine(ib.Close(), stopHTTP(httpServer, httpWorkers), node.Shutdown())
	if cfg.MergedMapFolder != "" && !node.SaveMapToConfiguredFolder(context.Background()) {
		logger.Warn("final save of the shared map did not happen")
	}
	return multierr.Combine(node.Err(), err)
}

func stopHTTP(httpServer *http.Server, workers *goutils.StoppableWorkers) error {
	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	err := httpServer.Shutdown(ctx)
	workers.Stop()
	return err
}
