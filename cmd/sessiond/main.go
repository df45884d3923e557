// sessiond serves the session store over mini-session-rpc.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mini-session-rpc/config"
	"mini-session-rpc/logger"
	"mini-session-rpc/metrics"
	"mini-session-rpc/middleware"
	"mini-session-rpc/registry"
	"mini-session-rpc/server"
	"mini-session-rpc/session"
)

func main() {
	app := cli.NewApp()
	app.Name = "sessiond"
	app.Usage = "Serve externalized session state over RPC"
	app.Commands = []cli.Command{
		cli.Command{
			Name:  "serve",
			Usage: "Start the session store server",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "config, c",
					Usage: "YAML configuration file",
				},
				cli.StringFlag{
					Name:  "addr",
					Usage: "Listen address, overrides server.addr",
				},
				cli.StringFlag{
					Name:  "log-level",
					Usage: "debug, info, warn or error, overrides logLevel",
				},
			},
			Action: serveCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if addr := c.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if level := c.String("log-level"); level != "" {
		cfg.LogLevel = level
	}
	return cfg, nil
}

func serveCommand(c *cli.Context) (err error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	sc := cfg.Server
	opts := []server.Option{
		server.WithLogger(log),
		server.WithMetrics(metrics.New()),
	}
	if len(sc.Etcd) > 0 {
		reg, rerr := registry.NewEtcdRegistry(sc.Etcd, 5*time.Second)
		if rerr != nil {
			return rerr
		}
		defer func() { err = multierr.Append(err, reg.Close()) }()
		opts = append(opts, server.WithRegistry(reg, sc.AdvertiseAddr, sc.AnnounceTTL))
	}
	svr := server.NewServer(opts...)

	svr.Use(middleware.LoggingMiddleware(log))
	if sc.RateLimit > 0 {
		svr.Use(middleware.RateLimitMiddleware(sc.RateLimit, sc.RateBurst))
	}
	if sc.HandlerTimeout > 0 {
		svr.Use(middleware.TimeOutMiddleware(sc.HandlerTimeout))
	}

	store, err := session.NewLRUStore(sc.SessionCapacity, log)
	if err != nil {
		return err
	}
	server.MustRegister[session.Store](svr, store)

	if err := svr.Listen("tcp", sc.Addr); err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	served := make(chan error, 1)
	go func() { served <- svr.Serve() }()

	select {
	case err := <-served:
		return err
	case sig := <-sigs:
		log.Info("shutting down", zap.Stringer("signal", sig), zap.Int("peers", svr.ActivePeers()))
	}
	return multierr.Append(svr.Shutdown(sc.ShutdownTimeout), <-served)
}
