// sessionctl talks to a running sessiond.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"
	"go.uber.org/zap"

	"mini-session-rpc/client"
	"mini-session-rpc/config"
	"mini-session-rpc/contract"
	"mini-session-rpc/logger"
	"mini-session-rpc/registry"
	"mini-session-rpc/session"
)

func main() {
	app := cli.NewApp()
	app.Name = "sessionctl"
	app.Usage = "Inspect and edit sessions held by sessiond"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "YAML configuration file",
		},
		cli.StringFlag{
			Name:  "addr, a",
			Usage: "sessiond address, overrides client.addr",
		},
		cli.DurationFlag{
			Name:  "timeout, t",
			Usage: "Per-call timeout, overrides the declared one",
		},
		cli.StringFlag{
			Name:  "log-level",
			Value: "warn",
			Usage: "debug, info, warn or error",
		},
	}
	app.Commands = []cli.Command{
		cli.Command{
			Name:   "ping",
			Usage:  "Check that sessiond answers",
			Action: pingCommand,
		},
		cli.Command{
			Name:      "get",
			Usage:     "Print the data of a session",
			ArgsUsage: "<id>",
			Action:    getCommand,
		},
		cli.Command{
			Name:      "put",
			Usage:     "Store data under a session id",
			ArgsUsage: "<id> <data>",
			Action:    putCommand,
		},
		cli.Command{
			Name:      "remove",
			Usage:     "Delete a session",
			ArgsUsage: "<id>",
			Action:    removeCommand,
		},
		cli.Command{
			Name:   "len",
			Usage:  "Print the number of stored sessions",
			Action: lenCommand,
		},
		cli.Command{
			Name:   "watch",
			Usage:  "Heartbeat sessiond and reconnect until interrupted",
			Action: watchCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type env struct {
	cfg    *config.Config
	log    *zap.Logger
	client *client.Client
}

func (e *env) Close() {
	e.client.Close()
	e.log.Sync()
}

// connect resolves the peer address (flag, config, then etcd) and dials it.
func connect(c *cli.Context) (*env, error) {
	cfg := config.Default()
	if path := c.GlobalString("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	log, err := logger.New(c.GlobalString("log-level"))
	if err != nil {
		return nil, err
	}

	cc := cfg.Client
	addr := c.GlobalString("addr")
	if addr == "" {
		addr = cc.Addr
	}
	if addr == "" && len(cc.Etcd) > 0 {
		if addr, err = resolve(cc); err != nil {
			return nil, err
		}
	}
	if addr == "" {
		return nil, cli.NewExitError("no address: pass --addr or set client.addr", 2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cc.DefaultTimeout)
	defer cancel()
	cl, err := client.Dial(ctx, addr,
		client.WithConnections(cc.Connections),
		client.WithSpinCount(cc.SpinCount),
		client.WithDefaultTimeout(cc.DefaultTimeout),
		client.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, log: log, client: cl}, nil
}

func resolve(cc config.ClientConfig) (string, error) {
	reg, err := registry.NewEtcdRegistry(cc.Etcd, cc.DefaultTimeout)
	if err != nil {
		return "", err
	}
	defer reg.Close()
	service := cc.Service
	if service == "" {
		service = session.ServiceName
	}
	ctx, cancel := context.WithTimeout(context.Background(), cc.DefaultTimeout)
	defer cancel()
	return registry.Resolve(ctx, reg, service)
}

func sessionClient(c *cli.Context, e *env) (*session.Client, error) {
	stub, err := client.NewStub[session.Store](e.client)
	if err != nil {
		return nil, err
	}
	if d := c.GlobalDuration("timeout"); d > 0 {
		stub = stub.WithTimeout(d)
	}
	return session.NewClient(stub), nil
}

func withSessions(fn func(c *cli.Context, s *session.Client) error) func(c *cli.Context) error {
	return func(c *cli.Context) error {
		e, err := connect(c)
		if err != nil {
			return err
		}
		defer e.Close()
		s, err := sessionClient(c, e)
		if err != nil {
			return err
		}
		return fn(c, s)
	}
}

func requireArgs(c *cli.Context, n int) error {
	if c.NArg() != n {
		return cli.NewExitError(fmt.Sprintf("usage: sessionctl %s %s", c.Command.Name, c.Command.ArgsUsage), 2)
	}
	return nil
}

func pingCommand(c *cli.Context) error {
	e, err := connect(c)
	if err != nil {
		return err
	}
	defer e.Close()
	hb, err := client.NewStub[contract.Heartbeat](e.client)
	if err != nil {
		return err
	}
	start := time.Now()
	pong, err := client.Invoke[[]byte](hb, "Ping")
	if err != nil {
		return err
	}
	fmt.Printf("%s from %s in %s\n", pong, e.client.Addr(), time.Since(start))
	return nil
}

var getCommand = withSessions(func(c *cli.Context, s *session.Client) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	data, err := s.Get(c.Args().First())
	if err != nil {
		return err
	}
	os.Stdout.Write(data)
	fmt.Println()
	return nil
})

var putCommand = withSessions(func(c *cli.Context, s *session.Client) error {
	if err := requireArgs(c, 2); err != nil {
		return err
	}
	return s.Put(c.Args().Get(0), []byte(c.Args().Get(1)))
})

var removeCommand = withSessions(func(c *cli.Context, s *session.Client) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	removed, err := s.Remove(c.Args().First())
	if err != nil {
		return err
	}
	if !removed {
		return cli.NewExitError("no such session", 1)
	}
	return nil
})

var lenCommand = withSessions(func(c *cli.Context, s *session.Client) error {
	n, err := s.Len()
	if err != nil {
		return err
	}
	fmt.Println(n)
	return nil
})

func watchCommand(c *cli.Context) error {
	e, err := connect(c)
	if err != nil {
		return err
	}
	defer e.Close()

	cc := e.cfg.Client
	sup := client.NewSupervisor(e.client, cc.HeartbeatInterval, cc.HeartbeatRetries, func() {
		fmt.Printf("%s reconnected to %s\n", time.Now().Format(time.RFC3339), e.client.Addr())
	})
	sup.Start()
	defer sup.Stop()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	ticker := time.NewTicker(cc.HeartbeatInterval)
	defer ticker.Stop()
	last := sup.State()
	fmt.Printf("%s %s\n", time.Now().Format(time.RFC3339), last)
	for {
		select {
		case <-sigs:
			return nil
		case <-ticker.C:
			if st := sup.State(); st != last {
				fmt.Printf("%s %s (failures %d)\n", time.Now().Format(time.RFC3339), st, sup.Failures())
				last = st
			}
		}
	}
}
