package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/urfave/cli"
	"go.uber.org/zap"

	"dlog/internal/broker"
	"dlog/internal/config"
)

func main() {
	app := cli.NewApp()
	app.Name = "dlogd"
	app.Usage = "distributed append-only log broker"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config",
			Usage: "path to a config file (json/yaml/toml, read via viper)",
		},
		cli.Uint64Flag{
			Name:  "node-id",
			Usage: "override the configured node id",
		},
		cli.StringFlag{
			Name:  "data-dir",
			Usage: "override the configured data directory",
		},
		cli.StringFlag{
			Name:  "cluster-nodes",
			Usage: "comma-separated list of node ids in this cluster, overrides config",
		},
		cli.StringFlag{
			Name:  "listen",
			Usage: "override the configured listen address",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if v := c.Uint64("node-id"); v != 0 {
		cfg.Node.NodeID = v
	}
	if v := c.String("data-dir"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := c.String("listen"); v != "" {
		cfg.Network.ListenAddress = v
	}
	if v := c.String("cluster-nodes"); v != "" {
		nodes, err := parseNodeList(v)
		if err != nil {
			return fmt.Errorf("parse cluster-nodes: %w", err)
		}
		cfg.Node.ClusterNodes = nodes
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	brk, err := broker.NewBroker(broker.Config{DLog: cfg}, logger)
	if err != nil {
		return fmt.Errorf("init broker: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- brk.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("broker stopped: %w", err)
		}
	case <-sigCh:
		logger.Info("shutting down")
		brk.Stop()
	}
	return nil
}

func parseNodeList(s string) ([]uint64, error) {
	parts := strings.Split(s, ",")
	nodes := make([]uint64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, id)
	}
	return nodes, nil
}
