package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/helinwang/stakechain/pkg/api"
	"github.com/helinwang/stakechain/pkg/consensus"
	"github.com/helinwang/stakechain/pkg/network"
	"github.com/helinwang/stakechain/pkg/node"
	"github.com/helinwang/stakechain/pkg/store"
	log "github.com/inconshreveable/log15"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli"
)

func openStore(dir string) (*store.Store, error) {
	if dir == "" {
		log.Warn("no data directory, the chain is kept in memory")
		return store.New(store.NewMemKV()), nil
	}

	kv, err := store.OpenPebble(dir)
	if err != nil {
		return nil, err
	}

	return store.New(kv), nil
}

func config(c *cli.Context) consensus.Config {
	cfg := consensus.DefaultConfig()
	cfg.Workers = c.Int("workers")
	cfg.QueueSize = c.Int("queue-size")
	cfg.MaxOrphans = c.Int("max-orphans")
	cfg.OrphanTTL = c.Duration("orphan-ttl")
	cfg.MaxClockSkewSlots = c.Uint64("max-clock-skew")
	cfg.LivenessSlots = c.Uint64("liveness-slots")
	return cfg
}

func run(c *cli.Context) error {
	lvl, err := log.LvlFromString(c.String("log-level"))
	if err != nil {
		return err
	}
	log.Root().SetHandler(log.LvlFilterHandler(lvl, log.StdoutHandler))

	genesis, err := consensus.LoadGenesis(c.String("genesis"))
	if err != nil {
		return fmt.Errorf("load genesis: %v", err)
	}

	var credentials *consensus.NodeCredentials
	if path := c.String("credential"); path != "" {
		cred, err := consensus.LoadCredential(path)
		if err != nil {
			return fmt.Errorf("load credential: %v", err)
		}
		credentials = &cred
	}

	s, err := openStore(c.String("data-dir"))
	if err != nil {
		return err
	}
	defer s.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	n, err := node.New(node.Options{
		Config:      config(c),
		Genesis:     genesis,
		Store:       s,
		Credentials: credentials,
		TxnPoolSize: c.Int("txn-pool-size"),
		Registerer:  reg,
	})
	if err != nil {
		return err
	}

	net := network.New(n)
	n.SetTransport(net)
	addr, err := net.Start(c.String("addr"))
	if err != nil {
		return err
	}
	defer net.Close()
	log.Info("listening for peers", "addr", addr)

	for _, seed := range strings.Split(c.String("seed"), ",") {
		if seed == "" {
			continue
		}

		err := net.Connect(seed)
		if err != nil {
			log.Warn("connect to seed node error", "seed", seed, "err", err)
		}
	}

	srv := api.NewServer(n.Chain(), n, reg)
	err = srv.Start(c.String("api-addr"))
	if err != nil {
		return err
	}
	defer srv.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return n.Run(ctx)
}

func main() {
	app := cli.NewApp()
	app.Name = "stakechain node"
	app.Usage = "run a stakechain node"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "credential, c",
			Usage: "path to the stake pool credential file, the node does not produce blocks without it",
		},
		cli.StringFlag{
			Name:  "genesis, g",
			Value: "genesis.rlp",
			Usage: "path to the genesis file",
		},
		cli.StringFlag{
			Name:  "data-dir",
			Usage: "directory of the chain database, the chain is kept in memory if empty",
		},
		cli.StringFlag{
			Name:  "addr",
			Value: ":8008",
			Usage: "address to listen for peer connections on",
		},
		cli.StringFlag{
			Name:  "seed",
			Usage: "comma separated seed node addresses",
		},
		cli.StringFlag{
			Name:  "api-addr",
			Value: ":12001",
			Usage: "address of the HTTP query API",
		},
		cli.StringFlag{
			Name:  "log-level",
			Value: "info",
			Usage: "log level: crit, error, warn, info, debug",
		},
		cli.IntFlag{
			Name:  "workers",
			Value: consensus.DefaultConfig().Workers,
			Usage: "number of block validation workers",
		},
		cli.IntFlag{
			Name:  "queue-size",
			Value: consensus.DefaultConfig().QueueSize,
			Usage: "maximum number of blocks waiting for validation",
		},
		cli.IntFlag{
			Name:  "max-orphans",
			Value: consensus.DefaultConfig().MaxOrphans,
			Usage: "maximum number of blocks waiting for their parent",
		},
		cli.DurationFlag{
			Name:  "orphan-ttl",
			Value: consensus.DefaultConfig().OrphanTTL,
			Usage: "time a block waits for its parent before it is dropped",
		},
		cli.Uint64Flag{
			Name:  "max-clock-skew",
			Value: consensus.DefaultConfig().MaxClockSkewSlots,
			Usage: "number of slots a block can be ahead of the local clock",
		},
		cli.Uint64Flag{
			Name:  "liveness-slots",
			Value: consensus.DefaultConfig().LivenessSlots,
			Usage: "number of slots without tip progress before a liveness warning",
		},
		cli.IntFlag{
			Name:  "txn-pool-size",
			Value: 10000,
			Usage: "maximum number of pending transactions",
		},
	}
	app.Action = run

	err := app.Run(os.Args)
	if err != nil {
		log.Crit("node stopped", "err", err)
		os.Exit(1)
	}
}
