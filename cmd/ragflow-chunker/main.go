package main

import (
	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/ragflow/ragflow/build"
	lcli "github.com/ragflow/ragflow/cli"
	"github.com/ragflow/ragflow/lib/rflog"
	"github.com/ragflow/ragflow/node/broker"
	"github.com/ragflow/ragflow/node/chunker"
	"github.com/ragflow/ragflow/node/config"
	"github.com/ragflow/ragflow/node/metrics"
)

var log = logging.Logger("main")

func main() {
	rflog.SetupLogLevels()

	app := &cli.App{
		Name:                 "ragflow-chunker",
		Usage:                "Split extracted documents into chunks",
		Version:              build.UserVersion(),
		EnableBashCompletion: true,
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:  "strategy",
				Usage: "sliding, sentence or recursive, overrides CHUNK_STRATEGY",
			},
			&cli.IntFlag{
				Name:  "size",
				Usage: "maximum chunk length in characters, overrides CHUNK_SIZE",
			},
			&cli.IntFlag{
				Name:  "overlap",
				Usage: "characters shared by consecutive sliding windows, overrides CHUNK_OVERLAP",
			},
		}, lcli.CommonFlags...),
		Action: run,
	}

	lcli.RunApp(app)
}

func run(cctx *cli.Context) error {
	cfg := config.DefaultChunkerCfg()
	if err := lcli.LoadConfig(cctx, cfg, &cfg.CommonCfg); err != nil {
		return err
	}
	if cctx.IsSet("strategy") {
		cfg.Strategy = cctx.String("strategy")
	}
	if cctx.IsSet("size") {
		cfg.Size = cctx.Int("size")
	}
	if cctx.IsSet("overlap") {
		cfg.Overlap = cctx.Int("overlap")
	}

	c, err := chunker.New(cfg.Strategy, cfg.Size, cfg.Overlap)
	if err != nil {
		return lcli.ShowHelp(cctx, err)
	}
	if err := cfg.RabbitCfg.Validate(); err != nil {
		return err
	}

	conn, err := broker.Dial(cfg.RabbitCfg)
	if err != nil {
		return err
	}
	defer conn.Close() //nolint:errcheck

	in, out := cfg.InputRoute.Route(), cfg.OutputRoute.Route()
	if err := conn.Declare(in, out); err != nil {
		return err
	}

	log.Infof("strategy %s, size %d, overlap %d: %s -> %s/%s",
		c.Strategy(), cfg.Size, cfg.Overlap, in.Queue, out.Exchange, out.RoutingKey)

	m := metrics.New("chunker")
	h := chunker.NewHandler(c, conn, out, m)

	g, ctx := errgroup.WithContext(lcli.ReqContext(cctx))
	g.Go(func() error {
		return m.Serve(ctx, cfg.MetricsAddr, map[string]metrics.Check{"rabbitmq": conn.Check})
	})
	g.Go(func() error {
		return conn.Consume(ctx, in.Queue, cfg.PrefetchCount, h)
	})
	return g.Wait()
}
