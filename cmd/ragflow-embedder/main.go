package main

import (
	"context"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/ragflow/ragflow/build"
	lcli "github.com/ragflow/ragflow/cli"
	"github.com/ragflow/ragflow/lib/rflog"
	"github.com/ragflow/ragflow/node/broker"
	"github.com/ragflow/ragflow/node/config"
	"github.com/ragflow/ragflow/node/embedder"
	"github.com/ragflow/ragflow/node/metrics"
	"github.com/ragflow/ragflow/node/ollama"
)

var log = logging.Logger("main")

func main() {
	rflog.SetupLogLevels()

	app := &cli.App{
		Name:                 "ragflow-embedder",
		Usage:                "Embed chunks with an Ollama model",
		Version:              build.UserVersion(),
		EnableBashCompletion: true,
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:  "ollama-url",
				Usage: "Ollama base url, overrides OLLAMA_BASE_URL",
			},
			&cli.StringFlag{
				Name:  "model",
				Usage: "embedding model, overrides OLLAMA_MODEL",
			},
			&cli.IntFlag{
				Name:  "dimensions",
				Usage: "requested vector size, overrides OLLAMA_DIMENSIONS",
			},
			&cli.BoolFlag{
				Name:  "pull",
				Usage: "pull the model at startup when the server does not have it",
			},
		}, lcli.CommonFlags...),
		Action: run,
	}

	lcli.RunApp(app)
}

func run(cctx *cli.Context) error {
	cfg := config.DefaultEmbedderCfg()
	if err := lcli.LoadConfig(cctx, cfg, &cfg.CommonCfg); err != nil {
		return err
	}
	if cctx.IsSet("ollama-url") {
		cfg.BaseURL = cctx.String("ollama-url")
	}
	if cctx.IsSet("model") {
		cfg.Model = cctx.String("model")
	}
	if cctx.IsSet("dimensions") {
		cfg.Dimensions = cctx.Int("dimensions")
	}
	if err := cfg.RabbitCfg.Validate(); err != nil {
		return err
	}

	ctx := lcli.ReqContext(cctx)

	client := ollama.NewClient(cfg.BaseURL, time.Duration(cfg.TimeoutSeconds)*time.Second)
	if cctx.Bool("pull") {
		if err := embedder.EnsureModel(ctx, client, cfg.Model); err != nil {
			return err
		}
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

	e := embedder.New(client, embedder.Options{
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
		Truncate:   cfg.Truncate,
		MaxRetries: cfg.MaxRetries,
	})

	log.Infof("model %s at %s: %s -> %s/%s", e.Model(), client.BaseURL(), in.Queue, out.Exchange, out.RoutingKey)

	m := metrics.New("embedder")
	h := embedder.NewHandler(e, conn, out, m)

	checks := map[string]metrics.Check{
		"rabbitmq": conn.Check,
		"ollama": func(ctx context.Context) error {
			_, err := client.Tags(ctx)
			return err
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.Serve(gctx, cfg.MetricsAddr, checks)
	})
	g.Go(func() error {
		return conn.Consume(gctx, in.Queue, cfg.PrefetchCount, h)
	})
	return g.Wait()
}
