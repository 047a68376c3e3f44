package main

import (
	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/ragflow/ragflow/build"
	lcli "github.com/ragflow/ragflow/cli"
	"github.com/ragflow/ragflow/lib/rflog"
	"github.com/ragflow/ragflow/node/broker"
	"github.com/ragflow/ragflow/node/config"
	"github.com/ragflow/ragflow/node/indexer"
	"github.com/ragflow/ragflow/node/metrics"
)

var log = logging.Logger("main")

const (
	FlagBackend    = "backend"
	FlagCollection = "collection"
	FlagDim        = "dim"
	FlagDryRun     = "dry-run"
)

func main() {
	rflog.SetupLogLevels()

	app := &cli.App{
		Name:                 "ragflow-indexer",
		Usage:                "Write embedded chunks to the vector store",
		Version:              build.UserVersion(),
		EnableBashCompletion: true,
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:  FlagBackend,
				Usage: "vector store backend, overrides INDEX_BACKEND",
			},
			&cli.StringFlag{
				Name:  FlagCollection,
				Usage: "table holding the chunks, overrides COLLECTION",
			},
			&cli.IntFlag{
				Name:  FlagDim,
				Usage: "vector column size, overrides EMBEDDING_DIM",
			},
		}, lcli.CommonFlags...),
		Commands: []*cli.Command{
			runCmd,
			searchCmd,
		},
	}

	lcli.RunApp(app)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "Consume embeddings and deletions",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  FlagDryRun,
			Usage: "log what would be written instead of writing, overrides DRY_RUN",
		},
	},
	Action: func(cctx *cli.Context) error {
		cfg, err := loadConfig(cctx)
		if err != nil {
			return err
		}
		if err := cfg.RabbitCfg.Validate(); err != nil {
			return err
		}

		ctx := lcli.ReqContext(cctx)

		backend, err := indexer.New(cfg)
		if err != nil {
			return err
		}
		if err := backend.Connect(ctx); err != nil {
			return err
		}
		defer backend.Close() //nolint:errcheck

		if err := backend.EnsureReady(ctx); err != nil {
			return err
		}

		conn, err := broker.Dial(cfg.RabbitCfg)
		if err != nil {
			return err
		}
		defer conn.Close() //nolint:errcheck

		in, del := cfg.InputRoute.Route(), cfg.DeleteRoute()
		if err := conn.Declare(in, del); err != nil {
			return err
		}

		checks := map[string]metrics.Check{"rabbitmq": conn.Check}
		if pg, ok := backend.(*indexer.PGVector); ok {
			checks["postgres"] = pg.Ping
		}

		m := metrics.New("indexer")

		log.Infof("indexing %s into %s (%s), deletions from %s", in.Queue, cfg.Collection, cfg.Backend, del.Queue)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return m.Serve(gctx, cfg.MetricsAddr, checks)
		})
		g.Go(func() error {
			return conn.Consume(gctx, in.Queue, cfg.PrefetchCount, indexer.NewIndexHandler(backend, cfg.EmbeddingDim, m))
		})
		if del.Queue != "" {
			g.Go(func() error {
				return conn.Consume(gctx, del.Queue, cfg.PrefetchCount, indexer.NewDeleteHandler(backend, m))
			})
		}
		return g.Wait()
	},
}

func loadConfig(cctx *cli.Context) (*config.IndexerCfg, error) {
	cfg := config.DefaultIndexerCfg()
	if err := lcli.LoadConfig(cctx, cfg, &cfg.CommonCfg); err != nil {
		return nil, err
	}

	if cctx.IsSet(FlagBackend) {
		cfg.Backend = cctx.String(FlagBackend)
	}
	if cctx.IsSet(FlagCollection) {
		cfg.Collection = cctx.String(FlagCollection)
	}
	if cctx.IsSet(FlagDim) {
		cfg.EmbeddingDim = cctx.Int(FlagDim)
	}
	if cctx.IsSet(FlagDryRun) {
		cfg.DryRun = cctx.Bool(FlagDryRun)
	}
	return cfg, nil
}
