package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/docker/go-units"
	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/ragflow/ragflow/build"
	lcli "github.com/ragflow/ragflow/cli"
	"github.com/ragflow/ragflow/lib/rflog"
	"github.com/ragflow/ragflow/node/broker"
	"github.com/ragflow/ragflow/node/config"
	"github.com/ragflow/ragflow/node/metrics"
	"github.com/ragflow/ragflow/node/reader"
	"github.com/ragflow/ragflow/node/storage"
)

var log = logging.Logger("main")

const (
	FlagBucket          = "bucket"
	FlagWorkers         = "workers"
	FlagProcessedPrefix = "processed-prefix"
	FlagFailedLog       = "failed-log"
	FlagRetryFile       = "retry-file"
	FlagOutputDir       = "output-dir"
)

func main() {
	rflog.SetupLogLevels()

	app := &cli.App{
		Name:                 "ragflow-reader",
		Usage:                "Extract text from the PDFs of a MinIO bucket and publish it",
		Version:              build.UserVersion(),
		EnableBashCompletion: true,
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:  FlagBucket,
				Usage: "bucket to read, overrides MINIO_BUCKET",
			},
			&cli.IntFlag{
				Name:  FlagWorkers,
				Usage: "objects processed concurrently, overrides WORKERS",
			},
			&cli.StringFlag{
				Name:  FlagProcessedPrefix,
				Usage: "object prefix of the processed markers, overrides PROCESSED_PREFIX",
			},
			&cli.StringFlag{
				Name:  FlagFailedLog,
				Usage: "append the keys of failed objects to this file",
				Value: "failed_objects.txt",
			},
			&cli.StringFlag{
				Name:  FlagOutputDir,
				Usage: "also write every extracted document as JSON into this directory",
			},
		}, lcli.CommonFlags...),
		Commands: []*cli.Command{
			runCmd,
			watchCmd,
			usageCmd,
		},
	}

	lcli.RunApp(app)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "Process the bucket once and exit",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  FlagRetryFile,
			Usage: "process only the object keys listed in this file, one per line",
		},
	},
	Action: func(cctx *cli.Context) error {
		cfg, err := loadConfig(cctx)
		if err != nil {
			return err
		}

		ctx := lcli.ReqContext(cctx)

		d, err := newReader(cctx, cfg, metrics.New("reader"))
		if err != nil {
			return err
		}
		defer d.close()

		sum, err := d.reader.ProcessBucket(ctx)
		if err != nil {
			return err
		}
		log.Infof("done: %s", sum)

		if sum.Failed > 0 {
			return xerrors.Errorf("%d object(s) failed, see %s", sum.Failed, cctx.String(FlagFailedLog))
		}
		return nil
	},
}

var watchCmd = &cli.Command{
	Name:  "watch",
	Usage: "Keep the bucket processed and publish deletions for removed or replaced objects",
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:  "interval",
			Usage: "time between passes, overrides POLL_INTERVAL_SECONDS",
		},
		&cli.BoolFlag{
			Name:  "listen",
			Usage: "also run a pass on bucket notifications",
			Value: true,
		},
	},
	Action: func(cctx *cli.Context) error {
		cfg, err := loadConfig(cctx)
		if err != nil {
			return err
		}

		ctx := lcli.ReqContext(cctx)

		m := metrics.New("reader")
		d, err := newReader(cctx, cfg, m)
		if err != nil {
			return err
		}
		defer d.close()

		g, gctx := errgroup.WithContext(ctx)

		var events <-chan storage.Event
		if cctx.Bool("listen") {
			events = d.store.Listen(gctx, cfg.Bucket)
		}

		g.Go(func() error {
			return m.Serve(gctx, cfg.MetricsAddr, d.checks)
		})
		g.Go(func() error {
			return d.reader.Watch(gctx, events)
		})
		return g.Wait()
	},
}

var usageCmd = &cli.Command{
	Name:  "usage",
	Usage: "Print the raw capacity and usage of the MinIO deployment",
	Action: func(cctx *cli.Context) error {
		cfg, err := loadConfig(cctx)
		if err != nil {
			return err
		}

		store, err := storage.New(cfg.MinioCfg, 0)
		if err != nil {
			return err
		}

		capacity, usage, err := store.Usage(lcli.ReqContext(cctx))
		if err != nil {
			return err
		}

		pct := 0.0
		if capacity > 0 {
			pct = float64(usage) / float64(capacity) * 100
		}
		fmt.Printf("capacity: %s\n", units.BytesSize(float64(capacity)))
		fmt.Printf("usage:    %s (%.1f%%)\n", units.BytesSize(float64(usage)), pct)
		return nil
	},
}

func loadConfig(cctx *cli.Context) (*config.ReaderCfg, error) {
	cfg := config.DefaultReaderCfg()
	if err := lcli.LoadConfig(cctx, cfg, &cfg.CommonCfg); err != nil {
		return nil, err
	}

	if cctx.IsSet(FlagBucket) {
		cfg.Bucket = cctx.String(FlagBucket)
	}
	if cctx.IsSet(FlagWorkers) {
		cfg.Workers = cctx.Int(FlagWorkers)
	}
	if cctx.IsSet(FlagProcessedPrefix) {
		cfg.ProcessedPrefix = cctx.String(FlagProcessedPrefix)
	}
	if cctx.IsSet("interval") {
		cfg.PollIntervalSeconds = int(cctx.Duration("interval") / time.Second)
	}

	if err := cfg.MinioCfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.RabbitCfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		return nil, xerrors.Errorf("workers must be positive, got %d", cfg.Workers)
	}
	return cfg, nil
}

type readerDeps struct {
	reader *reader.Reader
	store  *storage.Store
	checks map[string]metrics.Check
	close  func()
}

// newReader connects to MinIO and RabbitMQ and declares the output routes.
func newReader(cctx *cli.Context, cfg *config.ReaderCfg, m *metrics.Metrics) (*readerDeps, error) {
	store, err := storage.New(cfg.MinioCfg, int64(cfg.DownloadBandwidth))
	if err != nil {
		return nil, err
	}

	ok, err := store.BucketExists(cctx.Context, cfg.Bucket)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, xerrors.Errorf("bucket %s does not exist", cfg.Bucket)
	}

	var paths [3]string
	for i, name := range []string{FlagRetryFile, FlagFailedLog, FlagOutputDir} {
		if paths[i], err = lcli.ExpandPath(cctx.String(name)); err != nil {
			return nil, err
		}
	}
	if paths[2] != "" {
		if err := os.MkdirAll(paths[2], 0o755); err != nil {
			return nil, xerrors.Errorf("create output dir: %w", err)
		}
	}

	conn, err := broker.Dial(cfg.RabbitCfg)
	if err != nil {
		return nil, err
	}
	closer := func() {
		if err := conn.Close(); err != nil {
			log.Warnf("close broker connection: %s", err.Error())
		}
	}

	text, del := cfg.TextRoute(), cfg.DeleteRoute()
	if err := conn.Declare(text, del); err != nil {
		closer()
		return nil, err
	}

	log.Infof("bucket %s, %d worker(s), publishing to %s/%s", cfg.Bucket, cfg.Workers, text.Exchange, text.RoutingKey)

	r := reader.New(store, conn, nil, m, reader.Options{
		Bucket:          cfg.Bucket,
		ProcessedPrefix: cfg.ProcessedPrefix,
		Workers:         cfg.Workers,
		RetryFile:       paths[0],
		FailedLog:       paths[1],
		OutputDir:       paths[2],
		Text:            text,
		Delete:          del,
		PollInterval:    time.Duration(cfg.PollIntervalSeconds) * time.Second,
	})

	return &readerDeps{
		reader: r,
		store:  store,
		checks: map[string]metrics.Check{
			"minio": func(ctx context.Context) error {
				_, err := store.BucketExists(ctx, cfg.Bucket)
				return err
			},
			"rabbitmq": conn.Check,
		},
		close: closer,
	}, nil
}
