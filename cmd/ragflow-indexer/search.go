package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	lcli "github.com/ragflow/ragflow/cli"
	"github.com/ragflow/ragflow/node/embedder"
	"github.com/ragflow/ragflow/node/indexer"
	"github.com/ragflow/ragflow/node/ollama"
)

var searchCmd = &cli.Command{
	Name:      "search",
	Usage:     "Query the indexed chunks",
	ArgsUsage: "<query>",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "k",
			Usage: "number of results",
			Value: 5,
		},
		&cli.BoolFlag{
			Name:  "text",
			Usage: "rank by full-text match instead of embedding similarity",
		},
		&cli.StringFlag{
			Name:  "doc-id",
			Usage: "only search this document",
		},
		&cli.StringFlag{
			Name:  "bucket",
			Usage: "only search objects of this bucket",
		},
		&cli.StringFlag{
			Name:  "keyword",
			Usage: "only search documents with this keyword",
		},
		&cli.StringFlag{
			Name:  "author",
			Usage: "only search documents by this author",
		},
	},
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return lcli.IncorrectNumArgs(cctx)
		}
		query := strings.TrimSpace(cctx.Args().First())
		if query == "" {
			return lcli.ShowHelp(cctx, xerrors.New("empty query"))
		}
		k := cctx.Int("k")
		if k <= 0 {
			return lcli.ShowHelp(cctx, xerrors.Errorf("k must be positive, got %d", k))
		}

		cfg, err := loadConfig(cctx)
		if err != nil {
			return err
		}
		cfg.DryRun = false

		ctx := lcli.ReqContext(cctx)

		backend, err := indexer.New(cfg)
		if err != nil {
			return err
		}
		searcher, ok := backend.(indexer.Searcher)
		if !ok {
			return xerrors.Errorf("backend %s cannot search", cfg.Backend)
		}
		if err := backend.Connect(ctx); err != nil {
			return err
		}
		defer backend.Close() //nolint:errcheck

		var hits []indexer.Hit
		if cctx.Bool("text") {
			hits, err = searcher.SearchText(ctx, query, k)
		} else {
			client := ollama.NewClient(cfg.BaseURL, time.Duration(cfg.TimeoutSeconds)*time.Second)
			e := embedder.New(client, embedder.Options{
				Model:      cfg.Model,
				Dimensions: cfg.Dimensions,
				Truncate:   cfg.Truncate,
				MaxRetries: 1,
			})

			var vec []float32
			vec, err = e.EmbedText(ctx, query)
			if err != nil {
				return err
			}
			hits, err = searcher.Search(ctx, vec, k, indexer.Filter{
				DocID:   cctx.String("doc-id"),
				Bucket:  cctx.String("bucket"),
				Keyword: cctx.String("keyword"),
				Author:  cctx.String("author"),
			})
		}
		if err != nil {
			return err
		}

		if len(hits) == 0 {
			fmt.Println("no matches")
			return nil
		}

		tw := tablewriter.NewWriter(os.Stdout)
		tw.SetHeader([]string{"Score", "Doc", "Chunk", "Title", "Text"})
		tw.SetAutoWrapText(false)
		tw.SetBorder(false)
		for _, h := range hits {
			title := ""
			if h.Title != nil {
				title = *h.Title
			}
			tw.Append([]string{
				strconv.FormatFloat(h.Score, 'f', 4, 64),
				h.DocID,
				strconv.Itoa(h.ChunkIndex),
				title,
				snippet(h.Text, 80),
			})
		}
		tw.Render()
		return nil
	},
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
