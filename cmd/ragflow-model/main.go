package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	logging "github.com/ipfs/go-log/v2"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/ragflow/ragflow/build"
	lcli "github.com/ragflow/ragflow/cli"
	"github.com/ragflow/ragflow/lib/rflog"
	"github.com/ragflow/ragflow/node/config"
	"github.com/ragflow/ragflow/node/ollama"
)

var log = logging.Logger("main")

func main() {
	rflog.SetupLogLevels()

	app := &cli.App{
		Name:                 "ragflow-model",
		Usage:                "Install and list Ollama models",
		Version:              build.UserVersion(),
		EnableBashCompletion: true,
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Ollama url, overrides OLLAMA_HOST",
			},
		}, lcli.CommonFlags...),
		Commands: []*cli.Command{
			pullCmd,
			listCmd,
		},
	}

	lcli.RunApp(app)
}

var pullCmd = &cli.Command{
	Name:      "pull",
	Usage:     "Download a model into the Ollama server",
	ArgsUsage: "[model]",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "model",
			Usage: "model to pull, overrides MODEL",
		},
	},
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() > 1 {
			return lcli.IncorrectNumArgs(cctx)
		}

		cfg, err := loadConfig(cctx)
		if err != nil {
			return err
		}
		if cctx.IsSet("model") {
			cfg.Model = cctx.String("model")
		}
		if cctx.NArg() == 1 {
			cfg.Model = cctx.Args().First()
		}
		if cfg.Model == "" {
			return lcli.ShowHelp(cctx, xerrors.New("no model given, set MODEL or pass --model"))
		}

		client := ollama.NewClient(cfg.OllamaURL(), 0)
		log.Infof("pulling %s from %s", cfg.Model, client.BaseURL())

		last := ""
		err = client.Pull(lcli.ReqContext(cctx), cfg.Model, func(st ollama.PullStatus) {
			line := st.Status
			if st.Total > 0 {
				line = fmt.Sprintf("%s %s/%s", st.Status, humanize.Bytes(uint64(st.Completed)), humanize.Bytes(uint64(st.Total)))
			}
			if line == last {
				return
			}
			last = line
			fmt.Println(line)
		})
		if err != nil {
			return xerrors.Errorf("pull %s: %w", cfg.Model, err)
		}

		log.Infof("model %s is ready", cfg.Model)
		return nil
	},
}

var listCmd = &cli.Command{
	Name:  "list",
	Usage: "List the installed models",
	Action: func(cctx *cli.Context) error {
		cfg, err := loadConfig(cctx)
		if err != nil {
			return err
		}

		models, err := ollama.NewClient(cfg.OllamaURL(), 0).Tags(lcli.ReqContext(cctx))
		if err != nil {
			return err
		}

		tw := tablewriter.NewWriter(os.Stdout)
		tw.SetHeader([]string{"Name", "Size", "Digest", "Modified"})
		tw.SetBorder(false)
		for _, m := range models {
			digest := m.Digest
			if len(digest) > 12 {
				digest = digest[:12]
			}
			tw.Append([]string{m.Name, humanize.Bytes(uint64(m.Size)), digest, humanize.Time(m.ModifiedAt)})
		}
		tw.Render()
		return nil
	},
}

func loadConfig(cctx *cli.Context) (*config.ModelCfg, error) {
	cfg := config.DefaultModelCfg()
	if err := lcli.LoadConfig(cctx, cfg, &cfg.CommonCfg); err != nil {
		return nil, err
	}
	if cctx.IsSet("host") {
		cfg.Host = cctx.String("host")
	}
	return cfg, nil
}
