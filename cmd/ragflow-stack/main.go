package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	logging "github.com/ipfs/go-log/v2"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/ragflow/ragflow/build"
	lcli "github.com/ragflow/ragflow/cli"
	"github.com/ragflow/ragflow/lib/rflog"
	"github.com/ragflow/ragflow/node/config"
	"github.com/ragflow/ragflow/node/stack"
)

var log = logging.Logger("main")

const FlagComposeFile = "compose-file"

var (
	okMark   = color.GreenString("ok")
	failMark = color.RedString("FAIL")
)

func main() {
	rflog.SetupLogLevels()
	lcli.RunApp(newApp())
}

func newApp() *cli.App {
	return &cli.App{
		Name:                 "ragflow-stack",
		Usage:                "Check and inspect the compose stack",
		Version:              build.UserVersion(),
		EnableBashCompletion: true,
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    FlagComposeFile,
				Aliases: []string{"f"},
				Usage:   "compose manifest",
				Value:   "docker-compose.yml",
			},
		}, lcli.CommonFlags...),
		Before: func(cctx *cli.Context) error {
			var common config.CommonCfg
			return lcli.LoadConfig(cctx, &common, &common)
		},
		Commands: []*cli.Command{
			checkCmd,
			probeCmd,
			psCmd,
		},
	}
}

func loadManifest(cctx *cli.Context) (*stack.Config, []byte, error) {
	path, err := lcli.ExpandPath(cctx.String(FlagComposeFile))
	if err != nil {
		return nil, nil, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := stack.Parse(content)
	if err != nil {
		return nil, nil, xerrors.Errorf("%s: %w", path, err)
	}
	return cfg, content, nil
}

var checkCmd = &cli.Command{
	Name:  "check",
	Usage: "Validate the manifest and the first --env-file, which it interpolates",
	Action: func(cctx *cli.Context) error {
		cfg, content, err := loadManifest(cctx)
		if err != nil {
			return err
		}

		problems := stack.Validate(cfg, stack.Expected())

		envFile := ".env"
		if files := cctx.StringSlice(lcli.FlagEnvFile); len(files) > 0 {
			envFile = files[0]
		}
		envFile, err = lcli.ExpandPath(envFile)
		if err != nil {
			return err
		}
		envProblems, err := stack.CheckEnv(content, envFile)
		if err != nil {
			problems = append(problems, stack.Problem{Msg: fmt.Sprintf("cannot read %s: %s", envFile, err)})
		}
		problems = append(problems, envProblems...)

		for _, p := range problems {
			fmt.Printf("%s %s\n", failMark, p)
		}
		if len(problems) > 0 {
			return xerrors.Errorf("%d problem(s) found", len(problems))
		}

		fmt.Printf("%s %d services, network %s\n", okMark, len(cfg.Services), stack.NetworkName)
		return nil
	},
}

var probeCmd = &cli.Command{
	Name:  "probe",
	Usage: "Check that every service port accepts connections",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "host",
			Usage: "host the ports are published on",
			Value: "localhost",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "dial timeout per port",
			Value: 2 * time.Second,
		},
	},
	Action: func(cctx *cli.Context) error {
		results := stack.Probe(lcli.ReqContext(cctx), cctx.String("host"), stack.Expected(), cctx.Duration("timeout"))

		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
				fmt.Printf("%-4s %-10s %5d  %s\n", failMark, r.Service, r.Port, r.Err)
				continue
			}
			fmt.Printf("%-4s %-10s %5d  %s\n", okMark, r.Service, r.Port, r.Latency.Round(time.Microsecond))
		}

		if failed > 0 {
			return xerrors.Errorf("%d of %d port(s) unreachable", failed, len(results))
		}
		return nil
	},
}

var psCmd = &cli.Command{
	Name:  "ps",
	Usage: "List the containers of the stack",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "project",
			Usage: "compose project name, defaults to the manifest's name",
		},
	},
	Action: func(cctx *cli.Context) error {
		project := cctx.String("project")
		if project == "" {
			cfg, _, err := loadManifest(cctx)
			if err != nil {
				return err
			}
			project = cfg.Name
		}
		if project == "" {
			return lcli.ShowHelp(cctx, xerrors.New("manifest has no name, pass --project"))
		}

		dc, err := stack.NewDockerClient()
		if err != nil {
			return err
		}
		defer dc.Close() //nolint:errcheck

		containers, err := stack.Ps(lcli.ReqContext(cctx), dc, project)
		if err != nil {
			return err
		}
		if len(containers) == 0 {
			log.Warnf("no containers for project %s", project)
			return nil
		}

		tw := tablewriter.NewWriter(os.Stdout)
		tw.SetHeader([]string{"Service", "Container", "Image", "State", "Status"})
		tw.SetBorder(false)
		for _, c := range containers {
			state := c.State
			if state == "running" {
				state = color.GreenString(state)
			} else {
				state = color.YellowString(state)
			}
			tw.Append([]string{c.Service, c.Name, c.Image, state, c.Status})
		}
		tw.Render()
		return nil
	},
}
