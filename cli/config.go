package cli

import (
	logging "github.com/ipfs/go-log/v2"
	"github.com/mitchellh/go-homedir"
	ufcli "github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/ragflow/ragflow/lib/rflog"
	"github.com/ragflow/ragflow/node/config"
)

var log = logging.Logger("cli")

const (
	FlagEnvFile     = "env-file"
	FlagLogLevel    = "log-level"
	FlagMetricsAddr = "metrics-addr"
)

// CommonFlags are accepted by every pipeline binary.
var CommonFlags = []ufcli.Flag{
	&ufcli.StringSliceFlag{
		Name:  FlagEnvFile,
		Usage: "load variables from these files; variables already set win",
		Value: ufcli.NewStringSlice(".env"),
	},
	&ufcli.StringFlag{
		Name:  FlagLogLevel,
		Usage: "log level of every subsystem, overrides LOG_LEVEL",
	},
	&ufcli.StringFlag{
		Name:  FlagMetricsAddr,
		Usage: "serve /metrics and /healthz on this address, overrides METRICS_ADDR",
	},
}

// LoadConfig fills cfg, which should hold defaults, from the --env-file
// files and the environment. The common flags then override common, which
// must point into cfg, and the log level is applied.
func LoadConfig(cctx *ufcli.Context, cfg interface{}, common *config.CommonCfg) error {
	var files []string
	for _, f := range cctx.StringSlice(FlagEnvFile) {
		p, err := ExpandPath(f)
		if err != nil {
			return err
		}
		files = append(files, p)
	}

	if err := config.LoadDotEnv(files...); err != nil {
		return err
	}
	if err := config.FromEnv(cfg); err != nil {
		return err
	}

	if cctx.IsSet(FlagLogLevel) {
		common.LogLevel = cctx.String(FlagLogLevel)
	}
	if cctx.IsSet(FlagMetricsAddr) {
		common.MetricsAddr = cctx.String(FlagMetricsAddr)
	}
	rflog.Configure(common.LogLevel)

	return nil
}

// ExpandPath expands a leading ~ in path. Empty stays empty.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	p, err := homedir.Expand(path)
	if err != nil {
		return "", xerrors.Errorf("could not expand home dir (%s): %w", path, err)
	}
	return p, nil
}
