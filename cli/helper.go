package cli

import (
	"errors"
	"fmt"
	"os"

	ufcli "github.com/urfave/cli/v2"
)

// PrintHelpErr is an error that also asks RunApp to print the usage of the
// command that failed.
type PrintHelpErr struct {
	Err error
	Ctx *ufcli.Context
}

func (e *PrintHelpErr) Error() string {
	return e.Err.Error()
}

func (e *PrintHelpErr) Unwrap() error {
	return e.Err
}

func (e *PrintHelpErr) Is(o error) bool {
	_, ok := o.(*PrintHelpErr)
	return ok
}

func ShowHelp(cctx *ufcli.Context, err error) error {
	return &PrintHelpErr{Err: err, Ctx: cctx}
}

func IncorrectNumArgs(cctx *ufcli.Context) error {
	return ShowHelp(cctx, fmt.Errorf("incorrect number of arguments, got %d", cctx.NArg()))
}

// RunApp runs app with the process arguments and exits non-zero on error.
func RunApp(app *ufcli.App) {
	if err := app.Run(os.Args); err != nil {
		if os.Getenv("RAGFLOW_DEV") != "" {
			log.Warnf("%+v", err)
		} else {
			fmt.Fprintf(os.Stderr, "ERROR: %s\n\n", err) // nolint:errcheck
		}

		var phe *PrintHelpErr
		if errors.As(err, &phe) && phe.Ctx != nil && phe.Ctx.Command != nil {
			_ = ufcli.ShowCommandHelp(phe.Ctx, phe.Ctx.Command.Name)
		}
		os.Exit(1)
	}
}
