// Command snapbase is the CLI: init, snapshot, status, diff, query,
// export, and stats, each a thin layer over the internal/workspace
// façade.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"
	"github.com/pterm/pterm"

	"github.com/peter-fm/snapbase/internal/snaperr"
)

// WorkspacePath is the bound value commands.go's Run methods receive: the
// --workspace flag, or "" to resolve implicitly from the working
// directory.
type WorkspacePath string

type cli struct {
	Workspace string `name:"workspace" short:"w" help:"Workspace root. Resolved implicitly from the working directory (and its ancestors) when omitted."`
	Pretty    bool   `name:"pretty" help:"Enable colored/styled output."`
	Quiet     bool   `short:"q" name:"quiet" help:"Suppress all output."`

	Init     initCmd     `cmd:"" help:"Initialize the workspace's storage prefix."`
	Snapshot snapshotCmd `cmd:"" help:"Commit a named immutable snapshot of a source."`
	Status   statusCmd   `cmd:"" help:"Diff a source's current on-disk state against a baseline snapshot."`
	Diff     diffCmd     `cmd:"" help:"Diff two snapshots of a source."`
	Query    queryCmd    `cmd:"" help:"Run a SQL query over the union of a source's snapshots."`
	Export   exportCmd   `cmd:"" help:"Export a named snapshot's payload to a file."`
	Stats    statsCmd    `cmd:"" help:"Print workspace-wide snapshot statistics."`
}

// AfterApply configures global output settings before any command runs.
func (c *cli) AfterApply(ctx *kong.Context) error {
	if c.Quiet {
		ctx.Stdout = io.Discard
	}
	if !c.Pretty {
		pterm.DisableStyling()
	}
	ctx.Bind(WorkspacePath(c.Workspace))
	return nil
}

func main() {
	c := cli{}
	parser := kong.Must(&c,
		kong.Name("snapbase"),
		kong.Description("Content-addressed, immutable snapshots over tabular sources."),
		kong.UsageOnError(),
	)

	kongCtx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	runErr := kongCtx.Run()
	if runErr == nil {
		return
	}

	fmt.Fprintln(os.Stderr, runErr.Error())
	os.Exit(exitCode(runErr))
}

// Exit codes: 0 success, 2 usage error, 3 not found, 4
// conflict, 5 I/O error.
const (
	exitUsageError = 2
	exitNotFound   = 3
	exitConflict   = 4
	exitIOError    = 5
)

func exitCode(err error) int {
	var e *snaperr.Error
	if !errors.As(err, &e) {
		return exitUsageError
	}
	switch e.Kind {
	case snaperr.KindFileNotFound, snaperr.KindSnapshotNotFound, snaperr.KindTableNotFound:
		return exitNotFound
	case snaperr.KindDuplicateSnapshot, snaperr.KindFileExists, snaperr.KindAmbiguousName, snaperr.KindResourceBusy:
		return exitConflict
	case snaperr.KindIoError, snaperr.KindEncodingError:
		return exitIOError
	default:
		return exitUsageError
	}
}
