package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alecthomas/kong"
	"github.com/pterm/pterm"

	"github.com/peter-fm/snapbase/internal/snaperr"
	"github.com/peter-fm/snapbase/internal/workspace"
)

// openWorkspace resolves the workspace rooted at path (the working directory
// when path is empty) via workspace.New; under its implicit rules only the
// configuration file may come from an ancestor directory.
func openWorkspace(path WorkspacePath) (*workspace.Workspace, error) {
	return workspace.New(string(path))
}

func printJSON(ctx *kong.Context, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return snaperr.Wrap(err, snaperr.KindEncodingError, "could not render output")
	}
	fmt.Fprintln(ctx.Stdout, string(b))
	return nil
}

type initCmd struct{}

func (c *initCmd) Run(ctx *kong.Context, workspacePath WorkspacePath) error {
	ws, err := openWorkspace(workspacePath)
	if err != nil {
		return err
	}
	if err := ws.Init(); err != nil {
		return err
	}
	pterm.Success.WithWriter(ctx.Stdout).Printfln("initialized workspace at %s", ws.GetPath())
	return nil
}

type snapshotCmd struct {
	Source string `arg:"" help:"Path to the source file, relative to the workspace root."`
	Name   string `name:"name" help:"Explicit snapshot name. Auto-generated from the configured pattern when omitted."`
}

func (c *snapshotCmd) Run(ctx *kong.Context, workspacePath WorkspacePath) error {
	ws, err := openWorkspace(workspacePath)
	if err != nil {
		return err
	}
	summary, err := ws.CreateSnapshot(context.Background(), c.Source, c.Name)
	if err != nil {
		return err
	}
	pterm.Success.WithWriter(ctx.Stdout).Println(summary)
	return nil
}

type statsCmd struct{}

func (c *statsCmd) Run(ctx *kong.Context, workspacePath WorkspacePath) error {
	ws, err := openWorkspace(workspacePath)
	if err != nil {
		return err
	}
	stats, err := ws.Stats(context.Background())
	if err != nil {
		return err
	}
	return printJSON(ctx, stats)
}

type queryCmd struct {
	Source string `arg:"" help:"Source to query, as a union over all its snapshots."`
	SQL    string `arg:"" help:"SQL statement to execute against the union table."`
	Limit  int    `name:"limit" help:"Maximum rows returned. 0 means no cap."`
}

func (c *queryCmd) Run(ctx *kong.Context, workspacePath WorkspacePath) error {
	ws, err := openWorkspace(workspacePath)
	if err != nil {
		return err
	}
	result, err := ws.Query(context.Background(), c.Source, c.SQL, c.Limit)
	if err != nil {
		return err
	}
	return printJSON(ctx, result)
}

type statusCmd struct {
	Source   string `arg:"" help:"Source to check for uncommitted changes."`
	Baseline string `arg:"" optional:"" help:"Snapshot to compare against. Defaults to the source's most recent snapshot."`
}

func (c *statusCmd) Run(ctx *kong.Context, workspacePath WorkspacePath) error {
	ws, err := openWorkspace(workspacePath)
	if err != nil {
		return err
	}
	baseline, err := resolveBaseline(ws, c.Source, c.Baseline)
	if err != nil {
		return err
	}
	result, err := ws.Status(context.Background(), c.Source, baseline)
	if err != nil {
		return err
	}
	return printJSON(ctx, result)
}

func resolveBaseline(ws *workspace.Workspace, source, baseline string) (string, error) {
	if baseline != "" {
		return baseline, nil
	}
	names, err := ws.ListSnapshotsForSource(context.Background(), source)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", snaperr.New(snaperr.KindSnapshotNotFound, "source has no snapshots to compare against").WithSource(source)
	}
	return names[len(names)-1], nil
}

type diffCmd struct {
	Source string `arg:"" help:"Source whose snapshots are being compared."`
	From   string `arg:"" help:"Earlier snapshot name."`
	To     string `arg:"" help:"Later snapshot name."`
}

func (c *diffCmd) Run(ctx *kong.Context, workspacePath WorkspacePath) error {
	ws, err := openWorkspace(workspacePath)
	if err != nil {
		return err
	}
	result, err := ws.Diff(context.Background(), c.Source, c.From, c.To)
	if err != nil {
		return err
	}
	return printJSON(ctx, result)
}

type exportCmd struct {
	Source string `arg:"" help:"Source the snapshot belongs to."`
	File   string `name:"file" required:"" help:"Destination file path."`
	To     string `name:"to" required:"" help:"Snapshot name to export."`
	Force  bool   `name:"force" help:"Overwrite an existing destination file."`
}

func (c *exportCmd) Run(ctx *kong.Context, workspacePath WorkspacePath) error {
	ws, err := openWorkspace(workspacePath)
	if err != nil {
		return err
	}
	if err := ws.Export(context.Background(), c.Source, c.File, c.To, c.Force); err != nil {
		return err
	}
	pterm.Success.WithWriter(ctx.Stdout).Printfln("exported %q to %s", c.To, c.File)
	return nil
}
