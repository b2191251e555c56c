package source

import (
	"context"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/peter-fm/snapbase/internal/columnar"
	"github.com/peter-fm/snapbase/internal/snaperr"
)

// Option configures Read.
type Option func(*readOptions)

type readOptions struct {
	fs        afero.Fs
	rowBudget int
}

// WithFS overrides the filesystem Read resolves paths against. Defaults to
// afero.NewOsFs().
func WithFS(fs afero.Fs) Option {
	return func(o *readOptions) { o.fs = fs }
}

// WithRowBudget overrides columnar.DefaultRowBudget.
func WithRowBudget(n int) Option {
	return func(o *readOptions) { o.rowBudget = n }
}

// Read resolves sourcePath to an absolute path under workspaceRoot, detects
// its format, and materializes it into a uniform columnar.Table. ctx is
// checked between batches as they are built.
func Read(ctx context.Context, workspaceRoot, sourcePath string, opts ...Option) (Format, *columnar.Table, error) {
	ro := readOptions{fs: afero.NewOsFs(), rowBudget: columnar.DefaultRowBudget}
	for _, o := range opts {
		o(&ro)
	}

	if err := snaperr.CheckContext(ctx); err != nil {
		return "", nil, err
	}

	abs := sourcePath
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(workspaceRoot, sourcePath)
	}

	exists, err := afero.Exists(ro.fs, abs)
	if err != nil {
		return "", nil, snaperr.Wrap(err, snaperr.KindIoError, "could not stat source").WithPath(abs)
	}
	if !exists {
		return "", nil, snaperr.New(snaperr.KindFileNotFound, "source file does not exist").WithPath(abs)
	}

	format, err := Detect(ro.fs, abs)
	if err != nil {
		return "", nil, err
	}

	table, err := readFormat(ctx, ro.fs, abs, format, ro.rowBudget)
	if err != nil {
		return "", nil, err
	}
	return format, table, nil
}

func readFormat(ctx context.Context, fs afero.Fs, abs string, format Format, rowBudget int) (*columnar.Table, error) {
	switch format {
	case FormatCSV:
		return readDelimited(ctx, fs, abs, ',', rowBudget)
	case FormatTSV:
		return readDelimited(ctx, fs, abs, '\t', rowBudget)
	case FormatJSON:
		return readJSON(ctx, fs, abs, rowBudget)
	case FormatNDJSON:
		return readNDJSON(ctx, fs, abs, rowBudget)
	case FormatXLSX, FormatXLS:
		return readSpreadsheet(ctx, fs, abs, format, rowBudget)
	case FormatParquet:
		return readParquet(ctx, abs, rowBudget)
	default:
		return nil, snaperr.New(snaperr.KindUnsupportedFormat, "unsupported source format: "+string(format)).WithPath(abs)
	}
}
