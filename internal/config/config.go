// Package config resolves a user-supplied workspace path into a workspace
// context: an absolute workspace root plus an effective configuration,
// following explicit/implicit resolution rules. It reads the process's
// current working directory only when the caller passes no origin
// directory (WithOriginDir); passing one makes resolution fully testable.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"

	"github.com/peter-fm/snapbase/internal/snaperr"
)

// ConfigFileName is the name of a workspace's configuration file, searched
// for in the workspace root and, for implicit resolution only, in its
// ancestors.
const ConfigFileName = "snapbase.toml"

// Source identifies where an effective Config came from.
type Source string

// The two possible values for Context.ConfigSource.
const (
	SourceWorkspace Source = "workspace"
	SourceDefault   Source = "default"
)

const (
	errMalformedConfig  = "malformed configuration file"
	errUnreadableConfig = "could not read configuration file"
)

// StorageConfig is the `[storage]` table of snapbase.toml.
type StorageConfig struct {
	// Backend selects the storage implementation. Only "local" is
	// implemented; any other value is accepted and ignored until an
	// alternate backend is registered.
	Backend string `toml:"backend"`
	// Path is the workspace-relative directory holding snapshot data.
	Path string `toml:"path"`
}

// SnapshotConfig is the `[snapshot]` table of snapbase.toml.
type SnapshotConfig struct {
	// DefaultNamePattern is expanded with {source}, {format}, {seq}, and
	// {timestamp} tokens when a snapshot name isn't supplied explicitly.
	DefaultNamePattern string `toml:"default_name_pattern"`
}

// Config is the full set of resolved workspace options.
type Config struct {
	Storage  StorageConfig  `toml:"storage"`
	Snapshot SnapshotConfig `toml:"snapshot"`
	// Databases is a reserved mapping, not interpreted further by this
	// engine; it is preserved on load so that round-tripping a config file
	// never drops operator-authored entries.
	Databases map[string]any `toml:"databases"`
}

// Defaults returns the built-in default configuration.
func Defaults() Config {
	return Config{
		Storage: StorageConfig{
			Backend: "local",
			Path:    ".snapbase",
		},
		Snapshot: SnapshotConfig{
			DefaultNamePattern: "{source}_{format}_{seq}_{timestamp}",
		},
	}
}

// fillDefaults copies any zero-valued fields in c from the built-in
// defaults.
func fillDefaults(c Config) Config {
	d := Defaults()
	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	if c.Storage.Path == "" {
		c.Storage.Path = d.Storage.Path
	}
	if c.Snapshot.DefaultNamePattern == "" {
		c.Snapshot.DefaultNamePattern = d.Snapshot.DefaultNamePattern
	}
	return c
}

// Context is the resolved workspace context returned by Resolve: an
// absolute workspace root plus the effective configuration and its
// provenance.
type Context struct {
	// WorkspacePath is the canonicalized, absolute workspace root.
	WorkspacePath string
	// Config is the effective, defaults-filled configuration.
	Config Config
	// ConfigSource records whether Config came from a file on disk or from
	// built-in defaults.
	ConfigSource Source
	// ConfigPath is the absolute path to the config file that was loaded,
	// or "" if ConfigSource is SourceDefault.
	ConfigPath string
}

// Info is the stable, JSON-serializable probe returned by
// Context.GetConfigInfo.
type Info struct {
	ConfigSource  string `json:"config_source"`
	ConfigPath    string `json:"config_path,omitempty"`
	WorkspacePath string `json:"workspace_path"`
}

// GetConfigInfo returns the stable probe object tests assert against.
func (c *Context) GetConfigInfo() Info {
	return Info{
		ConfigSource:  string(c.ConfigSource),
		ConfigPath:    c.ConfigPath,
		WorkspacePath: c.WorkspacePath,
	}
}

// Option configures Resolve.
type Option func(*resolveOptions)

type resolveOptions struct {
	fs     afero.Fs
	origin string
}

// WithFS overrides the filesystem Resolve reads from. Defaults to
// afero.NewOsFs().
func WithFS(fs afero.Fs) Option {
	return func(o *resolveOptions) { o.fs = fs }
}

// WithOriginDir overrides the directory relative paths and empty input are
// resolved against. Defaults to the process's current working directory.
// Passing this explicitly (rather than reading os.Getwd internally) is what
// makes Resolve testable without mutating process-global state.
func WithOriginDir(dir string) Option {
	return func(o *resolveOptions) { o.origin = dir }
}

// Resolve distinguishes two workspace-origin variants rather than branching
// on an empty-string check at deep call sites: an empty/whitespace path is
// the *implicit* variant (may search ancestors and inherit a parent's
// config); any other path is the *explicit* variant, which never inherits.
// The explicit rule is load-bearing: it prevents a subdirectory workspace
// from being hijacked by an ancestor's configuration.
func Resolve(path string, opts ...Option) (*Context, error) {
	ro := resolveOptions{fs: afero.NewOsFs()}
	for _, o := range opts {
		o(&ro)
	}
	if ro.origin == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, snaperr.Wrap(err, snaperr.KindConfigError, "could not determine origin directory")
		}
		ro.origin = wd
	}

	implicit := strings.TrimSpace(path) == ""

	var target string
	if implicit {
		target = canonicalize(ro.origin)
	} else if filepath.IsAbs(path) {
		target = canonicalize(path)
	} else {
		target = canonicalize(filepath.Join(ro.origin, path))
	}

	cfg, source, configPath, err := load(ro.fs, target, implicit)
	if err != nil {
		return nil, err
	}

	return &Context{
		WorkspacePath: target,
		Config:        fillDefaults(cfg),
		ConfigSource:  source,
		ConfigPath:    configPath,
	}, nil
}

// canonicalize produces an absolute, cleaned path without resolving
// symlinks: the workspace path is taken as the user named it.
func canonicalize(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return filepath.Clean(abs)
}

// load locates and parses the effective configuration for target: the
// file directly inside target, an ancestor's file (implicit mode only), or
// the built-in defaults.
func load(fs afero.Fs, target string, implicit bool) (Config, Source, string, error) {
	if cfg, path, ok, err := tryLoad(fs, target); err != nil {
		return Config{}, "", "", err
	} else if ok {
		return cfg, SourceWorkspace, path, nil
	}

	if implicit {
		dir := target
		for {
			parent := filepath.Dir(dir)
			if parent == dir {
				break // reached filesystem root
			}
			dir = parent
			if cfg, path, ok, err := tryLoad(fs, dir); err != nil {
				return Config{}, "", "", err
			} else if ok {
				return cfg, SourceWorkspace, path, nil
			}
		}
	}

	return Defaults(), SourceDefault, "", nil
}

// tryLoad attempts to load ConfigFileName directly inside dir. ok is false,
// with no error, if the file simply doesn't exist there.
func tryLoad(fs afero.Fs, dir string) (cfg Config, path string, ok bool, err error) {
	path = filepath.Join(dir, ConfigFileName)
	info, statErr := fs.Stat(path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return Config{}, "", false, nil
		}
		return Config{}, "", false, snaperr.Wrap(statErr, snaperr.KindConfigError, errUnreadableConfig).WithPath(path)
	}
	if info.IsDir() {
		return Config{}, "", false, nil
	}

	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return Config{}, "", false, snaperr.Wrap(err, snaperr.KindConfigError, errUnreadableConfig).WithPath(path)
	}

	var c Config
	if _, err := toml.Decode(string(b), &c); err != nil {
		return Config{}, "", false, snaperr.Wrap(err, snaperr.KindConfigError, errMalformedConfig).WithPath(path)
	}
	return c, path, true, nil
}
