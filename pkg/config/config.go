// Package config loads weave settings from TOML files and the environment
// and turns them into engine options.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	"github.com/odvcencio/weave/pkg/blame"
	"github.com/odvcencio/weave/pkg/diff3"
	"github.com/odvcencio/weave/pkg/merge"
	"github.com/odvcencio/weave/pkg/object"
	"github.com/odvcencio/weave/pkg/treediff"
)

// FileName is the name of a config file inside a repository or the user
// config directory.
const FileName = "config.toml"

// Environment overrides.
const (
	EnvMergeVerbosity = "WEAVE_MERGE_VERBOSITY"
	EnvRenameLimit    = "WEAVE_RENAME_LIMIT"
)

// Config is the full set of settings.
type Config struct {
	Merge MergeConfig `toml:"merge"`
	Diff  DiffConfig  `toml:"diff"`
	Blame BlameConfig `toml:"blame"`
	Core  CoreConfig  `toml:"core"`
}

type MergeConfig struct {
	Verbosity      int    `toml:"verbosity"`
	RenameLimit    int    `toml:"rename_limit"`
	RenameScore    int    `toml:"rename_score"`
	ConflictStyle  string `toml:"conflict_style"`
	MarkerSize     int    `toml:"marker_size"`
	Favor          string `toml:"favor"`
	RenormalizeEOL bool   `toml:"renormalize_eol"`
	Tool           string `toml:"tool"`
}

type DiffConfig struct {
	Renames          bool `toml:"renames"`
	Copies           bool `toml:"copies"`
	FindCopiesHarder bool `toml:"find_copies_harder"`
	Minimal          bool `toml:"minimal"`
}

type BlameConfig struct {
	MoveScore  int    `toml:"move_score"`
	CopyScore  int    `toml:"copy_score"`
	DetectMove bool   `toml:"detect_move"`
	DetectCopy bool   `toml:"detect_copy"`
	CopyHarder bool   `toml:"copy_harder"`
	ShowRoot   bool   `toml:"show_root"`
	DateFormat string `toml:"date_format"`
}

type CoreConfig struct {
	Compression string `toml:"compression"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Merge: MergeConfig{
			Verbosity:     merge.DefaultVerbosity,
			RenameLimit:   merge.DefaultRenameLimit,
			RenameScore:   50,
			ConflictStyle: "merge",
			MarkerSize:    diff3.DefaultMarkerSize,
		},
		Diff: DiffConfig{Renames: true},
		Blame: BlameConfig{
			MoveScore:  blame.DefaultMoveScore,
			CopyScore:  blame.DefaultCopyScore,
			DateFormat: "iso",
		},
		Core: CoreConfig{Compression: "zstd"},
	}
}

// UserPath returns the per-user config file path, or "" when no home
// directory is known.
func UserPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "weave", FileName)
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".config", "weave", FileName)
}

// Load builds the effective config: defaults, then the user file, then
// repoFile, then explicit, then the environment. Missing user and repo
// files are skipped; a missing explicit file is an error. Empty paths
// are skipped.
func Load(repoFile, explicit string) (*Config, error) {
	cfg := Default()
	for _, p := range []string{UserPath(), repoFile} {
		if p == "" {
			continue
		}
		if err := cfg.merge(p); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	if explicit != "" {
		if err := cfg.merge(explicit); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// merge decodes the file at p over cfg. Keys absent from the file keep
// their current value.
func (c *Config) merge(p string) error {
	data, err := os.ReadFile(p)
	if err != nil {
		return err
	}
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return fmt.Errorf("config %s: %w", p, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("config %s: unknown keys %s", p, strings.Join(keys, ", "))
	}
	return nil
}

func (c *Config) applyEnv() error {
	var result *multierror.Error
	if v, ok := os.LookupEnv(EnvMergeVerbosity); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", EnvMergeVerbosity, err))
		} else {
			c.Merge.Verbosity = n
		}
	}
	if v, ok := os.LookupEnv(EnvRenameLimit); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", EnvRenameLimit, err))
		} else {
			c.Merge.RenameLimit = n
		}
	}
	return result.ErrorOrNil()
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	bad := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if c.Merge.Verbosity < 0 || c.Merge.Verbosity > 5 {
		bad("merge.verbosity: %d is outside 0..5", c.Merge.Verbosity)
	}
	if c.Merge.RenameLimit < 0 {
		bad("merge.rename_limit: %d is negative", c.Merge.RenameLimit)
	}
	if c.Merge.RenameScore < 0 || c.Merge.RenameScore > 100 {
		bad("merge.rename_score: %d is not a percentage", c.Merge.RenameScore)
	}
	if _, ok := styles[c.Merge.ConflictStyle]; !ok {
		bad("merge.conflict_style: unknown style %q", c.Merge.ConflictStyle)
	}
	if c.Merge.MarkerSize < 1 {
		bad("merge.marker_size: %d is too small", c.Merge.MarkerSize)
	}
	if _, ok := favors[c.Merge.Favor]; !ok {
		bad("merge.favor: unknown value %q", c.Merge.Favor)
	}
	if c.Blame.MoveScore < 0 {
		bad("blame.move_score: %d is negative", c.Blame.MoveScore)
	}
	if c.Blame.CopyScore < 0 {
		bad("blame.copy_score: %d is negative", c.Blame.CopyScore)
	}
	if _, ok := dateStyles[c.Blame.DateFormat]; !ok {
		bad("blame.date_format: unknown format %q", c.Blame.DateFormat)
	}
	switch c.Core.Compression {
	case "none", "zstd":
	default:
		bad("core.compression: unknown compression %q", c.Core.Compression)
	}
	return result.ErrorOrNil()
}

var (
	styles = map[string]diff3.Style{
		"merge": diff3.StyleMerge,
		"diff3": diff3.StyleDiff3,
	}
	favors = map[string]diff3.Favor{
		"":       diff3.FavorNone,
		"ours":   diff3.FavorOurs,
		"theirs": diff3.FavorTheirs,
		"union":  diff3.FavorUnion,
	}
	dateStyles = map[string]blame.DateStyle{
		"iso":      blame.DateNormal,
		"unix":     blame.DateRaw,
		"relative": blame.DateRelative,
	}
)

// MergeOptions returns merge options for the configured settings. Branch
// names, output and logger are left to the caller.
func (c *Config) MergeOptions() merge.Options {
	opts := merge.DefaultOptions()
	opts.Verbosity = c.Merge.Verbosity
	opts.RenameLimit = c.Merge.RenameLimit
	opts.RenameScore = c.Merge.RenameScore * treediff.MaxScore / 100
	opts.Style = styles[c.Merge.ConflictStyle]
	opts.MarkerSize = c.Merge.MarkerSize
	opts.Favor = favors[c.Merge.Favor]
	opts.Minimal = c.Diff.Minimal
	opts.Tool = c.Merge.Tool
	opts.Renormalize = c.Merge.RenormalizeEOL
	return opts
}

// DiffOptions returns tree diff options for the configured settings.
func (c *Config) DiffOptions() treediff.Options {
	return treediff.Options{
		Renames:          c.Diff.Renames || c.Diff.Copies,
		Copies:           c.Diff.Copies || c.Diff.FindCopiesHarder,
		FindCopiesHarder: c.Diff.FindCopiesHarder,
		MinScore:         c.Merge.RenameScore * treediff.MaxScore / 100,
		RenameLimit:      c.Merge.RenameLimit,
	}
}

// BlameOptions returns blame options for the configured settings.
func (c *Config) BlameOptions() blame.Options {
	return blame.Options{
		Move:       c.Blame.DetectMove,
		Copy:       c.Blame.DetectCopy,
		CopyHarder: c.Blame.CopyHarder,
		MoveScore:  c.Blame.MoveScore,
		CopyScore:  c.Blame.CopyScore,
		ShowRoot:   c.Blame.ShowRoot,
	}
}

// FormatOptions returns blame output options for the configured settings.
func (c *Config) FormatOptions() blame.FormatOptions {
	return blame.FormatOptions{Date: dateStyles[c.Blame.DateFormat]}
}

// StoreOptions returns loose object store options.
func (c *Config) StoreOptions() []object.StoreOption {
	return []object.StoreOption{object.WithCompression(c.Core.Compression == "zstd")}
}

// Save writes cfg to p atomically.
func Save(p string, cfg *Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("write config: encode: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".config-tmp-*")
	if err != nil {
		return fmt.Errorf("write config: tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write config: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: close: %w", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: rename: %w", err)
	}
	return nil
}
