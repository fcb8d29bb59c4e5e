package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/odvcencio/weave/pkg/config"
	"github.com/odvcencio/weave/pkg/gitstore"
	"github.com/odvcencio/weave/pkg/object"
	"github.com/odvcencio/weave/pkg/repo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// errExitOne makes the process exit with status 1 without printing an
// error, after the command has reported the outcome itself (conflicts, no
// merge base).
var errExitOne = errors.New("exit status 1")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errExitOne) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// app carries the global flags.
type app struct {
	gitDir     string
	configPath string
	debug      bool
	verbosity  int
	logger     *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{logger: zap.NewNop()}
	root := &cobra.Command{
		Use:           "weave",
		Short:         "Three-way merge, rename-aware tree diff and line blame",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !a.debug {
				return nil
			}
			logger, err := zap.NewDevelopment()
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.gitDir, "git", "", "operate on the git repository at `dir` instead of .weave")
	flags.StringVar(&a.configPath, "config", "", "read settings from this TOML `file` last")
	flags.BoolVar(&a.debug, "debug", false, "log engine decisions to stderr")
	flags.IntVarP(&a.verbosity, "verbosity", "v", -1, "merge message verbosity 0..5 (default from config)")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newMergeTreeCmd(a))
	root.AddCommand(newMergeCmd(a))
	root.AddCommand(newMergeFileCmd(a))
	root.AddCommand(newMergeBaseCmd(a))
	root.AddCommand(newDiffTreeCmd(a))
	root.AddCommand(newBlameCmd(a))
	root.AddCommand(newReflogCmd(a))
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "weave 0.1.0-dev")
		},
	}
}

// workspace is an opened object database, either a .weave repository or a
// git repository.
type workspace struct {
	db    object.Database
	names object.Resolver
	cfg   *config.Config
	// advance moves HEAD's branch to a new commit.
	advance func(h object.Hash, reason string) error
	// stateDir holds merge state between commands; empty for git
	// repositories.
	stateDir string
}

func (a *app) open() (*workspace, error) {
	if a.gitDir != "" {
		s, err := gitstore.Open(a.gitDir)
		if err != nil {
			return nil, err
		}
		cfg, err := config.Load("", a.configPath)
		if err != nil {
			return nil, err
		}
		return &workspace{
			db:      s,
			names:   s,
			cfg:     cfg,
			advance: func(h object.Hash, _ string) error { return s.Advance(h) },
		}, nil
	}

	r, err := repo.Open(".", a.configPath)
	if err != nil {
		return nil, err
	}
	return &workspace{db: r.Store, names: r, cfg: r.Config, advance: r.Advance, stateDir: r.Dir}, nil
}

// resolve turns revision names into hashes.
func (w *workspace) resolve(names ...string) ([]object.Hash, error) {
	out := make([]object.Hash, len(names))
	for i, name := range names {
		h, err := w.names.Resolve(name)
		if err != nil {
			return nil, err
		}
		out[i] = h
	}
	return out, nil
}

// treeOf peels a commit to its tree; trees are returned as is.
func treeOf(db object.Reader, h object.Hash) (object.Hash, error) {
	typ, _, err := db.Read(h)
	if err != nil {
		return "", err
	}
	switch typ {
	case object.TypeTree:
		return h, nil
	case object.TypeCommit:
		return object.CommitTree(db, h)
	default:
		return "", fmt.Errorf("%s is a %s, not a tree or commit: %w", h.Short(12), typ, object.ErrTypeMismatch)
	}
}
