package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/odvcencio/weave/pkg/graph"
	"github.com/odvcencio/weave/pkg/index"
	"github.com/odvcencio/weave/pkg/merge"
	"github.com/odvcencio/weave/pkg/object"
	"github.com/odvcencio/weave/pkg/repo"
	"github.com/spf13/cobra"
)

const defaultIdent = "weave <weave@localhost>"

// mergeIndexFile keeps the stages of a conflicted merge until it is
// aborted.
const mergeIndexFile = "MERGE_INDEX"

func (w *workspace) mergeIndexPath() string {
	if w.stateDir == "" {
		return ""
	}
	return filepath.Join(w.stateDir, mergeIndexFile)
}

// checkMergeIndex refuses to start a merge over unresolved stages.
func (w *workspace) checkMergeIndex() error {
	p := w.mergeIndexPath()
	if p == "" {
		return nil
	}
	ix, err := index.Load(p)
	if err != nil {
		return err
	}
	if err := merge.RequireMerged(ix); err != nil {
		return fmt.Errorf("%w (run \"weave merge --abort\")", err)
	}
	return nil
}

func (w *workspace) saveMergeIndex(ix *index.Index) error {
	if p := w.mergeIndexPath(); p != "" {
		return ix.Save(p)
	}
	return nil
}

func (a *app) mergeOptions(ws *workspace, ours, theirs string, out io.Writer) merge.Options {
	opts := ws.cfg.MergeOptions()
	opts.BranchOurs = ours
	opts.BranchTheirs = theirs
	if a.verbosity >= 0 {
		opts.Verbosity = a.verbosity
	}
	opts.Out = out
	opts.Logger = a.logger
	return opts
}

func newMergeTreeCmd(a *app) *cobra.Command {
	var base string

	cmd := &cobra.Command{
		Use:   "merge-tree <ours> <theirs>",
		Short: "Merge two trees or commits and print the resulting tree",
		Long: `Merge two trees or commits without touching any ref.

With --base the three trees are merged directly. Otherwise both names must
be commits and every common ancestor is used, recursively. The result tree
is printed first, followed by one line per conflicted stage in the form
"<mode> <hash> <stage>\t<path>". Merge messages go to stderr.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.open()
			if err != nil {
				return err
			}
			hashes, err := ws.resolve(args...)
			if err != nil {
				return err
			}
			m := merge.New(ws.db, a.mergeOptions(ws, args[0], args[1], cmd.ErrOrStderr()))

			var res *merge.Result
			if base != "" {
				b, err := ws.names.Resolve(base)
				if err != nil {
					return err
				}
				var trees [3]object.Hash
				for i, h := range []object.Hash{hashes[0], hashes[1], b} {
					if trees[i], err = treeOf(ws.db, h); err != nil {
						return err
					}
				}
				res, err = m.MergeTrees(trees[0], trees[1], trees[2])
			} else {
				_, res, err = m.MergeCommits(graph.Real(hashes[0]), graph.Real(hashes[1]))
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, res.Tree)
			printConflictStages(out, res)
			if !res.Clean {
				return errExitOne
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&base, "base", "", "merge against this tree or commit instead of the merge bases")
	return cmd
}

func printConflictStages(out io.Writer, res *merge.Result) {
	for _, p := range res.Conflicts {
		st := res.Index.Stages(p)
		for _, s := range []index.Stage{index.StageBase, index.StageOurs, index.StageTheirs} {
			if e := st[s]; e.Exists() {
				fmt.Fprintf(out, "%s %s %d\t%s\n", e.Mode, e.Hash, int(s), p)
			}
		}
	}
}

func newMergeCmd(a *app) *cobra.Command {
	var commit bool
	var abort bool
	var message string
	var author string

	cmd := &cobra.Command{
		Use:   "merge <head> <other>",
		Short: "Recursively merge two commits",
		Long: `Merge other into head using every common ancestor.

With --commit a clean merge is written as a commit with parents head and
other. When head is HEAD, the current branch is moved to it.

A conflicted merge records its stages in .weave/MERGE_INDEX and further
merges are refused until --abort discards them.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if abort {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.open()
			if err != nil {
				return err
			}
			if abort {
				p := ws.mergeIndexPath()
				if p == "" {
					return nil
				}
				if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("abort merge: %w", err)
				}
				return nil
			}
			if err := ws.checkMergeIndex(); err != nil {
				return err
			}
			hashes, err := ws.resolve(args...)
			if err != nil {
				return err
			}
			for i, h := range hashes {
				if _, err := object.ReadCommit(ws.db, h); err != nil {
					return fmt.Errorf("%s: %w", args[i], err)
				}
			}

			out := cmd.OutOrStdout()
			m := merge.New(ws.db, a.mergeOptions(ws, args[0], args[1], out))
			_, res, err := m.MergeCommits(graph.Real(hashes[0]), graph.Real(hashes[1]))
			if err != nil {
				return err
			}
			if !res.Clean {
				if err := ws.saveMergeIndex(res.Index); err != nil {
					return err
				}
				fmt.Fprintln(out, "Automatic merge failed; fix conflicts and then commit the result.")
				return errExitOne
			}
			if !commit {
				fmt.Fprintf(out, "merged tree %s\n", res.Tree)
				return nil
			}

			if message == "" {
				message = fmt.Sprintf("Merge %s into %s", args[1], args[0])
			}
			if author == "" {
				author = os.Getenv("WEAVE_AUTHOR")
			}
			if author == "" {
				author = defaultIdent
			}
			h, err := repo.WriteCommit(ws.db, res.Tree, hashes, message, repo.Signature{Ident: author})
			if err != nil {
				return err
			}
			if args[0] == "HEAD" {
				if err := ws.advance(h, "merge "+args[1]); err != nil {
					return err
				}
			}
			fmt.Fprintln(out, "Merge made by the 'recursive' strategy.")
			fmt.Fprintf(out, "[%s] %s\n", h.Short(8), strings.SplitN(message, "\n", 2)[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&commit, "commit", false, "write the merge commit when the merge is clean")
	cmd.Flags().BoolVar(&abort, "abort", false, "discard the stages of a conflicted merge")
	cmd.Flags().StringVarP(&message, "message", "m", "", "merge commit message")
	cmd.Flags().StringVar(&author, "author", "", `merge commit identity "Name <email>" (default $WEAVE_AUTHOR)`)
	return cmd
}

func newMergeBaseCmd(a *app) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "merge-base <a> <b>",
		Short: "Print the best common ancestor of two commits",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.open()
			if err != nil {
				return err
			}
			hashes, err := ws.resolve(args...)
			if err != nil {
				return err
			}
			bases, err := graph.New(ws.db, a.logger).MergeBases(graph.Real(hashes[0]), graph.Real(hashes[1]))
			if err != nil {
				return err
			}
			if len(bases) == 0 {
				return errExitOne
			}
			if !all {
				bases = bases[:1]
			}
			for _, b := range bases {
				fmt.Fprintln(cmd.OutOrStdout(), b.Hash())
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "print every merge base, newest first")
	return cmd
}
