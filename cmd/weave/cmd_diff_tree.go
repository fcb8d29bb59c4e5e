package main

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ianbruene/go-difflib/difflib"
	"github.com/odvcencio/weave/pkg/diff"
	"github.com/odvcencio/weave/pkg/object"
	"github.com/odvcencio/weave/pkg/treediff"
	"github.com/spf13/cobra"
)

func newDiffTreeCmd(a *app) *cobra.Command {
	var (
		renames     string
		copies      string
		harder      bool
		noRenames   bool
		renameLimit int
		patch       bool
		context     int
	)

	cmd := &cobra.Command{
		Use:   "diff-tree <a> <b>",
		Short: "Compare two trees, detecting renames and copies",
		Long: `Compare two trees (or the trees of two commits).

Each change is printed as its status letter and path; renames and copies
carry their similarity, as in "R087 old -> new". Detection defaults come
from the [diff] config section. Similarity thresholds are percentages:
-M=60 accepts pairs that are at least 60% similar.`,
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
			var trees [2]object.Hash
			for i, h := range hashes {
				if trees[i], err = treeOf(ws.db, h); err != nil {
					return err
				}
			}

			opts := ws.cfg.DiffOptions()
			opts.Logger = a.logger
			flags := cmd.Flags()
			if flags.Changed("find-renames") {
				opts.Renames = true
				if opts.MinScore, err = treediff.ParseScore(renames); err != nil {
					return err
				}
			}
			if flags.Changed("find-copies") {
				opts.Renames, opts.Copies = true, true
				if opts.MinScore, err = treediff.ParseScore(copies); err != nil {
					return err
				}
			}
			if harder {
				opts.Renames, opts.Copies, opts.FindCopiesHarder = true, true, true
			}
			if noRenames {
				opts.Renames, opts.Copies, opts.FindCopiesHarder = false, false, false
			}
			if flags.Changed("rename-limit") {
				opts.RenameLimit = renameLimit
			}

			changes, err := treediff.Diff(ws.db, trees[0], trees[1], opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, c := range changes {
				fmt.Fprintln(out, c)
				if patch {
					if err := writePatch(out, ws.db, c, context); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&renames, "find-renames", "M", "", "detect renames, optionally with a similarity `percent` (-M=60)")
	f.Lookup("find-renames").NoOptDefVal = "50"
	f.StringVarP(&copies, "find-copies", "C", "", "detect copies from modified files (-C=60)")
	f.Lookup("find-copies").NoOptDefVal = "50"
	f.BoolVar(&harder, "find-copies-harder", false, "also consider unmodified files as copy sources")
	f.BoolVar(&noRenames, "no-renames", false, "turn off rename and copy detection")
	f.IntVarP(&renameLimit, "rename-limit", "l", 0, "skip inexact detection above this many candidates")
	f.BoolVarP(&patch, "patch", "p", false, "print a unified diff for every change")
	f.IntVarP(&context, "unified", "U", 3, "lines of context in patches")
	return cmd
}

// writePatch prints the unified diff of one change.
func writePatch(out io.Writer, db object.Reader, c treediff.Change, context int) error {
	fromName, toName := "/dev/null", "/dev/null"
	if c.From.Exists() {
		fromName = "a/" + c.From.Path
	}
	if c.To.Exists() {
		toName = "b/" + c.To.Path
	}

	from, err := patchSide(db, c.From)
	if err != nil {
		return err
	}
	to, err := patchSide(db, c.To)
	if err != nil {
		return err
	}
	if bytes.IndexByte(from, 0) >= 0 || bytes.IndexByte(to, 0) >= 0 {
		_, err := fmt.Fprintf(out, "Binary files %s and %s differ\n", fromName, toName)
		return err
	}
	if bytes.Equal(from, to) {
		return nil
	}

	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        patchLines(from),
		B:        patchLines(to),
		FromFile: fromName,
		ToFile:   toName,
		Context:  context,
	})
	if err != nil {
		return fmt.Errorf("patch %s: %w", c.Path(), err)
	}
	_, err = io.WriteString(out, text)
	return err
}

// patchLines splits content into terminated lines.
func patchLines(content []byte) []string {
	lines := diff.Lines(content)
	if n := len(lines); n > 0 && !strings.HasSuffix(lines[n-1], "\n") {
		lines[n-1] += "\n"
	}
	return lines
}

func patchSide(db object.Reader, e treediff.Entry) ([]byte, error) {
	if !e.Exists() || object.ModeKind(e.Mode) == object.KindGitlink {
		return nil, nil
	}
	return object.ReadBlob(db, e.Hash)
}
