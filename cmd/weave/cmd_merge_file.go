package main

import (
	"fmt"
	"os"

	"github.com/odvcencio/weave/pkg/config"
	"github.com/odvcencio/weave/pkg/diff3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMergeFileCmd(a *app) *cobra.Command {
	var (
		toStdout   bool
		diff3Style bool
		ours       bool
		theirs     bool
		union      bool
		labels     []string
		markerSize int
	)

	cmd := &cobra.Command{
		Use:   "merge-file <base> <ours> <theirs>",
		Short: "Three-way merge of plain files",
		Long: `Merge the changes from base to theirs into ours.

The result replaces ours unless -p is given. Labels given with -L name
base, ours and theirs in that order and default to the file names.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(labels) > 3 {
				return fmt.Errorf("at most three -L labels")
			}
			cfg, err := config.Load("", a.configPath)
			if err != nil {
				return err
			}
			opts := cfg.MergeOptions()

			var data [3][]byte
			for i, p := range args {
				if data[i], err = os.ReadFile(p); err != nil {
					return err
				}
			}
			names := append([]string(nil), args...)
			copy(names, labels)

			d := diff3.Options{
				BaseLabel:   names[0],
				OursLabel:   names[1],
				TheirsLabel: names[2],
				MarkerSize:  opts.MarkerSize,
				Style:       opts.Style,
				Favor:       opts.Favor,
				Minimal:     opts.Minimal,
			}
			if cmd.Flags().Changed("marker-size") {
				d.MarkerSize = markerSize
			}
			if diff3Style {
				d.Style = diff3.StyleDiff3
			}
			switch {
			case ours:
				d.Favor = diff3.FavorOurs
			case theirs:
				d.Favor = diff3.FavorTheirs
			case union:
				d.Favor = diff3.FavorUnion
			}

			res := diff3.Merge(data[0], data[1], data[2], d)
			a.logger.Debug("merge file",
				zap.String("ours", args[1]),
				zap.Int("conflicts", res.Conflicts))

			if toStdout {
				if _, err := cmd.OutOrStdout().Write(res.Merged); err != nil {
					return err
				}
			} else if err := os.WriteFile(args[1], res.Merged, 0o644); err != nil {
				return err
			}
			if res.HasConflicts {
				fmt.Fprintf(cmd.ErrOrStderr(), "%d conflict(s) in %s\n", res.Conflicts, args[1])
				return errExitOne
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.BoolVarP(&toStdout, "stdout", "p", false, "print the result instead of overwriting ours")
	f.BoolVar(&diff3Style, "diff3", false, "include the base section in conflicts")
	f.BoolVar(&ours, "ours", false, "resolve conflicts in favor of ours")
	f.BoolVar(&theirs, "theirs", false, "resolve conflicts in favor of theirs")
	f.BoolVar(&union, "union", false, "resolve conflicts by keeping both sides")
	f.StringArrayVarP(&labels, "label", "L", nil, "conflict marker label (base, ours, theirs)")
	f.IntVar(&markerSize, "marker-size", diff3.DefaultMarkerSize, "conflict marker length")
	cmd.MarkFlagsMutuallyExclusive("ours", "theirs", "union")
	return cmd
}
