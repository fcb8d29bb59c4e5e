package main

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/odvcencio/weave/pkg/repo"
	"github.com/spf13/cobra"
)

func newReflogCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "reflog [ref]",
		Short: "Show the recorded updates of a ref, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.gitDir != "" {
				return errors.New("reflog: only available in weave repositories")
			}
			r, err := repo.Open(".", a.configPath)
			if err != nil {
				return err
			}
			ref := "HEAD"
			if len(args) > 0 {
				ref = args[0]
			}
			entries, err := r.ReadReflog(ref, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, e := range entries {
				fmt.Fprintf(out, "%s %s@{%d}: %s (%s)\n", e.NewHash.Short(12), ref, i, e.Reason, humanize.Time(e.When))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "max-count", "n", 0, "show at most `n` entries")
	return cmd
}
