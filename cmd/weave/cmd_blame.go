package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/odvcencio/weave/pkg/blame"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// defaultMoveArg is the value of a bare -M; it keeps the configured score.
var defaultMoveArg = strconv.Itoa(blame.DefaultMoveScore)

var blameDates = map[string]blame.DateStyle{
	"iso":      blame.DateNormal,
	"unix":     blame.DateRaw,
	"raw":      blame.DateRaw,
	"relative": blame.DateRelative,
}

func newBlameCmd(a *app) *cobra.Command {
	var (
		lines       string
		moves       string
		copies      int
		copyScore   int
		root        bool
		since       string
		stops       []string
		incremental bool
		porcelain   bool
		date        string
		format      blame.FormatOptions
	)

	cmd := &cobra.Command{
		Use:   "blame [<rev>] [--] <path>",
		Short: "Show which commit last changed each line of a file",
		Long: `Annotate each line of path as of rev (default HEAD) with the commit
that introduced it.

-M looks for lines moved within a file; -C also looks in files the same
commit changed, and -C -C in every file of the parent. Both accept a
minimum number of alphanumeric characters a moved block must carry.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rev, path := "HEAD", args[len(args)-1]
			if len(args) == 2 {
				rev = args[0]
			}

			ws, err := a.open()
			if err != nil {
				return err
			}
			start, err := ws.names.Resolve(rev)
			if err != nil {
				return err
			}

			opts := ws.cfg.BlameOptions()
			opts.Logger = a.logger
			opts.RangeSpec = lines
			flags := cmd.Flags()
			if flags.Changed("move") {
				opts.Move = true
				if moves != defaultMoveArg {
					if opts.MoveScore, err = strconv.Atoi(moves); err != nil {
						return fmt.Errorf("-M: bad score %q", moves)
					}
				}
			}
			if copies > 0 {
				opts.Copy = true
			}
			if copies > 1 {
				opts.CopyHarder = true
			}
			if flags.Changed("copy-score") {
				opts.CopyScore = copyScore
			}
			if flags.Changed("root") {
				opts.ShowRoot = root
			}
			if since != "" {
				if opts.Since, err = parseSince(since, time.Now()); err != nil {
					return err
				}
			}
			if len(stops) > 0 {
				if opts.Stop, err = ws.resolve(stops...); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if incremental {
				opts.Progress = blame.NewIncrementalWriter(out).Write
			}
			res, err := blame.Blame(ws.db, start, path, opts)
			if err != nil {
				return err
			}
			a.logger.Debug("blame",
				zap.String("path", path),
				zap.Int("entries", len(res.Entries)),
				zap.Int("commits", res.Stats.Commits),
				zap.Int("blobs", res.Stats.BlobsRead),
				zap.Int("patches", res.Stats.Patches))

			switch {
			case incremental:
				return nil
			case porcelain:
				return blame.WritePorcelain(out, res)
			}

			fo := ws.cfg.FormatOptions()
			if flags.Changed("date") {
				style, ok := blameDates[date]
				if !ok {
					return fmt.Errorf("--date: unknown format %q", date)
				}
				fo.Date = style
			}
			fo.LongHash = format.LongHash
			fo.ShowName = format.ShowName
			fo.ShowNumber = format.ShowNumber
			fo.BlankBoundary = format.BlankBoundary
			return blame.WriteDefault(out, res, fo)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&lines, "lines", "L", "", "blame only the lines in `range` (n,m | n,+k | /re/,/re/)")
	f.StringVarP(&moves, "move", "M", "", "detect lines moved within the file, optionally with a `score`")
	f.Lookup("move").NoOptDefVal = defaultMoveArg
	f.CountVarP(&copies, "copies", "C", "detect lines copied from other files; repeat to search every file")
	f.IntVar(&copyScore, "copy-score", blame.DefaultCopyScore, "minimum alphanumeric characters of a copied block")
	f.BoolVar(&root, "root", false, "do not treat root commits as boundaries")
	f.StringVar(&since, "since", "", "treat commits older than `date` as boundaries")
	f.StringArrayVar(&stops, "stop", nil, "treat `rev` and its ancestors as boundaries")
	f.BoolVar(&incremental, "incremental", false, "stream results as each range is found")
	f.BoolVarP(&porcelain, "porcelain", "p", false, "machine-readable output")
	f.StringVar(&date, "date", "iso", "date format: iso, unix or relative")
	f.BoolVarP(&format.LongHash, "long", "l", false, "show full commit hashes")
	f.BoolVarP(&format.ShowName, "show-name", "f", false, "show the original file name")
	f.BoolVarP(&format.ShowNumber, "show-number", "n", false, "show the original line number")
	f.BoolVarP(&format.BlankBoundary, "blank-boundary", "b", false, "blank the hash of boundary commits")
	cmd.MarkFlagsMutuallyExclusive("incremental", "porcelain")
	return cmd
}

// parseSince accepts a Unix time, an RFC 3339 time, a date, or "<n>
// <unit> ago" relative to now.
func parseSince(s string, now time.Time) (time.Time, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	var n int
	var unit string
	if _, err := fmt.Sscanf(s, "%d %s ago", &n, &unit); err == nil {
		if d, ok := sinceUnits[trimPlural(unit)]; ok {
			return now.Add(-time.Duration(n) * d), nil
		}
	}
	return time.Time{}, fmt.Errorf("--since: cannot parse %q", s)
}

var sinceUnits = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
	"week":   7 * 24 * time.Hour,
	"month":  30 * 24 * time.Hour,
	"year":   365 * 24 * time.Hour,
}

func trimPlural(unit string) string {
	if len(unit) > 1 && unit[len(unit)-1] == 's' {
		return unit[:len(unit)-1]
	}
	return unit
}
