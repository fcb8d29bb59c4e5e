package blame

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/odvcencio/weave/pkg/object"
)

// DateStyle selects how WriteDefault shows author dates.
type DateStyle int

const (
	// DateNormal is "2006-01-02 15:04:05 -0700" in the author's zone.
	DateNormal DateStyle = iota
	// DateRaw is the Unix time followed by the zone.
	DateRaw
	// DateRelative is a human duration such as "3 days ago".
	DateRelative
)

// FormatOptions controls WriteDefault.
type FormatOptions struct {
	// LongHash prints full hashes instead of 8 characters.
	LongHash bool
	// ShowName prints the original path of each line. It is turned on
	// automatically when any line comes from another path.
	ShowName bool
	// ShowNumber prints the original line number of each line.
	ShowNumber bool
	// BlankBoundary blanks the hash of boundary commits instead of
	// marking it with '^'.
	BlankBoundary bool
	Date          DateStyle
	// Now is the reference time of DateRelative. Zero means time.Now.
	Now time.Time
}

// WriteDefault writes one annotated line per blamed line:
//
//	<hash> [<path>] [<orig>] (<author> <date> <line>) <text>
func WriteDefault(w io.Writer, res *Result, opts FormatOptions) error {
	bw := bufio.NewWriter(w)
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	showName := opts.ShowName
	longestAuthor, longestFile, maxOrig := 0, 0, 0
	for _, e := range res.Entries {
		if e.Path != res.Path {
			showName = true
		}
		longestAuthor = max(longestAuthor, utf8.RuneCountInString(e.Info.Author))
		longestFile = max(longestFile, utf8.RuneCountInString(e.Path))
		maxOrig = max(maxOrig, e.OrigLine+e.Count)
	}
	origDigits := len(strconv.Itoa(maxOrig))
	lineDigits := len(strconv.Itoa(res.Range.End))

	for _, e := range res.Entries {
		date := formatDate(e.Info.AuthorTime, e.Info.AuthorTZ, opts)
		for k := 0; k < e.Count; k++ {
			bw.WriteString(hashPrefix(e, opts))
			if showName {
				fmt.Fprintf(bw, " %s", pad(e.Path, longestFile))
			}
			if opts.ShowNumber {
				fmt.Fprintf(bw, " %*d", origDigits, e.OrigLine+1+k)
			}
			fmt.Fprintf(bw, " (%s %10s %*d) ", pad(e.Info.Author, longestAuthor), date, lineDigits, e.FinalLine+1+k)
			writeLine(bw, res.Lines[e.FinalLine+k])
		}
	}
	return bw.Flush()
}

func hashPrefix(e Entry, opts FormatOptions) string {
	hex := string(e.Commit)
	length := 8
	if opts.LongHash {
		length = len(hex)
	}
	length = min(length, len(hex))
	if !e.Boundary {
		return hex[:length]
	}
	if opts.BlankBoundary {
		return strings.Repeat(" ", length)
	}
	return "^" + hex[:length-1]
}

func pad(s string, width int) string {
	if n := utf8.RuneCountInString(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

func formatDate(unix int64, tz string, opts FormatOptions) string {
	switch opts.Date {
	case DateRaw:
		return fmt.Sprintf("%d %s", unix, tz)
	case DateRelative:
		return humanize.RelTime(time.Unix(unix, 0), opts.Now, "ago", "from now")
	default:
		return time.Unix(unix, 0).In(zoneOf(tz)).Format("2006-01-02 15:04:05 ") + tz
	}
}

// zoneOf turns a "+hhmm" offset into a location.
func zoneOf(tz string) *time.Location {
	n, err := strconv.Atoi(tz)
	if err != nil {
		return time.UTC
	}
	sign := 1
	if n < 0 {
		sign, n = -1, -n
	}
	return time.FixedZone(tz, sign*((n/100)*3600+(n%100)*60))
}

func writeLine(bw *bufio.Writer, line string) {
	bw.WriteString(line)
	if !strings.HasSuffix(line, "\n") {
		bw.WriteByte('\n')
	}
}

func writeInfo(bw *bufio.Writer, ci *CommitInfo) {
	fmt.Fprintf(bw, "author %s\n", ci.Author)
	fmt.Fprintf(bw, "author-mail %s\n", ci.AuthorMail)
	fmt.Fprintf(bw, "author-time %d\n", ci.AuthorTime)
	fmt.Fprintf(bw, "author-tz %s\n", ci.AuthorTZ)
	fmt.Fprintf(bw, "committer %s\n", ci.Committer)
	fmt.Fprintf(bw, "committer-mail %s\n", ci.CommitterMail)
	fmt.Fprintf(bw, "committer-time %d\n", ci.CommitterTime)
	fmt.Fprintf(bw, "committer-tz %s\n", ci.CommitterTZ)
}

func writeFilename(bw *bufio.Writer, path string) {
	fmt.Fprintf(bw, "filename %s\n", quoteName(path))
}

// WritePorcelain writes res in the machine-readable porcelain format.
// Each run starts with "<hash> <orig> <final> <count>". The first run of
// a commit is followed by its metadata; every line of a run is printed
// after a tab.
func WritePorcelain(w io.Writer, res *Result) error {
	bw := bufio.NewWriter(w)

	paths := make(map[object.Hash]string)
	manyPaths := make(map[object.Hash]bool)
	for _, e := range res.Entries {
		if p, ok := paths[e.Commit]; ok && p != e.Path {
			manyPaths[e.Commit] = true
		}
		paths[e.Commit] = e.Path
	}

	shown := make(map[object.Hash]bool)
	for _, e := range res.Entries {
		hex := string(e.Commit)
		fmt.Fprintf(bw, "%s %d %d %d\n", hex, e.OrigLine+1, e.FinalLine+1, e.Count)
		if !shown[e.Commit] {
			shown[e.Commit] = true
			writeInfo(bw, e.Info)
			writeFilename(bw, e.Path)
			fmt.Fprintf(bw, "summary %s\n", e.Info.Summary)
			if e.Boundary {
				bw.WriteString("boundary\n")
			}
		} else if manyPaths[e.Commit] {
			writeFilename(bw, e.Path)
		}
		for k := 0; k < e.Count; k++ {
			if k > 0 {
				fmt.Fprintf(bw, "%s %d %d\n", hex, e.OrigLine+1+k, e.FinalLine+1+k)
			}
			bw.WriteByte('\t')
			writeLine(bw, res.Lines[e.FinalLine+k])
		}
	}
	return bw.Flush()
}

// IncrementalWriter writes entries in the incremental format as they
// become final. It is meant to be called from Options.Progress.
type IncrementalWriter struct {
	w     io.Writer
	shown map[object.Hash]bool
}

// NewIncrementalWriter returns an IncrementalWriter writing to w.
func NewIncrementalWriter(w io.Writer) *IncrementalWriter {
	return &IncrementalWriter{w: w, shown: make(map[object.Hash]bool)}
}

// Write writes one entry: "<hash> <orig> <final> <count>", the commit
// metadata the first time the commit appears, and the entry's path.
func (iw *IncrementalWriter) Write(e Entry) error {
	bw := bufio.NewWriter(iw.w)
	fmt.Fprintf(bw, "%s %d %d %d\n", e.Commit, e.OrigLine+1, e.FinalLine+1, e.Count)
	if !iw.shown[e.Commit] {
		iw.shown[e.Commit] = true
		writeInfo(bw, e.Info)
		fmt.Fprintf(bw, "summary %s\n", e.Info.Summary)
		if e.Boundary {
			bw.WriteString("boundary\n")
		}
	}
	writeFilename(bw, e.Path)
	return bw.Flush()
}

// WriteIncremental writes every entry of res in the incremental format.
func WriteIncremental(w io.Writer, res *Result) error {
	iw := NewIncrementalWriter(w)
	for _, e := range res.Entries {
		if err := iw.Write(e); err != nil {
			return err
		}
	}
	return nil
}

// quoteName quotes a path C-style when it holds control characters,
// quotes, backslashes or non-ASCII bytes.
func quoteName(p string) string {
	needs := false
	for i := 0; i < len(p); i++ {
		if c := p[i]; c < 0x20 || c == '"' || c == '\\' || c >= 0x7f {
			needs = true
			break
		}
	}
	if !needs {
		return p
	}
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(p); i++ {
		switch c := p[i]; c {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\a':
			b.WriteString(`\a`)
		case '\b':
			b.WriteString(`\b`)
		case '\t':
			b.WriteString(`\t`)
		case '\n':
			b.WriteString(`\n`)
		case '\v':
			b.WriteString(`\v`)
		case '\f':
			b.WriteString(`\f`)
		case '\r':
			b.WriteString(`\r`)
		default:
			if c < 0x20 || c >= 0x7f {
				fmt.Fprintf(&b, `\%03o`, c)
			} else {
				b.WriteByte(c)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}
