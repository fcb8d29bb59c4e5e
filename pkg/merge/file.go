package merge

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/odvcencio/weave/pkg/diff3"
	"github.com/odvcencio/weave/pkg/object"
	"go.uber.org/zap"
)

// ErrExternalMerge is returned when the configured merge tool cannot be
// started at all. A tool that runs and exits non-zero is a conflict, not
// an error.
var ErrExternalMerge = errors.New("external merge tool failed to launch")

// FileSide is one version of a file. A zero Mode means the version is
// absent.
type FileSide struct {
	Path string
	Mode string
	Hash object.Hash
}

// Exists reports whether the side names a present version.
func (s FileSide) Exists() bool { return s.Mode != "" && s.Hash != "" }

func sameContent(a, b FileSide) bool {
	return a.Exists() == b.Exists() && a.Hash == b.Hash
}

// FileOptions configures a single file merge.
type FileOptions struct {
	// OursLabel and TheirsLabel name the branches in conflict markers.
	OursLabel   string
	TheirsLabel string
	// AncestorLabel names the base in diff3-style markers; empty omits it.
	AncestorLabel string

	Style      diff3.Style
	MarkerSize int
	Favor      diff3.Favor
	Minimal    bool
	// Renormalize converts CRLF line endings to LF on all three sides
	// before merging.
	Renormalize bool

	// Virtual is set while building a merged ancestor. Favor is ignored
	// and binary files fall back to the base version.
	Virtual bool

	// Tool is an external merge command. %O, %A and %B expand to
	// temporary files holding base, ours and theirs, %L to the marker
	// size and %P to the path. The merged result is read back from %A.
	Tool string

	Logger *zap.Logger
}

// FileResult is the outcome of merging one file.
type FileResult struct {
	Mode string
	Hash object.Hash
	// Clean is false when the result needs manual resolution.
	Clean bool
	// Merge is set when both sides changed the file, so the result
	// differs from both of them.
	Merge bool
}

// MergeFile merges a and b against their common version base. Merged
// text is written to db as a blob even when it carries conflict markers,
// so it can be staged.
func MergeFile(db object.Database, base, a, b FileSide, opts FileOptions) (FileResult, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	res := FileResult{Clean: true}

	kindA, kindB := object.ModeKind(a.Mode), object.ModeKind(b.Mode)
	if kindA != kindB {
		res.Clean = false
		if kindA == object.KindRegular || kindB != object.KindRegular {
			res.Mode, res.Hash = a.Mode, a.Hash
		} else {
			res.Mode, res.Hash = b.Mode, b.Hash
		}
		opts.Logger.Debug("file type differs",
			zap.String("path", a.Path),
			zap.Stringer("ours", kindA),
			zap.Stringer("theirs", kindB))
		return res, nil
	}

	if !sameContent(a, base) && !sameContent(b, base) {
		res.Merge = true
	}

	if a.Mode == b.Mode || a.Mode == base.Mode {
		res.Mode = b.Mode
	} else {
		res.Mode = a.Mode
		if b.Mode != base.Mode {
			res.Clean = false
			res.Merge = true
		}
	}

	switch {
	case sameContent(a, b) || sameContent(a, base):
		res.Hash = b.Hash
	case sameContent(b, base):
		res.Hash = a.Hash
	case kindA == object.KindRegular:
		merged, clean, err := mergeContent(db, base, a, b, opts)
		if err != nil {
			return FileResult{}, err
		}
		h, err := object.WriteBlob(db, merged)
		if err != nil {
			return FileResult{}, fmt.Errorf("merge %s: write result: %w", a.Path, err)
		}
		res.Hash = h
		res.Clean = res.Clean && clean
	case kindA == object.KindGitlink:
		res.Clean = false
		res.Hash = a.Hash
	case kindA == object.KindSymlink:
		res.Hash = a.Hash
		if !sameContent(a, b) {
			res.Clean = false
		}
	default:
		return FileResult{}, fmt.Errorf("merge %s: unsupported mode %q", a.Path, a.Mode)
	}
	return res, nil
}

// labels returns the conflict marker labels. Paths are appended when the
// sides disagree on where the file lives.
func labels(base, a, b FileSide, opts FileOptions) (string, string, string) {
	if a.Path != b.Path || (opts.AncestorLabel != "" && a.Path != base.Path) {
		ancestor := ""
		if opts.AncestorLabel != "" {
			ancestor = opts.AncestorLabel + ":" + base.Path
		}
		return ancestor, opts.OursLabel + ":" + a.Path, opts.TheirsLabel + ":" + b.Path
	}
	return opts.AncestorLabel, opts.OursLabel, opts.TheirsLabel
}

func readSide(db object.Reader, s FileSide) ([]byte, error) {
	if !s.Exists() {
		return nil, nil
	}
	data, err := object.ReadBlob(db, s.Hash)
	if err != nil {
		return nil, fmt.Errorf("merge %s: read %s: %w", s.Path, s.Hash.Short(12), err)
	}
	return data, nil
}

func toLF(data []byte) []byte {
	return bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
}

// binaryProbe is how much of a buffer is searched for a NUL byte.
const binaryProbe = 8000

func isBinary(data []byte) bool {
	if len(data) > binaryProbe {
		data = data[:binaryProbe]
	}
	return bytes.IndexByte(data, 0) >= 0
}

func mergeContent(db object.Reader, base, a, b FileSide, opts FileOptions) ([]byte, bool, error) {
	orig, err := readSide(db, base)
	if err != nil {
		return nil, false, err
	}
	ours, err := readSide(db, a)
	if err != nil {
		return nil, false, err
	}
	theirs, err := readSide(db, b)
	if err != nil {
		return nil, false, err
	}
	if opts.Renormalize {
		orig, ours, theirs = toLF(orig), toLF(ours), toLF(theirs)
	}
	baseLabel, oursLabel, theirsLabel := labels(base, a, b, opts)

	if opts.Tool != "" {
		return runTool(opts.Tool, a.Path, orig, ours, theirs, opts)
	}

	if isBinary(orig) || isBinary(ours) || isBinary(theirs) {
		opts.Logger.Warn("cannot merge binary files",
			zap.String("path", a.Path),
			zap.String("ours", oursLabel),
			zap.String("theirs", theirsLabel))
		if opts.Virtual {
			return orig, false, nil
		}
		return ours, false, nil
	}

	favor := opts.Favor
	if opts.Virtual {
		favor = diff3.FavorNone
	}
	res := diff3.Merge(orig, ours, theirs, diff3.Options{
		OursLabel:   oursLabel,
		BaseLabel:   baseLabel,
		TheirsLabel: theirsLabel,
		MarkerSize:  opts.MarkerSize,
		Style:       opts.Style,
		Favor:       favor,
		Minimal:     opts.Minimal,
	})
	opts.Logger.Debug("content merge",
		zap.String("path", a.Path),
		zap.Int("hunks", len(res.Hunks)),
		zap.Int("conflicts", res.Conflicts))
	return res.Merged, !res.HasConflicts, nil
}

// runTool runs an external merge command and reads the result back from
// the "ours" file.
func runTool(cmdline, path string, orig, ours, theirs []byte, opts FileOptions) ([]byte, bool, error) {
	dir, err := os.MkdirTemp("", "weave-merge-")
	if err != nil {
		return nil, false, fmt.Errorf("merge %s: %w", path, err)
	}
	defer os.RemoveAll(dir)

	files := map[string]string{
		"%O": filepath.Join(dir, "base"),
		"%A": filepath.Join(dir, "ours"),
		"%B": filepath.Join(dir, "theirs"),
	}
	for key, data := range map[string][]byte{"%O": orig, "%A": ours, "%B": theirs} {
		if err := os.WriteFile(files[key], data, 0o600); err != nil {
			return nil, false, fmt.Errorf("merge %s: write temp file: %w", path, err)
		}
	}
	markerSize := opts.MarkerSize
	if markerSize <= 0 {
		markerSize = diff3.DefaultMarkerSize
	}

	words, err := shellquote.Split(cmdline)
	if err == nil && len(words) == 0 {
		err = errors.New("empty command")
	}
	if err != nil {
		return nil, false, fmt.Errorf("merge %s: parse tool %q: %v: %w", path, cmdline, err, ErrExternalMerge)
	}
	replacer := strings.NewReplacer(
		"%O", files["%O"],
		"%A", files["%A"],
		"%B", files["%B"],
		"%L", strconv.Itoa(markerSize),
		"%P", path,
	)
	for i := range words {
		words[i] = replacer.Replace(words[i])
	}

	cmd := exec.Command(words[0], words[1:]...)
	cmd.Stderr = os.Stderr
	runErr := cmd.Run()
	var exitErr *exec.ExitError
	if runErr != nil && !errors.As(runErr, &exitErr) {
		return nil, false, fmt.Errorf("merge %s: %s: %v: %w", path, words[0], runErr, ErrExternalMerge)
	}

	merged, err := os.ReadFile(files["%A"])
	if err != nil {
		return nil, false, fmt.Errorf("merge %s: read tool result: %w", path, err)
	}
	opts.Logger.Debug("external merge",
		zap.String("path", path),
		zap.String("tool", words[0]),
		zap.Bool("clean", runErr == nil))
	return merged, runErr == nil, nil
}
