package repo

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/odvcencio/weave/pkg/object"
	"github.com/samber/lo"
)

// ReflogEntry is one recorded update of a ref. A missing old or new value
// is the empty hash.
type ReflogEntry struct {
	Ref     string
	OldHash object.Hash
	NewHash object.Hash
	When    time.Time
	Reason  string
}

// Reflog lines are "<old> <new> <unix> <reason>" with a run of zeros
// standing for an absent value.
var nullHash = strings.Repeat("0", 64)

func (e ReflogEntry) line() string {
	reason := strings.TrimSpace(e.Reason)
	if reason == "" {
		reason = "update"
	}
	return fmt.Sprintf("%s %s %d %s\n", toReflog(e.OldHash), toReflog(e.NewHash), e.When.Unix(), reason)
}

func parseReflogLine(ref, line string) (ReflogEntry, bool) {
	parts := strings.SplitN(line, " ", 4)
	if len(parts) < 4 {
		return ReflogEntry{}, false
	}
	ts, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return ReflogEntry{}, false
	}
	return ReflogEntry{
		Ref:     ref,
		OldHash: fromReflog(parts[0]),
		NewHash: fromReflog(parts[1]),
		When:    time.Unix(ts, 0),
		Reason:  parts[3],
	}, true
}

func toReflog(h object.Hash) string {
	if h == "" {
		return nullHash
	}
	return string(h)
}

func fromReflog(s string) object.Hash {
	if strings.Trim(s, "0") == "" {
		return ""
	}
	return object.Hash(s)
}

func (r *Repo) reflogPath(ref string) string {
	return filepath.Join(r.Dir, "logs", filepath.FromSlash(ref))
}

func (r *Repo) appendReflog(ref string, oldHash, newHash object.Hash, reason string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil
	}
	p := r.reflogPath(ref)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("reflog %s: %w", ref, err)
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reflog %s: %w", ref, err)
	}
	defer f.Close()

	e := ReflogEntry{OldHash: oldHash, NewHash: newHash, When: time.Now(), Reason: reason}
	if _, err := f.WriteString(e.line()); err != nil {
		return fmt.Errorf("reflog %s: %w", ref, err)
	}
	return nil
}

// ReadReflog returns up to limit entries of ref's log, newest first. A
// limit of zero returns every entry. HEAD reads the log of the branch it
// points at; a short name is taken as a branch.
func (r *Repo) ReadReflog(ref string, limit int) ([]ReflogEntry, error) {
	name := r.reflogRef(ref)
	f, err := os.Open(r.reflogPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read reflog %s: %w", name, err)
	}
	defer f.Close()

	var entries []ReflogEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if e, ok := parseReflogLine(name, strings.TrimSpace(sc.Text())); ok {
			entries = append(entries, e)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read reflog %s: %w", name, err)
	}

	entries = lo.Reverse(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (r *Repo) reflogRef(ref string) string {
	switch ref = strings.TrimSpace(ref); {
	case ref == "" || ref == "HEAD":
		if head, err := r.Head(); err == nil && strings.HasPrefix(head, "refs/") {
			return head
		}
		return "HEAD"
	case strings.HasPrefix(ref, "refs/"):
		return ref
	default:
		return "refs/heads/" + ref
	}
}
