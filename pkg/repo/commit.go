package repo

import (
	"fmt"
	"strings"
	"time"

	"github.com/odvcencio/weave/pkg/object"
)

// Signature names the author and committer of a new commit.
type Signature struct {
	Ident string // "Name <email>"
	When  time.Time
}

// CommitTree writes a commit of tree with the given parents to the
// repository's store and returns its hash.
func (r *Repo) CommitTree(tree object.Hash, parents []object.Hash, message string, sig Signature) (object.Hash, error) {
	return WriteCommit(r.Store, tree, parents, message, sig)
}

// WriteCommit writes a commit of tree with the given parents to w. The
// same signature is used as author and committer.
func WriteCommit(w object.Writer, tree object.Hash, parents []object.Hash, message string, sig Signature) (object.Hash, error) {
	if strings.TrimSpace(sig.Ident) == "" {
		return "", fmt.Errorf("commit: author identity is required")
	}
	if sig.When.IsZero() {
		sig.When = time.Now()
	}
	if !strings.HasSuffix(message, "\n") {
		message += "\n"
	}
	tz := sig.When.Format("-0700")
	h, err := object.WriteCommit(w, &object.CommitObj{
		TreeHash:           tree,
		Parents:            parents,
		Author:             sig.Ident,
		Timestamp:          sig.When.Unix(),
		AuthorTimezone:     tz,
		Committer:          sig.Ident,
		CommitterTimestamp: sig.When.Unix(),
		CommitterTimezone:  tz,
		Message:            message,
	})
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return h, nil
}

// Advance moves the branch HEAD points at (or the detached HEAD) to h.
func (r *Repo) Advance(h object.Hash, reason string) error {
	head, err := r.Head()
	if err != nil {
		return err
	}
	if strings.HasPrefix(head, "refs/") {
		return r.UpdateRef(head, h, reason)
	}
	if err := r.SetHead(string(h)); err != nil {
		return err
	}
	return r.appendReflog("HEAD", object.Hash(head), h, reason)
}
