package repo

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/odvcencio/weave/pkg/object"
)

// Resolve turns a revision name into an object hash. The name is a ref
// (HEAD, refs/..., a branch or tag name) or a full or abbreviated hash,
// followed by any number of parent selectors: "^" or "^N" for the Nth
// parent and "~N" for the Nth first-parent ancestor.
func (r *Repo) Resolve(name string) (object.Hash, error) {
	name = strings.TrimSpace(name)
	cut := strings.IndexAny(name, "^~")
	if cut < 0 {
		cut = len(name)
	}
	h, err := r.resolveBase(name[:cut])
	if err != nil {
		return "", err
	}
	return walkSuffix(r.Store, name, h, name[cut:])
}

func (r *Repo) resolveBase(name string) (object.Hash, error) {
	if name == "" {
		return "", fmt.Errorf("resolve: empty name: %w", object.ErrNotFound)
	}
	h, err := r.ResolveRef(name)
	if err == nil && h != "" {
		return h, nil
	}
	if err != nil && !errors.Is(err, object.ErrNotFound) {
		return "", err
	}
	h, err = r.Store.Resolve(name)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", name, err)
	}
	return h, nil
}

// walkSuffix applies parent selectors to h.
func walkSuffix(db object.Reader, name string, h object.Hash, suffix string) (object.Hash, error) {
	for suffix != "" {
		op := suffix[0]
		suffix = suffix[1:]
		digits := 0
		for digits < len(suffix) && suffix[digits] >= '0' && suffix[digits] <= '9' {
			digits++
		}
		n := 1
		if digits > 0 {
			var err error
			n, err = strconv.Atoi(suffix[:digits])
			if err != nil {
				return "", fmt.Errorf("resolve %q: bad selector: %w", name, object.ErrNotFound)
			}
		}
		suffix = suffix[digits:]

		switch op {
		case '^':
			if n == 0 {
				continue
			}
			parents, err := object.CommitParents(db, h)
			if err != nil {
				return "", fmt.Errorf("resolve %q: %w", name, err)
			}
			if n > len(parents) {
				return "", fmt.Errorf("resolve %q: commit %s has no parent %d: %w", name, h.Short(12), n, object.ErrNotFound)
			}
			h = parents[n-1]
		case '~':
			for i := 0; i < n; i++ {
				parents, err := object.CommitParents(db, h)
				if err != nil {
					return "", fmt.Errorf("resolve %q: %w", name, err)
				}
				if len(parents) == 0 {
					return "", fmt.Errorf("resolve %q: commit %s has no parent: %w", name, h.Short(12), object.ErrNotFound)
				}
				h = parents[0]
			}
		default:
			return "", fmt.Errorf("resolve %q: bad selector %q: %w", name, op, object.ErrNotFound)
		}
	}
	return h, nil
}
