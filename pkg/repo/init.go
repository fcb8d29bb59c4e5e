package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/odvcencio/weave/pkg/config"
	"github.com/odvcencio/weave/pkg/object"
)

// ErrNotRepository is returned by Open when no .weave/ directory exists
// at or above the given path.
var ErrNotRepository = errors.New("not a weave repository (or any parent up to /)")

// Init creates a new repository at path. It creates the .weave/ directory
// structure: HEAD, config.toml, objects/, refs/heads/ and logs/. Returns an
// error if a .weave/ directory already exists.
func Init(path string) (*Repo, error) {
	dir := filepath.Join(path, DirName)

	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("init: repository already exists at %s", dir)
	}

	dirs := []string{
		filepath.Join(dir, "objects"),
		filepath.Join(dir, "refs", "heads"),
		filepath.Join(dir, "refs", "tags"),
		filepath.Join(dir, "logs", "refs", "heads"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("init: mkdir %s: %w", d, err)
		}
	}

	headPath := filepath.Join(dir, "HEAD")
	if err := os.WriteFile(headPath, []byte("ref: refs/heads/main\n"), 0o644); err != nil {
		return nil, fmt.Errorf("init: write HEAD: %w", err)
	}
	cfg := config.Default()
	if err := config.Save(filepath.Join(dir, config.FileName), cfg); err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}

	return &Repo{
		RootDir: path,
		Dir:     dir,
		Store:   object.NewStore(dir, cfg.StoreOptions()...),
		Config:  cfg,
	}, nil
}

// Open searches upward from path for a .weave/ directory and opens the
// repository. The configuration is loaded from the user file, the
// repository's config.toml and then explicitConfig, if set.
func Open(path, explicitConfig string) (*Repo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("open: abs path: %w", err)
	}

	cur := abs
	for {
		dir := filepath.Join(cur, DirName)
		info, err := os.Stat(dir)
		if err == nil && info.IsDir() {
			cfg, err := config.Load(filepath.Join(dir, config.FileName), explicitConfig)
			if err != nil {
				return nil, fmt.Errorf("open: %w", err)
			}
			return &Repo{
				RootDir: cur,
				Dir:     dir,
				Store:   object.NewStore(dir, cfg.StoreOptions()...),
				Config:  cfg,
			}, nil
		}

		parent := filepath.Dir(cur)
		if parent == cur {
			return nil, fmt.Errorf("open %s: %w", abs, ErrNotRepository)
		}
		cur = parent
	}
}
