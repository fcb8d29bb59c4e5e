package repo

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/odvcencio/weave/pkg/config"
	"github.com/odvcencio/weave/pkg/object"
)

// initRepo creates a repository in a temp dir with the user config
// isolated from the machine running the test.
func initRepo(t *testing.T) *Repo {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	r, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return r
}

func TestInit_CreatesStructure(t *testing.T) {
	dir := t.TempDir()

	r, err := Init(dir)
	if err != nil {
		t.Fatalf("Init(%q): %v", dir, err)
	}
	if r.RootDir != dir {
		t.Errorf("RootDir = %q, want %q", r.RootDir, dir)
	}

	weaveDir := filepath.Join(dir, ".weave")
	if r.Dir != weaveDir {
		t.Errorf("Dir = %q, want %q", r.Dir, weaveDir)
	}

	assertDir(t, weaveDir)
	assertFile(t, filepath.Join(weaveDir, "HEAD"))
	assertFile(t, filepath.Join(weaveDir, "config.toml"))
	assertDir(t, filepath.Join(weaveDir, "objects"))
	assertDir(t, filepath.Join(weaveDir, "refs", "heads"))
	assertDir(t, filepath.Join(weaveDir, "refs", "tags"))
	assertDir(t, filepath.Join(weaveDir, "logs", "refs", "heads"))

	if r.Store == nil {
		t.Error("Store is nil after Init")
	}
}

func TestInit_ExistingRepo_Error(t *testing.T) {
	dir := t.TempDir()

	if _, err := Init(dir); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	if _, err := Init(dir); err == nil {
		t.Fatal("second Init should fail on existing repo, got nil error")
	}
}

func TestOpen_FromSubdirectory(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dir := t.TempDir()
	if _, err := Init(dir); err != nil {
		t.Fatalf("Init: %v", err)
	}

	sub := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	r, err := Open(sub, "")
	if err != nil {
		t.Fatalf("Open(%q): %v", sub, err)
	}
	if r.RootDir != dir {
		t.Errorf("RootDir = %q, want %q", r.RootDir, dir)
	}
	if r.Config == nil || r.Config.Merge.Verbosity != config.Default().Merge.Verbosity {
		t.Errorf("Config = %+v, want defaults", r.Config)
	}
}

func TestOpen_ReadsRepositoryConfig(t *testing.T) {
	r := initRepo(t)
	cfg := config.Default()
	cfg.Merge.Verbosity = 4
	cfg.Core.Compression = "none"
	if err := config.Save(filepath.Join(r.Dir, config.FileName), cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	opened, err := Open(r.RootDir, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if opened.Config.Merge.Verbosity != 4 {
		t.Errorf("merge.verbosity = %d, want 4", opened.Config.Merge.Verbosity)
	}

	// Objects written without compression are still readable by a
	// compressing store.
	h, err := object.WriteBlob(opened.Store, []byte("plain\n"))
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	data, err := object.ReadBlob(r.Store, h)
	if err != nil || string(data) != "plain\n" {
		t.Fatalf("ReadBlob = %q, %v", data, err)
	}
}

func TestOpen_NoRepo_Error(t *testing.T) {
	_, err := Open(t.TempDir(), "")
	if !errors.Is(err, ErrNotRepository) {
		t.Fatalf("Open error = %v, want ErrNotRepository", err)
	}
}

func TestInit_HeadDefault(t *testing.T) {
	r := initRepo(t)

	ref, err := r.Head()
	if err != nil {
		t.Fatalf("Head(): %v", err)
	}
	if ref != "refs/heads/main" {
		t.Errorf("Head() = %q, want %q", ref, "refs/heads/main")
	}
}

func assertDir(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Errorf("expected directory %q to exist: %v", path, err)
		return
	}
	if !info.IsDir() {
		t.Errorf("%q exists but is not a directory", path)
	}
}

func assertFile(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Errorf("expected file %q to exist: %v", path, err)
		return
	}
	if info.IsDir() {
		t.Errorf("%q exists but is a directory, expected file", path)
	}
}
