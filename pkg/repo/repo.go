package repo

import (
	"github.com/odvcencio/weave/pkg/config"
	"github.com/odvcencio/weave/pkg/object"
)

// DirName is the repository metadata directory.
const DirName = ".weave"

// Repo represents an opened weave repository.
type Repo struct {
	RootDir string         // directory holding .weave/
	Dir     string         // .weave/ directory
	Store   *object.Store  // content-addressed object store
	Config  *config.Config // effective configuration
}
