// Package spillfile is the spill-file factory: given a page index it
// returns a filesystem path stable and unique to that index for the
// lifetime of the process. The filesystem namespace itself is treated
// as an opaque collaborator by the page manager — this package owns the
// one decision of where spill files live.
package spillfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// maxPathLen is the platform path-length ceiling (Linux PATH_MAX).
const maxPathLen = 4096

// ErrPathTooLong is returned when a generated spill path would exceed
// the platform's maximum path length.
var ErrPathTooLong = errors.New("spillfile: path exceeds platform maximum length")

// Factory generates spill-file paths under a scratch directory unique to
// this process, named with a random UUID so concurrent or successive
// runs never collide.
type Factory struct {
	dir string
}

// NewFactory creates a scratch directory under root (os.TempDir() if
// root is empty) and returns a Factory rooted there. The directory is
// not removed on process exit; orphaned scratch directories on abnormal
// termination are acceptable per the system's non-goals.
func NewFactory(root string) (*Factory, error) {
	if root == "" {
		root = os.TempDir()
	}
	dir := filepath.Join(root, "petabuf-"+uuid.New().String())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("spillfile: create scratch dir: %w", err)
	}
	return &Factory{dir: dir}, nil
}

// Dir returns the scratch directory backing this factory.
func (f *Factory) Dir() string {
	return f.dir
}

// Path returns the stable spill-file path for idx. Repeated calls with
// the same idx return the same path.
func (f *Factory) Path(idx uint32) (string, error) {
	p := filepath.Join(f.dir, fmt.Sprintf("page-%d.bin", idx))
	if len(p) > maxPathLen {
		return "", ErrPathTooLong
	}
	return p, nil
}
