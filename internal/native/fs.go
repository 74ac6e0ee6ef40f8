package native

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// FS reads whole images and writes finished ones. Writes go to a temporary
// sibling first and are renamed into place, so a failed write never leaves a
// truncated file under the destination name.
type FS struct {
	fs afero.Fs
}

// NewFS wraps fs; a nil fs means the host filesystem.
func NewFS(fs afero.Fs) *FS {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FS{fs: fs}
}

// Afero exposes the underlying filesystem.
func (f *FS) Afero() afero.Fs {
	return f.fs
}

// ReadFile reads the complete file at path.
func (f *FS) ReadFile(path string) ([]byte, error) {
	return afero.ReadFile(f.fs, path)
}

// WriteFile writes data to path atomically with the given permissions.
func (f *FS) WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := afero.TempFile(f.fs, dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		_ = f.fs.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := f.fs.Chmod(tmpName, perm); err != nil {
		cleanup()
		return fmt.Errorf("failed to set mode on %s: %w", tmpName, err)
	}
	if err := f.fs.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}
