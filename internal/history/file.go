package history

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/alanyoungcy/poolbot/internal/domain"
)

// FileBackend stores the history document in a single JSON file. Saves go to
// a temporary file in the same directory which is then renamed over the
// target, so readers never observe a partial write.
type FileBackend struct {
	path string
}

// NewFileBackend creates a FileBackend for path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Load reads the history file. A missing file is an empty history.
func (b *FileBackend) Load(_ context.Context) (domain.HistorySnapshot, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.HistorySnapshot{}, nil
		}
		return nil, fmt.Errorf("history/file: read %s: %w", b.path, err)
	}
	return Decode(data)
}

// Save replaces the history file with snap.
func (b *FileBackend) Save(_ context.Context, snap domain.HistorySnapshot) error {
	data, err := Encode(snap)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(b.path, data, 0o644); err != nil {
		return fmt.Errorf("history/file: write %s: %w", b.path, err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

var _ domain.HistoryBackend = (*FileBackend)(nil)
