// Package blobfs implements the content store port over a local directory.
// Form documents live at <root>/<formCode>/<fileName>.
package blobfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/formpilot/formpilot/internal/domain"
)

// Store reads form documents from the filesystem.
type Store struct {
	root string
}

// New creates a filesystem-backed content store rooted at dir.
func New(dir string) *Store {
	return &Store{root: dir}
}

// Read returns the document bytes. A missing file is reported as
// domain.ErrNotFound so the boundary can answer 404 instead of 500.
func (s *Store) Read(_ context.Context, formCode, fileName string) ([]byte, error) {
	if err := checkName(formCode); err != nil {
		return nil, fmt.Errorf("form code %q: %w", formCode, err)
	}
	if err := checkName(fileName); err != nil {
		return nil, fmt.Errorf("file name %q: %w", fileName, err)
	}

	path := filepath.Join(s.root, formCode, fileName)
	data, err := os.ReadFile(path) //nolint:gosec // G304: components validated above
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("form %s/%s: %w", formCode, fileName, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("read form %s/%s: %w", formCode, fileName, err)
	}
	return data, nil
}

// checkName rejects path components that could escape the store root.
func checkName(name string) error {
	if name == "" {
		return errors.New("empty name")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return errors.New("invalid path characters")
	}
	return nil
}
