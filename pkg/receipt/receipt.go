// Package receipt manages the directory holding receipt attachments.
package receipt

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

var ErrInvalidName = errors.New("invalid receipt file name")

// Dir is a flat directory of receipt files. Transactions reference receipts by absolute
// path; archives carry them by bare file name.
type Dir struct {
	fs   afero.Fs
	root string
}

// NewDir makes root absolute and creates it when missing.
func NewDir(fs afero.Fs, root string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("could not resolve receipt directory %q: %w", root, err)
	}
	if err := fs.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("could not create receipt directory %q: %w", abs, err)
	}
	return &Dir{fs: fs, root: abs}, nil
}

func (d *Dir) Root() string {
	return d.root
}

// BaseName strips any directory part, accepting both slash styles since archive entries
// and stored paths may come from another platform.
func BaseName(p string) string {
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		p = p[i+1:]
	}
	return p
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".."
}

// Path is where a receipt called name lives in this directory, whether or not it exists.
func (d *Dir) Path(name string) (string, error) {
	base := BaseName(name)
	if !validName(base) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(d.root, base), nil
}

// Resolve maps a receipt file name (or a path from another machine) onto this directory.
// It returns "" when no such regular file exists here.
func (d *Dir) Resolve(name string) string {
	p, err := d.Path(name)
	if err != nil {
		return ""
	}
	info, err := d.fs.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		return ""
	}
	return p
}

func (d *Dir) Open(path string) (afero.File, error) {
	return d.fs.Open(path)
}

// Write stores the content of r under name, replacing any existing file. The content is
// written to a temporary file first, so a failed write never leaves a truncated receipt.
// created reports whether the file did not exist before.
func (d *Dir) Write(name string, r io.Reader) (path string, created bool, err error) {
	path, err = d.Path(name)
	if err != nil {
		return "", false, err
	}
	_, statErr := d.fs.Stat(path)
	created = errors.Is(statErr, os.ErrNotExist)

	tmp, err := afero.TempFile(d.fs, d.root, ".receipt-*")
	if err != nil {
		return "", false, fmt.Errorf("could not create temporary receipt file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			if rmErr := d.fs.Remove(tmpName); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				log.Warnf("could not remove temporary receipt file %s: %v", tmpName, rmErr)
			}
		}
	}()

	if _, err = io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", false, fmt.Errorf("could not write receipt %q: %w", name, err)
	}
	if err = tmp.Close(); err != nil {
		return "", false, fmt.Errorf("could not write receipt %q: %w", name, err)
	}
	if err = d.fs.Rename(tmpName, path); err != nil {
		return "", false, fmt.Errorf("could not store receipt %q: %w", name, err)
	}
	return path, created, nil
}

// Remove deletes the receipt at path. A missing file is not an error.
func (d *Dir) Remove(path string) error {
	if err := d.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("could not remove receipt %s: %w", path, err)
	}
	return nil
}
