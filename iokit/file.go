package iokit

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	// PatchedSuffix is appended to an input path to form the default
	// output path.
	PatchedSuffix = "_patched"

	// DefaultFileMode is used when WriteConfig.Mode is zero.
	DefaultFileMode os.FileMode = 0o644
)

// ErrWriteFailed is wrapped by every error returned by WriteFile.
var ErrWriteFailed = errors.New("failed to write output file")

// PatchedPath returns the default output path for inputPath.
func PatchedPath(inputPath string) string {
	return inputPath + PatchedSuffix
}

// ReadFile reads the entire file at path and returns its contents
// along with its permission bits.
func ReadFile(path string) ([]byte, os.FileMode, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to stat %q - %w", path, err)
	}

	if !info.Mode().IsRegular() {
		return nil, 0, fmt.Errorf("%q is not a regular file", path)
	}

	b, err := io.ReadAll(f)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read %q - %w", path, err)
	}

	return b, info.Mode().Perm(), nil
}

// WriteConfig configures WriteFile.
type WriteConfig struct {
	// Path is the destination file path.
	Path string

	// Mode is the permission bits of a newly created file.
	// DefaultFileMode is used if it is zero.
	Mode os.FileMode

	// Atomic writes to a temporary file in the destination
	// directory and renames it over Path once every byte
	// has been written and synced.
	//
	// When false, Path is truncated and written directly.
	// A failed write may leave a partial file at Path.
	Atomic bool
}

// WriteFileOrExit calls WriteFile. It calls DefaultExitFn if an error occurs.
func WriteFileOrExit(config WriteConfig, data []byte) {
	err := WriteFile(config, data)
	if err != nil {
		DefaultExitFn(err)
	}
}

// WriteFile writes all of data to config.Path. Errors wrap ErrWriteFailed.
func WriteFile(config WriteConfig, data []byte) error {
	if config.Path == "" {
		return fmt.Errorf("output path is empty - %w", ErrWriteFailed)
	}

	mode := config.Mode
	if mode == 0 {
		mode = DefaultFileMode
	}

	var err error
	if config.Atomic {
		err = writeAtomic(config.Path, mode, data)
	} else {
		err = writeDirect(config.Path, mode, data)
	}
	if err != nil {
		return fmt.Errorf("%w - %w", err, ErrWriteFailed)
	}

	return nil
}

func writeDirect(path string, mode os.FileMode, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	err = writeAllAndSync(f, data)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %q - %w", path, err)
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("failed to close %q - %w", path, err)
	}

	return nil
}

func writeAtomic(path string, mode os.FileMode, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file - %w", err)
	}

	tempPath := f.Name()

	err = writeAllAndSync(f, data)
	if err == nil {
		err = f.Chmod(mode)
	}

	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}

	if err == nil {
		err = os.Rename(tempPath, path)
	}

	if err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to write %q via %q - %w", path, tempPath, err)
	}

	return nil
}

func writeAllAndSync(f *os.File, data []byte) error {
	n, err := f.Write(data)
	if err != nil {
		return err
	}

	if n != len(data) {
		return fmt.Errorf("short write of %d/%d bytes - %w", n, len(data), io.ErrShortWrite)
	}

	return f.Sync()
}
