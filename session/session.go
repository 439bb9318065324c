// Package session runs the load, scan, patch, and write steps against
// a single ELF file.
//
// A Session exclusively owns the file's bytes from Open until Write
// returns. Nothing else holds a reference to the buffer, so the steps
// need no locking and the image is never observed half-patched.
package session

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gitlab.com/stephen-fox/elfstr/elfkit"
	"gitlab.com/stephen-fox/elfstr/iokit"
	"gitlab.com/stephen-fox/elfstr/patch"
	"gitlab.com/stephen-fox/elfstr/strscan"
	"gitlab.com/stephen-fox/elfstr/xref"
)

var (
	// ErrNoStrings is returned by Open when the scan finds nothing.
	// It is informational rather than a failure.
	ErrNoStrings = errors.New("no strings found")

	// ErrLoadFailed wraps input read errors that happen before
	// the ELF parser sees any data.
	ErrLoadFailed = errors.New("failed to load input file")

	// ErrSameFile is returned when the output path names the input file.
	ErrSameFile = errors.New("output path is the input file")
)

// Config configures Open.
type Config struct {
	// InputPath is the ELF file to read. It is never written to.
	InputPath string

	// Scan configures the string scanner.
	Scan strscan.Config

	// OptLogger, when non-nil, receives verbose output from
	// every step.
	OptLogger *log.Logger
}

// Session holds one ELF image and its string catalog.
type Session struct {
	inputPath string
	inputMode os.FileMode
	img       *elfkit.Image
	catalog   *strscan.Catalog
	logger    *log.Logger
	patched   bool
}

// Open reads and parses config.InputPath and scans it for strings.
//
// If the scan finds no strings, Open returns the session along with
// an error wrapping ErrNoStrings.
func Open(config Config) (*Session, error) {
	logger := config.OptLogger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	raw, mode, err := iokit.ReadFile(config.InputPath)
	if err != nil {
		return nil, fmt.Errorf("%w - %w", err, ErrLoadFailed)
	}

	logger.Printf("read %d bytes from %s", len(raw), config.InputPath)

	img, err := elfkit.Load(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %q - %w", config.InputPath, err)
	}

	scanConfig := config.Scan
	if scanConfig.OptLogger == nil {
		scanConfig.OptLogger = config.OptLogger
	}

	catalog, err := strscan.Scan(img, scanConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %q - %w", config.InputPath, err)
	}

	s := &Session{
		inputPath: config.InputPath,
		inputMode: mode,
		img:       img,
		catalog:   catalog,
		logger:    logger,
	}

	if catalog.Len() == 0 {
		return s, ErrNoStrings
	}

	if catalog.Full() {
		logger.Printf("catalog reached its capacity of %d strings, remaining data was not scanned",
			catalog.Capacity())
	}

	return s, nil
}

// Catalog returns the strings found by Open.
func (o *Session) Catalog() *strscan.Catalog {
	return o.catalog
}

// Image returns the session's image.
func (o *Session) Image() *elfkit.Image {
	return o.img
}

// Select returns the catalog entry at index.
func (o *Session) Select(index int) (strscan.FoundString, error) {
	return o.catalog.Get(index)
}

// References returns the instructions that refer to catalogued strings.
func (o *Session) References(config xref.Config) ([]xref.Ref, error) {
	return xref.Find(o.img, o.catalog, config)
}

// Check validates a replacement for the entry at index without
// modifying the image.
func (o *Session) Check(index int, replacement []byte) error {
	entry, err := o.Select(index)
	if err != nil {
		return err
	}

	return patch.Check(entry, replacement)
}

// Patch overwrites the entry at index with replacement.
func (o *Session) Patch(index int, replacement []byte) error {
	entry, err := o.Select(index)
	if err != nil {
		return err
	}

	err = patch.Apply(o.img, entry, replacement, patch.Config{
		OptLogger: o.logger,
	})
	if err != nil {
		return err
	}

	o.patched = true

	o.logger.Printf("patched string %d (%q, %d bytes at 0x%x) with %d bytes",
		index, entry.Text, entry.Length, entry.Offset, len(replacement))

	return nil
}

// Patched reports whether Patch succeeded at least once.
func (o *Session) Patched() bool {
	return o.patched
}

// WriteConfig configures Write.
type WriteConfig struct {
	// OptOutputPath defaults to iokit.PatchedPath(input path).
	OptOutputPath string

	// OptMode defaults to the input file's permission bits.
	OptMode os.FileMode

	// Atomic is passed to iokit.WriteConfig.
	Atomic bool
}

// Write saves the image and returns the path that was written.
func (o *Session) Write(config WriteConfig) (string, error) {
	outputPath := config.OptOutputPath
	if outputPath == "" {
		outputPath = iokit.PatchedPath(o.inputPath)
	}

	same, err := samePath(o.inputPath, outputPath)
	if err != nil {
		return "", fmt.Errorf("%w - %w", err, iokit.ErrWriteFailed)
	}

	if same {
		return "", fmt.Errorf("%q - %w (%w)", outputPath, ErrSameFile, iokit.ErrWriteFailed)
	}

	mode := config.OptMode
	if mode == 0 {
		mode = o.inputMode
	}

	err = iokit.WriteFile(iokit.WriteConfig{
		Path:   outputPath,
		Mode:   mode,
		Atomic: config.Atomic,
	}, o.img.Bytes())
	if err != nil {
		return "", err
	}

	o.logger.Printf("wrote %d bytes to %s", o.img.Len(), outputPath)

	return outputPath, nil
}

func samePath(a string, b string) (bool, error) {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}

	absB, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}

	if absA == absB {
		return true, nil
	}

	infoA, err := os.Stat(absA)
	if err != nil {
		return false, nil
	}

	infoB, err := os.Stat(absB)
	if err != nil {
		return false, nil
	}

	return os.SameFile(infoA, infoB), nil
}
