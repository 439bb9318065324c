// Package patch overwrites catalogued strings inside an ELF image
// without moving any other byte of the file.
//
// A replacement may be shorter than, or as long as, the original string.
// Shorter replacements are followed by zero bytes up to the original
// length, so the file keeps its size and every offset stays valid.
package patch

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"math"

	"gitlab.com/stephen-fox/elfstr/elfkit"
	"gitlab.com/stephen-fox/elfstr/strscan"
)

var (
	// ErrReplacementTooLong means the replacement does not fit in
	// the original string's bytes.
	ErrReplacementTooLong = errors.New("replacement is longer than the original string")

	// ErrIndexOutOfRange is strscan.ErrIndexOutOfRange.
	ErrIndexOutOfRange = strscan.ErrIndexOutOfRange
)

// Config holds optional settings for Apply and ApplyIndex.
type Config struct {
	// OptLogger, when non-nil, receives a hexdump of the patched
	// region before and after the write.
	OptLogger *log.Logger
}

// Check reports whether replacement can be written over entry.
func Check(entry strscan.FoundString, replacement []byte) error {
	if uint64(len(replacement)) > entry.Length {
		return fmt.Errorf("%d bytes do not fit in the %d bytes of %q - %w",
			len(replacement), entry.Length, entry.Text, ErrReplacementTooLong)
	}

	return nil
}

// ApplyOrExit calls Apply. It calls DefaultExitFn if an error occurs.
func ApplyOrExit(img *elfkit.Image, entry strscan.FoundString, replacement []byte, config Config) {
	err := Apply(img, entry, replacement, config)
	if err != nil {
		DefaultExitFn(fmt.Errorf("failed to patch string %d - %w", entry.Index, err))
	}
}

// ApplyIndex looks up index in catalog and calls Apply.
func ApplyIndex(img *elfkit.Image, catalog *strscan.Catalog, index int, replacement []byte, config Config) error {
	entry, err := catalog.Get(index)
	if err != nil {
		return err
	}

	return Apply(img, entry, replacement, config)
}

// Apply writes replacement at entry.Offset and zero-fills the rest of
// the original string. Only bytes in [entry.Offset, entry.Offset+entry.Length)
// are modified; the terminator is left alone.
//
// The image is not modified when an error is returned.
func Apply(img *elfkit.Image, entry strscan.FoundString, replacement []byte, config Config) error {
	err := Check(entry, replacement)
	if err != nil {
		return err
	}

	if entry.Length == math.MaxUint64 {
		return fmt.Errorf("string %d length %d cannot be followed by a terminator - %w",
			entry.Index, entry.Length, elfkit.ErrTruncated)
	}

	// Include the terminator in the bounds check so an entry that
	// does not belong to img cannot be used to write past its end.
	region, err := img.Range(entry.Offset, entry.Length+1)
	if err != nil {
		return fmt.Errorf("string %d does not fit in the image - %w", entry.Index, err)
	}

	if config.OptLogger != nil {
		config.OptLogger.Printf("string %d at 0x%x before patch:\n%s",
			entry.Index, entry.Offset, hex.Dump(region))
	}

	patched := make([]byte, entry.Length)
	copy(patched, replacement)

	err = img.WriteAt(patched, entry.Offset)
	if err != nil {
		return err
	}

	if config.OptLogger != nil {
		config.OptLogger.Printf("string %d at 0x%x after patch:\n%s",
			entry.Index, entry.Offset, hex.Dump(region))
	}

	return nil
}
