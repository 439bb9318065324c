package strscan

import (
	"fmt"
	"log"

	"gitlab.com/stephen-fox/elfstr/elfkit"
)

const (
	// DefaultMinLength is the shortest string Scan reports.
	DefaultMinLength = 4

	// DefaultCapacity is the default catalog capacity.
	DefaultCapacity = 1024
)

// DefaultSections returns the names of the sections scanned when
// Config.Sections is empty.
func DefaultSections() []string {
	return []string{".rodata", ".data"}
}

// Config configures Scan. Zero values select the defaults.
type Config struct {
	// Sections lists the names of the sections to scan.
	Sections []string

	// MinLength is the minimum string length, excluding the terminator.
	MinLength int

	// Capacity is the maximum number of catalog entries. Scanning
	// stops without error once it is reached.
	Capacity int

	// OptLogger, when non-nil, receives a message per scanned section.
	OptLogger *log.Logger
}

func (o Config) withDefaults() Config {
	if len(o.Sections) == 0 {
		o.Sections = DefaultSections()
	}

	if o.MinLength <= 0 {
		o.MinLength = DefaultMinLength
	}

	if o.Capacity <= 0 {
		o.Capacity = DefaultCapacity
	}

	return o
}

// ScanOrExit calls Scan. It calls DefaultExitFn if an error occurs.
func ScanOrExit(img *elfkit.Image, config Config) *Catalog {
	c, err := Scan(img, config)
	if err != nil {
		DefaultExitFn(fmt.Errorf("failed to scan elf image - %w", err))
	}

	return c
}

// Scan visits the sections named in config.Sections in section table
// order and catalogs every run of printable ASCII (0x20-0x7e) that is
// at least config.MinLength bytes long and is immediately followed by
// a NUL byte inside the same section.
//
// An empty catalog is not an error.
func Scan(img *elfkit.Image, config Config) (*Catalog, error) {
	config = config.withDefaults()

	wanted := make(map[string]struct{}, len(config.Sections))
	for _, name := range config.Sections {
		wanted[name] = struct{}{}
	}

	catalog := newCatalog(config.Capacity)

	for _, section := range img.Sections() {
		if catalog.Full() {
			break
		}

		if _, ok := wanted[section.Name]; !ok || !section.HasFileData() {
			continue
		}

		data, err := img.SectionData(section)
		if err != nil {
			return nil, fmt.Errorf("failed to read section %q - %w", section.Name, err)
		}

		before := catalog.Len()

		scanSection(data, section, config.MinLength, catalog)

		if config.OptLogger != nil {
			config.OptLogger.Printf("scanned %s: %d bytes at 0x%x, %d strings",
				section.Name, section.Size, section.Offset, catalog.Len()-before)
		}
	}

	return catalog, nil
}

func scanSection(data []byte, section elfkit.Section, minLength int, catalog *Catalog) {
	size := len(data)

	for i := 0; i < size; i++ {
		if !isPrintable(data[i]) {
			continue
		}

		start := i
		for i < size && isPrintable(data[i]) {
			i++
		}

		// i now indexes the byte that ended the run, if any. The
		// loop increment skips it.
		length := i - start
		if length < minLength || i >= size || data[i] != 0 {
			continue
		}

		added := catalog.add(FoundString{
			Text:         string(data[start:i]),
			Offset:       section.Offset + uint64(start),
			Length:       uint64(length),
			Section:      section.Name,
			SectionIndex: section.Index,
			Addr:         section.Addr + uint64(start),
		})
		if !added || catalog.Full() {
			return
		}
	}
}

func isPrintable(b byte) bool {
	return b >= 32 && b <= 126
}
