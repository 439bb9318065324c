package elfkit

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/yalue/elf_reader"
	"gitlab.com/stephen-fox/elfstr/bstruct"
)

const (
	// HeaderSize is the size of the fixed ELF64 file header.
	HeaderSize = 64

	// SectionHeaderSize is the size of one ELF64 section header.
	SectionHeaderSize = 64
)

var (
	// ErrTruncated means the file is shorter than a header-declared extent.
	ErrTruncated = errors.New("elf file is truncated")

	// ErrMalformedHeader means a header field holds an invalid value.
	ErrMalformedHeader = errors.New("malformed elf header")

	// ErrNameTableOverrun means a section name does not terminate
	// inside the section name string table.
	ErrNameTableOverrun = errors.New("section name overruns the section name table")
)

// Section is a read-only view of one section header table entry.
type Section struct {
	Index      int
	NameOffset uint32
	Name       string
	Type       elf.SectionType
	Flags      elf.SectionFlag
	Addr       uint64
	Offset     uint64
	Size       uint64
}

// HasFileData reports whether the section occupies bytes in the file.
func (o Section) HasFileData() bool {
	return o.Type != elf.SHT_NOBITS
}

// End returns the file offset one past the last byte of the section.
func (o Section) End() uint64 {
	return o.Offset + o.Size
}

// Image is a loaded ELF64 file. It owns the underlying buffer.
type Image struct {
	buf      []byte
	bo       binary.ByteOrder
	header   elf.Header64
	sections []Section
}

// LoadOrExit calls Load. It calls DefaultExitFn if an error occurs.
func LoadOrExit(b []byte) *Image {
	img, err := Load(b)
	if err != nil {
		DefaultExitFn(fmt.Errorf("failed to load elf image - %w", err))
	}

	return img
}

// Load validates b as an ELF64 file and returns an Image that takes
// ownership of b. The caller must not use b after calling Load.
//
// Errors wrap ErrTruncated, ErrMalformedHeader, or ErrNameTableOverrun.
func Load(b []byte) (*Image, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("file is %d bytes, an elf64 header needs %d - %w",
			len(b), HeaderSize, ErrTruncated)
	}

	if !bytes.Equal(b[:len(elf.ELFMAG)], []byte(elf.ELFMAG)) {
		return nil, fmt.Errorf("bad magic 0x%x - %w", b[:len(elf.ELFMAG)], ErrMalformedHeader)
	}

	if class := elf.Class(b[elf.EI_CLASS]); class != elf.ELFCLASS64 {
		return nil, fmt.Errorf("unsupported class %s - %w", class, ErrMalformedHeader)
	}

	img := &Image{
		buf: b,
	}

	switch data := elf.Data(b[elf.EI_DATA]); data {
	case elf.ELFDATA2LSB:
		img.bo = binary.LittleEndian
	case elf.ELFDATA2MSB:
		img.bo = binary.BigEndian
	default:
		return nil, fmt.Errorf("unknown data encoding %s - %w", data, ErrMalformedHeader)
	}

	err := bstruct.FromBytes(b[:HeaderSize], img.bo, &img.header)
	if err != nil {
		return nil, fmt.Errorf("failed to decode elf header - %w", err)
	}

	hdr := &img.header

	if hdr.Shnum == 0 {
		return nil, fmt.Errorf("file has no section header table - %w", ErrMalformedHeader)
	}

	if hdr.Shentsize != SectionHeaderSize {
		return nil, fmt.Errorf("section header entry size is %d, expected %d - %w",
			hdr.Shentsize, SectionHeaderSize, ErrMalformedHeader)
	}

	table, err := img.Range(hdr.Shoff, uint64(hdr.Shnum)*SectionHeaderSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read section header table (%d entries at 0x%x) - %w",
			hdr.Shnum, hdr.Shoff, err)
	}

	if hdr.Shstrndx >= hdr.Shnum {
		return nil, fmt.Errorf("section name table index %d is not less than section count %d - %w",
			hdr.Shstrndx, hdr.Shnum, ErrMalformedHeader)
	}

	img.sections = make([]Section, hdr.Shnum)

	for i := range img.sections {
		var raw elf.Section64

		err := bstruct.FromBytes(table[i*SectionHeaderSize:], img.bo, &raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode section header %d - %w", i, err)
		}

		section := Section{
			Index:      i,
			NameOffset: raw.Name,
			Type:       elf.SectionType(raw.Type),
			Flags:      elf.SectionFlag(raw.Flags),
			Addr:       raw.Addr,
			Offset:     raw.Off,
			Size:       raw.Size,
		}

		if section.HasFileData() {
			_, err := img.Range(section.Offset, section.Size)
			if err != nil {
				return nil, fmt.Errorf("section %d (0x%x bytes at 0x%x) - %w",
					i, section.Size, section.Offset, err)
			}
		}

		img.sections[i] = section
	}

	for i := range img.sections {
		name, err := img.SectionName(img.sections[i])
		if err != nil {
			return nil, err
		}

		img.sections[i].Name = name
	}

	return img, nil
}

// Header returns a copy of the decoded file header.
func (o *Image) Header() elf.Header64 {
	return o.header
}

// Machine returns the header's e_machine field.
func (o *Image) Machine() elf.Machine {
	return elf.Machine(o.header.Machine)
}

// ByteOrder returns the byte order declared by the file's identifier.
func (o *Image) ByteOrder() binary.ByteOrder {
	return o.bo
}

// Sections returns the section header table in table order.
func (o *Image) Sections() []Section {
	sections := make([]Section, len(o.sections))
	copy(sections, o.sections)
	return sections
}

// SectionName resolves the section's name in the section name table.
func (o *Image) SectionName(section Section) (string, error) {
	nameTable := o.sections[o.header.Shstrndx]

	var names []byte
	if nameTable.HasFileData() {
		var err error
		names, err = o.Range(nameTable.Offset, nameTable.Size)
		if err != nil {
			return "", fmt.Errorf("failed to read section name table - %w", err)
		}
	}

	name, err := elf_reader.ReadStringAtOffset(section.NameOffset, names)
	if err != nil {
		return "", fmt.Errorf("section %d name at offset %d: %s - %w",
			section.Index, section.NameOffset, err, ErrNameTableOverrun)
	}

	return string(name), nil
}

// SectionData returns the section's bytes. The returned slice aliases
// the image buffer and must not be modified; use WriteAt instead.
// Sections without file data yield an empty slice.
func (o *Image) SectionData(section Section) ([]byte, error) {
	if !section.HasFileData() {
		return nil, nil
	}

	return o.Range(section.Offset, section.Size)
}

// Range returns size bytes starting at offset. It fails with an error
// wrapping ErrTruncated if any part of the span lies outside the buffer.
// The returned slice aliases the image buffer and must not be modified.
func (o *Image) Range(offset uint64, size uint64) ([]byte, error) {
	end := offset + size
	if end < offset || end > uint64(len(o.buf)) {
		return nil, fmt.Errorf("span of %d bytes at offset 0x%x exceeds file size %d - %w",
			size, offset, len(o.buf), ErrTruncated)
	}

	return o.buf[offset:end:end], nil
}

// WriteAt copies p into the buffer at offset. Nothing is written if
// the span does not fit inside the buffer.
func (o *Image) WriteAt(p []byte, offset uint64) error {
	dst, err := o.Range(offset, uint64(len(p)))
	if err != nil {
		return err
	}

	copy(dst, p)

	return nil
}

// Bytes returns the whole buffer. The caller must not retain it past
// the image's lifetime or modify it.
func (o *Image) Bytes() []byte {
	return o.buf
}

// Len returns the size of the file in bytes.
func (o *Image) Len() int {
	return len(o.buf)
}
