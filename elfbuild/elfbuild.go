// Package elfbuild produces small, well-formed ELF64 images from
// a list of sections. It exists to build fixtures without checking
// compiled binaries into the repository.
//
// The generated file layout is:
//
//	ELF header | section contents... | .shstrtab | section header table
//
// Section 0 is the mandatory SHT_NULL entry and the section name
// table is always the last section.
package elfbuild

import (
	"debug/elf"
	"encoding/binary"
	"fmt"

	"gitlab.com/stephen-fox/elfstr/iokit"
)

const (
	headerSize        = 64
	sectionHeaderSize = 64
	dataAlignment     = 8
)

// SectionSpec describes one section to place in the image.
type SectionSpec struct {
	Name  string
	Type  elf.SectionType
	Flags elf.SectionFlag
	Addr  uint64

	// Data is the section's file content. It is ignored for
	// SHT_NOBITS sections.
	Data []byte

	// OptSize overrides the sh_size header field when non-zero.
	// It may be used to create SHT_NOBITS sections or to craft
	// sections that claim more bytes than the file contains.
	OptSize uint64
}

// Config configures Build.
type Config struct {
	// ByteOrder defaults to binary.LittleEndian.
	ByteOrder binary.ByteOrder

	// Machine defaults to elf.EM_X86_64.
	Machine elf.Machine

	// Type defaults to elf.ET_EXEC.
	Type elf.Type

	Entry uint64

	Sections []SectionSpec
}

// Section describes where Build placed a section.
type Section struct {
	Index  int
	Name   string
	Offset uint64
	Size   uint64
}

// Result is a built image.
type Result struct {
	Bytes    []byte
	Sections []Section
}

// Section returns the first placed section with the given name.
func (o *Result) Section(name string) (Section, bool) {
	for _, s := range o.Sections {
		if s.Name == name {
			return s, true
		}
	}

	return Section{}, false
}

// BuildOrExit calls Build. It calls iokit.DefaultExitFn if an error occurs.
func BuildOrExit(config Config) *Result {
	r, err := Build(config)
	if err != nil {
		iokit.DefaultExitFn(fmt.Errorf("failed to build elf image - %w", err))
	}

	return r
}

// Build lays out config.Sections and returns the resulting image.
func Build(config Config) (*Result, error) {
	bo := config.ByteOrder
	if bo == nil {
		bo = binary.LittleEndian
	}

	machine := config.Machine
	if machine == elf.EM_NONE {
		machine = elf.EM_X86_64
	}

	fileType := config.Type
	if fileType == elf.ET_NONE {
		fileType = elf.ET_EXEC
	}

	data := elf.ELFDATA2LSB
	if bo == binary.BigEndian {
		data = elf.ELFDATA2MSB
	}

	specs := make([]SectionSpec, 0, len(config.Sections)+2)
	specs = append(specs, SectionSpec{Type: elf.SHT_NULL})
	specs = append(specs, config.Sections...)

	var names []byte
	names = append(names, 0)
	nameOffsets := make([]uint32, len(specs)+1)
	for i, spec := range specs {
		if i == 0 {
			continue
		}

		nameOffsets[i] = uint32(len(names))
		names = append(names, spec.Name...)
		names = append(names, 0)
	}

	shstrndx := len(specs)
	nameOffsets[shstrndx] = uint32(len(names))
	names = append(names, ".shstrtab"...)
	names = append(names, 0)

	specs = append(specs, SectionSpec{
		Name: ".shstrtab",
		Type: elf.SHT_STRTAB,
		Data: names,
	})

	body := iokit.NewPayloadBuilder().SetEndianness(bo)

	// Reserve space for the file header, which is written last
	// once the section header table offset is known.
	body.Bytes(make([]byte, headerSize))

	result := &Result{}
	headers := make([]elf.Section64, len(specs))

	for i, spec := range specs {
		sh := elf.Section64{
			Name:  nameOffsets[i],
			Type:  uint32(spec.Type),
			Flags: uint64(spec.Flags),
			Addr:  spec.Addr,
		}

		if i > 0 {
			body.Align(dataAlignment)

			sh.Off = uint64(body.Len())
			sh.Addralign = 1

			if spec.Type != elf.SHT_NOBITS {
				body.Bytes(spec.Data)
				sh.Size = uint64(len(spec.Data))
			}

			if spec.OptSize != 0 {
				sh.Size = spec.OptSize
			}
		}

		headers[i] = sh

		result.Sections = append(result.Sections, Section{
			Index:  i,
			Name:   spec.Name,
			Offset: sh.Off,
			Size:   sh.Size,
		})
	}

	body.Align(dataAlignment)
	shoff := uint64(body.Len())

	for i := range headers {
		body.Struct(headers[i])
	}

	raw, err := body.Build()
	if err != nil {
		return nil, err
	}

	hdr := elf.Header64{
		Type:      uint16(fileType),
		Machine:   uint16(machine),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     config.Entry,
		Shoff:     shoff,
		Ehsize:    headerSize,
		Shentsize: sectionHeaderSize,
		Shnum:     uint16(len(headers)),
		Shstrndx:  uint16(shstrndx),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(data)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	hdrBytes, err := iokit.NewPayloadBuilder().Struct(hdr, bo).Build()
	if err != nil {
		return nil, err
	}

	copy(raw, hdrBytes)

	result.Bytes = raw

	return result, nil
}
