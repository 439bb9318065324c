// Package xref finds machine code that refers to catalogued strings.
//
// Knowing which instructions load a string's address helps decide
// whether a string can be safely shortened: code that copies a fixed
// number of bytes from it, for example, will read the zero padding.
package xref

import (
	"debug/elf"
	"errors"
	"fmt"
	"sort"

	"gitlab.com/stephen-fox/elfstr/asmkit"
	"gitlab.com/stephen-fox/elfstr/elfkit"
	"gitlab.com/stephen-fox/elfstr/strscan"
)

// ErrUnsupportedMachine is returned for images whose instruction
// set cannot be decoded.
var ErrUnsupportedMachine = errors.New("unsupported machine")

// Ref is one instruction that refers to a catalogued string.
type Ref struct {
	// StringIndex is the index of the referenced catalog entry.
	StringIndex int

	// Target is the referenced address. It may point into the
	// middle of the string when a compiler merged string tails.
	Target uint64

	// InstAddr is the virtual address of the instruction.
	InstAddr uint64

	// Section is the name of the section holding the instruction.
	Section string

	// Assembly is the instruction in Intel syntax.
	Assembly string
}

// Config configures Find.
type Config struct {
	// Immediates also matches immediate operands. This finds
	// references in position-dependent code at the cost of
	// occasional false positives.
	Immediates bool
}

// Find disassembles every executable section of img and returns the
// references to catalog entries in ascending instruction address order.
func Find(img *elfkit.Image, catalog *strscan.Catalog, config Config) ([]Ref, error) {
	if img.Machine() != elf.EM_X86_64 {
		return nil, fmt.Errorf("%s - %w", img.Machine(), ErrUnsupportedMachine)
	}

	disass, err := asmkit.NewDisassembler(asmkit.DisassemblerConfig{
		Syntax:     asmkit.IntelSyntax,
		ArchConfig: asmkit.X86Config{Bits: 64},
	})
	if err != nil {
		return nil, err
	}

	index := newAddrIndex(catalog.Strings())

	var refs []Ref

	for _, section := range img.Sections() {
		if section.Flags&elf.SHF_EXECINSTR == 0 || !section.HasFileData() {
			continue
		}

		code, err := img.SectionData(section)
		if err != nil {
			return nil, fmt.Errorf("failed to read section %q - %w", section.Name, err)
		}

		err = disass.All(code, section.Addr, func(inst asmkit.Inst) error {
			for _, target := range inst.MemoryTargets(config.Immediates) {
				entry, ok := index.lookup(target)
				if !ok {
					continue
				}

				refs = append(refs, Ref{
					StringIndex: entry.Index,
					Target:      target,
					InstAddr:    inst.Addr,
					Section:     section.Name,
					Assembly:    inst.Dis,
				})
			}

			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to disassemble section %q - %w", section.Name, err)
		}
	}

	sort.SliceStable(refs, func(i, j int) bool {
		return refs[i].InstAddr < refs[j].InstAddr
	})

	return refs, nil
}

// ByString groups refs by the index of the referenced string.
func ByString(refs []Ref) map[int][]Ref {
	m := make(map[int][]Ref)

	for _, ref := range refs {
		m[ref.StringIndex] = append(m[ref.StringIndex], ref)
	}

	return m
}

type addrIndex struct {
	entries []strscan.FoundString
}

func newAddrIndex(entries []strscan.FoundString) addrIndex {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Addr < entries[j].Addr
	})

	return addrIndex{entries: entries}
}

// lookup finds the entry whose bytes, terminator included, contain addr.
func (o addrIndex) lookup(addr uint64) (strscan.FoundString, bool) {
	i := sort.Search(len(o.entries), func(i int) bool {
		return o.entries[i].Addr > addr
	})

	if i == 0 {
		return strscan.FoundString{}, false
	}

	entry := o.entries[i-1]
	if addr > entry.Addr+entry.Length {
		return strscan.FoundString{}, false
	}

	return entry, true
}
