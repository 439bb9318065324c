package asmkit

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

const (
	SkipSyntax  DisassemblySyntax = ""
	ATTSyntax   DisassemblySyntax = "att"
	GoSyntax    DisassemblySyntax = "go"
	IntelSyntax DisassemblySyntax = "intel"
)

type DisassemblySyntax string

type DisassemblerConfig struct {
	Syntax     DisassemblySyntax
	ArchConfig interface{}
}

type X86Config struct {
	Bits int
}

func NewDisassembler(config DisassemblerConfig) (*Disassembler, error) {
	switch assertedConfig := config.ArchConfig.(type) {
	case X86Config:
		switch assertedConfig.Bits {
		case 16, 32, 64:
		default:
			return nil, fmt.Errorf("unsupported x86 mode: %d bits", assertedConfig.Bits)
		}

		var disassemblyFn func(inst x86asm.Inst, pc uint64) string
		switch config.Syntax {
		case SkipSyntax:
			// Do nothing.
		case ATTSyntax:
			disassemblyFn = func(inst x86asm.Inst, pc uint64) string {
				return x86asm.GNUSyntax(inst, pc, nil)
			}
		case GoSyntax:
			disassemblyFn = func(inst x86asm.Inst, pc uint64) string {
				return x86asm.GoSyntax(inst, pc, nil)
			}
		case IntelSyntax:
			disassemblyFn = func(inst x86asm.Inst, pc uint64) string {
				return x86asm.IntelSyntax(inst, pc, nil)
			}
		default:
			return nil, fmt.Errorf("unsupported syntax type for x86: %q", config.Syntax)
		}

		return &Disassembler{
			bits:          assertedConfig.Bits,
			disassemblyFn: disassemblyFn,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported config type: %T", assertedConfig)
	}
}

// Disassembler decodes machine code one instruction at a time.
type Disassembler struct {
	bits          int
	disassemblyFn func(inst x86asm.Inst, pc uint64) string
}

// All decodes rawInstructions from start to end, calling onDecodeFn
// for each instruction. baseAddr is the virtual address of the first
// byte. Bytes that do not decode are passed to onDecodeFn one at
// a time as an Inst with Bad set to true.
func (o *Disassembler) All(rawInstructions []byte, baseAddr uint64, onDecodeFn func(Inst) error) error {
	index := 0

	for index < len(rawInstructions) {
		inst, err := o.Next(rawInstructions[index:], baseAddr+uint64(index))
		if err != nil {
			inst = Inst{
				Bin:  copySlice(rawInstructions[index:], 1),
				Len:  1,
				Addr: baseAddr + uint64(index),
				Bad:  true,
			}
		}

		inst.Index = index

		err = onDecodeFn(inst)
		if err != nil {
			return fmt.Errorf("on decode function failed for instruction at 0x%x (%q) - %w",
				inst.Addr, inst.Dis, err)
		}

		index += inst.Len
	}

	return nil
}

// Next decodes the first instruction in rawInstructions, which is
// located at virtual address addr.
func (o *Disassembler) Next(rawInstructions []byte, addr uint64) (Inst, error) {
	x86Inst, err := x86asm.Decode(rawInstructions, o.bits)
	if err != nil {
		return Inst{}, err
	}

	var disassembly string
	if o.disassemblyFn != nil {
		disassembly = o.disassemblyFn(x86Inst, addr)
	}

	return Inst{
		Bin:  copySlice(rawInstructions, x86Inst.Len),
		Len:  x86Inst.Len,
		Addr: addr,
		Dis:  disassembly,
		Inst: x86Inst,
	}, nil
}

func copySlice(src []byte, numBytes int) []byte {
	cp := make([]byte, numBytes)

	copy(cp, src[0:numBytes])

	return cp
}

// Inst is a decoded instruction.
type Inst struct {
	Bin   []byte
	Len   int
	Index int
	Addr  uint64
	Dis   string
	Bad   bool
	Inst  x86asm.Inst
}

// MemoryTargets returns the absolute addresses the instruction
// refers to through RIP-relative memory operands or, when
// includeImm is true, through immediate operands.
func (o Inst) MemoryTargets(includeImm bool) []uint64 {
	if o.Bad {
		return nil
	}

	var targets []uint64

	for _, arg := range o.Inst.Args {
		switch a := arg.(type) {
		case nil:
			return targets
		case x86asm.Mem:
			if a.Base == x86asm.RIP {
				next := o.Addr + uint64(o.Len)
				targets = append(targets, next+uint64(a.Disp))
			}
		case x86asm.Imm:
			if includeImm && a > 0 {
				targets = append(targets, uint64(a))
			}
		}
	}

	return targets
}
