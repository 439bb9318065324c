// elfdasm disassembles an executable section of an x86-64 ELF file and
// marks the instructions that refer to strings found in its data sections.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"gitlab.com/stephen-fox/elfstr/asmkit"
	"gitlab.com/stephen-fox/elfstr/elfkit"
	"gitlab.com/stephen-fox/elfstr/iokit"
	"gitlab.com/stephen-fox/elfstr/strscan"
	"gitlab.com/stephen-fox/elfstr/xref"
)

const (
	sectionArg      = "s"
	asmSyntaxArg    = "a"
	immediatesArg   = "i"
	outputFormatArg = "o"
	helpArg         = "h"

	prettyFormat = "pretty"
	jsonFormat   = "json"
	goFormat     = "go"

	appName = "elfdasm"
	usage   = appName + `
Disassembles an executable section of an x86-64 ELF file. Instructions
that load the address of a string stored in .rodata or .data are
followed by the string they refer to.

usage:
  ` + appName + ` [options] ELF-FILE

examples:
  ` + appName + ` ./a.out
  ` + appName + ` -` + sectionArg + ` .init -` + outputFormatArg + ` ` + jsonFormat + ` ./a.out

options:
`
)

func main() {
	log.SetFlags(0)

	err := mainWithError()
	if err != nil {
		log.Fatalln("fatal:", err)
	}
}

func mainWithError() error {
	sectionName := flag.String(
		sectionArg,
		".text",
		"The `section` to disassemble")
	syntax := flag.String(
		asmSyntaxArg,
		string(asmkit.IntelSyntax),
		"The assembly `syntax` ('intel', 'att', 'go')")
	immediates := flag.Bool(
		immediatesArg,
		false,
		"Treat immediate operands as possible string addresses")
	outputFormat := flag.String(
		outputFormatArg,
		prettyFormat,
		fmt.Sprintf("The output `format` ('%s', '%s', '%s')", prettyFormat, jsonFormat, goFormat))
	help := flag.Bool(
		helpArg,
		false,
		"Display this information")

	flag.Parse()

	if *help {
		os.Stderr.WriteString(usage)
		flag.PrintDefaults()
		os.Exit(1)
	}

	if flag.NArg() != 1 {
		return fmt.Errorf("please specify exactly one elf file path as the last argument")
	}

	raw, _, err := iokit.ReadFile(flag.Arg(0))
	if err != nil {
		return err
	}

	img, err := elfkit.Load(raw)
	if err != nil {
		return err
	}

	section, ok := findSection(img, *sectionName)
	if !ok {
		return fmt.Errorf("failed to find section %q", *sectionName)
	}

	catalog, err := strscan.Scan(img, strscan.Config{})
	if err != nil {
		return err
	}

	refs, err := xref.Find(img, catalog, xref.Config{Immediates: *immediates})
	if err != nil {
		return err
	}

	disassembler, err := asmkit.NewDisassembler(asmkit.DisassemblerConfig{
		Syntax:     asmkit.DisassemblySyntax(*syntax),
		ArchConfig: asmkit.X86Config{Bits: 64},
	})
	if err != nil {
		return fmt.Errorf("failed to create disassembler - %w", err)
	}

	code, err := img.SectionData(section)
	if err != nil {
		return err
	}

	output := bytes.NewBuffer(nil)
	var writer instWriter

	switch *outputFormat {
	case prettyFormat:
		writer = &prettyWriter{w: output}
	case jsonFormat:
		writer = &jsonWriter{indent: "  ", w: output}
	case goFormat:
		writer = &goByteSliceWriter{w: output}
	default:
		return fmt.Errorf("unsupported output format: %q", *outputFormat)
	}

	strs := stringsByInst(refs, catalog)

	err = disassembler.All(code, section.Addr, func(inst asmkit.Inst) error {
		return writer.Write(inst, strs[inst.Addr])
	})
	if err != nil {
		return fmt.Errorf("failed to disassemble %q - %w", section.Name, err)
	}

	err = writer.Flush()
	if err != nil {
		return fmt.Errorf("failed to write remaining data to output - %w", err)
	}

	_, err = io.Copy(os.Stdout, output)
	return err
}

func findSection(img *elfkit.Image, name string) (elfkit.Section, bool) {
	for _, s := range img.Sections() {
		if s.Name == name && s.HasFileData() {
			return s, true
		}
	}

	return elfkit.Section{}, false
}

func stringsByInst(refs []xref.Ref, catalog *strscan.Catalog) map[uint64][]strscan.FoundString {
	m := make(map[uint64][]strscan.FoundString)

	for _, ref := range refs {
		entry, err := catalog.Get(ref.StringIndex)
		if err != nil {
			continue
		}

		m[ref.InstAddr] = append(m[ref.InstAddr], entry)
	}

	return m
}

type instWriter interface {
	Write(asmkit.Inst, []strscan.FoundString) error
	Flush() error
}

var _ instWriter = (*prettyWriter)(nil)

type prettyWriter struct {
	w io.Writer
}

func (o *prettyWriter) Write(inst asmkit.Inst, strs []strscan.FoundString) error {
	dis := inst.Dis
	if inst.Bad {
		dis = "(bad)"
	}

	_, err := fmt.Fprintf(o.w, "%8x:\t%-24x\t%s", inst.Addr, inst.Bin, dis)
	if err != nil {
		return err
	}

	for _, s := range strs {
		_, err = fmt.Fprintf(o.w, "\t; [%d] %q", s.Index, s.Text)
		if err != nil {
			return err
		}
	}

	_, err = o.w.Write([]byte{'\n'})
	return err
}

func (o *prettyWriter) Flush() error {
	return nil
}

var _ instWriter = (*jsonWriter)(nil)

type jsonWriter struct {
	indent string
	w      io.Writer
	buf    []jsonInst
}

type jsonInst struct {
	Addr     uint64   `json:"addr"`
	Bin      string   `json:"bin"`
	Assembly string   `json:"assembly,omitempty"`
	Bad      bool     `json:"bad,omitempty"`
	Strings  []string `json:"strings,omitempty"`
}

func (o *jsonWriter) Write(inst asmkit.Inst, strs []strscan.FoundString) error {
	item := jsonInst{
		Addr:     inst.Addr,
		Bin:      fmt.Sprintf("%x", inst.Bin),
		Assembly: inst.Dis,
		Bad:      inst.Bad,
	}

	for _, s := range strs {
		item.Strings = append(item.Strings, s.Text)
	}

	o.buf = append(o.buf, item)

	return nil
}

func (o *jsonWriter) Flush() error {
	enc := json.NewEncoder(o.w)

	enc.SetIndent("", o.indent)

	return enc.Encode(o.buf)
}

var _ instWriter = (*goByteSliceWriter)(nil)

type goByteSliceWriter struct {
	isInit bool
	w      io.Writer
}

func (o *goByteSliceWriter) Write(inst asmkit.Inst, strs []strscan.FoundString) error {
	if !o.isInit {
		o.isInit = true

		_, err := o.w.Write([]byte("[]byte{\n"))
		if err != nil {
			return err
		}
	}

	var hexBytes []string
	for _, b := range inst.Bin {
		hexBytes = append(hexBytes, fmt.Sprintf("0x%02x,", b))
	}

	comment := inst.Dis
	for _, s := range strs {
		comment += fmt.Sprintf(" (%q)", s.Text)
	}

	_, err := fmt.Fprintf(o.w, "\t%s // %s\n", strings.Join(hexBytes, " "), comment)
	return err
}

func (o *goByteSliceWriter) Flush() error {
	if !o.isInit {
		return nil
	}

	_, err := o.w.Write([]byte("}\n"))
	return err
}
