// bytesurgeon lists the strings stored in the data sections of a 64-bit
// ELF file and replaces one of them in place, writing the result to
// a new file.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"gitlab.com/stephen-fox/elfstr/conv"
	"gitlab.com/stephen-fox/elfstr/session"
	"gitlab.com/stephen-fox/elfstr/strscan"
	"gitlab.com/stephen-fox/elfstr/xref"
)

const (
	sectionsArg    = "s"
	minLengthArg   = "m"
	capacityArg    = "c"
	listArg        = "l"
	xrefArg        = "x"
	indexArg       = "n"
	textArg        = "t"
	inputFormatArg = "i"
	outputArg      = "o"
	atomicArg      = "a"
	retryArg       = "r"
	verboseArg     = "v"
	helpArg        = "h"

	appName = "bytesurgeon"
	usage   = appName + `
Lists the printable, NUL-terminated strings found in the data sections of
a 64-bit ELF file and overwrites one of them in place. The replacement must
not be longer than the original string. Any remaining bytes of the original
string are set to zero, so the file size and every offset stay the same.

The patched copy is written to '<file>` + "_patched" + `' unless -` + outputArg + ` is specified.
The input file is never modified.

usage:
  ` + appName + ` [options] ELF-FILE

examples:
  ` + appName + ` /bin/true
  ` + appName + ` -` + listArg + ` -` + xrefArg + ` ./a.out
  ` + appName + ` -` + indexArg + ` 3 -` + textArg + ` 'Hi' ./a.out
  ` + appName + ` -` + indexArg + ` 3 -` + inputFormatArg + ` hex -` + textArg + ` '\x48\x69' ./a.out

exit status:
  0 - patched (or listed)
  1 - usage error
  2 - no strings found
  3 - invalid index
  4 - replacement too long
  5 - failed to load or parse the input file
  6 - failed to write the output file

options:
`
)

func main() {
	log.SetFlags(0)

	err := mainWithError()
	outcome := session.OutcomeOf(err)

	switch outcome {
	case session.OutcomePatched:
		return
	case session.OutcomeNoStrings:
		fmt.Println("No strings found.")
	default:
		log.Println("fatal:", err)
	}

	os.Exit(outcome.ExitCode())
}

func mainWithError() error {
	sections := flag.String(
		sectionsArg,
		strings.Join(strscan.DefaultSections(), ","),
		"Comma-separated list of `sections` to scan")
	minLength := flag.Int(
		minLengthArg,
		strscan.DefaultMinLength,
		"Minimum string `length`")
	capacity := flag.Int(
		capacityArg,
		strscan.DefaultCapacity,
		"Maximum `number` of strings to list")
	listOnly := flag.Bool(
		listArg,
		false,
		"List the strings and exit")
	showRefs := flag.Bool(
		xrefArg,
		false,
		"Show the x86-64 instructions that refer to each string")
	index := flag.Int(
		indexArg,
		0,
		"The `index` of the string to replace (skips the prompt)")
	text := flag.String(
		textArg,
		"",
		"The replacement `text` (skips the prompt)")
	inputFormat := flag.String(
		inputFormatArg,
		string(conv.FormatRaw),
		fmt.Sprintf("The replacement text `format` (%s)", supportedFormatsStr()))
	outputPath := flag.String(
		outputArg,
		"",
		"The output file `path` (default: <file>_patched)")
	atomic := flag.Bool(
		atomicArg,
		false,
		"Write to a temporary file and rename it to the output path")
	retry := flag.Bool(
		retryArg,
		false,
		"Prompt again after an invalid index or a replacement that is too long")
	verbose := flag.Bool(
		verboseArg,
		false,
		"Enable verbose logging")
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
		return errors.New("please specify exactly one elf file path as the last argument")
	}

	format, err := conv.ParseFormat(*inputFormat)
	if err != nil {
		return err
	}

	indexSet := false
	textSet := false
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case indexArg:
			indexSet = true
		case textArg:
			textSet = true
		}
	})

	interactiveIndex, err := indexMode(indexSet, *index)
	if err != nil {
		return err
	}

	var logger *log.Logger
	if *verbose {
		logger = log.New(os.Stderr, "", 0)
	}

	sess, err := session.Open(session.Config{
		InputPath: flag.Arg(0),
		Scan: strscan.Config{
			Sections:  splitList(*sections),
			MinLength: *minLength,
			Capacity:  *capacity,
		},
		OptLogger: logger,
	})
	if err != nil {
		return err
	}

	var refs map[int][]xref.Ref
	if *showRefs {
		all, err := sess.References(xref.Config{Immediates: true})
		switch {
		case errors.Is(err, xref.ErrUnsupportedMachine):
			log.Printf("warning: cannot find references - %s", err)
		case err != nil:
			return fmt.Errorf("failed to find string references - %w", err)
		default:
			refs = xref.ByString(all)
		}
	}

	printCatalog(os.Stdout, sess.Catalog(), refs)

	if *listOnly {
		return nil
	}

	p := &prompter{
		in:    bufio.NewReader(os.Stdin),
		out:   os.Stdout,
		retry: *retry,
	}

	interactiveText := !textSet

	selected := *index
	for {
		err = nil
		if interactiveIndex {
			selected, err = p.readIndex()
		}

		if err == nil {
			_, err = sess.Select(selected)
		}
		if err == nil {
			break
		}

		if !p.shouldRetry(interactiveIndex, err) {
			return err
		}
	}

	var replacement []byte
	for {
		line := *text
		if interactiveText {
			line, err = p.readLine("New text: ")
			if err != nil {
				return err
			}
		}

		replacement, err = conv.DecodeReplacement(line, format)
		if err == nil {
			err = sess.Check(selected, replacement)
		}
		if err == nil {
			break
		}

		if !p.shouldRetry(interactiveText, err) {
			return err
		}
	}

	err = sess.Patch(selected, replacement)
	if err != nil {
		return err
	}

	written, err := sess.Write(session.WriteConfig{
		OptOutputPath: *outputPath,
		Atomic:        *atomic,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Patch created: %s\n", written)

	return nil
}

// indexMode reports whether the index must be read from the prompt.
func indexMode(set bool, index int) (bool, error) {
	if !set {
		return true, nil
	}

	if index < 0 {
		return false, fmt.Errorf("-%s %d is negative - %w", indexArg, index, strscan.ErrIndexOutOfRange)
	}

	return false, nil
}

func printCatalog(w io.Writer, catalog *strscan.Catalog, refs map[int][]xref.Ref) {
	if refs == nil {
		catalog.WriteTo(w)
		return
	}

	for _, e := range catalog.Strings() {
		fmt.Fprintf(w, "[%d] %s\n", e.Index, e.Text)

		for _, ref := range refs[e.Index] {
			fmt.Fprintf(w, "    0x%x %s: %s\n", ref.InstAddr, ref.Section, ref.Assembly)
		}
	}
}

type prompter struct {
	in    *bufio.Reader
	out   io.Writer
	retry bool
}

func (o *prompter) readIndex() (int, error) {
	line, err := o.readLine("\nWhich index would you like to modify? ")
	if err != nil {
		return 0, err
	}

	i, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return 0, fmt.Errorf("%q is not a number - %w", line, strscan.ErrIndexOutOfRange)
	}

	return i, nil
}

func (o *prompter) readLine(prompt string) (string, error) {
	fmt.Fprint(o.out, prompt)

	line, err := o.in.ReadString('\n')
	switch {
	case err == nil:
		return line, nil
	case errors.Is(err, io.EOF) && len(line) > 0:
		return line, nil
	default:
		return "", fmt.Errorf("failed to read from stdin - %w", err)
	}
}

// shouldRetry reports whether the prompt should be shown again after err.
func (o *prompter) shouldRetry(interactive bool, err error) bool {
	if !interactive || !o.retry || !session.OutcomeOf(err).Recoverable() {
		return false
	}

	fmt.Fprintf(o.out, "%s, please try again\n", err)

	return true
}

func splitList(s string) []string {
	var list []string

	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			list = append(list, item)
		}
	}

	return list
}

func supportedFormatsStr() string {
	var strs []string
	for _, f := range conv.Formats() {
		strs = append(strs, "'"+string(f)+"'")
	}

	return strings.Join(strs, ", ")
}
