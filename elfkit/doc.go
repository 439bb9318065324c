// Package elfkit parses and validates the header and section header
// table of 64-bit ELF files.
//
// An Image owns the raw file contents. All reads and writes of those
// contents go through Image.Range and Image.WriteAt, which refuse any
// span that leaves the buffer. Load validates every offset the header
// declares before returning, so code holding an *Image never has to
// deal with a truncated section table or an unterminated section name.
package elfkit
