package conv

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Format names an encoding for operator-supplied replacement text.
type Format string

const (
	// FormatRaw takes the text as-is.
	FormatRaw Format = "raw"

	// FormatHex takes pairs of hex digits. Shellcode-style "\x"
	// escapes, "0x" prefixes, quotes, commas and whitespace are
	// ignored, so "\x48\x69", "0x4869" and "48 69" are equivalent.
	FormatHex Format = "hex"
)

// ErrNewline is returned for raw text that spans more than one line.
var ErrNewline = errors.New("replacement text contains a newline")

// Formats returns the supported formats.
func Formats() []Format {
	return []Format{FormatRaw, FormatHex}
}

// ParseFormat converts s into a Format.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats() {
		if string(f) == s {
			return f, nil
		}
	}

	return "", fmt.Errorf("unknown format: %q", s)
}

// DecodeReplacement converts text in the specified format into bytes.
// A single trailing line ending is stripped before decoding.
func DecodeReplacement(text string, format Format) ([]byte, error) {
	text = strings.TrimSuffix(text, "\n")
	text = strings.TrimSuffix(text, "\r")

	switch format {
	case FormatRaw, "":
		if strings.ContainsAny(text, "\r\n") {
			return nil, ErrNewline
		}

		return []byte(text), nil
	case FormatHex:
		return HexStringToBytes(text)
	default:
		return nil, fmt.Errorf("unknown format: %q", format)
	}
}

// HexStringToBytes hex-decodes s after discarding the decorations
// commonly found around shellcode-style byte strings.
func HexStringToBytes(s string) ([]byte, error) {
	digits := bytes.NewBuffer(nil)

	for i := 0; i < len(s); i++ {
		b := s[i]

		switch {
		case b == '\\' && i+1 < len(s) && s[i+1] == 'x':
			i++
			continue
		case b == '0' && i+1 < len(s) && (s[i+1] == 'x' || s[i+1] == 'X') && pairStart(digits):
			i++
			continue
		case b == '"', b == '\'', b == ',', b == ' ', b == '\t', b == '\n', b == '\r':
			continue
		case !isHexChar(b):
			return nil, fmt.Errorf("invalid character %q at position %d", b, i)
		}

		digits.WriteByte(b)
	}

	if digits.Len()%2 != 0 {
		return nil, fmt.Errorf("odd number of hex digits (%d)", digits.Len())
	}

	decoded := make([]byte, digits.Len()/2)

	_, err := hex.Decode(decoded, digits.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to hex decode - %w", err)
	}

	return decoded, nil
}

// pairStart reports whether the next digit would begin a new byte,
// which is the only place a "0x" prefix may appear.
func pairStart(digits *bytes.Buffer) bool {
	return digits.Len()%2 == 0
}

func isHexChar(b byte) bool {
	return (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F') || (b >= '0' && b <= '9')
}
