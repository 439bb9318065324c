package strscan

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"strings"
	"testing"

	"gitlab.com/stephen-fox/elfstr/elfbuild"
	"gitlab.com/stephen-fox/elfstr/elfkit"
)

func loadSections(t *testing.T, sections ...elfbuild.SectionSpec) (*elfkit.Image, *elfbuild.Result) {
	t.Helper()

	r, err := elfbuild.Build(elfbuild.Config{Sections: sections})
	if err != nil {
		t.Fatal(err)
	}

	img, err := elfkit.Load(append([]byte(nil), r.Bytes...))
	if err != nil {
		t.Fatal(err)
	}

	return img, r
}

func rodata(data string) elfbuild.SectionSpec {
	return elfbuild.SectionSpec{
		Name:  ".rodata",
		Type:  elf.SHT_PROGBITS,
		Flags: elf.SHF_ALLOC,
		Addr:  0x402000,
		Data:  []byte(data),
	}
}

func texts(c *Catalog) []string {
	var strs []string
	for _, e := range c.Strings() {
		strs = append(strs, e.Text)
	}

	return strs
}

func TestScan(t *testing.T) {
	img, r := loadSections(t, rodata("Hello\x00World!\x00ab\x00"))

	c, err := Scan(img, Config{})
	if err != nil {
		t.Fatal(err)
	}

	if c.Len() != 2 {
		t.Fatalf("expected 2 strings - got %q", texts(c))
	}

	section, _ := r.Section(".rodata")

	for i, exp := range []FoundString{
		{
			Index:        0,
			Text:         "Hello",
			Offset:       section.Offset,
			Length:       5,
			Section:      ".rodata",
			SectionIndex: section.Index,
			Addr:         0x402000,
		},
		{
			Index:        1,
			Text:         "World!",
			Offset:       section.Offset + 6,
			Length:       6,
			Section:      ".rodata",
			SectionIndex: section.Index,
			Addr:         0x402006,
		},
	} {
		got, err := c.Get(i)
		if err != nil {
			t.Fatal(err)
		}

		if got != exp {
			t.Fatalf("entry %d: expected %+v - got %+v", i, exp, got)
		}
	}
}

func TestScan_Terminators(t *testing.T) {
	img, _ := loadSections(t,
		rodata("\x01\x02abcd\x00\xffefgh\x00ijk\x00lmnopq\x00\x00\x00rstu\x00vwxyz"))

	c, err := Scan(img, Config{})
	if err != nil {
		t.Fatal(err)
	}

	exp := []string{"abcd", "efgh", "lmnopq", "rstu"}
	if got := texts(c); fmt.Sprint(got) != fmt.Sprint(exp) {
		t.Fatalf("expected %q - got %q", exp, got)
	}

	for _, e := range c.Strings() {
		b, err := img.Range(e.Offset, e.Length+1)
		if err != nil {
			t.Fatal(err)
		}

		if string(b[:e.Length]) != e.Text {
			t.Fatalf("entry %d: bytes at offset do not match text %q", e.Index, e.Text)
		}

		if b[e.Length] != 0 {
			t.Fatalf("entry %d: expected a terminator after %q", e.Index, e.Text)
		}

		for _, ch := range b[:e.Length] {
			if ch < 0x20 || ch > 0x7e {
				t.Fatalf("entry %d: non printable byte 0x%x", e.Index, ch)
			}
		}
	}
}

func TestScan_RunAtSectionEnd(t *testing.T) {
	// The zero byte following "Hello" is alignment padding
	// outside of .rodata.
	img, _ := loadSections(t,
		rodata("World\x00Hello"),
		elfbuild.SectionSpec{Name: ".data", Type: elf.SHT_PROGBITS, Data: []byte{0, 0, 0, 0}},
	)

	c, err := Scan(img, Config{})
	if err != nil {
		t.Fatal(err)
	}

	if got := texts(c); len(got) != 1 || got[0] != "World" {
		t.Fatalf("expected only World - got %q", got)
	}
}

func TestScan_SectionSelection(t *testing.T) {
	img, _ := loadSections(t,
		elfbuild.SectionSpec{
			Name:  ".text",
			Type:  elf.SHT_PROGBITS,
			Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR,
			Data:  []byte("code\x00"),
		},
		elfbuild.SectionSpec{
			Name: ".data",
			Type: elf.SHT_PROGBITS,
			Data: []byte("data1\x00"),
		},
		rodata("rodata1\x00"),
		elfbuild.SectionSpec{
			Name:    ".bss",
			Type:    elf.SHT_NOBITS,
			OptSize: 4096,
		},
		elfbuild.SectionSpec{
			Name: ".comment",
			Type: elf.SHT_PROGBITS,
			Data: []byte("GCC: (GNU) 13.2.0\x00"),
		},
	)

	for _, tc := range []struct {
		sections []string
		exp      []string
	}{
		{
			// Section table order, not configuration order.
			sections: nil,
			exp:      []string{"data1", "rodata1"},
		},
		{
			sections: []string{".rodata", ".data"},
			exp:      []string{"data1", "rodata1"},
		},
		{
			sections: []string{".comment"},
			exp:      []string{"GCC: (GNU) 13.2.0"},
		},
		{
			sections: []string{".bss", ".missing"},
			exp:      nil,
		},
	} {
		t.Run(strings.Join(tc.sections, ","), func(t *testing.T) {
			c, err := Scan(img, Config{Sections: tc.sections})
			if err != nil {
				t.Fatal(err)
			}

			if got := texts(c); fmt.Sprint(got) != fmt.Sprint(tc.exp) {
				t.Fatalf("expected %q - got %q", tc.exp, got)
			}
		})
	}
}

func TestScan_MinLength(t *testing.T) {
	img, _ := loadSections(t, rodata("a\x00bb\x00ccc\x00dddd\x00"))

	for _, tc := range []struct {
		minLength int
		exp       int
	}{
		{minLength: 0, exp: 1},
		{minLength: 1, exp: 4},
		{minLength: 3, exp: 2},
		{minLength: 5, exp: 0},
	} {
		c, err := Scan(img, Config{MinLength: tc.minLength})
		if err != nil {
			t.Fatal(err)
		}

		if c.Len() != tc.exp {
			t.Fatalf("min length %d: expected %d strings - got %q",
				tc.minLength, tc.exp, texts(c))
		}
	}
}

func TestScan_Capacity(t *testing.T) {
	for _, tc := range []struct {
		strs int
		exp  int
		full bool
	}{
		{strs: DefaultCapacity - 1, exp: DefaultCapacity - 1, full: false},
		{strs: DefaultCapacity, exp: DefaultCapacity, full: true},
		{strs: DefaultCapacity + 1, exp: DefaultCapacity, full: true},
	} {
		t.Run(fmt.Sprint(tc.strs), func(t *testing.T) {
			data := bytes.Buffer{}
			for i := 0; i < tc.strs; i++ {
				fmt.Fprintf(&data, "str%05d\x00", i)
			}

			img, _ := loadSections(t, rodata(data.String()))

			c, err := Scan(img, Config{})
			if err != nil {
				t.Fatal(err)
			}

			if c.Len() != tc.exp {
				t.Fatalf("expected %d strings - got %d", tc.exp, c.Len())
			}

			if c.Full() != tc.full {
				t.Fatalf("expected full to be %t", tc.full)
			}

			last, err := c.Get(c.Len() - 1)
			if err != nil {
				t.Fatal(err)
			}

			if exp := fmt.Sprintf("str%05d", tc.exp-1); last.Text != exp {
				t.Fatalf("expected last string %q - got %q", exp, last.Text)
			}
		})
	}
}

func TestScan_CapacitySpansSections(t *testing.T) {
	img, _ := loadSections(t,
		rodata("aaaa\x00bbbb\x00"),
		elfbuild.SectionSpec{Name: ".data", Type: elf.SHT_PROGBITS, Data: []byte("cccc\x00dddd\x00")},
	)

	c, err := Scan(img, Config{Capacity: 3})
	if err != nil {
		t.Fatal(err)
	}

	exp := []string{"aaaa", "bbbb", "cccc"}
	if got := texts(c); fmt.Sprint(got) != fmt.Sprint(exp) {
		t.Fatalf("expected %q - got %q", exp, got)
	}
}

func TestScan_Deterministic(t *testing.T) {
	img, _ := loadSections(t, rodata("one1\x00two22\x00three333\x00"))

	first, err := Scan(img, Config{})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		again, err := Scan(img, Config{})
		if err != nil {
			t.Fatal(err)
		}

		if fmt.Sprint(again.Strings()) != fmt.Sprint(first.Strings()) {
			t.Fatalf("scan %d differs: %v vs %v", i, again.Strings(), first.Strings())
		}
	}
}

func TestCatalog_Get(t *testing.T) {
	img, _ := loadSections(t, rodata("Hello\x00"))

	c, err := Scan(img, Config{})
	if err != nil {
		t.Fatal(err)
	}

	for _, i := range []int{-1, 1, 1024} {
		_, err := c.Get(i)
		if !errors.Is(err, ErrIndexOutOfRange) {
			t.Fatalf("index %d: expected ErrIndexOutOfRange - got %v", i, err)
		}
	}
}

func TestCatalog_StringsIsACopy(t *testing.T) {
	img, _ := loadSections(t, rodata("Hello\x00"))

	c, err := Scan(img, Config{})
	if err != nil {
		t.Fatal(err)
	}

	strs := c.Strings()
	strs[0].Text = "changed"

	e, _ := c.Get(0)
	if e.Text != "Hello" {
		t.Fatalf("catalog was modified through Strings: %q", e.Text)
	}
}

func TestCatalog_WriteTo(t *testing.T) {
	img, _ := loadSections(t, rodata("Hello\x00World!\x00"))

	c, err := Scan(img, Config{})
	if err != nil {
		t.Fatal(err)
	}

	buf := bytes.NewBuffer(nil)

	n, err := c.WriteTo(buf)
	if err != nil {
		t.Fatal(err)
	}

	exp := "[0] Hello\n[1] World!\n"
	if buf.String() != exp {
		t.Fatalf("expected %q - got %q", exp, buf.String())
	}

	if n != int64(len(exp)) {
		t.Fatalf("expected %d bytes written - got %d", len(exp), n)
	}
}
