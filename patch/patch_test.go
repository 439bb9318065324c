package patch

import (
	"bytes"
	"debug/elf"
	"errors"
	"log"
	"math"
	"strings"
	"testing"

	"gitlab.com/stephen-fox/elfstr/elfbuild"
	"gitlab.com/stephen-fox/elfstr/elfkit"
	"gitlab.com/stephen-fox/elfstr/strscan"
)

func setup(t *testing.T, rodata string) (*elfkit.Image, *strscan.Catalog) {
	t.Helper()

	r, err := elfbuild.Build(elfbuild.Config{
		Sections: []elfbuild.SectionSpec{
			{
				Name:  ".rodata",
				Type:  elf.SHT_PROGBITS,
				Flags: elf.SHF_ALLOC,
				Data:  []byte(rodata),
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	img, err := elfkit.Load(r.Bytes)
	if err != nil {
		t.Fatal(err)
	}

	c, err := strscan.Scan(img, strscan.Config{})
	if err != nil {
		t.Fatal(err)
	}

	return img, c
}

func TestApply_Shorter(t *testing.T) {
	img, c := setup(t, "Hello\x00World!\x00ab\x00")

	entry, err := c.Get(1)
	if err != nil {
		t.Fatal(err)
	}

	before := append([]byte(nil), img.Bytes()...)

	err = Apply(img, entry, []byte("Hi"), Config{})
	if err != nil {
		t.Fatal(err)
	}

	after := img.Bytes()

	exp := []byte{'H', 'i', 0, 0, 0, 0, 0}
	if got := after[entry.Offset : entry.Offset+entry.Length+1]; !bytes.Equal(got, exp) {
		t.Fatalf("expected 0x%x - got 0x%x", exp, got)
	}

	if len(after) != len(before) {
		t.Fatalf("file size changed from %d to %d", len(before), len(after))
	}

	for i := range before {
		if uint64(i) >= entry.Offset && uint64(i) < entry.Offset+entry.Length {
			continue
		}

		if before[i] != after[i] {
			t.Fatalf("byte at 0x%x outside of the string changed", i)
		}
	}
}

func TestApply_SameLength(t *testing.T) {
	img, c := setup(t, "Hello\x00World!\x00")

	entry, _ := c.Get(0)

	err := Apply(img, entry, []byte("Howdy"), Config{})
	if err != nil {
		t.Fatal(err)
	}

	got := img.Bytes()[entry.Offset : entry.Offset+entry.Length+1]
	if string(got) != "Howdy\x00" {
		t.Fatalf("unexpected bytes: %q", got)
	}
}

func TestApply_Empty(t *testing.T) {
	img, c := setup(t, "Hello\x00")

	entry, _ := c.Get(0)

	err := Apply(img, entry, nil, Config{})
	if err != nil {
		t.Fatal(err)
	}

	got := img.Bytes()[entry.Offset : entry.Offset+entry.Length+1]
	if !bytes.Equal(got, make([]byte, 6)) {
		t.Fatalf("expected zeros - got 0x%x", got)
	}
}

func TestApply_TooLong(t *testing.T) {
	img, c := setup(t, "Hello\x00World!\x00")

	before := append([]byte(nil), img.Bytes()...)

	entry, _ := c.Get(0)

	err := Apply(img, entry, []byte("Hello!"), Config{})
	if !errors.Is(err, ErrReplacementTooLong) {
		t.Fatalf("expected ErrReplacementTooLong - got %v", err)
	}

	if !bytes.Equal(before, img.Bytes()) {
		t.Fatal("image was modified by a failed patch")
	}
}

func TestApply_EntryOutsideImage(t *testing.T) {
	img, _ := setup(t, "Hello\x00")

	before := append([]byte(nil), img.Bytes()...)

	for _, entry := range []strscan.FoundString{
		{Offset: uint64(img.Len()) - 5, Length: 5},
		{Offset: uint64(img.Len()), Length: 1},
		{Offset: 0, Length: math.MaxUint64},
		{Offset: 16, Length: math.MaxUint64},
		{Offset: math.MaxUint64, Length: 1},
		{Offset: math.MaxUint64 - 1, Length: 4},
	} {
		err := Apply(img, entry, []byte("x"), Config{})
		if !errors.Is(err, elfkit.ErrTruncated) {
			t.Fatalf("offset 0x%x length 0x%x: expected ErrTruncated - got %v",
				entry.Offset, entry.Length, err)
		}
	}

	if !bytes.Equal(before, img.Bytes()) {
		t.Fatal("image was modified by a failed patch")
	}
}

func TestApply_Logging(t *testing.T) {
	img, c := setup(t, "Hello\x00")

	entry, _ := c.Get(0)

	buf := bytes.NewBuffer(nil)

	err := Apply(img, entry, []byte("Hi"), Config{
		OptLogger: log.New(buf, "", 0),
	})
	if err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	if !strings.Contains(out, "before patch") || !strings.Contains(out, "after patch") {
		t.Fatalf("unexpected log output: %q", out)
	}

	if !strings.Contains(out, "|Hello.|") || !strings.Contains(out, "|Hi....|") {
		t.Fatalf("log output is missing hexdumps: %q", out)
	}
}

func TestApplyIndex(t *testing.T) {
	img, c := setup(t, "Hello\x00World!\x00")

	before := append([]byte(nil), img.Bytes()...)

	for _, i := range []int{-1, 2} {
		err := ApplyIndex(img, c, i, []byte("x"), Config{})
		if !errors.Is(err, ErrIndexOutOfRange) {
			t.Fatalf("index %d: expected ErrIndexOutOfRange - got %v", i, err)
		}
	}

	if !bytes.Equal(before, img.Bytes()) {
		t.Fatal("image was modified by a failed patch")
	}

	err := ApplyIndex(img, c, 1, []byte("Earth"), Config{})
	if err != nil {
		t.Fatal(err)
	}

	entry, _ := c.Get(1)
	got := img.Bytes()[entry.Offset : entry.Offset+entry.Length+1]
	if string(got) != "Earth\x00\x00" {
		t.Fatalf("unexpected bytes: %q", got)
	}
}

func TestApply_Rescan(t *testing.T) {
	img, c := setup(t, "Hello\x00World!\x00")

	entry, _ := c.Get(1)

	err := Apply(img, entry, []byte("Hi"), Config{})
	if err != nil {
		t.Fatal(err)
	}

	// "Hi" is now shorter than the minimum length.
	rescanned, err := strscan.Scan(img, strscan.Config{})
	if err != nil {
		t.Fatal(err)
	}

	if rescanned.Len() != 1 {
		t.Fatalf("expected 1 string after patching - got %d", rescanned.Len())
	}

	rescanned, err = strscan.Scan(img, strscan.Config{MinLength: 2})
	if err != nil {
		t.Fatal(err)
	}

	second, err := rescanned.Get(1)
	if err != nil {
		t.Fatal(err)
	}

	if second.Text != "Hi" || second.Offset != entry.Offset {
		t.Fatalf("unexpected rescanned entry: %+v", second)
	}
}

func TestCheck(t *testing.T) {
	entry := strscan.FoundString{Text: "abcd", Length: 4}

	for _, tc := range []struct {
		replacement string
		ok          bool
	}{
		{replacement: "", ok: true},
		{replacement: "ab", ok: true},
		{replacement: "wxyz", ok: true},
		{replacement: "vwxyz", ok: false},
	} {
		err := Check(entry, []byte(tc.replacement))
		if tc.ok && err != nil {
			t.Fatalf("%q: unexpected error - %v", tc.replacement, err)
		}

		if !tc.ok && !errors.Is(err, ErrReplacementTooLong) {
			t.Fatalf("%q: expected ErrReplacementTooLong - got %v", tc.replacement, err)
		}
	}
}
