package watermark

import (
	"regexp"
	"sync"
	"testing"
	"time"
)

var codePattern = regexp.MustCompile(`^[0-9A-Z]{12}$`)

func TestCodeGenerator_Format(t *testing.T) {
	g := NewCodeGenerator("x1")
	g.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }

	code := g.Next()
	if !codePattern.MatchString(code) {
		t.Fatalf("code %q does not match %s", code, codePattern)
	}
	// 1700000000000 in base 36 is "loyw3v28".
	if code[:8] != "LOYW3V28" {
		t.Errorf("time part = %q, want LOYW3V28", code[:8])
	}
	if code[8:10] != "X1" {
		t.Errorf("instance part = %q, want X1", code[8:10])
	}
	if code[10:] != "01" {
		t.Errorf("sequence part = %q, want 01", code[10:])
	}
}

func TestCodeGenerator_DefaultInstance(t *testing.T) {
	g := NewCodeGenerator("  ")
	if got := g.Next()[8:10]; got != DefaultInstanceID {
		t.Errorf("instance part = %q, want %q", got, DefaultInstanceID)
	}
}

func TestCodeGenerator_SequenceWraps(t *testing.T) {
	g := NewCodeGenerator("A1")
	fixed := time.UnixMilli(1_700_000_000_000)
	g.now = func() time.Time { return fixed }

	g.seq.Store(sequenceModulus - 2)
	if got := g.Next()[10:]; got != "ZZ" {
		t.Errorf("sequence before wrap = %q, want ZZ", got)
	}
	if got := g.Next()[10:]; got != "00" {
		t.Errorf("sequence after wrap = %q, want 00", got)
	}
}

func TestCodeGenerator_ConcurrentUnique(t *testing.T) {
	g := NewCodeGenerator("B2")
	fixed := time.UnixMilli(1_700_000_000_000)
	g.now = func() time.Time { return fixed }

	const n = 500
	codes := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes <- g.Next()
		}()
	}
	wg.Wait()
	close(codes)

	seen := make(map[string]bool, n)
	for c := range codes {
		if seen[c] {
			t.Fatalf("duplicate code %q within one millisecond", c)
		}
		seen[c] = true
	}
}

func TestPad(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"z", 2, "0z"},
		{"ab", 2, "ab"},
		{"abc", 2, "bc"},
		{"", 3, "000"},
	}
	for _, tt := range tests {
		if got := pad(tt.in, tt.width); got != tt.want {
			t.Errorf("pad(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
}
