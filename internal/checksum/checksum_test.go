package checksum

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// sha256("hello world")
const helloHash = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

type errReader struct{}

func (errReader) Read([]byte) (int, error) {
	return 0, errors.New("disk on fire")
}

// repeatReader yields an endless stream of one byte.
type repeatReader byte

func (r repeatReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(r)
	}
	return len(p), nil
}

func TestDigest(t *testing.T) {
	got, err := Digest(strings.NewReader("hello world"))
	if err != nil {
		t.Fatalf("Digest failed: %v", err)
	}
	if got != helloHash {
		t.Errorf("Digest() = %s, want %s", got, helloHash)
	}
}

func TestDigest_Empty(t *testing.T) {
	got, err := Digest(bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("Digest failed: %v", err)
	}
	const emptyHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got != emptyHash {
		t.Errorf("Digest() = %s, want %s", got, emptyHash)
	}
}

func TestDigest_LargeStream(t *testing.T) {
	// 32 MiB streamed through the fixed buffer
	r := io.LimitReader(repeatReader('a'), 32<<20)
	got, err := Digest(r)
	if err != nil {
		t.Fatalf("Digest failed: %v", err)
	}
	if len(got) != 64 {
		t.Errorf("digest length = %d, want 64", len(got))
	}
	if got != strings.ToLower(got) {
		t.Error("digest should be lowercase hex")
	}
}

func TestVerifyChunk(t *testing.T) {
	tests := []struct {
		name     string
		reader   io.Reader
		expected string
		want     bool
	}{
		{"match", strings.NewReader("hello world"), helloHash, true},
		{"match uppercase", strings.NewReader("hello world"), strings.ToUpper(helloHash), true},
		{"mismatch", strings.NewReader("hello world!"), helloHash, false},
		{"empty expected", strings.NewReader("hello world"), "", false},
		{"blank expected", strings.NewReader("hello world"), "   ", false},
		{"read error", errReader{}, helloHash, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyChunk(tt.reader, tt.expected); got != tt.want {
				t.Errorf("VerifyChunk() = %v, want %v", got, tt.want)
			}
		})
	}
}

func writeFiles(t *testing.T, contents ...string) []string {
	t.Helper()

	dir := t.TempDir()
	paths := make([]string, len(contents))
	for i, c := range contents {
		paths[i] = filepath.Join(dir, string(rune('a'+i))+".bin")
		if err := os.WriteFile(paths[i], []byte(c), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return paths
}

func TestVerifyConcatenated(t *testing.T) {
	paths := writeFiles(t, "hello", " ", "world")

	ok, err := VerifyConcatenated(paths, helloHash)
	if err != nil {
		t.Fatalf("VerifyConcatenated failed: %v", err)
	}
	if !ok {
		t.Error("concatenation in order should match")
	}
}

func TestVerifyConcatenated_OrderMatters(t *testing.T) {
	paths := writeFiles(t, "hello", " ", "world")
	reordered := []string{paths[2], paths[1], paths[0]}

	ok, err := VerifyConcatenated(reordered, helloHash)
	if err != nil {
		t.Fatalf("VerifyConcatenated failed: %v", err)
	}
	if ok {
		t.Error("reordered concatenation should not match")
	}
}

func TestVerifyConcatenated_MissingFile(t *testing.T) {
	paths := writeFiles(t, "hello")
	paths = append(paths, filepath.Join(t.TempDir(), "missing.bin"))

	ok, err := VerifyConcatenated(paths, helloHash)
	if err == nil {
		t.Fatal("missing file should be an error, not a mismatch")
	}
	if ok {
		t.Error("ok should be false on error")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error should wrap os.ErrNotExist, got %v", err)
	}
}

func TestVerifyConcatenated_BlankExpected(t *testing.T) {
	paths := writeFiles(t, "hello world")

	ok, err := VerifyConcatenated(paths, "")
	if err != nil {
		t.Fatalf("VerifyConcatenated failed: %v", err)
	}
	if ok {
		t.Error("blank expected hash should never match")
	}
}

func TestIntegrityError(t *testing.T) {
	err := error(NewIntegrityError(ScopeChunk, "abc", "def"))

	if !errors.Is(err, ErrMismatch) {
		t.Error("IntegrityError should match ErrMismatch")
	}

	var ie *IntegrityError
	if !errors.As(err, &ie) {
		t.Fatal("errors.As should find *IntegrityError")
	}
	if ie.Scope != ScopeChunk {
		t.Errorf("Scope = %q, want %q", ie.Scope, ScopeChunk)
	}
	if !strings.Contains(err.Error(), "expected abc, got def") {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestHashingReader(t *testing.T) {
	hr := NewHashingReader(strings.NewReader("hello world"))

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, hr); err != nil {
		t.Fatalf("Copy failed: %v", err)
	}

	if buf.String() != "hello world" {
		t.Errorf("passthrough = %q", buf.String())
	}
	if hr.Sum() != helloHash {
		t.Errorf("Sum() = %s, want %s", hr.Sum(), helloHash)
	}
	if hr.BytesRead() != 11 {
		t.Errorf("BytesRead() = %d, want 11", hr.BytesRead())
	}
}
