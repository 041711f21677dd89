// Package checksum computes and compares SHA-256 digests of byte streams and files.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

// bufferSize is the fixed read buffer used for every digest.
const bufferSize = 8 * 1024

// ErrMismatch is matched by every *IntegrityError.
var ErrMismatch = errors.New("checksum mismatch")

// Scopes reported by IntegrityError.
const (
	ScopeChunk = "chunk"
	ScopeFile  = "file"
)

// IntegrityError reports a digest that did not match the declared value.
type IntegrityError struct {
	Scope    string // ScopeChunk or ScopeFile
	Expected string
	Actual   string // empty when the digest could not be computed
}

func (e *IntegrityError) Error() string {
	if e.Actual == "" {
		return fmt.Sprintf("%s checksum mismatch: expected %s", e.Scope, e.Expected)
	}
	return fmt.Sprintf("%s checksum mismatch: expected %s, got %s", e.Scope, e.Expected, e.Actual)
}

// Is lets errors.Is(err, ErrMismatch) match any IntegrityError.
func (e *IntegrityError) Is(target error) bool {
	return target == ErrMismatch
}

// NewIntegrityError creates an IntegrityError for the given scope.
func NewIntegrityError(scope, expected, actual string) *IntegrityError {
	return &IntegrityError{Scope: scope, Expected: expected, Actual: actual}
}

// Digest streams r through SHA-256 and returns the lowercase hex digest.
func Digest(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.CopyBuffer(h, r, make([]byte, bufferSize)); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DigestFiles returns a single digest over the concatenation of paths, in order.
func DigestFiles(paths []string) (string, error) {
	h := sha256.New()
	buf := make([]byte, bufferSize)

	for _, p := range paths {
		if err := copyFile(h, p, buf); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyFile(w io.Writer, path string, buf []byte) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.CopyBuffer(w, f, buf); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

// Equal compares two hex digests case-insensitively. A blank expected value never matches.
func Equal(actual, expected string) bool {
	expected = strings.TrimSpace(expected)
	if expected == "" {
		return false
	}
	return strings.EqualFold(actual, expected)
}

// VerifyChunk reports whether the digest of r matches expectedHex.
// It fails closed: a blank expectation or a read error yields false.
func VerifyChunk(r io.Reader, expectedHex string) bool {
	if strings.TrimSpace(expectedHex) == "" {
		return false
	}
	actual, err := Digest(r)
	if err != nil {
		return false
	}
	return Equal(actual, expectedHex)
}

// VerifyConcatenated reports whether the concatenation of paths matches expectedHex.
// A missing or unreadable file is returned as an error, never as a mismatch.
func VerifyConcatenated(paths []string, expectedHex string) (bool, error) {
	actual, err := DigestFiles(paths)
	if err != nil {
		return false, err
	}
	return Equal(actual, expectedHex), nil
}

// HashingReader computes a SHA-256 digest of everything read through it.
type HashingReader struct {
	reader io.Reader
	hasher hash.Hash
	n      int64
}

// NewHashingReader wraps r.
func NewHashingReader(r io.Reader) *HashingReader {
	h := sha256.New()
	return &HashingReader{
		reader: io.TeeReader(r, h),
		hasher: h,
	}
}

func (hr *HashingReader) Read(p []byte) (int, error) {
	n, err := hr.reader.Read(p)
	hr.n += int64(n)
	return n, err
}

// Sum returns the lowercase hex digest of the bytes read so far.
func (hr *HashingReader) Sum() string {
	return hex.EncodeToString(hr.hasher.Sum(nil))
}

// BytesRead returns how many bytes have passed through the reader.
func (hr *HashingReader) BytesRead() int64 {
	return hr.n
}
