package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/fjmerc/streamforge/internal/storage"
)

// fakeFFmpeg records invocations and emulates the files ffmpeg would produce.
type fakeFFmpeg struct {
	mu       sync.Mutex
	calls    []Command
	manifest string // concat list contents seen during the hls call
	segments int
	fail     error
}

func (f *fakeFFmpeg) Run(ctx context.Context, c Command) (*Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()

	if f.fail != nil {
		return &Result{ExitCode: 1, Output: []byte("boom")}, f.fail
	}

	out := c.Args[len(c.Args)-1]
	switch c.Op {
	case "split":
		dir := filepath.Dir(out)
		for i := 0; i < f.segments; i++ {
			name := filepath.Join(dir, fmt.Sprintf("video_%03d.ts", i))
			if err := os.WriteFile(name, []byte(fmt.Sprintf("part-%d", i)), 0644); err != nil {
				return nil, err
			}
		}
	case "hls":
		manifest := argAfter(c.Args, "-i")
		data, err := os.ReadFile(manifest)
		if err != nil {
			return nil, err
		}
		f.manifest = string(data)
		if err := os.WriteFile(out, []byte("#EXTM3U\n"), 0644); err != nil {
			return nil, err
		}
	case "overlay":
		if err := os.WriteFile(out, []byte("rendered"), 0644); err != nil {
			return nil, err
		}
	}
	return &Result{}, nil
}

func argAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func TestPipeline_Split(t *testing.T) {
	fake := &fakeFFmpeg{segments: 12}
	p := NewPipeline(fake, Options{})
	outDir := filepath.Join(t.TempDir(), "split")

	segments, err := p.Split(context.Background(), "/in/source.mp4", outDir)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if len(segments) != 12 {
		t.Fatalf("len(segments) = %d, want 12", len(segments))
	}
	for i, s := range segments {
		want := filepath.Join(outDir, fmt.Sprintf("video_%03d.ts", i))
		if s != want {
			t.Errorf("segments[%d] = %s, want %s", i, s, want)
		}
	}

	args := fake.calls[0].Args
	if argAfter(args, "-segment_time") != "10" {
		t.Errorf("segment_time = %q, want 10", argAfter(args, "-segment_time"))
	}
	if argAfter(args, "-c") != "copy" {
		t.Error("split should stream copy")
	}
	if argAfter(args, "-i") != "/in/source.mp4" {
		t.Errorf("input = %q", argAfter(args, "-i"))
	}
}

func TestPipeline_Split_NoOutput(t *testing.T) {
	p := NewPipeline(&fakeFFmpeg{segments: 0}, Options{})

	_, err := p.Split(context.Background(), "/in/source.mp4", t.TempDir())
	if !storage.IsStorageError(err) {
		t.Errorf("expected StorageError when nothing was produced, got %v", err)
	}
}

func TestPipeline_Split_ToolFailure(t *testing.T) {
	toolErr := &ExternalToolError{Op: "split", Tool: "ffmpeg", ExitCode: 1}
	p := NewPipeline(&fakeFFmpeg{fail: toolErr}, Options{})

	_, err := p.Split(context.Background(), "/in/source.mp4", t.TempDir())
	if !errors.Is(err, ErrExternalTool) {
		t.Errorf("expected ErrExternalTool, got %v", err)
	}
}

func writeChunks(t *testing.T, dir string, n int) []string {
	t.Helper()

	paths := make([]string, n)
	for i := 0; i < n; i++ {
		paths[i] = filepath.Join(dir, fmt.Sprintf("%d.mp4", i+1))
		if err := os.WriteFile(paths[i], []byte("chunk"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return paths
}

func TestPipeline_FormatHLS(t *testing.T) {
	dir := t.TempDir()
	chunks := writeChunks(t, dir, 3)
	fake := &fakeFFmpeg{}
	p := NewPipeline(fake, Options{HLSSegmentSeconds: 6})

	playlist, err := p.FormatHLS(context.Background(), chunks, dir)
	if err != nil {
		t.Fatalf("FormatHLS failed: %v", err)
	}
	if playlist != filepath.Join(dir, PlaylistName) {
		t.Errorf("playlist = %s", playlist)
	}
	if _, err := os.Stat(playlist); err != nil {
		t.Errorf("playlist should exist: %v", err)
	}

	// Manifest lists chunks in order
	want := ConcatManifest(chunks)
	if fake.manifest != want {
		t.Errorf("manifest = %q, want %q", fake.manifest, want)
	}

	// Chunks and manifest removed on success
	for _, c := range chunks {
		if _, err := os.Stat(c); !os.IsNotExist(err) {
			t.Errorf("chunk %s should be removed", c)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, manifestName)); !os.IsNotExist(err) {
		t.Error("manifest should be removed")
	}

	args := fake.calls[0].Args
	if argAfter(args, "-hls_time") != "6" {
		t.Errorf("hls_time = %q, want 6", argAfter(args, "-hls_time"))
	}
	if argAfter(args, "-hls_segment_filename") != filepath.Join(dir, SegmentPattern) {
		t.Errorf("segment pattern = %q", argAfter(args, "-hls_segment_filename"))
	}
	if argAfter(args, "-safe") != "0" || argAfter(args, "-f") != "concat" {
		t.Error("hls call should use the concat demuxer with -safe 0")
	}
}

func TestPipeline_FormatHLS_FailureKeepsChunks(t *testing.T) {
	dir := t.TempDir()
	chunks := writeChunks(t, dir, 2)
	p := NewPipeline(&fakeFFmpeg{fail: &ExternalToolError{Op: "hls", Tool: "ffmpeg", ExitCode: 1}}, Options{})

	_, err := p.FormatHLS(context.Background(), chunks, dir)
	if !errors.Is(err, ErrExternalTool) {
		t.Fatalf("expected ErrExternalTool, got %v", err)
	}

	for _, c := range chunks {
		if _, err := os.Stat(c); err != nil {
			t.Errorf("chunk %s should be kept for retry: %v", c, err)
		}
	}
}

func TestPipeline_FormatHLS_NoChunks(t *testing.T) {
	fake := &fakeFFmpeg{}
	p := NewPipeline(fake, Options{})

	if _, err := p.FormatHLS(context.Background(), nil, t.TempDir()); err == nil {
		t.Error("expected error for empty chunk list")
	}
	if len(fake.calls) != 0 {
		t.Error("tool should not run without chunks")
	}
}

func TestPipeline_OverlayArgs(t *testing.T) {
	p := NewPipeline(&fakeFFmpeg{}, Options{})

	args := p.OverlayArgs("/in/segment_001.ts", "/assets/logo.png", "ABC12345X1AZ", "/out/segment_001.ts")

	want := []string{
		"-y",
		"-copyts",
		"-i", "/in/segment_001.ts",
		"-i", "/assets/logo.png",
		"-filter_complex", "[1:v]scale=50:-1[logo]; [0:v][logo]overlay=W-w-15:H-h-15" +
			"[v1];[v1]drawtext=text='ABC12345X1AZ':fontcolor=white:fontsize=24:box=1:boxcolor=black@0.5:boxborderw=5:x=10:y=10",
		"-c:v", "libx264",
		"-crf", "20",
		"-an",
		"-muxdelay", "0",
		"/out/segment_001.ts",
	}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("OverlayArgs() =\n%q\nwant\n%q", args, want)
	}
}

func TestPipeline_OverlayArgs_NoCode(t *testing.T) {
	p := NewPipeline(&fakeFFmpeg{}, Options{WatermarkCRF: 28})

	args := p.OverlayArgs("in.ts", "logo.png", "", "out.ts")
	filter := argAfter(args, "-filter_complex")
	if strings.Contains(filter, "drawtext") {
		t.Errorf("filter should not draw text without a code: %s", filter)
	}
	if argAfter(args, "-crf") != "28" {
		t.Errorf("crf = %q, want 28", argAfter(args, "-crf"))
	}
}

func TestPipeline_Overlay(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.ts")
	fake := &fakeFFmpeg{}
	p := NewPipeline(fake, Options{FFmpegPath: "/opt/ffmpeg/bin/ffmpeg"})

	if err := p.Overlay(context.Background(), "in.ts", "logo.png", "CODE", out); err != nil {
		t.Fatalf("Overlay failed: %v", err)
	}
	if fake.calls[0].Name != "/opt/ffmpeg/bin/ffmpeg" {
		t.Errorf("Name = %q, want configured ffmpeg path", fake.calls[0].Name)
	}
	if fake.calls[0].Op != "overlay" {
		t.Errorf("Op = %q, want overlay", fake.calls[0].Op)
	}
}

func TestQuoteConcatPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/data/u/1.mp4", `'/data/u/1.mp4'`},
		{"/data/with space/1.mp4", `'/data/with space/1.mp4'`},
		{"/data/it's/1.mp4", `'/data/it'\''s/1.mp4'`},
	}
	for _, tt := range tests {
		if got := QuoteConcatPath(tt.in); got != tt.want {
			t.Errorf("QuoteConcatPath(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestConcatManifest(t *testing.T) {
	got := ConcatManifest([]string{"/a/1.mp4", "/a/2.mp4"})
	want := "file '/a/1.mp4'\nfile '/a/2.mp4'\n"
	if got != want {
		t.Errorf("ConcatManifest() = %q, want %q", got, want)
	}
}

func TestEscapeDrawtext(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ABC123", "ABC123"},
		{"a:b", `a\:b`},
		{"it's", `it'\\''s`},
	}
	for _, tt := range tests {
		if got := EscapeDrawtext(tt.in); got != tt.want {
			t.Errorf("EscapeDrawtext(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
