package transcode

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/fjmerc/streamforge/internal/storage"
)

const (
	// PlaylistName is the HLS manifest written next to its segments.
	PlaylistName = "playlist.m3u8"

	// SegmentPattern names HLS segments; SegmentGlob matches them.
	SegmentPattern = "segment_%03d.ts"
	SegmentGlob    = "segment_*.ts"

	splitPattern = "video_%03d.ts"
	splitGlob    = "video_*.ts"

	manifestName = "concat_list.txt"

	// overlayBase scales the logo to 50px wide and pins it to the bottom-right corner.
	overlayBase = "[1:v]scale=50:-1[logo]; [0:v][logo]overlay=W-w-15:H-h-15"
	badgeFilter = "[v1];[v1]drawtext=text='%s':fontcolor=white:fontsize=24:box=1:boxcolor=black@0.5:boxborderw=5:x=10:y=10"
)

// Options configures the media tool invocations.
type Options struct {
	FFmpegPath          string
	SplitSegmentSeconds int
	HLSSegmentSeconds   int
	WatermarkCRF        int
}

// DefaultOptions returns the stock segment durations and quality.
func DefaultOptions() Options {
	return Options{
		FFmpegPath:          "ffmpeg",
		SplitSegmentSeconds: 10,
		HLSSegmentSeconds:   4,
		WatermarkCRF:        20,
	}
}

// Pipeline builds ffmpeg command lines and runs them through a Runner.
type Pipeline struct {
	runner Runner
	opts   Options
}

// NewPipeline creates a Pipeline. Zero option values fall back to defaults.
func NewPipeline(runner Runner, opts Options) *Pipeline {
	def := DefaultOptions()
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = def.FFmpegPath
	}
	if opts.SplitSegmentSeconds <= 0 {
		opts.SplitSegmentSeconds = def.SplitSegmentSeconds
	}
	if opts.HLSSegmentSeconds <= 0 {
		opts.HLSSegmentSeconds = def.HLSSegmentSeconds
	}
	if opts.WatermarkCRF <= 0 {
		opts.WatermarkCRF = def.WatermarkCRF
	}
	return &Pipeline{runner: runner, opts: opts}
}

func (p *Pipeline) run(ctx context.Context, op string, args []string) error {
	cmd := Command{Op: op, Name: p.opts.FFmpegPath, Args: args}

	res, err := p.runner.Run(ctx, cmd)
	if err != nil {
		if res != nil && len(res.Output) > 0 {
			slog.Error("ffmpeg failed",
				"op", op,
				"exit_code", res.ExitCode,
				"output", truncate(string(res.Output), 2048),
			)
		}
		return err
	}

	if res != nil {
		slog.Debug("ffmpeg finished",
			"op", op,
			"duration_ms", res.Duration.Milliseconds(),
			"output", truncate(string(res.Output), 512),
		)
	}
	return nil
}

// Split segments source into fixed-duration stream-copied pieces inside outDir
// and returns their paths in chronological order.
func (p *Pipeline) Split(ctx context.Context, source, outDir string) ([]string, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, storage.NewStorageError("Split", outDir, err)
	}

	args := []string{
		"-y",
		"-i", source,
		"-c", "copy",
		"-map", "0",
		"-f", "segment",
		"-segment_time", strconv.Itoa(p.opts.SplitSegmentSeconds),
		"-initial_offset", "0",
		filepath.Join(outDir, splitPattern),
	}

	slog.Info("splitting source", "source", source, "out_dir", outDir)

	if err := p.run(ctx, "split", args); err != nil {
		return nil, err
	}

	segments, err := filepath.Glob(filepath.Join(outDir, splitGlob))
	if err != nil {
		return nil, storage.NewStorageError("Split", outDir, err)
	}
	if len(segments) == 0 {
		return nil, storage.NewStorageErrorWithMessage("Split", outDir, nil, "no segments produced")
	}
	sort.Strings(segments)

	slog.Info("split complete", "source", source, "segments", len(segments))
	return segments, nil
}

// FormatHLS joins chunkPaths, in order, into an HLS playlist plus segments in outDir.
// On success the chunks and the concat manifest are deleted. On failure they are
// left in place so the call can be retried.
func (p *Pipeline) FormatHLS(ctx context.Context, chunkPaths []string, outDir string) (string, error) {
	if len(chunkPaths) == 0 {
		return "", storage.NewStorageErrorWithMessage("FormatHLS", outDir, nil, "no chunks to package")
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", storage.NewStorageError("FormatHLS", outDir, err)
	}

	manifest := filepath.Join(outDir, manifestName)
	if err := os.WriteFile(manifest, []byte(ConcatManifest(chunkPaths)), 0644); err != nil {
		return "", storage.NewStorageError("FormatHLS", manifest, err)
	}

	playlist := filepath.Join(outDir, PlaylistName)
	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", manifest,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-g", "60",
		"-keyint_min", "60",
		"-sc_threshold", "0",
		"-c:a", "copy",
		"-hls_time", strconv.Itoa(p.opts.HLSSegmentSeconds),
		"-hls_list_size", "0",
		"-hls_flags", "independent_segments",
		"-hls_segment_filename", filepath.Join(outDir, SegmentPattern),
		"-f", "hls",
		playlist,
	}

	slog.Info("packaging HLS", "out_dir", outDir, "chunks", len(chunkPaths))

	if err := p.run(ctx, "hls", args); err != nil {
		return "", err
	}

	for _, c := range chunkPaths {
		removeQuietly(c)
	}
	removeQuietly(manifest)

	slog.Info("HLS packaging complete", "playlist", playlist)
	return playlist, nil
}

// OverlayArgs builds the argument vector that composites logo, and the code
// badge when code is non-empty, onto input and writes output.
func (p *Pipeline) OverlayArgs(input, logo, code, output string) []string {
	filter := overlayBase
	if code != "" {
		filter += fmt.Sprintf(badgeFilter, EscapeDrawtext(code))
	}

	return []string{
		"-y",
		"-copyts",
		"-i", input,
		"-i", logo,
		"-filter_complex", filter,
		"-c:v", "libx264",
		"-crf", strconv.Itoa(p.opts.WatermarkCRF),
		"-an",
		"-muxdelay", "0",
		output,
	}
}

// Overlay renders input with the watermark into output. The output format is
// chosen by ffmpeg from the output extension.
func (p *Pipeline) Overlay(ctx context.Context, input, logo, code, output string) error {
	return p.run(ctx, "overlay", p.OverlayArgs(input, logo, code, output))
}

// ConcatManifest renders the concat demuxer list for paths. Every path is
// single-quoted and an embedded quote is written as '\''.
func ConcatManifest(paths []string) string {
	var b strings.Builder
	for _, path := range paths {
		b.WriteString("file ")
		b.WriteString(QuoteConcatPath(path))
		b.WriteByte('\n')
	}
	return b.String()
}

// QuoteConcatPath single-quotes a path for the concat demuxer.
func QuoteConcatPath(path string) string {
	return "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
}

// EscapeDrawtext escapes text for a single-quoted drawtext value inside a filter graph.
func EscapeDrawtext(text string) string {
	text = strings.ReplaceAll(text, ":", `\:`)
	return strings.ReplaceAll(text, "'", `'\\''`)
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove file", "path", path, "error", err)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}
