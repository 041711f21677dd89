package s3

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/fjmerc/streamforge/internal/storage"
)

type putRecord struct {
	key          string
	contentType  string
	cacheControl string
	body         string
}

type fakeUploader struct {
	mu      sync.Mutex
	puts    []putRecord
	failKey string
}

func (f *fakeUploader) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	key := aws.ToString(input.Key)
	if key == f.failKey {
		return nil, errors.New("simulated S3 outage")
	}
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, putRecord{
		key:          key,
		contentType:  aws.ToString(input.ContentType),
		cacheControl: aws.ToString(input.CacheControl),
		body:         string(body),
	})
	return &manager.UploadOutput{Key: input.Key}, nil
}

func writeHLSDir(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	files := map[string]string{
		"playlist.m3u8":  "#EXTM3U\n",
		"segment_000.ts": "seg0",
		"segment_001.ts": "seg1",
		".tmp-abc.ts":    "in progress",
		"notes.txt":      "ignored",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(filepath.Join(dir, "watermarked"), 0755); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestPublisher_Publish(t *testing.T) {
	fake := &fakeUploader{}
	p := newPublisher(fake, "bucket", "/hls/")
	dir := writeHLSDir(t)

	n, err := p.Publish(context.Background(), "upload-1", dir)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if n != 3 {
		t.Errorf("published = %d, want 3", n)
	}

	want := []putRecord{
		{key: "hls/upload-1/playlist.m3u8", contentType: "application/vnd.apple.mpegurl", cacheControl: playlistCacheControl, body: "#EXTM3U\n"},
		{key: "hls/upload-1/segment_000.ts", contentType: "video/mp2t", cacheControl: segmentCacheControl, body: "seg0"},
		{key: "hls/upload-1/segment_001.ts", contentType: "video/mp2t", cacheControl: segmentCacheControl, body: "seg1"},
	}
	if len(fake.puts) != len(want) {
		t.Fatalf("puts = %d, want %d", len(fake.puts), len(want))
	}
	for i := range want {
		if fake.puts[i] != want[i] {
			t.Errorf("put[%d] = %+v, want %+v", i, fake.puts[i], want[i])
		}
	}
}

func TestPublisher_Publish_NoPrefix(t *testing.T) {
	fake := &fakeUploader{}
	p := newPublisher(fake, "bucket", "")

	if got := p.objectKey("u", "playlist.m3u8"); got != "u/playlist.m3u8" {
		t.Errorf("objectKey() = %q, want %q", got, "u/playlist.m3u8")
	}
}

func TestPublisher_Publish_UploadFailure(t *testing.T) {
	fake := &fakeUploader{failKey: "upload-1/segment_000.ts"}
	p := newPublisher(fake, "bucket", "")
	dir := writeHLSDir(t)

	n, err := p.Publish(context.Background(), "upload-1", dir)
	if err == nil {
		t.Fatal("expected error")
	}
	if !storage.IsStorageError(err) {
		t.Errorf("error should be a StorageError, got %T", err)
	}
	if n != 1 {
		t.Errorf("published before failure = %d, want 1", n)
	}
}

func TestPublisher_Publish_MissingDir(t *testing.T) {
	p := newPublisher(&fakeUploader{}, "bucket", "")

	_, err := p.Publish(context.Background(), "upload-1", filepath.Join(t.TempDir(), "missing"))
	if !storage.IsNotFound(err) {
		t.Errorf("expected not-found storage error, got %v", err)
	}
}

func TestValidateUploadID(t *testing.T) {
	tests := []struct {
		name     string
		uploadID string
		wantErr  bool
	}{
		{name: "uuid", uploadID: "550e8400-e29b-41d4-a716-446655440000", wantErr: false},
		{name: "simple id", uploadID: "upload123", wantErr: false},
		{name: "empty", uploadID: "", wantErr: true},
		{name: "path traversal", uploadID: "..", wantErr: true},
		{name: "contains slash", uploadID: "folder/id", wantErr: true},
		{name: "null byte", uploadID: "id\x00test", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateUploadID(tt.uploadID)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateUploadID(%q) error = %v, wantErr %v", tt.uploadID, err, tt.wantErr)
			}
		})
	}
}

func TestContentType(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "readme")
	if err := os.WriteFile(txt, []byte("plain text content"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		path string
		want string
	}{
		{"playlist.m3u8", "application/vnd.apple.mpegurl"},
		{"SEGMENT_001.TS", "video/mp2t"},
		{"export.mp4", "video/mp4"},
		{txt, "text/plain; charset=utf-8"},
		{filepath.Join(dir, "missing"), "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := contentType(tt.path); got != tt.want {
			t.Errorf("contentType(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
