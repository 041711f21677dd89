package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/fjmerc/streamforge/internal/models"
	"github.com/fjmerc/streamforge/internal/playback"
	"github.com/fjmerc/streamforge/internal/repository/mock"
	"github.com/fjmerc/streamforge/internal/storage/filesystem"
	"github.com/fjmerc/streamforge/internal/tracker"
	"github.com/fjmerc/streamforge/internal/transcode"
	"github.com/fjmerc/streamforge/internal/upload"
	"github.com/fjmerc/streamforge/internal/utils"
	"github.com/fjmerc/streamforge/internal/watermark"
)

// mediaRunner writes the files ffmpeg would produce for hls and overlay runs.
type mediaRunner struct {
	mu    sync.Mutex
	calls map[string]int
}

func (m *mediaRunner) Run(ctx context.Context, c transcode.Command) (*transcode.Result, error) {
	m.mu.Lock()
	m.calls[c.Op]++
	m.mu.Unlock()

	out := c.Args[len(c.Args)-1]
	switch c.Op {
	case "hls":
		if err := os.WriteFile(filepath.Join(filepath.Dir(out), "segment_000.ts"), []byte("ts"), 0644); err != nil {
			return nil, err
		}
		return &transcode.Result{}, os.WriteFile(out, []byte("#EXTM3U\nsegment_000.ts\n#EXT-X-ENDLIST\n"), 0644)
	case "overlay":
		return &transcode.Result{}, os.WriteFile(out, []byte("marked"), 0644)
	}
	return nil, fmt.Errorf("unexpected op %q", c.Op)
}

func (m *mediaRunner) count(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func hexDigest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestRouter_UploadAndPlayback(t *testing.T) {
	root := t.TempDir()
	store, err := filesystem.NewChunkStore(filepath.Join(root, "uploads"))
	if err != nil {
		t.Fatal(err)
	}
	logo := filepath.Join(root, "logo.png")
	os.WriteFile(logo, []byte("png"), 0644)

	repos := mock.NewRepositories()
	runner := &mediaRunner{calls: make(map[string]int)}
	pipeline := transcode.NewPipeline(runner, transcode.Options{})

	uploads := upload.NewService(repos.Repositories(), store, tracker.NewMemoryTracker(store.ChunkPath), pipeline,
		upload.Config{MaxChunkSize: 1 << 20, MaxFileSize: 4 << 20})
	engine := watermark.NewEngine(repos.Watermarks, watermark.NewCodeGenerator("T1"), pipeline, logo)
	player := playback.NewService(repos.Files, store, engine)

	router := newTestRouter(uploads, player, utils.NewOperationTracker())

	do := func(req *http.Request) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	initBody := fmt.Sprintf(`{"fileSize":4,"filename":"movie.mp4","filecontent":"short","fileHash":%q,"totalChunks":2}`, hexDigest("abcd"))
	rr := do(httptest.NewRequest(http.MethodPost, "/v1/upload/init", strings.NewReader(initBody)))
	if rr.Code != http.StatusCreated {
		t.Fatalf("init = %d: %s", rr.Code, rr.Body.String())
	}
	var initResp models.UploadInitResponse
	json.NewDecoder(rr.Body).Decode(&initResp)
	id := initResp.UploadID

	// wrong hash is rejected and leaves the slot empty
	rr = do(multipartRequest(t, "/v1/upload/chunk",
		map[string]string{"uploadId": id, "index": "2", "chunkHash": hexDigest("zz")}, []byte("cd")))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad chunk = %d: %s", rr.Code, rr.Body.String())
	}

	for i, part := range []string{"ab", "cd"} {
		rr = do(multipartRequest(t, "/v1/upload/chunk",
			map[string]string{"uploadId": id, "index": fmt.Sprint(i + 1), "chunkHash": hexDigest(part)}, []byte(part)))
		if rr.Code != http.StatusOK {
			t.Fatalf("chunk %d = %d: %s", i+1, rr.Code, rr.Body.String())
		}
	}

	rr = do(httptest.NewRequest(http.MethodGet, "/v1/upload/"+id+"/status", nil))
	var status models.UploadStatusResponse
	json.NewDecoder(rr.Body).Decode(&status)
	if status.Status != models.StatusIngesting || len(status.Missing) != 0 {
		t.Errorf("status before complete = %+v", status)
	}

	// playback is refused until the upload is finalized
	rr = do(httptest.NewRequest(http.MethodGet, "/v1/download/"+id+"/playlist.m3u8", nil))
	if rr.Code != http.StatusConflict {
		t.Errorf("early playlist = %d, want 409", rr.Code)
	}

	rr = do(httptest.NewRequest(http.MethodPost, "/v1/upload/complete", strings.NewReader(fmt.Sprintf(`{"uploadId":%q}`, id))))
	if rr.Code != http.StatusOK {
		t.Fatalf("complete = %d: %s", rr.Code, rr.Body.String())
	}
	var result models.UploadResultResponse
	json.NewDecoder(rr.Body).Decode(&result)
	if result.FileID != id || len(result.ChunkPaths) != 2 {
		t.Errorf("complete response = %+v", result)
	}

	rr = do(httptest.NewRequest(http.MethodGet, "/v1/download/"+id+"/playlist.m3u8", nil))
	if rr.Code != http.StatusOK || !strings.HasPrefix(rr.Body.String(), "#EXTM3U") {
		t.Fatalf("playlist = %d %q", rr.Code, rr.Body.String())
	}

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/download/"+id+"/segment_000.ts", nil)
		req.Header.Set(UserIDHeader, "5")
		rr = do(req)
		if rr.Code != http.StatusOK {
			t.Fatalf("segment = %d: %s", rr.Code, rr.Body.String())
		}
		if rr.Body.String() != "marked" || rr.Header().Get("X-Watermarked") != "true" {
			t.Errorf("segment body = %q, watermarked = %q", rr.Body.String(), rr.Header().Get("X-Watermarked"))
		}
	}
	if got := runner.count("overlay"); got != 1 {
		t.Errorf("overlay runs = %d, want 1", got)
	}

	rr = do(httptest.NewRequest(http.MethodPost, "/v1/upload/complete", strings.NewReader(fmt.Sprintf(`{"uploadId":%q}`, id))))
	if rr.Code != http.StatusConflict {
		t.Errorf("second complete = %d, want 409", rr.Code)
	}

	rr = do(httptest.NewRequest(http.MethodGet, "/v1/download/"+id+"/..%2Fsecret.ts", nil))
	if rr.Code == http.StatusOK {
		t.Error("traversal segment name must not be served")
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	router := newTestRouter(&stubUploader{}, &stubPlayer{}, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "streamforge_") {
		t.Error("metrics output should include streamforge metrics")
	}
}
