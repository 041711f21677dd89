package upload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fjmerc/streamforge/internal/models"
	"github.com/fjmerc/streamforge/internal/tracker"
	"github.com/fjmerc/streamforge/internal/transcode"
)

type gcTracker struct {
	tracker.Tracker
	gcRuns int
}

func (g *gcTracker) RunGC() {
	g.gcRuns++
}

func TestService_RecoverInterrupted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := time.Now().Add(-2 * time.Hour)

	stuck := func(id string) string {
		f.repos.Files.AddFile(&models.FileRecord{ID: id, Status: models.StatusCompleting, ExpectedChunks: 2})
		f.repos.Files.SetUpdatedAt(id, old)
		dir := f.store.UploadDir(id)
		os.MkdirAll(dir, 0755)
		return dir
	}
	writeChunk := func(id string, index int) {
		if _, err := f.store.Upload(ctx, id, index, strings.NewReader("chunk")); err != nil {
			t.Fatal(err)
		}
	}

	// packaging finished before the crash: closed playlist, chunks consumed
	dir := stuck("done")
	os.WriteFile(filepath.Join(dir, transcode.PlaylistName), []byte(finishedPlaylist), 0644)

	// crashed mid-packaging: the muxer had rewritten an open playlist
	dir = stuck("truncated")
	os.WriteFile(filepath.Join(dir, transcode.PlaylistName), []byte(truncatedPlaylist), 0644)
	writeChunk("truncated", 1)
	writeChunk("truncated", 2)

	// closed playlist but the chunks were never removed
	dir = stuck("leftover")
	os.WriteFile(filepath.Join(dir, transcode.PlaylistName), []byte(finishedPlaylist), 0644)
	writeChunk("leftover", 2)

	// crashed before packaging
	stuck("halfway")

	// still within the grace period
	f.repos.Files.AddFile(&models.FileRecord{ID: "running", Status: models.StatusCompleting, ExpectedChunks: 1})
	f.repos.Files.SetUpdatedAt("running", time.Now())

	n, err := f.svc.RecoverInterrupted(ctx)
	if err != nil {
		t.Fatalf("RecoverInterrupted failed: %v", err)
	}
	if n != 4 {
		t.Errorf("recovered = %d, want 4", n)
	}

	if got := f.file(t, "done"); got.Status != models.StatusFinalized || !got.Valid {
		t.Errorf("done = %+v, want finalized", got)
	}
	for _, id := range []string{"truncated", "leftover", "halfway"} {
		got := f.file(t, id)
		if got.Status != models.StatusIngesting || got.Valid {
			t.Errorf("%s = %s valid=%v, want ingesting and not valid", id, got.Status, got.Valid)
		}
	}
	if !exists(f.store.ChunkPath("truncated", 1)) || !exists(f.store.ChunkPath("truncated", 2)) {
		t.Error("chunks of a truncated packaging run must be kept for the retry")
	}
	if got := f.file(t, "running").Status; got != models.StatusCompleting {
		t.Errorf("running = %s, want completing", got)
	}
}

func TestService_SweepAbandoned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gc := &gcTracker{Tracker: f.svc.tracker}
	f.svc.tracker = gc

	stale := f.initUpload(t, "a", "b")
	f.sendChunk(stale, 1, "a")
	f.repos.Files.SetUpdatedAt(stale, time.Now().Add(-72*time.Hour))

	fresh := f.initUpload(t, "c")
	f.sendChunk(fresh, 1, "c")

	finished := f.initUpload(t, "d")
	f.sendChunk(finished, 1, "d")
	if _, err := f.svc.Complete(ctx, models.UploadCompleteRequest{UploadID: finished}); err != nil {
		t.Fatal(err)
	}
	f.repos.Files.SetUpdatedAt(finished, time.Now().Add(-72*time.Hour))

	n, err := f.svc.SweepAbandoned(ctx)
	if err != nil {
		t.Fatalf("SweepAbandoned failed: %v", err)
	}
	if n != 1 {
		t.Errorf("swept = %d, want 1", n)
	}

	if got := f.file(t, stale).Status; got != models.StatusFailed {
		t.Errorf("stale status = %s, want failed", got)
	}
	if exists(f.store.UploadDir(stale)) {
		t.Error("stale upload directory should be removed")
	}
	if _, err := gc.Snapshot(ctx, stale); !errors.Is(err, tracker.ErrUnknownUpload) {
		t.Errorf("stale tracker state should be gone, got %v", err)
	}
	if recs, _ := f.repos.Chunks.ListByFile(ctx, stale); len(recs) != 0 {
		t.Errorf("stale chunk records = %d, want 0", len(recs))
	}
	if gc.gcRuns != 1 {
		t.Errorf("gc runs = %d, want 1", gc.gcRuns)
	}

	if got := f.file(t, fresh).Status; got != models.StatusIngesting {
		t.Errorf("fresh status = %s, want ingesting", got)
	}
	if !exists(f.store.ChunkPath(fresh, 1)) {
		t.Error("fresh chunk should be kept")
	}
	if got := f.file(t, finished).Status; got != models.StatusFinalized {
		t.Errorf("finished status = %s, want finalized", got)
	}

	if err := f.sendChunk(stale, 2, "b"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("chunk for swept upload = %v, want ErrInvalidState", err)
	}
}

func TestService_SweepKeepsActiveUpload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.initUpload(t, "a", "b", "c")
	if err := f.sendChunk(id, 1, "a"); err != nil {
		t.Fatal(err)
	}
	// the first chunk arrived long ago, the next one just now
	f.repos.Files.SetUpdatedAt(id, time.Now().Add(-72*time.Hour))
	if err := f.sendChunk(id, 2, "b"); err != nil {
		t.Fatal(err)
	}

	n, err := f.svc.SweepAbandoned(ctx)
	if err != nil {
		t.Fatalf("SweepAbandoned failed: %v", err)
	}
	if n != 0 {
		t.Errorf("swept = %d, want 0", n)
	}
	if got := f.file(t, id).Status; got != models.StatusIngesting {
		t.Errorf("status = %s, want ingesting", got)
	}
	for index := 1; index <= 2; index++ {
		if !exists(f.store.ChunkPath(id, index)) {
			t.Errorf("chunk %d should be kept", index)
		}
	}

	if err := f.sendChunk(id, 3, "c"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Complete(ctx, models.UploadCompleteRequest{UploadID: id}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
}

func TestService_MaintenanceWorkerStops(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.svc.StartMaintenanceWorker(ctx, time.Hour)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("maintenance worker did not stop")
	}
}
