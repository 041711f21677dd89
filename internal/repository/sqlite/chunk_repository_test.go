package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/fjmerc/streamforge/internal/models"
	"github.com/fjmerc/streamforge/internal/repository"
)

func TestChunkRepository_UpsertAndList(t *testing.T) {
	db := setupTestDB(t)
	createFile(t, NewFileRepository(db), "u1")
	repo := NewChunkRepository(db)
	ctx := context.Background()

	for _, idx := range []int{2, 1, 3} {
		err := repo.Upsert(ctx, &models.ChunkRecord{FileID: "u1", Index: idx, Hash: "h", Size: 10, Path: "/p"})
		if err != nil {
			t.Fatalf("Upsert(%d) failed: %v", idx, err)
		}
	}

	// Retry of chunk 2 replaces the row
	if err := repo.Upsert(ctx, &models.ChunkRecord{FileID: "u1", Index: 2, Hash: "h2", Size: 20, Path: "/p2"}); err != nil {
		t.Fatalf("Upsert retry failed: %v", err)
	}

	chunks, err := repo.ListByFile(ctx, "u1")
	if err != nil {
		t.Fatalf("ListByFile failed: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i+1 {
			t.Errorf("chunks[%d].Index = %d, want %d", i, c.Index, i+1)
		}
	}
	if chunks[1].Hash != "h2" || chunks[1].Size != 20 || chunks[1].Path != "/p2" {
		t.Errorf("retried chunk not replaced: %+v", chunks[1])
	}
}

func TestChunkRepository_InvalidInput(t *testing.T) {
	repo := NewChunkRepository(setupTestDB(t))
	ctx := context.Background()

	for _, c := range []*models.ChunkRecord{nil, {Index: 1}, {FileID: "u1", Index: 0}} {
		if err := repo.Upsert(ctx, c); !errors.Is(err, repository.ErrInvalidInput) {
			t.Errorf("Upsert(%+v) = %v, want ErrInvalidInput", c, err)
		}
	}
}

func TestChunkRepository_ForeignKey(t *testing.T) {
	repo := NewChunkRepository(setupTestDB(t))

	err := repo.Upsert(context.Background(), &models.ChunkRecord{FileID: "ghost", Index: 1, Hash: "h", Path: "/p"})
	if err == nil {
		t.Error("chunk for an unknown file should violate the foreign key")
	}
}

func TestChunkRepository_DeleteByFile(t *testing.T) {
	db := setupTestDB(t)
	files := NewFileRepository(db)
	createFile(t, files, "u1")
	createFile(t, files, "u2")
	repo := NewChunkRepository(db)
	ctx := context.Background()

	repo.Upsert(ctx, &models.ChunkRecord{FileID: "u1", Index: 1, Hash: "h", Path: "/a"})
	repo.Upsert(ctx, &models.ChunkRecord{FileID: "u1", Index: 2, Hash: "h", Path: "/b"})
	repo.Upsert(ctx, &models.ChunkRecord{FileID: "u2", Index: 1, Hash: "h", Path: "/c"})

	n, err := repo.DeleteByFile(ctx, "u1")
	if err != nil {
		t.Fatalf("DeleteByFile failed: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}

	left, _ := repo.ListByFile(ctx, "u2")
	if len(left) != 1 {
		t.Errorf("other file's chunks should survive, got %d", len(left))
	}
}
