package ingest

import (
	"context"
	"testing"

	"capturestore/internal/model"
)

func TestAddTagsCreatesAndLinksThenIsIdempotent(t *testing.T) {
	w, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	chunkID, err := w.InsertVideoChunk(ctx, "/tmp/a.mp4", "display-1")
	if err != nil {
		t.Fatalf("seed video chunk: %v", err)
	}
	frameID, err := w.InsertFrame(ctx, "display-1", nil, nil)
	if err != nil || frameID == 0 {
		t.Fatalf("seed frame: id=%d err=%v", frameID, err)
	}
	_ = chunkID

	if err := w.AddTags(ctx, model.TagVision, frameID, []string{"work", "browser"}); err != nil {
		t.Fatalf("add tags: %v", err)
	}
	// Adding the same tag again should not duplicate the link.
	if err := w.AddTags(ctx, model.TagVision, frameID, []string{"work"}); err != nil {
		t.Fatalf("re-add tag: %v", err)
	}

	tags, err := w.TagsFor(ctx, model.TagVision, frameID)
	if err != nil {
		t.Fatalf("tags for: %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("expected 2 distinct tags, got %v", tags)
	}
}

func TestRemoveTagDetachesOnlyTheNamedTag(t *testing.T) {
	w, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := w.InsertVideoChunk(ctx, "/tmp/a.mp4", "display-1"); err != nil {
		t.Fatalf("seed video chunk: %v", err)
	}
	frameID, err := w.InsertFrame(ctx, "display-1", nil, nil)
	if err != nil || frameID == 0 {
		t.Fatalf("seed frame: id=%d err=%v", frameID, err)
	}

	if err := w.AddTags(ctx, model.TagVision, frameID, []string{"work", "browser"}); err != nil {
		t.Fatalf("add tags: %v", err)
	}
	if err := w.RemoveTag(ctx, model.TagVision, frameID, "work"); err != nil {
		t.Fatalf("remove tag: %v", err)
	}

	tags, err := w.TagsFor(ctx, model.TagVision, frameID)
	if err != nil {
		t.Fatalf("tags for: %v", err)
	}
	if len(tags) != 1 || tags[0] != "browser" {
		t.Fatalf("expected only \"browser\" to remain, got %v", tags)
	}
}

func TestAddTagsUnknownContentType(t *testing.T) {
	w, cleanup := setupTestDB(t)
	defer cleanup()

	err := w.AddTags(context.Background(), model.TagContentType(99), 1, []string{"x"})
	if err == nil {
		t.Fatal("expected an error for an unknown tag content type")
	}
}
