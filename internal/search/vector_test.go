package search

import (
	"context"
	"testing"
	"time"
)

func TestSearchSimilarEmbeddingsOrdersByDistance(t *testing.T) {
	e, cleanup := setupTestDB(t)
	defer cleanup()

	farID := seedFrame(t, e, "App", "Win", "far frame", time.Now().UTC())
	nearID := seedFrame(t, e, "App", "Win", "near frame", time.Now().UTC())

	e.ocrIndex.Add(farID, []float32{0, 1})
	e.ocrIndex.Add(nearID, []float32{0.99, 0.01})

	results, err := e.SearchSimilarEmbeddings(context.Background(), []float32{1, 0}, 10, 2.0)
	if err != nil {
		t.Fatalf("search similar embeddings: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].FrameID != nearID {
		t.Fatalf("expected the nearer frame first, got frame %d", results[0].FrameID)
	}
}

func TestSearchSimilarEmbeddingsNoMatches(t *testing.T) {
	e, cleanup := setupTestDB(t)
	defer cleanup()

	results, err := e.SearchSimilarEmbeddings(context.Background(), []float32{1, 0}, 10, 2.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results != nil {
		t.Fatalf("expected nil results for an empty index, got %+v", results)
	}
}
