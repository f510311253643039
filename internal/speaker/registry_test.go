package speaker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"capturestore/internal/dbcore"
	"capturestore/internal/storeerr"
	"capturestore/internal/vectorindex"
)

func setupTestDB(t *testing.T) (*Registry, func()) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.db")

	db, err := dbcore.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	index := vectorindex.New()
	return New(db, index), func() { db.Close() }
}

func insertSpeaker(t *testing.T, r *Registry, embedding []float32) int64 {
	t.Helper()
	ctx := context.Background()
	res, err := r.db.ExecContext(ctx, `INSERT INTO speakers (name, metadata, hallucination) VALUES ('', '', 0)`)
	if err != nil {
		t.Fatalf("insert speaker: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("last insert id: %v", err)
	}
	if _, err := r.db.ExecContext(ctx, `INSERT INTO speaker_embeddings (speaker_id, embedding) VALUES (?, ?)`,
		id, vectorindex.Encode(embedding)); err != nil {
		t.Fatalf("insert embedding: %v", err)
	}
	r.index.Add(id, embedding)
	return id
}

func TestGetSpeakerFromEmbeddingMatch(t *testing.T) {
	r, cleanup := setupTestDB(t)
	defer cleanup()

	id := insertSpeaker(t, r, []float32{1, 0})

	s, ok, err := r.GetSpeakerFromEmbedding(context.Background(), []float32{1, 0})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !ok || s.ID != id {
		t.Fatalf("expected a match on speaker %d, got ok=%v id=%d", id, ok, s.ID)
	}
}

func TestGetSpeakerFromEmbeddingNoMatchBeyondThreshold(t *testing.T) {
	r, cleanup := setupTestDB(t)
	defer cleanup()

	insertSpeaker(t, r, []float32{1, 0})

	_, ok, err := r.GetSpeakerFromEmbedding(context.Background(), []float32{0, 1})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if ok {
		t.Fatal("expected no match for an orthogonal (distant) embedding")
	}
}

func TestMergeSpeakersReassignsAndDeletes(t *testing.T) {
	r, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	keep := insertSpeaker(t, r, []float32{1, 0})
	merge := insertSpeaker(t, r, []float32{0.9, 0.1})

	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO audio_chunks (file_path, timestamp) VALUES ('/tmp/a.wav', CURRENT_TIMESTAMP)`); err != nil {
		t.Fatalf("seed audio chunk: %v", err)
	}
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO audio_transcriptions (audio_chunk_id, transcription, offset_index, timestamp, speaker_id, text_length)
		VALUES (1, 'hello', 0, CURRENT_TIMESTAMP, ?, 5)`, merge); err != nil {
		t.Fatalf("seed transcription: %v", err)
	}

	kept, err := r.MergeSpeakers(ctx, keep, merge)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if kept.ID != keep {
		t.Fatalf("expected kept speaker %d, got %d", keep, kept.ID)
	}

	var speakerID int64
	if err := r.db.QueryRowContext(ctx, `SELECT speaker_id FROM audio_transcriptions WHERE audio_chunk_id = 1`).Scan(&speakerID); err != nil {
		t.Fatalf("read back transcription: %v", err)
	}
	if speakerID != keep {
		t.Fatalf("expected transcription reassigned to %d, got %d", keep, speakerID)
	}

	if _, err := r.GetSpeakerByID(ctx, merge); !errors.Is(err, storeerr.ErrNotFound) {
		t.Fatalf("expected the merged speaker to be gone, got err=%v", err)
	}

	if _, ok := r.index.Get(merge); ok {
		t.Fatal("expected the merged speaker's vector to be removed from the in-process index")
	}
}

func TestDeleteSpeakerCascades(t *testing.T) {
	r, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	id := insertSpeaker(t, r, []float32{1, 0})
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO audio_chunks (file_path, timestamp) VALUES ('/tmp/a.wav', CURRENT_TIMESTAMP)`); err != nil {
		t.Fatalf("seed audio chunk: %v", err)
	}
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO audio_transcriptions (audio_chunk_id, transcription, offset_index, timestamp, speaker_id, text_length, start_time)
		VALUES (1, 'hi', 0, CURRENT_TIMESTAMP, ?, 2, NULL)`, id); err != nil {
		t.Fatalf("seed transcription: %v", err)
	}

	if err := r.DeleteSpeaker(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}

	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM speakers WHERE id = ?`, id).Scan(&count); err != nil {
		t.Fatalf("count speakers: %v", err)
	}
	if count != 0 {
		t.Fatal("expected the speaker row to be gone")
	}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audio_chunks`).Scan(&count); err != nil {
		t.Fatalf("count audio chunks: %v", err)
	}
	if count != 0 {
		t.Fatal("expected the orphaned (null start_time) audio chunk to be deleted alongside the speaker")
	}
	if _, ok := r.index.Get(id); ok {
		t.Fatal("expected the deleted speaker's vector to be removed from the in-process index")
	}
}

func TestSearchSpeakersExcludesHallucinated(t *testing.T) {
	r, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	goodID := insertSpeaker(t, r, []float32{1, 0})
	badID := insertSpeaker(t, r, []float32{0, 1})
	if _, err := r.db.ExecContext(ctx, `UPDATE speakers SET name = 'Alice' WHERE id = ?`, goodID); err != nil {
		t.Fatalf("name good speaker: %v", err)
	}
	if _, err := r.db.ExecContext(ctx, `UPDATE speakers SET name = 'Alison', hallucination = 1 WHERE id = ?`, badID); err != nil {
		t.Fatalf("name+flag bad speaker: %v", err)
	}

	results, err := r.SearchSpeakers(ctx, "Ali")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].ID != goodID {
		t.Fatalf("expected only the non-hallucinated speaker, got %+v", results)
	}
}
