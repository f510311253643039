package temporal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"capturestore/internal/dbcore"
)

func setupTestDB(t *testing.T) (*Aligner, func()) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.db")

	db, err := dbcore.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return New(db), func() { db.Close() }
}

func TestFindVideoChunksDedupesPerMinute(t *testing.T) {
	a, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	res, err := a.db.ExecContext(ctx,
		`INSERT INTO video_chunks (file_path, device_name, timestamp) VALUES ('/tmp/c.mp4', 'display-1', CURRENT_TIMESTAMP)`)
	if err != nil {
		t.Fatalf("seed video chunk: %v", err)
	}
	chunkID, _ := res.LastInsertId()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	// Two frames in the same minute for the same device: only the latest
	// (by timestamp) should survive the ROW_NUMBER() dedup.
	for i, ts := range []time.Time{base, base.Add(20 * time.Second)} {
		if _, err := a.db.ExecContext(ctx,
			`INSERT INTO frames (video_chunk_id, offset_index, timestamp, name) VALUES (?, ?, ?, '')`,
			chunkID, i, ts); err != nil {
			t.Fatalf("seed frame %d: %v", i, err)
		}
	}
	// A frame in the following minute must survive independently.
	if _, err := a.db.ExecContext(ctx,
		`INSERT INTO frames (video_chunk_id, offset_index, timestamp, name) VALUES (?, 2, ?, '')`,
		chunkID, base.Add(90*time.Second)); err != nil {
		t.Fatalf("seed frame 2: %v", err)
	}

	chunk, err := a.FindVideoChunks(ctx, base.Add(-time.Minute), base.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("find video chunks: %v", err)
	}
	if len(chunk.Frames) != 2 {
		t.Fatalf("expected 2 frames (one per minute bucket), got %d", len(chunk.Frames))
	}
}

func TestFindVideoChunksAttachesClosestPrecedingAudio(t *testing.T) {
	a, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	res, err := a.db.ExecContext(ctx,
		`INSERT INTO video_chunks (file_path, device_name, timestamp) VALUES ('/tmp/c.mp4', 'display-1', CURRENT_TIMESTAMP)`)
	if err != nil {
		t.Fatalf("seed video chunk: %v", err)
	}
	chunkID, _ := res.LastInsertId()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if _, err := a.db.ExecContext(ctx,
		`INSERT INTO frames (video_chunk_id, offset_index, timestamp, name) VALUES (?, 0, ?, '')`,
		chunkID, base); err != nil {
		t.Fatalf("seed frame: %v", err)
	}

	if _, err := a.db.ExecContext(ctx,
		`INSERT INTO audio_chunks (file_path, timestamp) VALUES ('/tmp/a.wav', CURRENT_TIMESTAMP)`); err != nil {
		t.Fatalf("seed audio chunk: %v", err)
	}
	// An audio segment shortly after the frame should attach to it.
	if _, err := a.db.ExecContext(ctx, `
		INSERT INTO audio_transcriptions (audio_chunk_id, transcription, offset_index, timestamp, device, is_input_device, start_time, end_time, text_length)
		VALUES (1, 'said something', 0, ?, 'mic', 1, 0, 2, 14)`, base.Add(10*time.Second)); err != nil {
		t.Fatalf("seed transcription: %v", err)
	}

	chunk, err := a.FindVideoChunks(ctx, base.Add(-time.Minute), base.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("find video chunks: %v", err)
	}
	if len(chunk.Frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(chunk.Frames))
	}
	if len(chunk.Frames[0].AudioEntries) != 1 {
		t.Fatalf("expected the audio segment to attach to the sole frame, got %d entries", len(chunk.Frames[0].AudioEntries))
	}
	if chunk.Frames[0].AudioEntries[0].Transcription != "said something" {
		t.Fatalf("unexpected transcription attached: %+v", chunk.Frames[0].AudioEntries[0])
	}
}

func TestFindVideoChunksEmptyRange(t *testing.T) {
	a, cleanup := setupTestDB(t)
	defer cleanup()

	chunk, err := a.FindVideoChunks(context.Background(), time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("find video chunks: %v", err)
	}
	if len(chunk.Frames) != 0 {
		t.Fatalf("expected no frames in an empty store, got %d", len(chunk.Frames))
	}
}
