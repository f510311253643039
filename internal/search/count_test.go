package search

import (
	"context"
	"testing"
	"time"

	"capturestore/internal/model"
)

func TestCountAllSumsModalities(t *testing.T) {
	e, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	seedFrame(t, e, "App", "Win", "shared marker", time.Now().UTC())

	if _, err := e.db.ExecContext(ctx,
		`INSERT INTO audio_chunks (file_path, timestamp) VALUES ('/tmp/a.wav', CURRENT_TIMESTAMP)`); err != nil {
		t.Fatalf("seed audio chunk: %v", err)
	}
	if _, err := e.db.ExecContext(ctx, `
		INSERT INTO audio_transcriptions (audio_chunk_id, transcription, offset_index, timestamp, text_length)
		VALUES (1, 'shared marker in audio', 0, CURRENT_TIMESTAMP, 23)`); err != nil {
		t.Fatalf("seed transcription: %v", err)
	}
	if _, err := e.db.ExecContext(ctx, `
		INSERT INTO ui_monitoring (text_output, timestamp, app, window, text_length)
		VALUES ('shared marker in ui', CURRENT_TIMESTAMP, 'App', 'Win', 20)`); err != nil {
		t.Fatalf("seed ui monitoring: %v", err)
	}

	f := Filters{Query: "shared"}
	ocrCount, err := e.CountSearchResults(ctx, f, model.ContentOCR)
	if err != nil {
		t.Fatalf("count ocr: %v", err)
	}
	audioCount, err := e.CountSearchResults(ctx, f, model.ContentAudio)
	if err != nil {
		t.Fatalf("count audio: %v", err)
	}
	uiCount, err := e.CountSearchResults(ctx, f, model.ContentUI)
	if err != nil {
		t.Fatalf("count ui: %v", err)
	}

	all, err := e.CountSearchResults(ctx, f, model.ContentAll)
	if err != nil {
		t.Fatalf("count all: %v", err)
	}
	if all != ocrCount+audioCount+uiCount {
		t.Fatalf("expected count(all)=%d to equal the sum of per-modality counts %d+%d+%d", all, ocrCount, audioCount, uiCount)
	}
}

func TestCountAllExcludesEmptyAudioAndUIText(t *testing.T) {
	e, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	seedFrame(t, e, "App", "Win", "shared marker", time.Now().UTC())

	if _, err := e.db.ExecContext(ctx,
		`INSERT INTO audio_chunks (file_path, timestamp) VALUES ('/tmp/a.wav', CURRENT_TIMESTAMP)`); err != nil {
		t.Fatalf("seed audio chunk: %v", err)
	}
	if _, err := e.db.ExecContext(ctx, `
		INSERT INTO audio_transcriptions (audio_chunk_id, transcription, offset_index, timestamp, text_length)
		VALUES (1, '', 0, CURRENT_TIMESTAMP, 0)`); err != nil {
		t.Fatalf("seed empty transcription: %v", err)
	}
	if _, err := e.db.ExecContext(ctx, `
		INSERT INTO ui_monitoring (text_output, timestamp, app, window, text_length)
		VALUES ('', CURRENT_TIMESTAMP, 'App', 'Win', 0)`); err != nil {
		t.Fatalf("seed empty ui monitoring: %v", err)
	}

	f := Filters{}
	audioCount, err := e.CountSearchResults(ctx, f, model.ContentAudio)
	if err != nil {
		t.Fatalf("count audio: %v", err)
	}
	if audioCount != 1 {
		t.Fatalf("expected the empty-transcription row to still count as audio, got %d", audioCount)
	}
	uiCount, err := e.CountSearchResults(ctx, f, model.ContentUI)
	if err != nil {
		t.Fatalf("count ui: %v", err)
	}
	if uiCount != 1 {
		t.Fatalf("expected the empty-text_output row to still count as ui, got %d", uiCount)
	}

	ocrCount, err := e.CountSearchResults(ctx, f, model.ContentOCR)
	if err != nil {
		t.Fatalf("count ocr: %v", err)
	}
	all, err := e.CountSearchResults(ctx, f, model.ContentAll)
	if err != nil {
		t.Fatalf("count all: %v", err)
	}
	if all != ocrCount {
		t.Fatalf("expected count(all)=%d to exclude the empty-text audio/ui rows and equal ocr-only count %d", all, ocrCount)
	}
}

func TestCountSearchResultsUnsupportedCombinationReturnsZero(t *testing.T) {
	e, cleanup := setupTestDB(t)
	defer cleanup()

	count, err := e.CountSearchResults(context.Background(), Filters{}, model.ContentAudioAndUI)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 for a search-only content type combination, got %d", count)
	}
}
