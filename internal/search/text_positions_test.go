package search

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"capturestore/internal/model"
)

func seedFrameWithBlocks(t *testing.T, e *Engine, appName string, blocks []model.OcrTextBlock, ts time.Time) int64 {
	t.Helper()
	ctx := context.Background()

	res, err := e.db.ExecContext(ctx,
		`INSERT INTO video_chunks (file_path, device_name, timestamp) VALUES ('/tmp/c.mp4', 'display-1', ?)`, ts)
	if err != nil {
		t.Fatalf("seed video chunk: %v", err)
	}
	chunkID, _ := res.LastInsertId()

	res, err = e.db.ExecContext(ctx,
		`INSERT INTO frames (video_chunk_id, offset_index, timestamp, name) VALUES (?, 0, ?, '')`, chunkID, ts)
	if err != nil {
		t.Fatalf("seed frame: %v", err)
	}
	frameID, _ := res.LastInsertId()

	var fullText string
	for i, b := range blocks {
		if i > 0 {
			fullText += " "
		}
		fullText += b.Text
	}
	textJSONBytes, err := json.Marshal(blocks)
	if err != nil {
		t.Fatalf("marshal blocks: %v", err)
	}
	textJSON := string(textJSONBytes)

	if _, err := e.db.ExecContext(ctx,
		`INSERT INTO ocr_text (frame_id, text, text_json, app_name, window_name, ocr_engine, focused, text_length)
		 VALUES (?, ?, ?, ?, '', 'tesseract', 1, ?)`,
		frameID, fullText, textJSON, appName, len([]rune(fullText))); err != nil {
		t.Fatalf("seed ocr text: %v", err)
	}
	return frameID
}

func TestSearchWithTextPositionsReturnsBoundingBoxes(t *testing.T) {
	e, cleanup := setupTestDB(t)
	defer cleanup()

	seedFrameWithBlocks(t, e, "Editor", []model.OcrTextBlock{
		{Text: "compile", Conf: "0.95", Left: "10", Top: "20", Width: "30", Height: "8"},
		{Text: "now", Conf: "0.9"},
	}, time.Now().UTC())

	results, err := e.SearchWithTextPositions(context.Background(), TextPositionFilters{Query: "compile", Limit: 10})
	if err != nil {
		t.Fatalf("search with text positions: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 match, got %d", len(results))
	}
	if len(results[0].TextPositions) != 1 {
		t.Fatalf("expected 1 bounding box, got %d", len(results[0].TextPositions))
	}
	if results[0].TextPositions[0].Bounds.Left != 10 {
		t.Fatalf("expected bounding box left=10, got %v", results[0].TextPositions[0].Bounds.Left)
	}
}

func TestSearchWithTextPositionsFiltersByAppName(t *testing.T) {
	e, cleanup := setupTestDB(t)
	defer cleanup()

	seedFrameWithBlocks(t, e, "Editor", []model.OcrTextBlock{{Text: "alpha", Conf: "1.0"}}, time.Now().UTC())
	seedFrameWithBlocks(t, e, "Browser", []model.OcrTextBlock{{Text: "alpha", Conf: "1.0"}}, time.Now().UTC())

	results, err := e.SearchWithTextPositions(context.Background(), TextPositionFilters{
		Limit:    10,
		AppNames: []string{"Editor"},
	})
	if err != nil {
		t.Fatalf("search with text positions: %v", err)
	}
	if len(results) != 1 || results[0].AppName != "Editor" {
		t.Fatalf("expected only the Editor frame, got %+v", results)
	}
}
