package search

import (
	"testing"

	"capturestore/internal/model"
)

func TestFindMatchingPositionsFullPhrase(t *testing.T) {
	blocks := []model.OcrTextBlock{
		{Text: "Hello World", Conf: "0.9", Left: "1", Top: "2", Width: "3", Height: "4"},
		{Text: "unrelated text", Conf: "0.5"},
	}

	positions := FindMatchingPositions(blocks, "hello world")
	if len(positions) != 1 {
		t.Fatalf("expected 1 match, got %d", len(positions))
	}
	p := positions[0]
	if p.Text != "Hello World" {
		t.Errorf("expected matched text preserved, got %q", p.Text)
	}
	if p.Confidence != 0.9 {
		t.Errorf("expected confidence 0.9, got %v", p.Confidence)
	}
	if p.Bounds.Left != 1 || p.Bounds.Top != 2 || p.Bounds.Width != 3 || p.Bounds.Height != 4 {
		t.Errorf("bounds not parsed correctly: %+v", p.Bounds)
	}
}

func TestFindMatchingPositionsWordFallback(t *testing.T) {
	blocks := []model.OcrTextBlock{
		{Text: "the quick brown fox", Conf: "1.0"},
	}

	positions := FindMatchingPositions(blocks, "brown elephant")
	if len(positions) != 1 {
		t.Fatalf("expected the block to match on the shared word \"brown\", got %d matches", len(positions))
	}
}

func TestFindMatchingPositionsCaseInsensitive(t *testing.T) {
	blocks := []model.OcrTextBlock{{Text: "ERROR LOG", Conf: "1.0"}}

	if len(FindMatchingPositions(blocks, "error")) != 1 {
		t.Fatal("expected case-insensitive match")
	}
}

func TestFindMatchingPositionsNoMatch(t *testing.T) {
	blocks := []model.OcrTextBlock{{Text: "completely different", Conf: "1.0"}}

	if positions := FindMatchingPositions(blocks, "xyz123"); positions != nil {
		t.Errorf("expected no matches, got %+v", positions)
	}
}

func TestParseFloat32Invalid(t *testing.T) {
	if got := parseFloat32("not-a-number"); got != 0.0 {
		t.Errorf("expected 0.0 for an unparseable value, got %v", got)
	}
}

func TestCalculateConfidenceMean(t *testing.T) {
	positions := []model.TextPosition{{Confidence: 0.5}, {Confidence: 1.0}}
	if got := CalculateConfidence(positions); got != 0.75 {
		t.Errorf("expected mean confidence 0.75, got %v", got)
	}
}

func TestCalculateConfidenceEmpty(t *testing.T) {
	if got := CalculateConfidence(nil); got != 0.0 {
		t.Errorf("expected 0.0 for no positions, got %v", got)
	}
}
