package search

import (
	"strconv"
	"strings"

	"capturestore/internal/model"
)

// FindMatchingPositions returns the bounding-box position of every OCR
// block whose text contains the full lowercased query or any of its
// whitespace-separated words. Numeric fields are parsed from string,
// defaulting to 0.0 on failure.
func FindMatchingPositions(blocks []model.OcrTextBlock, query string) []model.TextPosition {
	queryLower := strings.ToLower(query)
	words := strings.Fields(queryLower)

	var out []model.TextPosition
	for _, b := range blocks {
		textLower := strings.ToLower(b.Text)
		matches := strings.Contains(textLower, queryLower)
		if !matches {
			for _, w := range words {
				if strings.Contains(textLower, w) {
					matches = true
					break
				}
			}
		}
		if !matches {
			continue
		}
		out = append(out, model.TextPosition{
			Text:       b.Text,
			Confidence: parseFloat32(b.Conf),
			Bounds: model.TextBounds{
				Left:   parseFloat32(b.Left),
				Top:    parseFloat32(b.Top),
				Width:  parseFloat32(b.Width),
				Height: parseFloat32(b.Height),
			},
		})
	}
	return out
}

func parseFloat32(s string) float32 {
	f, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0.0
	}
	return float32(f)
}

// CalculateConfidence is the arithmetic mean of the matched positions'
// confidences, 0.0 if empty.
func CalculateConfidence(positions []model.TextPosition) float32 {
	if len(positions) == 0 {
		return 0.0
	}
	var sum float32
	for _, p := range positions {
		sum += p.Confidence
	}
	return sum / float32(len(positions))
}
