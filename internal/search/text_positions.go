package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"capturestore/internal/model"
	"capturestore/internal/storeerr"
)

// TextPositionFilters bounds an OCR-only position search.
type TextPositionFilters struct {
	Query      string
	Limit      int
	Offset     int
	StartTime  *time.Time
	EndTime    *time.Time
	FuzzyMatch bool
	Order      model.Order
	AppNames   []string
}

// SearchWithTextPositions is the OCR-only path that also returns
// bounding-box-level matches, supporting fuzzy token-prefix matching and an
// app-name whitelist.
func (e *Engine) SearchWithTextPositions(ctx context.Context, f TextPositionFilters) ([]model.SearchMatch, error) {
	var conditions []string
	var args []any

	if f.StartTime != nil {
		conditions = append(conditions, "f.timestamp >= ?")
		args = append(args, *f.StartTime)
	}
	if f.EndTime != nil {
		conditions = append(conditions, "f.timestamp <= ?")
		args = append(args, *f.EndTime)
	}

	var appArgs []any
	if len(f.AppNames) > 0 {
		placeholders := strings.Repeat("?,", len(f.AppNames))
		placeholders = placeholders[:len(placeholders)-1]
		conditions = append(conditions, fmt.Sprintf("o.app_name IN (%s)", placeholders))
		for _, a := range f.AppNames {
			appArgs = append(appArgs, a)
		}
	}

	var searchArg any
	if f.Query != "" {
		ftsMatch := f.Query
		if f.FuzzyMatch {
			words := strings.Fields(f.Query)
			for i, w := range words {
				words[i] = w + "*"
			}
			ftsMatch = strings.Join(words, " OR ")
		}
		conditions = append(conditions, "f.id IN (SELECT frame_id FROM ocr_text_fts WHERE text MATCH ? ORDER BY rank)")
		searchArg = ftsMatch
	}

	where := "1=1"
	if len(conditions) > 0 {
		where = strings.Join(conditions, " AND ")
	}
	order := "DESC"
	if f.Order == model.OrderAscending {
		order = "ASC"
	}

	sqlText := fmt.Sprintf(`
		SELECT f.id, f.timestamp, f.browser_url, o.app_name, o.window_name, o.text, o.text_json
		FROM frames f
		INNER JOIN ocr_text o ON f.id = o.frame_id
		WHERE %s
		ORDER BY f.timestamp %s
		LIMIT ? OFFSET ?`, where, order)

	queryArgs := append(append([]any{}, args...), appArgs...)
	if searchArg != nil {
		queryArgs = append(queryArgs, searchArg)
	}
	queryArgs = append(queryArgs, f.Limit, f.Offset)

	rows, err := e.db.QueryContext(ctx, sqlText, queryArgs...)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.ErrStoreUnavailable, fmt.Errorf("search_with_text_positions: %w", err))
	}
	defer rows.Close()

	var out []model.SearchMatch
	for rows.Next() {
		var m model.SearchMatch
		var textJSON string
		if err := rows.Scan(&m.FrameID, &m.Timestamp, &m.URL, &m.AppName, &m.WindowName, &m.Text, &textJSON); err != nil {
			return nil, err
		}
		if f.Query != "" {
			var blocks []model.OcrTextBlock
			if err := json.Unmarshal([]byte(textJSON), &blocks); err != nil {
				blocks = nil // malformed text_json degrades to empty positions, non-fatal
			}
			m.TextPositions = FindMatchingPositions(blocks, f.Query)
		}
		m.Confidence = CalculateConfidence(m.TextPositions)
		out = append(out, m)
	}
	return out, rows.Err()
}
