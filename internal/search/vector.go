package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"capturestore/internal/model"
	"capturestore/internal/storeerr"
)

// SearchSimilarEmbeddings computes cosine distance against the OCR text
// embedding index, keeps matches below threshold, and joins through
// frames/video_chunks/tags to return fully-populated OCRResult records,
// ordered ascending by distance.
func (e *Engine) SearchSimilarEmbeddings(ctx context.Context, embedding []float32, limit int, threshold float64) ([]model.OCRResult, error) {
	matches := e.ocrIndex.Search(embedding, limit, threshold, nil)
	if len(matches) == 0 {
		return nil, nil
	}

	ids := make([]any, len(matches))
	rank := make(map[int64]int, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
		rank[m.ID] = i
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	sqlText := fmt.Sprintf(`
		SELECT
			ocr_text.frame_id, ocr_text.text, ocr_text.text_json, frames.timestamp,
			frames.name, video_chunks.file_path, frames.offset_index,
			ocr_text.app_name, ocr_text.ocr_engine, ocr_text.window_name,
			GROUP_CONCAT(tags.name, ','), frames.browser_url
		FROM ocr_text
		JOIN frames ON ocr_text.frame_id = frames.id
		JOIN video_chunks ON frames.video_chunk_id = video_chunks.id
		LEFT JOIN vision_tags ON frames.id = vision_tags.frame_id
		LEFT JOIN tags ON vision_tags.tag_id = tags.id
		WHERE ocr_text.frame_id IN (%s)
		GROUP BY ocr_text.frame_id`, placeholders)

	rows, err := e.db.QueryContext(ctx, sqlText, ids...)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.ErrStoreUnavailable, fmt.Errorf("search_similar_embeddings: %w", err))
	}
	defer rows.Close()

	out := make([]model.OCRResult, len(matches))
	found := make([]bool, len(matches))
	for rows.Next() {
		var r model.OCRResult
		var tagStr sql.NullString
		if err := rows.Scan(&r.FrameID, &r.OcrText, &r.TextJSON, &r.Timestamp, &r.FrameName,
			&r.FilePath, &r.OffsetIndex, &r.AppName, &r.OcrEngine, &r.WindowName, &tagStr, &r.BrowserURL); err != nil {
			return nil, err
		}
		if tagStr.Valid && tagStr.String != "" {
			r.Tags = strings.Split(tagStr.String, ",")
		}
		idx := rank[r.FrameID]
		out[idx] = r
		found[idx] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	compacted := out[:0]
	for i, ok := range found {
		if ok {
			compacted = append(compacted, out[i])
		}
	}
	return compacted, nil
}
