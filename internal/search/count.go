package search

import (
	"context"
	"encoding/json"
	"fmt"

	"capturestore/internal/model"
	"capturestore/internal/storeerr"
)

// CountSearchResults mirrors Search's predicates for OCR, Audio, UI, and
// All; other content type combinations are search-only and return 0.
func (e *Engine) CountSearchResults(ctx context.Context, f Filters, contentType model.ContentType) (int64, error) {
	speakerJSON := "[]"
	if len(f.SpeakerIDs) > 0 {
		b, err := json.Marshal(f.SpeakerIDs)
		if err != nil {
			return 0, err
		}
		speakerJSON = string(b)
	}

	switch contentType {
	case model.ContentOCR:
		return e.countOCR(ctx, f)
	case model.ContentAudio:
		return e.countAudio(ctx, f, speakerJSON)
	case model.ContentUI:
		return e.countUI(ctx, f)
	case model.ContentAll:
		return e.countAll(ctx, f, speakerJSON)
	default:
		return 0, nil
	}
}

func (e *Engine) countOCR(ctx context.Context, f Filters) (int64, error) {
	base := "ocr_text"
	where := "1=1"
	if f.Query != "" {
		base = "ocr_text_fts JOIN ocr_text ON ocr_text_fts.frame_id = ocr_text.frame_id"
		where = "ocr_text_fts MATCH ?"
	}
	sqlText := fmt.Sprintf(`
		SELECT COUNT(DISTINCT frames.id) FROM %s
		JOIN frames ON ocr_text.frame_id = frames.id
		WHERE %s
			AND (? IS NULL OR frames.timestamp >= ?)
			AND (? IS NULL OR frames.timestamp <= ?)
			AND (? IS NULL OR ocr_text.app_name LIKE '%%' || ? || '%%')
			AND (? IS NULL OR ocr_text.window_name LIKE '%%' || ? || '%%')
			AND (? IS NULL OR COALESCE(ocr_text.text_length, LENGTH(ocr_text.text)) >= ?)
			AND (? IS NULL OR COALESCE(ocr_text.text_length, LENGTH(ocr_text.text)) <= ?)
			AND (? IS NULL OR frames.name LIKE '%%' || ? || '%%' COLLATE NOCASE)`, base, where)

	args := []any{}
	if f.Query != "" {
		args = append(args, f.Query)
	}
	args = append(args, f.StartTime, f.StartTime, f.EndTime, f.EndTime,
		f.AppName, f.AppName, f.WindowName, f.WindowName,
		f.MinLength, f.MinLength, f.MaxLength, f.MaxLength, f.FrameName, f.FrameName)

	var count int64
	if err := e.db.QueryRowContext(ctx, sqlText, args...).Scan(&count); err != nil {
		return 0, storeerr.Wrap(storeerr.ErrStoreUnavailable, fmt.Errorf("count_search_results(ocr): %w", err))
	}
	return count, nil
}

func (e *Engine) countAudio(ctx context.Context, f Filters, speakerJSON string) (int64, error) {
	base := "audio_transcriptions"
	where := "1=1"
	if f.Query != "" {
		base = "audio_transcriptions_fts JOIN audio_transcriptions ON audio_transcriptions_fts.rowid = audio_transcriptions.id"
		where = "audio_transcriptions_fts MATCH ?"
	}
	sqlText := fmt.Sprintf(`
		SELECT COUNT(DISTINCT audio_transcriptions.id) FROM %s
		LEFT JOIN speakers ON audio_transcriptions.speaker_id = speakers.id
		WHERE %s
			AND (? IS NULL OR audio_transcriptions.timestamp >= ?)
			AND (? IS NULL OR audio_transcriptions.timestamp <= ?)
			AND (? IS NULL OR COALESCE(audio_transcriptions.text_length, LENGTH(audio_transcriptions.transcription)) >= ?)
			AND (? IS NULL OR COALESCE(audio_transcriptions.text_length, LENGTH(audio_transcriptions.transcription)) <= ?)
			AND (speakers.id IS NULL OR speakers.hallucination = 0)
			AND (json_array_length(?) = 0 OR audio_transcriptions.speaker_id IN (SELECT value FROM json_each(?)))`, base, where)

	args := []any{}
	if f.Query != "" {
		args = append(args, f.Query)
	}
	args = append(args, f.StartTime, f.StartTime, f.EndTime, f.EndTime,
		f.MinLength, f.MinLength, f.MaxLength, f.MaxLength, speakerJSON, speakerJSON)

	var count int64
	if err := e.db.QueryRowContext(ctx, sqlText, args...).Scan(&count); err != nil {
		return 0, storeerr.Wrap(storeerr.ErrStoreUnavailable, fmt.Errorf("count_search_results(audio): %w", err))
	}
	return count, nil
}

func (e *Engine) countUI(ctx context.Context, f Filters) (int64, error) {
	base := "ui_monitoring"
	where := "1=1"
	if f.Query != "" {
		base = "ui_monitoring_fts JOIN ui_monitoring ON ui_monitoring_fts.rowid = ui_monitoring.id"
		where = "ui_monitoring_fts MATCH ?"
	}
	sqlText := fmt.Sprintf(`
		SELECT COUNT(DISTINCT ui_monitoring.id) FROM %s
		WHERE %s
			AND (? IS NULL OR ui_monitoring.timestamp >= ?)
			AND (? IS NULL OR ui_monitoring.timestamp <= ?)
			AND (? IS NULL OR ui_monitoring.app LIKE '%%' || ? || '%%')
			AND (? IS NULL OR ui_monitoring.window LIKE '%%' || ? || '%%')
			AND (? IS NULL OR COALESCE(ui_monitoring.text_length, LENGTH(ui_monitoring.text_output)) >= ?)
			AND (? IS NULL OR COALESCE(ui_monitoring.text_length, LENGTH(ui_monitoring.text_output)) <= ?)`, base, where)

	args := []any{}
	if f.Query != "" {
		args = append(args, f.Query)
	}
	args = append(args, f.StartTime, f.StartTime, f.EndTime, f.EndTime,
		f.AppName, f.AppName, f.WindowName, f.WindowName, f.MinLength, f.MinLength, f.MaxLength, f.MaxLength)

	var count int64
	if err := e.db.QueryRowContext(ctx, sqlText, args...).Scan(&count); err != nil {
		return 0, storeerr.Wrap(storeerr.ErrStoreUnavailable, fmt.Errorf("count_search_results(ui): %w", err))
	}
	return count, nil
}

// countAll issues one UNION ALL query across the three modalities, mirroring
// count_search_results(All): unlike countAudio/countUI, the audio and UI
// branches here additionally require a non-empty transcription/text_output,
// so rows with no recognized text never inflate the aggregate count.
func (e *Engine) countAll(ctx context.Context, f Filters, speakerJSON string) (int64, error) {
	ocrBase, ocrWhere := "ocr_text", "1=1"
	audioBase, audioWhere := "audio_transcriptions", "1=1"
	uiBase, uiWhere := "ui_monitoring", "1=1"
	if f.Query != "" {
		ocrBase = "ocr_text_fts JOIN ocr_text ON ocr_text_fts.frame_id = ocr_text.frame_id"
		ocrWhere = "ocr_text_fts MATCH ?"
		audioBase = "audio_transcriptions_fts JOIN audio_transcriptions ON audio_transcriptions_fts.rowid = audio_transcriptions.id"
		audioWhere = "audio_transcriptions_fts MATCH ?"
		uiBase = "ui_monitoring_fts JOIN ui_monitoring ON ui_monitoring_fts.rowid = ui_monitoring.id"
		uiWhere = "ui_monitoring_fts MATCH ?"
	}

	sqlText := fmt.Sprintf(`
		SELECT COUNT(*) FROM (
			SELECT DISTINCT frames.id FROM %s
			JOIN frames ON ocr_text.frame_id = frames.id
			WHERE %s
				AND (? IS NULL OR frames.timestamp >= ?)
				AND (? IS NULL OR frames.timestamp <= ?)
				AND (? IS NULL OR ocr_text.app_name LIKE '%%' || ? || '%%')
				AND (? IS NULL OR ocr_text.window_name LIKE '%%' || ? || '%%')
				AND (? IS NULL OR COALESCE(ocr_text.text_length, LENGTH(ocr_text.text)) >= ?)
				AND (? IS NULL OR COALESCE(ocr_text.text_length, LENGTH(ocr_text.text)) <= ?)
				AND (? IS NULL OR frames.name LIKE '%%' || ? || '%%' COLLATE NOCASE)
			UNION ALL
			SELECT DISTINCT audio_transcriptions.id FROM %s
			LEFT JOIN speakers ON audio_transcriptions.speaker_id = speakers.id
			WHERE %s
				AND (? IS NULL OR audio_transcriptions.timestamp >= ?)
				AND (? IS NULL OR audio_transcriptions.timestamp <= ?)
				AND (? IS NULL OR COALESCE(audio_transcriptions.text_length, LENGTH(audio_transcriptions.transcription)) >= ?)
				AND (? IS NULL OR COALESCE(audio_transcriptions.text_length, LENGTH(audio_transcriptions.transcription)) <= ?)
				AND audio_transcriptions.transcription != ''
				AND (speakers.id IS NULL OR speakers.hallucination = 0)
				AND (json_array_length(?) = 0 OR audio_transcriptions.speaker_id IN (SELECT value FROM json_each(?)))
			UNION ALL
			SELECT DISTINCT ui_monitoring.id FROM %s
			WHERE %s
				AND (? IS NULL OR ui_monitoring.timestamp >= ?)
				AND (? IS NULL OR ui_monitoring.timestamp <= ?)
				AND (? IS NULL OR ui_monitoring.app LIKE '%%' || ? || '%%')
				AND (? IS NULL OR ui_monitoring.window LIKE '%%' || ? || '%%')
				AND (? IS NULL OR COALESCE(ui_monitoring.text_length, LENGTH(ui_monitoring.text_output)) >= ?)
				AND (? IS NULL OR COALESCE(ui_monitoring.text_length, LENGTH(ui_monitoring.text_output)) <= ?)
				AND ui_monitoring.text_output != ''
		)`, ocrBase, ocrWhere, audioBase, audioWhere, uiBase, uiWhere)

	var args []any
	if f.Query != "" {
		args = append(args, f.Query)
	}
	args = append(args, f.StartTime, f.StartTime, f.EndTime, f.EndTime,
		f.AppName, f.AppName, f.WindowName, f.WindowName,
		f.MinLength, f.MinLength, f.MaxLength, f.MaxLength, f.FrameName, f.FrameName)

	if f.Query != "" {
		args = append(args, f.Query)
	}
	args = append(args, f.StartTime, f.StartTime, f.EndTime, f.EndTime,
		f.MinLength, f.MinLength, f.MaxLength, f.MaxLength, speakerJSON, speakerJSON)

	if f.Query != "" {
		args = append(args, f.Query)
	}
	args = append(args, f.StartTime, f.StartTime, f.EndTime, f.EndTime,
		f.AppName, f.AppName, f.WindowName, f.WindowName, f.MinLength, f.MinLength, f.MaxLength, f.MaxLength)

	var count int64
	if err := e.db.QueryRowContext(ctx, sqlText, args...).Scan(&count); err != nil {
		return 0, storeerr.Wrap(storeerr.ErrStoreUnavailable, fmt.Errorf("count_search_results(all): %w", err))
	}
	return count, nil
}
