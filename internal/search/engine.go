// Package search implements the multi-modality federated search engine:
// dispatch across OCR/Audio/UI content types, count, and bounding-box-level
// position extraction — ported from screenpipe-server's db.rs
// search/search_ocr/search_audio/search_ui_monitoring/count_search_results/
// search_with_text_positions, with Rust's tokio::try_join! replaced by
// golang.org/x/sync/errgroup, the idiomatic Go analogue for "run
// independent sub-queries concurrently, cancel the rest on first error."
package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"capturestore/internal/model"
	"capturestore/internal/speaker"
	"capturestore/internal/storeerr"
	"capturestore/internal/vectorindex"
)

// Filters carries every optional predicate search accepts. Zero values (nil
// pointers, empty slices) mean "unfiltered", matching the nullable
// bind-parameter convention of the query this is ported from.
type Filters struct {
	Query      string
	StartTime  *time.Time
	EndTime    *time.Time
	AppName    *string
	WindowName *string
	MinLength  *int64
	MaxLength  *int64
	SpeakerIDs []int64
	FrameName  *string
}

// Engine is the search subsystem's entry point.
type Engine struct {
	db       *sql.DB
	speakers *speaker.Registry
	ocrIndex *vectorindex.Index
}

// New returns an Engine backed by db, enriching audio results via speakers
// and serving vector search from ocrIndex.
func New(db *sql.DB, speakers *speaker.Registry, ocrIndex *vectorindex.Index) *Engine {
	return &Engine{db: db, speakers: speakers, ocrIndex: ocrIndex}
}

// Search dispatches across the requested content type, merges, sorts by
// timestamp descending, and paginates.
func (e *Engine) Search(ctx context.Context, f Filters, contentType model.ContentType, limit, offset int) ([]model.SearchResult, error) {
	var results []model.SearchResult

	// Sub-queries read from their first row, enough rows to cover
	// offset+limit, so offset and limit are applied once, after the sort.
	fetch := offset + limit
	if limit < 0 {
		fetch = -1
	}

	switch contentType {
	case model.ContentAll:
		narrowed := f.AppName != nil || f.WindowName != nil || f.FrameName != nil
		g, gctx := errgroup.WithContext(ctx)
		var ocr []model.OCRResult
		var audio []model.AudioResult
		var ui []model.UiContent

		g.Go(func() error {
			var err error
			ocr, err = e.searchOCR(gctx, f, fetch, 0)
			return err
		})
		g.Go(func() error {
			var err error
			ui, err = e.searchUI(gctx, f, fetch, 0)
			return err
		})
		if !narrowed {
			g.Go(func() error {
				var err error
				audio, err = e.searchAudio(gctx, f, fetch, 0)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		for _, r := range ocr {
			r := r
			results = append(results, model.SearchResult{Kind: model.ContentOCR, OCR: &r})
		}
		for _, r := range audio {
			r := r
			results = append(results, model.SearchResult{Kind: model.ContentAudio, Audio: &r})
		}
		for _, r := range ui {
			r := r
			results = append(results, model.SearchResult{Kind: model.ContentUI, UI: &r})
		}

	case model.ContentOCR:
		ocr, err := e.searchOCR(ctx, f, fetch, 0)
		if err != nil {
			return nil, err
		}
		for _, r := range ocr {
			r := r
			results = append(results, model.SearchResult{Kind: model.ContentOCR, OCR: &r})
		}

	case model.ContentAudio:
		if f.AppName != nil || f.WindowName != nil {
			break
		}
		audio, err := e.searchAudio(ctx, f, fetch, 0)
		if err != nil {
			return nil, err
		}
		for _, r := range audio {
			r := r
			results = append(results, model.SearchResult{Kind: model.ContentAudio, Audio: &r})
		}

	case model.ContentUI:
		ui, err := e.searchUI(ctx, f, fetch, 0)
		if err != nil {
			return nil, err
		}
		for _, r := range ui {
			r := r
			results = append(results, model.SearchResult{Kind: model.ContentUI, UI: &r})
		}

	case model.ContentAudioAndUI, model.ContentOcrAndUI, model.ContentAudioAndOcr:
		half := limit / 2
		var firstKind, secondKind model.ContentType
		var firstFn, secondFn func() ([]model.SearchResult, error)
		switch contentType {
		case model.ContentAudioAndUI:
			firstKind, secondKind = model.ContentAudio, model.ContentUI
		case model.ContentOcrAndUI:
			firstKind, secondKind = model.ContentOCR, model.ContentUI
		case model.ContentAudioAndOcr:
			firstKind, secondKind = model.ContentAudio, model.ContentOCR
		}
		firstFn = func() ([]model.SearchResult, error) { return e.searchAs(ctx, f, firstKind, half+offset, 0) }
		secondFn = func() ([]model.SearchResult, error) { return e.searchAs(ctx, f, secondKind, half+offset, 0) }

		first, err := firstFn()
		if err != nil {
			return nil, err
		}
		second, err := secondFn()
		if err != nil {
			return nil, err
		}
		results = append(results, first...)
		results = append(results, second...)

	default:
		return nil, fmt.Errorf("unsupported content type %v", contentType)
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Timestamp().After(results[j].Timestamp()) })

	if offset >= len(results) {
		return nil, nil
	}
	end := offset + limit
	if end > len(results) || limit < 0 {
		end = len(results)
	}
	return results[offset:end], nil
}

// searchAs runs the sub-query for one modality and tags each row into a
// SearchResult, used by the two-modality combinations.
func (e *Engine) searchAs(ctx context.Context, f Filters, kind model.ContentType, limit, offset int) ([]model.SearchResult, error) {
	switch kind {
	case model.ContentOCR:
		rows, err := e.searchOCR(ctx, f, limit, offset)
		if err != nil {
			return nil, err
		}
		out := make([]model.SearchResult, len(rows))
		for i := range rows {
			out[i] = model.SearchResult{Kind: model.ContentOCR, OCR: &rows[i]}
		}
		return out, nil
	case model.ContentAudio:
		rows, err := e.searchAudio(ctx, f, limit, offset)
		if err != nil {
			return nil, err
		}
		out := make([]model.SearchResult, len(rows))
		for i := range rows {
			out[i] = model.SearchResult{Kind: model.ContentAudio, Audio: &rows[i]}
		}
		return out, nil
	case model.ContentUI:
		rows, err := e.searchUI(ctx, f, limit, offset)
		if err != nil {
			return nil, err
		}
		out := make([]model.SearchResult, len(rows))
		for i := range rows {
			out[i] = model.SearchResult{Kind: model.ContentUI, UI: &rows[i]}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("searchAs: unsupported modality %v", kind)
	}
}

func (e *Engine) searchOCR(ctx context.Context, f Filters, limit, offset int) ([]model.OCRResult, error) {
	base := "ocr_text"
	where := "1=1"
	if f.Query != "" {
		base = "ocr_text_fts JOIN ocr_text ON ocr_text_fts.frame_id = ocr_text.frame_id"
		where = "ocr_text_fts MATCH ?"
	}

	sqlText := fmt.Sprintf(`
		SELECT
			ocr_text.frame_id, ocr_text.text, ocr_text.text_json, frames.timestamp,
			frames.name, video_chunks.file_path, frames.offset_index,
			ocr_text.app_name, ocr_text.ocr_engine, ocr_text.window_name,
			GROUP_CONCAT(tags.name, ','), frames.browser_url
		FROM %s
		JOIN frames ON ocr_text.frame_id = frames.id
		JOIN video_chunks ON frames.video_chunk_id = video_chunks.id
		LEFT JOIN vision_tags ON frames.id = vision_tags.frame_id
		LEFT JOIN tags ON vision_tags.tag_id = tags.id
		WHERE %s
			AND (? IS NULL OR frames.timestamp >= ?)
			AND (? IS NULL OR frames.timestamp <= ?)
			AND (? IS NULL OR ocr_text.app_name LIKE '%%' || ? || '%%')
			AND (? IS NULL OR ocr_text.window_name LIKE '%%' || ? || '%%')
			AND (? IS NULL OR COALESCE(ocr_text.text_length, LENGTH(ocr_text.text)) >= ?)
			AND (? IS NULL OR COALESCE(ocr_text.text_length, LENGTH(ocr_text.text)) <= ?)
			AND (? IS NULL OR frames.name LIKE '%%' || ? || '%%' COLLATE NOCASE)
		GROUP BY ocr_text.frame_id
		ORDER BY frames.timestamp DESC
		LIMIT ? OFFSET ?`, base, where)

	args := []any{}
	if f.Query != "" {
		args = append(args, f.Query)
	}
	args = append(args,
		f.StartTime, f.StartTime, f.EndTime, f.EndTime,
		f.AppName, f.AppName, f.WindowName, f.WindowName,
		f.MinLength, f.MinLength, f.MaxLength, f.MaxLength,
		f.FrameName, f.FrameName, limit, offset)

	rows, err := e.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.ErrStoreUnavailable, fmt.Errorf("search_ocr: %w", err))
	}
	defer rows.Close()

	var out []model.OCRResult
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
		out = append(out, r)
	}
	return out, rows.Err()
}

func (e *Engine) searchAudio(ctx context.Context, f Filters, limit, offset int) ([]model.AudioResult, error) {
	base := "audio_transcriptions"
	where := "1=1"
	if f.Query != "" {
		base = "audio_transcriptions_fts JOIN audio_transcriptions ON audio_transcriptions_fts.rowid = audio_transcriptions.id"
		where = "audio_transcriptions_fts MATCH ?"
	}

	speakerJSON := "[]"
	if len(f.SpeakerIDs) > 0 {
		b, err := json.Marshal(f.SpeakerIDs)
		if err != nil {
			return nil, err
		}
		speakerJSON = string(b)
	}

	sqlText := fmt.Sprintf(`
		SELECT
			audio_transcriptions.audio_chunk_id, audio_transcriptions.transcription, audio_transcriptions.timestamp,
			audio_chunks.file_path, audio_transcriptions.offset_index, audio_transcriptions.transcription_engine,
			GROUP_CONCAT(tags.name, ','), audio_transcriptions.device, audio_transcriptions.is_input_device,
			audio_transcriptions.speaker_id, audio_transcriptions.start_time, audio_transcriptions.end_time
		FROM %s
		JOIN audio_chunks ON audio_transcriptions.audio_chunk_id = audio_chunks.id
		LEFT JOIN speakers ON audio_transcriptions.speaker_id = speakers.id
		LEFT JOIN audio_tags ON audio_chunks.id = audio_tags.audio_chunk_id
		LEFT JOIN tags ON audio_tags.tag_id = tags.id
		WHERE %s
			AND (? IS NULL OR audio_transcriptions.timestamp >= ?)
			AND (? IS NULL OR audio_transcriptions.timestamp <= ?)
			AND (? IS NULL OR COALESCE(audio_transcriptions.text_length, LENGTH(audio_transcriptions.transcription)) >= ?)
			AND (? IS NULL OR COALESCE(audio_transcriptions.text_length, LENGTH(audio_transcriptions.transcription)) <= ?)
			AND (speakers.id IS NULL OR speakers.hallucination = 0)
			AND (json_array_length(?) = 0 OR audio_transcriptions.speaker_id IN (SELECT value FROM json_each(?)))
		GROUP BY audio_transcriptions.audio_chunk_id, audio_transcriptions.offset_index
		ORDER BY audio_transcriptions.timestamp DESC
		LIMIT ? OFFSET ?`, base, where)

	args := []any{}
	if f.Query != "" {
		args = append(args, f.Query)
	}
	args = append(args,
		f.StartTime, f.StartTime, f.EndTime, f.EndTime,
		f.MinLength, f.MinLength, f.MaxLength, f.MaxLength,
		speakerJSON, speakerJSON, limit, offset)

	rows, err := e.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.ErrStoreUnavailable, fmt.Errorf("search_audio: %w", err))
	}
	defer rows.Close()

	type raw struct {
		r         model.AudioResult
		tagStr    sql.NullString
		speakerID sql.NullInt64
	}
	var rawRows []raw
	for rows.Next() {
		var row raw
		if err := rows.Scan(&row.r.AudioChunkID, &row.r.Transcription, &row.r.Timestamp, &row.r.FilePath,
			&row.r.OffsetIndex, &row.r.TranscriptionEngine, &row.tagStr, &row.r.DeviceName,
			&row.r.IsInputDevice, &row.speakerID, &row.r.StartTime, &row.r.EndTime); err != nil {
			return nil, err
		}
		rawRows = append(rawRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]model.AudioResult, 0, len(rawRows))
	for _, row := range rawRows {
		r := row.r
		if row.tagStr.Valid && row.tagStr.String != "" {
			r.Tags = strings.Split(row.tagStr.String, ",")
		}
		if row.speakerID.Valid && e.speakers != nil {
			if s, err := e.speakers.GetSpeakerByID(ctx, row.speakerID.Int64); err == nil {
				r.Speaker = &s
			}
			// Resolution failures are swallowed to "no speaker" per the
			// enrichment contract; the search itself never fails on this.
		}
		out = append(out, r)
	}
	return out, nil
}

func (e *Engine) searchUI(ctx context.Context, f Filters, limit, offset int) ([]model.UiContent, error) {
	base := "ui_monitoring"
	where := "1=1"
	if f.Query != "" {
		base = "ui_monitoring_fts JOIN ui_monitoring ON ui_monitoring_fts.rowid = ui_monitoring.id"
		where = "ui_monitoring_fts MATCH ?"
	}

	sqlText := fmt.Sprintf(`
		SELECT
			ui_monitoring.id, ui_monitoring.text_output, ui_monitoring.timestamp,
			ui_monitoring.app, ui_monitoring.window, ui_monitoring.initial_traversal_at,
			video_chunks.file_path, frames.offset_index, frames.browser_url, frames.name
		FROM %s
		LEFT JOIN frames ON frames.timestamp BETWEEN
			datetime(ui_monitoring.timestamp, '-1 seconds') AND datetime(ui_monitoring.timestamp, '+1 seconds')
		LEFT JOIN video_chunks ON frames.video_chunk_id = video_chunks.id
		WHERE %s
			AND (? IS NULL OR ui_monitoring.timestamp >= ?)
			AND (? IS NULL OR ui_monitoring.timestamp <= ?)
			AND (? IS NULL OR ui_monitoring.app LIKE '%%' || ? || '%%')
			AND (? IS NULL OR ui_monitoring.window LIKE '%%' || ? || '%%')
			AND (? IS NULL OR COALESCE(ui_monitoring.text_length, LENGTH(ui_monitoring.text_output)) >= ?)
			AND (? IS NULL OR COALESCE(ui_monitoring.text_length, LENGTH(ui_monitoring.text_output)) <= ?)
		ORDER BY ui_monitoring.timestamp DESC
		LIMIT ? OFFSET ?`, base, where)

	args := []any{}
	if f.Query != "" {
		args = append(args, f.Query)
	}
	args = append(args,
		f.StartTime, f.StartTime, f.EndTime, f.EndTime,
		f.AppName, f.AppName, f.WindowName, f.WindowName,
		f.MinLength, f.MinLength, f.MaxLength, f.MaxLength, limit, offset)

	rows, err := e.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.ErrStoreUnavailable, fmt.Errorf("search_ui_monitoring: %w", err))
	}
	defer rows.Close()

	var out []model.UiContent
	for rows.Next() {
		var r model.UiContent
		if err := rows.Scan(&r.ID, &r.TextOutput, &r.Timestamp, &r.App, &r.Window, &r.InitialTraversalAt,
			&r.FilePath, &r.OffsetIndex, &r.BrowserURL, &r.FrameName); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
