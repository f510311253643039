// Package ingest implements the transactional writers that create video
// chunks, frames, OCR text, audio chunks, transcriptions, speakers, and
// embeddings — the capture-store equivalent of screenpipe-server's db.rs
// insert_* methods, written in askflow's manager-method style
// ((*T) methods wrapping *sql.DB, fmt.Errorf("...: %w", err) throughout).
package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"capturestore/internal/logging"
	"capturestore/internal/model"
	"capturestore/internal/storeerr"
	"capturestore/internal/vectorindex"
)

// Writer performs every ingest operation inside its own transaction.
type Writer struct {
	db           *sql.DB
	speakerIndex *vectorindex.Index
	ocrIndex     *vectorindex.Index
}

// New returns a Writer. speakerIndex and ocrIndex are kept in sync with
// every embedding insert so Speaker Registry and Vector Search lookups
// never need to re-scan the database.
func New(db *sql.DB, speakerIndex, ocrIndex *vectorindex.Index) *Writer {
	return &Writer{db: db, speakerIndex: speakerIndex, ocrIndex: ocrIndex}
}

// InsertVideoChunk always inserts a new row.
func (w *Writer) InsertVideoChunk(ctx context.Context, filePath, deviceName string) (int64, error) {
	res, err := w.db.ExecContext(ctx,
		`INSERT INTO video_chunks (file_path, device_name, timestamp) VALUES (?, ?, ?)`,
		filePath, deviceName, time.Now().UTC())
	if err != nil {
		return 0, storeerr.Wrap(storeerr.ErrIntegrityViolation, fmt.Errorf("insert video chunk: %w", err))
	}
	return res.LastInsertId()
}

// InsertFrame finds the most recent video chunk for deviceName and
// allocates the next offset_index within it. Returns 0 with no row
// inserted if no chunk exists for the device.
func (w *Writer) InsertFrame(ctx context.Context, deviceName string, timestamp *time.Time, browserURL *string) (int64, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeerr.Wrap(storeerr.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	var chunkID int64
	var filePath string
	err = tx.QueryRowContext(ctx,
		`SELECT id, file_path FROM video_chunks WHERE device_name = ? ORDER BY timestamp DESC LIMIT 1`,
		deviceName).Scan(&chunkID, &filePath)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, storeerr.Wrap(storeerr.ErrStoreUnavailable, fmt.Errorf("find video chunk for %s: %w", deviceName, err))
	}

	var offsetIndex int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(offset_index), -1) + 1 FROM frames WHERE video_chunk_id = ?`, chunkID).
		Scan(&offsetIndex); err != nil {
		return 0, storeerr.Wrap(storeerr.ErrStoreUnavailable, fmt.Errorf("allocate offset_index: %w", err))
	}

	ts := time.Now().UTC()
	if timestamp != nil {
		ts = *timestamp
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO frames (video_chunk_id, offset_index, timestamp, name, browser_url) VALUES (?, ?, ?, ?, ?)`,
		chunkID, offsetIndex, ts, filePath, browserURL)
	if err != nil {
		return 0, storeerr.Wrap(storeerr.ErrIntegrityViolation, fmt.Errorf("insert frame: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storeerr.Wrap(storeerr.ErrStoreUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, storeerr.Wrap(storeerr.ErrStoreUnavailable, err)
	}
	return id, nil
}

// ocrInsertAttempts and ocrInsertTimeout bound InsertOcrText's retry loop.
const (
	ocrInsertAttempts = 3
	ocrInsertTimeout  = 10 * time.Second
)

// InsertOcrText writes the OCR record for a frame, retrying up to
// ocrInsertAttempts times, each bounded by ocrInsertTimeout, logging a
// warning between attempts. The final failure surfaces ErrTimeout.
func (w *Writer) InsertOcrText(ctx context.Context, block model.OcrText) error {
	log := logging.Get()
	var lastErr error
	for attempt := 1; attempt <= ocrInsertAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, ocrInsertTimeout)
		err := w.insertOcrTextOnce(attemptCtx, block)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < ocrInsertAttempts {
			log.Warn().Err(err).Int("attempt", attempt).Int64("frame_id", block.FrameID).
				Msg("insert_ocr_text attempt failed, retrying")
		}
	}
	return storeerr.Wrap(storeerr.ErrTimeout, fmt.Errorf("insert_ocr_text failed after %d attempts: %w", ocrInsertAttempts, lastErr))
}

func (w *Writer) insertOcrTextOnce(ctx context.Context, block model.OcrText) error {
	_, err := w.db.ExecContext(ctx,
		`INSERT INTO ocr_text (frame_id, text, text_json, app_name, window_name, ocr_engine, focused, text_length)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		block.FrameID, block.Text, block.TextJSON, block.AppName, block.WindowName,
		block.OcrEngine, block.Focused, len([]rune(block.Text)))
	return err
}

// GetOrInsertAudioChunk is idempotent by filePath: reads first, inserts
// only if absent.
func (w *Writer) GetOrInsertAudioChunk(ctx context.Context, filePath string) (int64, error) {
	var id int64
	err := w.db.QueryRowContext(ctx, `SELECT id FROM audio_chunks WHERE file_path = ?`, filePath).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, storeerr.Wrap(storeerr.ErrStoreUnavailable, err)
	}

	res, err := w.db.ExecContext(ctx,
		`INSERT INTO audio_chunks (file_path, timestamp) VALUES (?, ?)`, filePath, time.Now().UTC())
	if err != nil {
		// Lost the race against a concurrent insert; read back the winner.
		var existing int64
		if readErr := w.db.QueryRowContext(ctx, `SELECT id FROM audio_chunks WHERE file_path = ?`, filePath).Scan(&existing); readErr == nil {
			return existing, nil
		}
		return 0, storeerr.Wrap(storeerr.ErrIntegrityViolation, fmt.Errorf("insert audio chunk: %w", err))
	}
	return res.LastInsertId()
}

// InsertAudioTranscription stores text_length alongside the row.
func (w *Writer) InsertAudioTranscription(ctx context.Context, t model.AudioTranscription) (int64, error) {
	res, err := w.db.ExecContext(ctx,
		`INSERT INTO audio_transcriptions
			(audio_chunk_id, transcription, offset_index, timestamp, transcription_engine, device, is_input_device, speaker_id, start_time, end_time, text_length)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.AudioChunkID, t.Transcription, t.OffsetIndex, t.Timestamp, t.TranscriptionEngine,
		t.Device, t.IsInputDevice, t.SpeakerID, t.StartTime, t.EndTime, len([]rune(t.Transcription)))
	if err != nil {
		return 0, storeerr.Wrap(storeerr.ErrIntegrityViolation, fmt.Errorf("insert audio transcription: %w", err))
	}
	return res.LastInsertId()
}

// UpdateAudioTranscription replaces the transcription text (and derived
// length) for every transcription of audioChunkID.
func (w *Writer) UpdateAudioTranscription(ctx context.Context, audioChunkID int64, text string) (int64, error) {
	res, err := w.db.ExecContext(ctx,
		`UPDATE audio_transcriptions SET transcription = ?, text_length = ? WHERE audio_chunk_id = ?`,
		text, len([]rune(text)), audioChunkID)
	if err != nil {
		return 0, storeerr.Wrap(storeerr.ErrStoreUnavailable, fmt.Errorf("update audio transcription: %w", err))
	}
	return res.RowsAffected()
}

// InsertSpeaker creates a speaker row with an empty name and inserts its
// embedding in one transaction, then updates the in-process speaker index
// once that transaction has committed.
func (w *Writer) InsertSpeaker(ctx context.Context, embedding []float32) (model.Speaker, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Speaker{}, storeerr.Wrap(storeerr.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO speakers (name, metadata, hallucination) VALUES ('', '', 0)`)
	if err != nil {
		return model.Speaker{}, storeerr.Wrap(storeerr.ErrIntegrityViolation, fmt.Errorf("insert speaker: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Speaker{}, storeerr.Wrap(storeerr.ErrStoreUnavailable, err)
	}

	blob := vectorindex.Encode(embedding)
	if _, err := tx.ExecContext(ctx, `INSERT INTO speaker_embeddings (speaker_id, embedding) VALUES (?, ?)`, id, blob); err != nil {
		return model.Speaker{}, storeerr.Wrap(storeerr.ErrIntegrityViolation, fmt.Errorf("insert speaker embedding: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return model.Speaker{}, storeerr.Wrap(storeerr.ErrStoreUnavailable, err)
	}

	if w.speakerIndex != nil {
		w.speakerIndex.Add(id, embedding)
	}
	return model.Speaker{ID: id}, nil
}

// InsertEmbeddings attaches an OCR-text embedding to a frame and updates
// the in-process OCR vector index.
func (w *Writer) InsertEmbeddings(ctx context.Context, frameID int64, embedding []float32) error {
	blob := vectorindex.Encode(embedding)
	_, err := w.db.ExecContext(ctx,
		`INSERT INTO ocr_text_embeddings (frame_id, embedding) VALUES (?, ?)
		 ON CONFLICT(frame_id) DO UPDATE SET embedding = excluded.embedding`, frameID, blob)
	if err != nil {
		return storeerr.Wrap(storeerr.ErrIntegrityViolation, fmt.Errorf("insert ocr embedding: %w", err))
	}
	if w.ocrIndex != nil {
		w.ocrIndex.Add(frameID, embedding)
	}
	return nil
}

// UpdateFrameName renames a single frame.
func (w *Writer) UpdateFrameName(ctx context.Context, frameID int64, name string) error {
	_, err := w.db.ExecContext(ctx, `UPDATE frames SET name = ? WHERE id = ?`, name, frameID)
	if err != nil {
		return storeerr.Wrap(storeerr.ErrStoreUnavailable, fmt.Errorf("update frame name: %w", err))
	}
	return nil
}

// UpdateVideoChunkFramesNames renames every frame belonging to a chunk.
func (w *Writer) UpdateVideoChunkFramesNames(ctx context.Context, videoChunkID int64, name string) (int64, error) {
	res, err := w.db.ExecContext(ctx, `UPDATE frames SET name = ? WHERE video_chunk_id = ?`, name, videoChunkID)
	if err != nil {
		return 0, storeerr.Wrap(storeerr.ErrStoreUnavailable, fmt.Errorf("rename chunk frames: %w", err))
	}
	return res.RowsAffected()
}

// VideoMetadata describes an imported file's frame cadence, mirroring the
// metadata accompanying a bulk video import.
type VideoMetadata struct {
	CreationTime time.Time
	FPS          float64
	DeviceName   string
	Name         string
}

// CreateVideoWithFrames inserts one chunk and frameCount frames
// spaced by 1000/fps ms starting at metadata.CreationTime.
func (w *Writer) CreateVideoWithFrames(ctx context.Context, filePath string, frameCount int, metadata VideoMetadata) ([]int64, error) {
	deviceName := metadata.DeviceName
	if deviceName == "" {
		deviceName = "imported_files"
	}
	frameName := metadata.Name
	if frameName == "" {
		frameName = filePath
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO video_chunks (file_path, device_name, timestamp) VALUES (?, ?, ?)`,
		filePath, deviceName, metadata.CreationTime)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.ErrIntegrityViolation, fmt.Errorf("insert video chunk: %w", err))
	}
	chunkID, err := res.LastInsertId()
	if err != nil {
		return nil, storeerr.Wrap(storeerr.ErrStoreUnavailable, err)
	}

	fps := metadata.FPS
	if fps <= 0 {
		fps = 1
	}
	interval := time.Duration(1000/fps) * time.Millisecond

	ids := make([]int64, 0, frameCount)
	for i := 0; i < frameCount; i++ {
		ts := metadata.CreationTime.Add(time.Duration(i) * interval)
		r, err := tx.ExecContext(ctx,
			`INSERT INTO frames (video_chunk_id, offset_index, timestamp, name) VALUES (?, ?, ?, ?)`,
			chunkID, i, ts, frameName)
		if err != nil {
			return nil, storeerr.Wrap(storeerr.ErrIntegrityViolation, fmt.Errorf("insert frame %d: %w", i, err))
		}
		id, err := r.LastInsertId()
		if err != nil {
			return nil, storeerr.Wrap(storeerr.ErrStoreUnavailable, err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, storeerr.Wrap(storeerr.ErrStoreUnavailable, err)
	}
	return ids, nil
}
