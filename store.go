// Package capturestore is the persistence and retrieval core for a
// continuous screen/audio capture system: it owns the SQLite schema,
// ingest writers, speaker registry, federated search engine, temporal
// aligner, vector search, and repair protocol behind one Store facade —
// the capture-store analogue of askflow's DocumentManager composition,
// generalized from one document store to the capture domain's three
// interleaved modalities.
package capturestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"capturestore/internal/dbcore"
	"capturestore/internal/errlog"
	"capturestore/internal/ingest"
	"capturestore/internal/logging"
	"capturestore/internal/model"
	"capturestore/internal/repair"
	"capturestore/internal/search"
	"capturestore/internal/speaker"
	"capturestore/internal/storeerr"
	"capturestore/internal/temporal"
	"capturestore/internal/vectorindex"
)

// Config is the in-process configuration a caller passes to Open. Loading
// this from a file, environment, or flags is a collaborator's concern, not
// the core's.
type Config struct {
	// Path is the SQLite database file path.
	Path string
}

// Store composes every core component over one SQLite database.
type Store struct {
	db           *sql.DB
	speakerIndex *vectorindex.Index
	ocrIndex     *vectorindex.Index

	Ingest   *ingest.Writer
	Speakers *speaker.Registry
	Search   *search.Engine
	Temporal *temporal.Aligner
	Repair   *repair.Repairer
}

// Open brings up the connection pool, applies migrations, hydrates the
// in-process vector indexes, and wires every component.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := dbcore.Open(ctx, cfg.Path)
	if err != nil {
		return nil, err
	}

	if err := errlog.Init(); err != nil {
		logging.Get().Warn().Err(err).Msg("error log unavailable, corruption events will only reach the structured log")
	}

	speakerIndex := vectorindex.New()
	ocrIndex := vectorindex.New()
	if err := hydrateIndexes(ctx, db, speakerIndex, ocrIndex); err != nil {
		db.Close()
		return nil, err
	}

	speakers := speaker.New(db, speakerIndex)
	s := &Store{
		db:           db,
		speakerIndex: speakerIndex,
		ocrIndex:     ocrIndex,
		Ingest:       ingest.New(db, speakerIndex, ocrIndex),
		Speakers:     speakers,
		Search:       search.New(db, speakers, ocrIndex),
		Temporal:     temporal.New(db),
		Repair:       repair.New(db),
	}
	return s, nil
}

func hydrateIndexes(ctx context.Context, db *sql.DB, speakerIndex, ocrIndex *vectorindex.Index) error {
	speakerEntries, err := loadEmbeddings(ctx, db, `SELECT speaker_id, embedding FROM speaker_embeddings`)
	if err != nil {
		return fmt.Errorf("hydrate speaker embeddings: %w", err)
	}
	speakerIndex.Load(speakerEntries)

	ocrEntries, err := loadEmbeddings(ctx, db, `SELECT frame_id, embedding FROM ocr_text_embeddings`)
	if err != nil {
		return fmt.Errorf("hydrate ocr embeddings: %w", err)
	}
	ocrIndex.Load(ocrEntries)

	logging.Get().Info().
		Int("speaker_vectors", len(speakerEntries)).
		Int("ocr_vectors", len(ocrEntries)).
		Msg("vector indexes hydrated")
	return nil
}

func loadEmbeddings(ctx context.Context, db *sql.DB, query string) ([]vectorindex.Entry, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []vectorindex.Entry
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		out = append(out, vectorindex.Entry{ID: id, Vector: vectorindex.Decode(blob)})
	}
	return out, rows.Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	errlog.Close()
	return s.db.Close()
}

// RawQuery executes an arbitrary read-only SELECT and returns one JSON
// object per row, each column converted by its declared type family
// (TEXT -> string, INTEGER/REAL -> number, anything else -> null). No
// parameter binding, no authorization: restricting this to read-only
// contexts is a collaborator-layer concern.
func (s *Store) RawQuery(ctx context.Context, query string) ([]byte, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.ErrStoreUnavailable, fmt.Errorf("raw query: %w", err))
	}
	defer rows.Close()

	cols, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	results := make([]map[string]any, 0)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c.Name()] = convertByTypeFamily(c.DatabaseTypeName(), vals[i])
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return json.Marshal(results)
}

func convertByTypeFamily(typeName string, v any) any {
	if v == nil {
		return nil
	}
	switch typeName {
	case "TEXT":
		switch t := v.(type) {
		case []byte:
			return string(t)
		case string:
			return t
		default:
			return fmt.Sprint(t)
		}
	case "INTEGER", "REAL":
		switch t := v.(type) {
		case int64:
			return t
		case float64:
			return t
		default:
			return t
		}
	default:
		return nil
	}
}

// AddTags attaches tags to a frame, audio chunk, or UI row, delegating to
// Ingest; exposed on Store so callers don't need to reach into internal
// packages directly.
func (s *Store) AddTags(ctx context.Context, kind model.TagContentType, targetID int64, tags []string) error {
	return s.Ingest.AddTags(ctx, kind, targetID, tags)
}

// GetLatestTimestamps reports the most recent frame, audio chunk, and UI
// monitoring timestamps, or zero time for a modality with no rows.
func (s *Store) GetLatestTimestamps(ctx context.Context) (frame, audio, ui time.Time, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT timestamp FROM frames ORDER BY timestamp DESC LIMIT 1`).Scan(&frame); err != nil && err != sql.ErrNoRows {
		return
	}
	err = nil
	if err = s.db.QueryRowContext(ctx, `SELECT timestamp FROM audio_chunks ORDER BY timestamp DESC LIMIT 1`).Scan(&audio); err != nil && err != sql.ErrNoRows {
		return
	}
	err = nil
	if err = s.db.QueryRowContext(ctx, `SELECT timestamp FROM ui_monitoring ORDER BY timestamp DESC LIMIT 1`).Scan(&ui); err != nil && err != sql.ErrNoRows {
		return
	}
	err = nil
	return
}

// GetFrame resolves a frame id to the video file that contains it and its
// offset within that file, so a caller can seek directly to the frame.
func (s *Store) GetFrame(ctx context.Context, frameID int64) (filePath string, offsetIndex int64, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT vc.file_path, f.offset_index
		FROM frames f
		JOIN video_chunks vc ON f.video_chunk_id = vc.id
		WHERE f.id = ?`, frameID).Scan(&filePath, &offsetIndex)
	if err == sql.ErrNoRows {
		return "", 0, storeerr.Wrap(storeerr.ErrNotFound, fmt.Errorf("frame %d: %w", frameID, err))
	}
	if err != nil {
		return "", 0, storeerr.Wrap(storeerr.ErrStoreUnavailable, fmt.Errorf("get frame %d: %w", frameID, err))
	}
	return filePath, offsetIndex, nil
}

// GetAudioChunksForSpeaker returns every audio chunk file path a speaker
// was transcribed in, most recent first.
func (s *Store) GetAudioChunksForSpeaker(ctx context.Context, speakerID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ac.file_path
		FROM audio_chunks ac
		JOIN audio_transcriptions at ON at.audio_chunk_id = ac.id
		WHERE at.speaker_id = ?
		ORDER BY ac.timestamp DESC`, speakerID)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.ErrStoreUnavailable, fmt.Errorf("audio chunks for speaker %d: %w", speakerID, err))
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}
