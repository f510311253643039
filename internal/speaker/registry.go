// Package speaker implements the speaker identity subsystem: embedding
// lookup, naming, merging, and hallucination flagging, ported from
// screenpipe-server's db.rs get_speaker_from_embedding/merge_speakers/
// delete_speaker family onto the in-process vectorindex.Index, written in
// askflow's manager-method style.
package speaker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"capturestore/internal/model"
	"capturestore/internal/storeerr"
	"capturestore/internal/vectorindex"
)

// Distance thresholds, carried over from the distilled system unchanged.
const (
	matchThreshold   = 0.5
	similarThreshold = 0.8
)

// Registry is the speaker subsystem's entry point.
type Registry struct {
	db    *sql.DB
	index *vectorindex.Index
}

// New returns a Registry backed by db and the shared speaker vector index.
func New(db *sql.DB, index *vectorindex.Index) *Registry {
	return &Registry{db: db, index: index}
}

func scanSpeaker(row interface{ Scan(...any) error }) (model.Speaker, error) {
	var s model.Speaker
	if err := row.Scan(&s.ID, &s.Name, &s.Metadata, &s.Hallucination); err != nil {
		return model.Speaker{}, err
	}
	return s, nil
}

// GetSpeakerFromEmbedding returns the nearest speaker whose cosine
// distance to embedding is strictly less than 0.5, or ok=false if none
// qualifies.
func (r *Registry) GetSpeakerFromEmbedding(ctx context.Context, embedding []float32) (model.Speaker, bool, error) {
	match, ok := r.index.Nearest(embedding, matchThreshold)
	if !ok {
		return model.Speaker{}, false, nil
	}
	s, err := r.GetSpeakerByID(ctx, match.ID)
	if err != nil {
		if errors.Is(err, storeerr.ErrNotFound) {
			return model.Speaker{}, false, nil
		}
		return model.Speaker{}, false, err
	}
	return s, true, nil
}

// GetSimilarSpeakers returns up to limit distinct speakers whose embedding
// distance to speakerID's embedding is strictly less than 0.8, excluding
// the speaker itself, sorted ascending by distance, filtering out
// hallucinated speakers and anonymous speakers without recent
// transcriptions.
func (r *Registry) GetSimilarSpeakers(ctx context.Context, speakerID int64, limit int) ([]model.Speaker, error) {
	vec, ok := r.index.Get(speakerID)
	if !ok {
		return nil, storeerr.Wrap(storeerr.ErrNotFound, fmt.Errorf("no embedding for speaker %d", speakerID))
	}

	matches := r.index.Search(vec, -1, similarThreshold, map[int64]bool{speakerID: true})

	out := make([]model.Speaker, 0, limit)
	for _, m := range matches {
		if len(out) >= limit {
			break
		}
		var hallucination bool
		var name string
		err := r.db.QueryRowContext(ctx,
			`SELECT hallucination, name FROM speakers WHERE id = ?`, m.ID).Scan(&hallucination, &name)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, storeerr.Wrap(storeerr.ErrStoreUnavailable, err)
		}
		if hallucination {
			continue
		}
		if name == "" {
			var recent int
			if err := r.db.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM audio_transcriptions WHERE speaker_id = ?`, m.ID).Scan(&recent); err != nil {
				return nil, storeerr.Wrap(storeerr.ErrStoreUnavailable, err)
			}
			if recent == 0 {
				continue
			}
		}
		s, err := r.GetSpeakerByID(ctx, m.ID)
		if err != nil {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// audioSample is one entry of the audio_samples array merged into an
// unnamed speaker's metadata.
type audioSample struct {
	FilePath      string   `json:"file_path"`
	Transcription string   `json:"transcription"`
	StartTime     *float64 `json:"start_time"`
	EndTime       *float64 `json:"end_time"`
}

// GetUnnamedSpeakers returns speakers with an empty name and
// hallucination=false, optionally restricted to speakerIDs, each enriched
// with up to 3 recent audio samples merged into its metadata.
func (r *Registry) GetUnnamedSpeakers(ctx context.Context, limit, offset int, speakerIDs []int64) ([]model.Speaker, error) {
	query := `
		SELECT s.id, s.name, s.metadata, s.hallucination
		FROM speakers s
		WHERE (s.name = '' OR s.name IS NULL) AND s.hallucination = 0
		  AND (? = 0 OR s.id IN (SELECT value FROM json_each(?)))
		GROUP BY s.id
		ORDER BY (SELECT COUNT(*) FROM audio_transcriptions a WHERE a.speaker_id = s.id) DESC
		LIMIT ? OFFSET ?`

	var idsJSON string
	hasFilter := 0
	if len(speakerIDs) > 0 {
		hasFilter = 1
		b, err := json.Marshal(speakerIDs)
		if err != nil {
			return nil, err
		}
		idsJSON = string(b)
	} else {
		idsJSON = "[]"
	}

	rows, err := r.db.QueryContext(ctx, query, hasFilter, idsJSON, limit, offset)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.ErrStoreUnavailable, fmt.Errorf("query unnamed speakers: %w", err))
	}
	defer rows.Close()

	var speakers []model.Speaker
	for rows.Next() {
		s, err := scanSpeaker(rows)
		if err != nil {
			return nil, err
		}
		speakers = append(speakers, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range speakers {
		merged, err := r.withRecentAudioSamples(ctx, speakers[i])
		if err != nil {
			return nil, err
		}
		speakers[i] = merged
	}
	return speakers, nil
}

func (r *Registry) withRecentAudioSamples(ctx context.Context, s model.Speaker) (model.Speaker, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ac.file_path, at.transcription, at.start_time, at.end_time
		FROM audio_transcriptions at
		JOIN audio_chunks ac ON ac.id = at.audio_chunk_id
		WHERE at.speaker_id = ?
		ORDER BY at.timestamp DESC
		LIMIT 3`, s.ID)
	if err != nil {
		return s, storeerr.Wrap(storeerr.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var samples []audioSample
	for rows.Next() {
		var sample audioSample
		if err := rows.Scan(&sample.FilePath, &sample.Transcription, &sample.StartTime, &sample.EndTime); err != nil {
			return s, err
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return s, err
	}

	samplesJSON, err := json.Marshal(samples)
	if err != nil {
		return s, err
	}

	var base map[string]any
	if s.Metadata != "" && json.Valid([]byte(s.Metadata)) {
		if err := json.Unmarshal([]byte(s.Metadata), &base); err != nil {
			base = nil
		}
	}
	if base == nil {
		base = make(map[string]any)
	}
	var rawSamples []audioSample
	_ = json.Unmarshal(samplesJSON, &rawSamples)
	base["audio_samples"] = rawSamples

	out, err := json.Marshal(base)
	if err != nil {
		return s, err
	}
	s.Metadata = string(out)
	return s, nil
}

// MergeSpeakers re-points every audio_transcriptions and speaker_embeddings
// row from merge to keep, deletes merge, and returns the kept speaker.
func (r *Registry) MergeSpeakers(ctx context.Context, keep, merge int64) (model.Speaker, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Speaker{}, storeerr.Wrap(storeerr.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE audio_transcriptions SET speaker_id = ? WHERE speaker_id = ?`, keep, merge); err != nil {
		return model.Speaker{}, storeerr.Wrap(storeerr.ErrStoreUnavailable, fmt.Errorf("reassign transcriptions: %w", err))
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE speaker_embeddings SET speaker_id = ? WHERE speaker_id = ?`, keep, merge); err != nil {
		return model.Speaker{}, storeerr.Wrap(storeerr.ErrStoreUnavailable, fmt.Errorf("reassign embeddings: %w", err))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM speakers WHERE id = ?`, merge); err != nil {
		return model.Speaker{}, storeerr.Wrap(storeerr.ErrStoreUnavailable, fmt.Errorf("delete merged speaker: %w", err))
	}

	kept, err := scanSpeaker(tx.QueryRowContext(ctx, `SELECT id, name, metadata, hallucination FROM speakers WHERE id = ?`, keep))
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Speaker{}, storeerr.Wrap(storeerr.ErrNotFound, fmt.Errorf("speaker %d not found", keep))
		}
		return model.Speaker{}, storeerr.Wrap(storeerr.ErrStoreUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return model.Speaker{}, storeerr.Wrap(storeerr.ErrStoreUnavailable, err)
	}

	r.index.Remove(merge)
	return kept, nil
}

// DeleteSpeaker runs the four ordered deletions specified for speaker
// removal inside one transaction: transcriptions, then audio chunks
// dedicated to this speaker (remaining transcriptions with a null
// start_time), then embeddings, then the speaker row.
func (r *Registry) DeleteSpeaker(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storeerr.Wrap(storeerr.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	// The chunks for step 2 are identified before step 1 removes the
	// transcriptions that point at them.
	var orphanChunks string
	if err := tx.QueryRowContext(ctx, `
		SELECT json_group_array(DISTINCT audio_chunk_id) FROM audio_transcriptions
		WHERE speaker_id = ? AND start_time IS NULL`, id).Scan(&orphanChunks); err != nil {
		return storeerr.Wrap(storeerr.ErrStoreUnavailable, fmt.Errorf("find orphan audio chunks: %w", err))
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM audio_transcriptions WHERE speaker_id = ?`, id); err != nil {
		return storeerr.Wrap(storeerr.ErrStoreUnavailable, fmt.Errorf("delete transcriptions: %w", err))
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM audio_chunks WHERE id IN (SELECT value FROM json_each(?))`, orphanChunks); err != nil {
		return storeerr.Wrap(storeerr.ErrStoreUnavailable, fmt.Errorf("delete orphan audio chunks: %w", err))
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM speaker_embeddings WHERE speaker_id = ?`, id); err != nil {
		return storeerr.Wrap(storeerr.ErrStoreUnavailable, fmt.Errorf("delete embeddings: %w", err))
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM speakers WHERE id = ?`, id); err != nil {
		return storeerr.Wrap(storeerr.ErrStoreUnavailable, fmt.Errorf("delete speaker: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return storeerr.Wrap(storeerr.ErrStoreUnavailable, err)
	}
	r.index.Remove(id)
	return nil
}

// MarkSpeakerAsHallucination sets the flag without cascading.
func (r *Registry) MarkSpeakerAsHallucination(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE speakers SET hallucination = 1 WHERE id = ?`, id)
	if err != nil {
		return storeerr.Wrap(storeerr.ErrStoreUnavailable, fmt.Errorf("mark hallucination: %w", err))
	}
	return nil
}

// SearchSpeakers returns distinct non-hallucinated speakers whose name
// starts with namePrefix.
func (r *Registry) SearchSpeakers(ctx context.Context, namePrefix string) ([]model.Speaker, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT id, name, metadata, hallucination FROM speakers
		 WHERE hallucination = 0 AND name LIKE ? || '%' ORDER BY name`, namePrefix)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []model.Speaker
	for rows.Next() {
		s, err := scanSpeaker(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetSpeakerByID fetches a speaker by id.
func (r *Registry) GetSpeakerByID(ctx context.Context, id int64) (model.Speaker, error) {
	s, err := scanSpeaker(r.db.QueryRowContext(ctx, `SELECT id, name, metadata, hallucination FROM speakers WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return model.Speaker{}, storeerr.Wrap(storeerr.ErrNotFound, fmt.Errorf("speaker %d not found", id))
	}
	if err != nil {
		return model.Speaker{}, storeerr.Wrap(storeerr.ErrStoreUnavailable, err)
	}
	return s, nil
}

// UpdateSpeakerName renames a speaker.
func (r *Registry) UpdateSpeakerName(ctx context.Context, id int64, name string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE speakers SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return storeerr.Wrap(storeerr.ErrStoreUnavailable, fmt.Errorf("update speaker name: %w", err))
	}
	return nil
}

// UpdateSpeakerMetadata replaces a speaker's metadata JSON wholesale.
func (r *Registry) UpdateSpeakerMetadata(ctx context.Context, id int64, metadata string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE speakers SET metadata = ? WHERE id = ?`, metadata, id)
	if err != nil {
		return storeerr.Wrap(storeerr.ErrStoreUnavailable, fmt.Errorf("update speaker metadata: %w", err))
	}
	return nil
}
