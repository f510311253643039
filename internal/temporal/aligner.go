// Package temporal implements find_video_chunks: a time-windowed join of
// per-minute-deduplicated frames with the audio segments nearest to them,
// ported from screenpipe-server's db.rs find_video_chunks. The Rust
// BTreeMap<(timestamp, offset_index), FrameData> range-scan for "closest
// preceding key" becomes a sorted Go slice plus sort.Search, and the
// parallel tokio::try_join! becomes golang.org/x/sync/errgroup.
package temporal

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"capturestore/internal/model"
	"capturestore/internal/storeerr"
)

// Aligner is the temporal-alignment subsystem's entry point.
type Aligner struct {
	db *sql.DB
}

// New returns an Aligner backed by db.
func New(db *sql.DB) *Aligner {
	return &Aligner{db: db}
}

type frameKey struct {
	timestamp   time.Time
	offsetIndex int64
}

func (k frameKey) before(other frameKey) bool {
	if k.timestamp.Equal(other.timestamp) {
		return k.offsetIndex < other.offsetIndex
	}
	return k.timestamp.Before(other.timestamp)
}

// FindVideoChunks returns frames in [start, end] deduplicated per
// (minute, app, device), each carrying the nearest-preceding audio
// segments, most recent frame first.
func (a *Aligner) FindVideoChunks(ctx context.Context, start, end time.Time) (model.TimeSeriesChunk, error) {
	var frameRows []frameRow
	var audioRows []audioRow

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		frameRows, err = a.queryFrames(gctx, start, end)
		return err
	})
	g.Go(func() error {
		var err error
		audioRows, err = a.queryAudio(gctx, start, end)
		return err
	})
	if err := g.Wait(); err != nil {
		return model.TimeSeriesChunk{}, err
	}

	keys := make([]frameKey, 0, len(frameRows))
	byKey := make(map[frameKey]*model.FrameData, len(frameRows))
	for _, r := range frameRows {
		key := frameKey{timestamp: r.timestamp, offsetIndex: r.offsetIndex}
		fd, ok := byKey[key]
		if !ok {
			fd = &model.FrameData{FrameID: r.id, Timestamp: r.timestamp, OffsetIndex: r.offsetIndex}
			byKey[key] = fd
			keys = append(keys, key)
		}
		if r.text.Valid {
			fd.OcrEntries = append(fd.OcrEntries, model.OCREntry{
				Text:          r.text.String,
				AppName:       r.appName.String,
				WindowName:    r.windowName.String,
				DeviceName:    r.deviceName,
				VideoFilePath: r.videoPath,
			})
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].before(keys[j]) })

	for _, r := range audioRows {
		key := frameKey{timestamp: r.timestamp, offsetIndex: 1<<63 - 1}
		idx := sort.Search(len(keys), func(i int) bool { return !keys[i].before(key) })
		var target frameKey
		if idx > 0 {
			target = keys[idx-1]
		} else if len(keys) > 0 {
			target = keys[0]
		} else {
			continue
		}
		fd := byKey[target]
		fd.AudioEntries = append(fd.AudioEntries, model.AudioEntry{
			Transcription: r.transcription,
			DeviceName:    r.deviceName,
			IsInput:       r.isInput,
			AudioFilePath: r.audioPath,
			DurationSecs:  r.durationSecs,
		})
	}

	frames := make([]model.FrameData, 0, len(keys))
	for _, k := range keys {
		frames = append(frames, *byKey[k])
	}
	// BTreeMap::into_values().rev(): ascending build order, reversed on output.
	for i, j := 0, len(frames)-1; i < j; i, j = i+1, j-1 {
		frames[i], frames[j] = frames[j], frames[i]
	}

	return model.TimeSeriesChunk{Frames: frames, StartTime: start, EndTime: end}, nil
}

type frameRow struct {
	id          int64
	timestamp   time.Time
	offsetIndex int64
	text        sql.NullString
	appName     sql.NullString
	windowName  sql.NullString
	deviceName  string
	videoPath   string
}

func (a *Aligner) queryFrames(ctx context.Context, start, end time.Time) ([]frameRow, error) {
	rows, err := a.db.QueryContext(ctx, `
		WITH minute_groups AS (
			SELECT
				f.id, f.timestamp, f.offset_index, ot.text, ot.app_name, ot.window_name,
				vc.device_name AS screen_device, vc.file_path AS video_path,
				ROW_NUMBER() OVER (
					PARTITION BY strftime('%Y-%m-%d %H:%M', f.timestamp), ot.app_name, vc.device_name
					ORDER BY f.timestamp DESC
				) AS rn
			FROM frames f
			JOIN video_chunks vc ON f.video_chunk_id = vc.id
			LEFT JOIN ocr_text ot ON f.id = ot.frame_id
			WHERE f.timestamp >= ? AND f.timestamp <= ?
		)
		SELECT id, timestamp, offset_index, text, app_name, window_name, screen_device, video_path
		FROM minute_groups
		WHERE rn = 1
		ORDER BY timestamp DESC, offset_index DESC`, start, end)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.ErrStoreUnavailable, fmt.Errorf("query frames: %w", err))
	}
	defer rows.Close()

	var out []frameRow
	for rows.Next() {
		var r frameRow
		if err := rows.Scan(&r.id, &r.timestamp, &r.offsetIndex, &r.text, &r.appName, &r.windowName, &r.deviceName, &r.videoPath); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type audioRow struct {
	timestamp     time.Time
	transcription string
	deviceName    string
	isInput       bool
	audioPath     string
	durationSecs  float64
}

func (a *Aligner) queryAudio(ctx context.Context, start, end time.Time) ([]audioRow, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT
			at.timestamp, at.transcription, at.device, at.is_input_device, ac.file_path,
			CAST((julianday(datetime(at.timestamp, '+' || at.end_time || ' seconds')) -
			      julianday(datetime(at.timestamp, '+' || at.start_time || ' seconds'))) * 86400 AS REAL)
		FROM audio_transcriptions at
		JOIN audio_chunks ac ON at.audio_chunk_id = ac.id
		WHERE at.timestamp >= ? AND at.timestamp <= ?
		ORDER BY at.timestamp DESC`, start, end)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.ErrStoreUnavailable, fmt.Errorf("query audio: %w", err))
	}
	defer rows.Close()

	var out []audioRow
	for rows.Next() {
		var r audioRow
		var duration sql.NullFloat64
		if err := rows.Scan(&r.timestamp, &r.transcription, &r.deviceName, &r.isInput, &r.audioPath, &duration); err != nil {
			return nil, err
		}
		r.durationSecs = duration.Float64
		out = append(out, r)
	}
	return out, rows.Err()
}
