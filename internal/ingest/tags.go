package ingest

import (
	"context"
	"fmt"

	"capturestore/internal/model"
	"capturestore/internal/storeerr"
)

func linkTable(kind model.TagContentType) (table, column string, ok bool) {
	switch kind {
	case model.TagVision:
		return "vision_tags", "frame_id", true
	case model.TagAudio:
		return "audio_tags", "audio_chunk_id", true
	case model.TagUI:
		return "ui_monitoring_tags", "ui_monitoring_id", true
	default:
		return "", "", false
	}
}

// AddTags attaches tagNames to targetID in the link table selected by kind,
// creating any tag row that does not already exist.
func (w *Writer) AddTags(ctx context.Context, kind model.TagContentType, targetID int64, tagNames []string) error {
	table, column, ok := linkTable(kind)
	if !ok {
		return fmt.Errorf("unknown tag content type %v", kind)
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return storeerr.Wrap(storeerr.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	for _, name := range tagNames {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO tags (name) VALUES (?)`, name); err != nil {
			return storeerr.Wrap(storeerr.ErrIntegrityViolation, fmt.Errorf("insert tag %q: %w", name, err))
		}
		var tagID int64
		if err := tx.QueryRowContext(ctx, `SELECT id FROM tags WHERE name = ?`, name).Scan(&tagID); err != nil {
			return storeerr.Wrap(storeerr.ErrStoreUnavailable, fmt.Errorf("resolve tag %q: %w", name, err))
		}
		query := fmt.Sprintf(`INSERT OR IGNORE INTO %s (tag_id, %s) VALUES (?, ?)`, table, column)
		if _, err := tx.ExecContext(ctx, query, tagID, targetID); err != nil {
			return storeerr.Wrap(storeerr.ErrIntegrityViolation, fmt.Errorf("link tag %q: %w", name, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return storeerr.Wrap(storeerr.ErrStoreUnavailable, err)
	}
	return nil
}

// RemoveTag detaches a single tag from targetID, if linked.
func (w *Writer) RemoveTag(ctx context.Context, kind model.TagContentType, targetID int64, tagName string) error {
	table, column, ok := linkTable(kind)
	if !ok {
		return fmt.Errorf("unknown tag content type %v", kind)
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = ? AND tag_id = (SELECT id FROM tags WHERE name = ?)`, table, column)
	_, err := w.db.ExecContext(ctx, query, targetID, tagName)
	if err != nil {
		return storeerr.Wrap(storeerr.ErrStoreUnavailable, fmt.Errorf("remove tag %q: %w", tagName, err))
	}
	return nil
}

// TagsFor returns every tag name linked to targetID, for enrichment of a
// single row outside the bulk GROUP_CONCAT path search uses.
func (w *Writer) TagsFor(ctx context.Context, kind model.TagContentType, targetID int64) ([]string, error) {
	table, column, ok := linkTable(kind)
	if !ok {
		return nil, fmt.Errorf("unknown tag content type %v", kind)
	}
	query := fmt.Sprintf(`SELECT t.name FROM tags t JOIN %s l ON l.tag_id = t.id WHERE l.%s = ? ORDER BY t.name`, table, column)
	rows, err := w.db.QueryContext(ctx, query, targetID)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
