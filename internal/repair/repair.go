// Package repair implements the store's staged best-effort recovery
// protocol, ported from screenpipe-server's db.rs repair_database: each
// stage logs but never aborts the sequence except the final quick_check
// verification.
package repair

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"capturestore/internal/errlog"
	"capturestore/internal/logging"
	"capturestore/internal/storeerr"
)

// Repairer runs the recovery protocol against a single store.
type Repairer struct {
	db *sql.DB
}

// New returns a Repairer backed by db.
func New(db *sql.DB) *Repairer {
	return &Repairer{db: db}
}

var (
	emergencySteps = []string{
		"PRAGMA locking_mode = EXCLUSIVE",
		"ROLLBACK",
		"PRAGMA busy_timeout = 60000",
	}
	walCleanupSteps = []string{
		"PRAGMA wal_checkpoint(TRUNCATE)",
		"PRAGMA journal_mode = DELETE",
		"PRAGMA journal_size_limit = 0",
	}
	recoverySteps = []string{
		"PRAGMA synchronous = OFF",
		"PRAGMA cache_size = -2000000",
		"VACUUM",
		"PRAGMA integrity_check",
		"PRAGMA foreign_key_check",
		"REINDEX",
		"ANALYZE",
		"VACUUM",
	}
	restoreSteps = []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA journal_mode = WAL",
		"PRAGMA wal_autocheckpoint = 1000",
		"PRAGMA cache_size = -2000",
		"PRAGMA locking_mode = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
)

// Repair runs the five-stage recovery sequence. Every step is logged;
// only the final quick_check can fail the call.
func (r *Repairer) Repair(ctx context.Context) error {
	runID := uuid.New()
	log := logging.Get().With().Str("repair_run", runID.String()).Logger()
	log.Info().Msg("starting database repair")

	r.runBestEffort(ctx, log, "emergency", emergencySteps)
	r.runBestEffort(ctx, log, "wal_cleanup", walCleanupSteps)
	r.runBestEffort(ctx, log, "recovery", recoverySteps)
	r.runBestEffort(ctx, log, "restore", restoreSteps)

	var result string
	if err := r.db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		log.Error().Err(err).Msg("repair verification failed catastrophically")
		errlog.Logf("repair %s: quick_check failed: %v", runID, err)
		return storeerr.Wrap(storeerr.ErrStoreUnavailable, fmt.Errorf("quick_check: %w", err))
	}
	if result != "ok" {
		log.Error().Str("result", result).Msg("database still corrupted after repair")
		errlog.Logf("repair %s: database still corrupted after repair: %s", runID, result)
		return &storeerr.CorruptionError{Result: result}
	}

	log.Info().Msg("database successfully repaired")
	return nil
}

func (r *Repairer) runBestEffort(ctx context.Context, log zerolog.Logger, stage string, steps []string) {
	for _, step := range steps {
		if _, err := r.db.ExecContext(ctx, step); err != nil {
			log.Warn().Err(err).Str("stage", stage).Str("pragma", step).Msg("repair step failed, continuing")
			continue
		}
		log.Debug().Str("stage", stage).Str("pragma", step).Msg("repair step succeeded")
	}
}
