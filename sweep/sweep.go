// Package sweep detects and repairs drift between user session indices and
// the session records they reference. It is the eventual-consistency half of
// the design: real-time cleanup in the session store narrows the drift
// window, the sweep closes it.
//
// A sweep takes no locks and keeps no snapshot across the decision and the
// action: every classification is a fresh read, and repair re-verifies
// absence immediately before touching an index entry. Running sweeps
// concurrently with live traffic, or with each other, is safe; the worst
// overlap outcome is a benign duplicate removal.
package sweep

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/appauth/sessionstore/cache"
	"github.com/appauth/sessionstore/session"
)

// Mode selects how much a sweep run is allowed to change.
type Mode int

const (
	// ModeReport classifies and counts without mutating anything.
	ModeReport Mode = iota
	// ModeRepairOrphans removes index entries whose record is gone.
	ModeRepairOrphans
	// ModeRepairAll additionally deletes live sessions older than the
	// configured maximum age. Forces logout of long-lived sessions; opt-in.
	ModeRepairAll
)

func (m Mode) String() string {
	switch m {
	case ModeReport:
		return "report"
	case ModeRepairOrphans:
		return "repair-orphans"
	case ModeRepairAll:
		return "repair-all"
	default:
		return "unknown"
	}
}

// Report is the cleanup report consumed by operator tooling.
type Report struct {
	IndicesScanned      int `json:"indices_scanned"`
	RefsChecked         int `json:"session_refs_checked"`
	LiveFound           int `json:"live_found"`
	OrphansFound        int `json:"orphans_found"`
	OrphansRemoved      int `json:"orphans_removed"`
	ExpiredRemoved      int `json:"expired_removed"`
	EmptyIndicesRemoved int `json:"empty_indices_removed"`
}

// DefaultScanCount is the SCAN page size when none is configured.
const DefaultScanCount = 100

// Config tunes a sweeper.
type Config struct {
	// MaxAge is the issued-at threshold for ModeRepairAll. Live sessions
	// older than this are deleted. Zero disables the expired pass even in
	// ModeRepairAll.
	MaxAge time.Duration
	// ScanCount is the SCAN page size.
	ScanCount int64
}

// Sweeper walks every user index and repairs it according to the mode.
type Sweeper struct {
	backend cache.Backend
	keys    cache.Keys
	cfg     Config

	now func() time.Time
}

// New creates a sweeper.
func New(backend cache.Backend, keys cache.Keys, cfg Config) *Sweeper {
	if cfg.ScanCount <= 0 {
		cfg.ScanCount = DefaultScanCount
	}
	return &Sweeper{
		backend: backend,
		keys:    keys,
		cfg:     cfg,
		now:     time.Now,
	}
}

// WithClock overrides the sweeper's clock. Intended for tests.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Run sweeps the whole key space one SCAN page at a time. On backend failure
// it returns the partial report alongside the error; rerunning is always
// safe, since a partially swept key space is unchanged or strictly closer to
// correct, never worse.
func (s *Sweeper) Run(ctx context.Context, mode Mode) (*Report, error) {
	runID := uuid.NewString()
	logger := log.Ctx(ctx).With().
		Str("sweep_run", runID).
		Stringer("mode", mode).
		Logger()
	logger.Info().Msg("sweep starting")

	report := &Report{}
	var cursor uint64
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		keys, next, err := s.backend.ScanKeys(ctx, s.keys.IndexPattern(), cursor, s.cfg.ScanCount)
		if err != nil {
			logger.Error().Err(err).Msg("sweep aborted: scan page failed")
			return report, err
		}

		for _, indexKey := range keys {
			if err := s.sweepIndex(ctx, logger, mode, indexKey, report); err != nil {
				logger.Error().Err(err).Str("index", indexKey).Msg("sweep aborted")
				return report, err
			}
		}

		if next == 0 {
			break
		}
		cursor = next
	}

	logger.Info().
		Int("indices_scanned", report.IndicesScanned).
		Int("refs_checked", report.RefsChecked).
		Int("live_found", report.LiveFound).
		Int("orphans_found", report.OrphansFound).
		Int("orphans_removed", report.OrphansRemoved).
		Int("expired_removed", report.ExpiredRemoved).
		Int("empty_indices_removed", report.EmptyIndicesRemoved).
		Msg("sweep finished")
	return report, nil
}

func (s *Sweeper) sweepIndex(ctx context.Context, logger zerolog.Logger, mode Mode, indexKey string, report *Report) error {
	report.IndicesScanned++

	members, err := s.backend.IndexMembers(ctx, indexKey)
	if err != nil {
		return err
	}

	var orphans []string
	removed := 0
	for _, sm := range members {
		report.RefsChecked++

		exists, err := s.backend.Exists(ctx, s.keys.Session(sm.Member))
		if err != nil {
			return err
		}
		if !exists {
			report.OrphansFound++
			orphans = append(orphans, sm.Member)
			continue
		}
		report.LiveFound++

		if mode == ModeRepairAll && s.cfg.MaxAge > 0 {
			expired, err := s.reapExpired(ctx, logger, indexKey, sm.Member)
			if err != nil {
				return err
			}
			if expired {
				report.ExpiredRemoved++
				removed++
			}
		}
	}

	if mode == ModeReport {
		return nil
	}

	for _, sid := range orphans {
		// Re-verify right before removal: the record may have reappeared
		// if the same id was recreated while we were scanning.
		exists, err := s.backend.Exists(ctx, s.keys.Session(sid))
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if err := s.backend.IndexRemove(ctx, indexKey, sid); err != nil {
			return err
		}
		report.OrphansRemoved++
		removed++
	}

	if removed > 0 {
		card, err := s.backend.IndexCard(ctx, indexKey)
		if err != nil {
			return err
		}
		if card == 0 {
			if err := s.backend.Delete(ctx, indexKey); err != nil {
				return err
			}
			report.EmptyIndicesRemoved++
			logger.Debug().Str("user", s.keys.IndexUser(indexKey)).Msg("removed empty index")
		}
	}
	return nil
}

// reapExpired deletes a live session whose issued-at is older than MaxAge,
// record first, index entry second, so an interruption leaves an orphan a
// later run picks up rather than a dangling record.
func (s *Sweeper) reapExpired(ctx context.Context, logger zerolog.Logger, indexKey, sid string) (bool, error) {
	data, err := s.backend.Get(ctx, s.keys.Session(sid))
	if err != nil {
		return false, err
	}
	if data == nil {
		// Expired between the existence check and this read. The entry is
		// now an orphan; the next run removes it.
		return false, nil
	}

	var rec session.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		logger.Warn().Str("index", indexKey).Err(err).Msg("skipping unparseable session record")
		return false, nil
	}
	if s.now().Sub(rec.IssuedTime()) <= s.cfg.MaxAge {
		return false, nil
	}

	if err := s.backend.Delete(ctx, s.keys.Session(sid)); err != nil {
		return false, err
	}
	if err := s.backend.IndexRemove(ctx, indexKey, sid); err != nil {
		return false, err
	}
	return true, nil
}
