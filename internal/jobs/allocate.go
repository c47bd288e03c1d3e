package jobs

import (
	"log/slog"
	"time"

	"github.com/costbridge/costbridge/internal/apperr"
	"github.com/costbridge/costbridge/internal/models"
	"github.com/costbridge/costbridge/internal/store"
)

// Allocator issues job identifiers: decreasing negative ids for interactive
// (online/fake-job) calls, increasing positive ids for real scheduler runs.
// The persisted high-water mark is the only source of truth, so allocation
// survives process restarts; there is no in-memory counter.
type Allocator struct {
	store store.Store
}

// NewAllocator creates an allocator over the given store.
func NewAllocator(st store.Store) *Allocator {
	return &Allocator{store: st}
}

// Allocate issues the next job id for the given mode together with a start
// timestamp taken from the store's own clock. Store errors propagate as
// unexpected; allocation is never retried here, the caller aborts.
func (a *Allocator) Allocate(mode models.JobMode) (models.JobID, time.Time, error) {
	var id models.JobID
	switch mode {
	case models.ModeRealJob:
		max, ok, err := a.store.MaxJobID()
		if err != nil {
			return models.JobID{}, time.Time{}, apperr.Wrap(apperr.KindUnexpected, "reading job id high-water mark", err)
		}
		if !ok || max <= 0 {
			id = models.JobID{Origin: models.OriginScheduler, Sequence: 1}
		} else {
			id = models.JobID{Origin: models.OriginScheduler, Sequence: uint64(max) + 1}
		}
	default:
		min, ok, err := a.store.MinJobID()
		if err != nil {
			return models.JobID{}, time.Time{}, apperr.Wrap(apperr.KindUnexpected, "reading job id low-water mark", err)
		}
		if !ok || min >= 0 {
			id = models.JobID{Origin: models.OriginInteractive, Sequence: 1}
		} else {
			id = models.JobID{Origin: models.OriginInteractive, Sequence: uint64(-min) + 1}
		}
	}

	ts, err := a.store.CurrentTimestamp()
	if err != nil {
		return models.JobID{}, time.Time{}, apperr.Wrap(apperr.KindUnexpected, "reading store clock", err)
	}
	slog.Debug("Allocator.Allocate: job id issued", "mode", mode, "jobID", id.Signed(), "start", ts)
	return id, ts, nil
}
