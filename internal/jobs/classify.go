// Package jobs implements the job execution core of costbridge: request
// classification, monotonic job id allocation, the persisted audit trail, and
// the single-flight arbitration of simulated background jobs.
package jobs

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/costbridge/costbridge/internal/apperr"
	"github.com/costbridge/costbridge/internal/models"
)

// Headers set by the external scheduler on callback dispatches. Their
// presence classifies a call as a real background job.
const (
	HeaderSchedulerJobID      = "X-Scheduler-Job-Id"
	HeaderSchedulerScheduleID = "X-Scheduler-Schedule-Id"
	HeaderSchedulerRunID      = "X-Scheduler-Run-Id"
)

// QueryOnlineMode is the query flag distinguishing plain online calls from
// simulated background jobs. Absent or anything but the literal "false" means
// online; the literal "false" requests a fake job.
const QueryOnlineMode = "online_mode"

// Classification is the result of inspecting an inbound call. It carries no
// side effects; the dispatch layer decides allocation and bookkeeping from it.
type Classification struct {
	Mode models.JobMode
	// FlagPresent records whether the online-mode flag was supplied at all.
	// An online call without the flag gets no job bookkeeping.
	FlagPresent bool
	// Scheduler correlation ids, set only for real jobs.
	SchedulerJobID string
	ScheduleID     string
	RunID          string
}

// Classify decides online vs. real-job vs. fake-job mode for an inbound call.
// It never guesses: a scheduler callback with a structurally malformed job id
// header fails with a validation error instead of degrading to online mode.
func Classify(r *http.Request) (Classification, error) {
	if _, ok := r.Header[http.CanonicalHeaderKey(HeaderSchedulerJobID)]; ok {
		jobID := strings.TrimSpace(r.Header.Get(HeaderSchedulerJobID))
		if jobID == "" {
			return Classification{}, apperr.New(apperr.KindValidation, "scheduler job id header present but empty")
		}
		c := Classification{
			Mode:           models.ModeRealJob,
			SchedulerJobID: jobID,
			ScheduleID:     strings.TrimSpace(r.Header.Get(HeaderSchedulerScheduleID)),
			RunID:          strings.TrimSpace(r.Header.Get(HeaderSchedulerRunID)),
		}
		slog.Debug("Classify: scheduler callback detected", "schedulerJobID", c.SchedulerJobID, "runID", c.RunID)
		return c, nil
	}

	values, flagPresent := r.URL.Query()[QueryOnlineMode]
	if !flagPresent {
		return Classification{Mode: models.ModeOnline}, nil
	}
	if len(values) > 0 && values[0] == "false" {
		return Classification{Mode: models.ModeFakeJob, FlagPresent: true}, nil
	}
	return Classification{Mode: models.ModeOnline, FlagPresent: true}, nil
}
