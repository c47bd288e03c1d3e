// Package store provides storage backends for costbridge.
//
// This file implements the in-memory store used by tests and local development.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/costbridge/costbridge/internal/models"
)

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// InMemoryStore keeps all rows in process memory. Its clock is strictly
// monotonic so start timestamps stay unique within a single process, matching
// the uniqueness the SQL backends get from their own clocks.
type InMemoryStore struct {
	mu       sync.Mutex
	jobs     []models.JobLogEntry
	messages []models.Message
	settings map[string]string
	lastTS   time.Time
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{settings: make(map[string]string)}
}

func (s *InMemoryStore) InsertJobLog(e models.JobLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, e)
	return nil
}

func (s *InMemoryStore) CompleteJobLog(startTime time.Time, status models.JobStatus, responseBody string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	end := s.now()
	for i := range s.jobs {
		if s.jobs[i].StartTime.Equal(startTime) {
			s.jobs[i].Status = status
			s.jobs[i].ResponseBody = responseBody
			s.jobs[i].EndTime = &end
			return nil
		}
	}
	return nil
}

func (s *InMemoryStore) GetJobLog(jobID int64) (*models.JobLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.jobs {
		if s.jobs[i].JobID == jobID {
			e := s.jobs[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) ListJobLogs(limit int) ([]models.JobLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.JobLogEntry, len(s.jobs))
	copy(out, s.jobs)
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) MinJobID() (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.jobs) == 0 {
		return 0, false, nil
	}
	min := s.jobs[0].JobID
	for _, j := range s.jobs[1:] {
		if j.JobID < min {
			min = j.JobID
		}
	}
	return min, true, nil
}

func (s *InMemoryStore) MaxJobID() (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.jobs) == 0 {
		return 0, false, nil
	}
	max := s.jobs[0].JobID
	for _, j := range s.jobs[1:] {
		if j.JobID > max {
			max = j.JobID
		}
	}
	return max, true, nil
}

func (s *InMemoryStore) HasRunningFakeJob() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningFakeJobLocked(), nil
}

func (s *InMemoryStore) runningFakeJobLocked() bool {
	for i := range s.jobs {
		if s.jobs[i].IsFakeJob() && s.jobs[i].Status == models.JobStatusRunning {
			return true
		}
	}
	return false
}

func (s *InMemoryStore) ClaimFakeJob(jobID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runningFakeJobLocked() {
		return false, nil
	}
	for i := range s.jobs {
		if s.jobs[i].JobID == jobID && s.jobs[i].Status == models.JobStatusPending {
			s.jobs[i].Status = models.JobStatusRunning
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) NextPendingFakeJob() (*models.JobLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next *models.JobLogEntry
	for i := range s.jobs {
		j := &s.jobs[i]
		if !j.IsFakeJob() || j.Status != models.JobStatusPending {
			continue
		}
		// Earliest allocated interactive id is the one closest to zero.
		if next == nil || j.JobID > next.JobID {
			next = j
		}
	}
	if next == nil {
		return nil, nil
	}
	e := *next
	return &e, nil
}

func (s *InMemoryStore) RequeueStaleRunningFakeJobs(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.jobs {
		j := &s.jobs[i]
		if j.IsFakeJob() && j.Status == models.JobStatusRunning && j.StartTime.Before(staleBefore) {
			j.Status = models.JobStatusPending
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) AddMessage(m models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	return nil
}

func (s *InMemoryStore) ListMessages(jobID int64) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for _, m := range s.messages {
		if m.JobID != nil && *m.JobID == jobID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *InMemoryStore) CountErrorMessages(jobID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messages {
		if m.JobID != nil && *m.JobID == jobID && m.Severity == models.SeverityError {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) GetSetting(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.settings[key]
	return v, ok, nil
}

func (s *InMemoryStore) SetSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

func (s *InMemoryStore) DeleteSetting(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.settings, key)
	return nil
}

func (s *InMemoryStore) CurrentTimestamp() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now(), nil
}

// now returns a strictly increasing UTC instant.
func (s *InMemoryStore) now() time.Time {
	t := time.Now().UTC()
	if !t.After(s.lastTS) {
		t = s.lastTS.Add(time.Microsecond)
	}
	s.lastTS = t
	return t
}

func (s *InMemoryStore) Close() error {
	return nil
}
