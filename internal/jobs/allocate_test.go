package jobs

import (
	"testing"

	"github.com/costbridge/costbridge/internal/models"
	"github.com/costbridge/costbridge/internal/store"
)

func TestAllocateFirstIDs(t *testing.T) {
	a := NewAllocator(store.NewInMemoryStore())

	id, ts, err := a.Allocate(models.ModeFakeJob)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Signed() != -1 {
		t.Errorf("first interactive id = %d, want -1", id.Signed())
	}
	if ts.IsZero() {
		t.Error("start timestamp must come from the store clock")
	}

	id, _, err = a.Allocate(models.ModeRealJob)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Signed() != 1 {
		t.Errorf("first scheduler id = %d, want 1", id.Signed())
	}
}

func TestAllocateMonotonicNamespaces(t *testing.T) {
	st := store.NewInMemoryStore()
	a := NewAllocator(st)

	var interactive []int64
	for i := 0; i < 5; i++ {
		id, ts, err := a.Allocate(models.ModeFakeJob)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		// Allocation only moves the water mark once the row is persisted.
		if err := st.InsertJobLog(models.JobLogEntry{JobID: id.Signed(), StartTime: ts, JobName: "j", Status: models.JobStatusPending}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		interactive = append(interactive, id.Signed())
	}
	for i, want := range []int64{-1, -2, -3, -4, -5} {
		if interactive[i] != want {
			t.Errorf("interactive id %d = %d, want %d", i, interactive[i], want)
		}
	}

	var scheduled []int64
	for i := 0; i < 3; i++ {
		id, ts, err := a.Allocate(models.ModeRealJob)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := st.InsertJobLog(models.JobLogEntry{JobID: id.Signed(), StartTime: ts, JobName: "j", Status: models.JobStatusRunning}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		scheduled = append(scheduled, id.Signed())
	}
	for i, want := range []int64{1, 2, 3} {
		if scheduled[i] != want {
			t.Errorf("scheduler id %d = %d, want %d", i, scheduled[i], want)
		}
	}
}

func TestAllocateOnlineSharesInteractiveNamespace(t *testing.T) {
	st := store.NewInMemoryStore()
	a := NewAllocator(st)

	id, ts, err := a.Allocate(models.ModeOnline)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Signed() != -1 {
		t.Errorf("online id = %d, want -1", id.Signed())
	}
	st.InsertJobLog(models.JobLogEntry{JobID: id.Signed(), StartTime: ts, JobName: "j", IsOnline: true, Status: models.JobStatusRunning})

	id, _, err = a.Allocate(models.ModeFakeJob)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Signed() != -2 {
		t.Errorf("fake job id after online = %d, want -2", id.Signed())
	}
}
