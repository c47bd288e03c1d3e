package jobs

import (
	"net/http/httptest"
	"testing"

	"github.com/costbridge/costbridge/internal/apperr"
	"github.com/costbridge/costbridge/internal/models"
)

func TestClassifyOnlineWithoutFlag(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/v1/dispatch/report", nil)
	c, err := Classify(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Mode != models.ModeOnline || c.FlagPresent {
		t.Errorf("got %+v, want plain online without flag", c)
	}
}

func TestClassifyFakeJob(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/v1/dispatch/report?online_mode=false", nil)
	c, err := Classify(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Mode != models.ModeFakeJob || !c.FlagPresent {
		t.Errorf("got %+v, want fake job with flag", c)
	}
}

func TestClassifyOnlineModeFlagValues(t *testing.T) {
	// Anything but the literal "false" keeps the call online, but the flag's
	// presence still requests job bookkeeping.
	for _, v := range []string{"true", "1", "FALSE", "yes", ""} {
		r := httptest.NewRequest("POST", "/api/v1/dispatch/report?online_mode="+v, nil)
		c, err := Classify(r)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", v, err)
		}
		if c.Mode != models.ModeOnline || !c.FlagPresent {
			t.Errorf("online_mode=%q: got %+v, want online with flag", v, c)
		}
	}
}

func TestClassifySchedulerCallback(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/v1/dispatch/report", nil)
	r.Header.Set(HeaderSchedulerJobID, "job-17")
	r.Header.Set(HeaderSchedulerScheduleID, "sched-3")
	r.Header.Set(HeaderSchedulerRunID, "run-99")
	c, err := Classify(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Mode != models.ModeRealJob {
		t.Errorf("mode = %s, want real job", c.Mode)
	}
	if c.SchedulerJobID != "job-17" || c.ScheduleID != "sched-3" || c.RunID != "run-99" {
		t.Errorf("correlation ids not carried: %+v", c)
	}
}

func TestClassifySchedulerHeaderTakesPrecedence(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/v1/dispatch/report?online_mode=false", nil)
	r.Header.Set(HeaderSchedulerJobID, "job-17")
	c, err := Classify(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Mode != models.ModeRealJob {
		t.Errorf("scheduler header must win over the query flag, got %s", c.Mode)
	}
}

func TestClassifyEmptySchedulerJobID(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/v1/dispatch/report", nil)
	r.Header.Set(HeaderSchedulerJobID, "   ")
	_, err := Classify(r)
	if err == nil {
		t.Fatal("expected validation error for empty scheduler job id")
	}
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("kind = %s, want validation", apperr.KindOf(err))
	}
}
