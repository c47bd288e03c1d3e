package models

import (
	"strings"
	"testing"
)

func TestJobIDSignedRoundTrip(t *testing.T) {
	cases := []struct {
		id     JobID
		signed int64
	}{
		{JobID{Origin: OriginInteractive, Sequence: 1}, -1},
		{JobID{Origin: OriginInteractive, Sequence: 42}, -42},
		{JobID{Origin: OriginScheduler, Sequence: 1}, 1},
		{JobID{Origin: OriginScheduler, Sequence: 7}, 7},
	}
	for _, c := range cases {
		if got := c.id.Signed(); got != c.signed {
			t.Errorf("Signed(%v) = %d, want %d", c.id, got, c.signed)
		}
		if got := JobIDFromSigned(c.signed); got != c.id {
			t.Errorf("JobIDFromSigned(%d) = %v, want %v", c.signed, got, c.id)
		}
	}
}

func TestJobStatusIsTerminal(t *testing.T) {
	terminal := []JobStatus{JobStatusSuccess, JobStatusDone, JobStatusError}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	if JobStatusPending.IsTerminal() || JobStatusRunning.IsTerminal() {
		t.Error("pending and running must not be terminal")
	}
}

func TestIsFakeJob(t *testing.T) {
	e := JobLogEntry{JobID: -1}
	if !e.IsFakeJob() {
		t.Error("negative id without online flag should be a fake job")
	}
	e = JobLogEntry{JobID: -1, IsOnline: true}
	if e.IsFakeJob() {
		t.Error("online entry must not be a fake job")
	}
	e = JobLogEntry{JobID: 3}
	if e.IsFakeJob() {
		t.Error("scheduler entry must not be a fake job")
	}
}

func TestTruncate(t *testing.T) {
	exact := strings.Repeat("a", MaxMessageTextLength)
	if got := Truncate(exact); got != exact {
		t.Errorf("string at the limit must not be modified, got len %d", len(got))
	}
	over := strings.Repeat("b", MaxMessageTextLength+1)
	got := Truncate(over)
	if len([]rune(got)) != MaxMessageTextLength+len([]rune(TruncationMarker)) {
		t.Errorf("truncated length = %d, want %d", len([]rune(got)), MaxMessageTextLength+len(TruncationMarker))
	}
	if !strings.HasSuffix(got, TruncationMarker) {
		t.Error("truncated string must end with the marker")
	}
	if got[:MaxMessageTextLength] != over[:MaxMessageTextLength] {
		t.Error("truncation must keep the leading content intact")
	}
	if Truncate("") != "" {
		t.Error("empty string must pass through unchanged")
	}
}

func TestIsValidSeverity(t *testing.T) {
	for _, s := range []Severity{SeverityInfo, SeverityWarning, SeverityError} {
		if !IsValidSeverity(s) {
			t.Errorf("%s should be valid", s)
		}
	}
	if IsValidSeverity("fatal") || IsValidSeverity("") {
		t.Error("unknown severities must be rejected")
	}
}

func TestTechnicalUserRequestValidate(t *testing.T) {
	req := TechnicalUserRequest{Name: "svc_costing", Password: "secret"}
	if err := req.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	req = TechnicalUserRequest{Name: "   "}
	if err := req.Validate(); err != ErrEmptyTechnicalUser {
		t.Errorf("expected ErrEmptyTechnicalUser, got %v", err)
	}
}

func TestAcceptedResponseCarriesJobID(t *testing.T) {
	resp := Accepted(-5, "job accepted")
	if resp.Status != string(APIStatusAccepted) {
		t.Errorf("status = %s, want accepted", resp.Status)
	}
	if resp.JobID == nil || *resp.JobID != -5 {
		t.Error("accepted response must carry the job id")
	}
}
