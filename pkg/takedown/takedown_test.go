package takedown

import (
	"testing"
	"time"
)

func TestClassifySLA_OnTrack(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	deadline := now.Add(48 * time.Hour)
	if got := classifySLA(now, deadline); got != SLAOnTrack {
		t.Errorf("classifySLA() = %q, want %q", got, SLAOnTrack)
	}
}

func TestClassifySLA_WarningWithinSixHours(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	deadline := now.Add(5 * time.Hour)
	if got := classifySLA(now, deadline); got != SLAWarning {
		t.Errorf("classifySLA() = %q, want %q", got, SLAWarning)
	}
}

func TestClassifySLA_ViolatedPastDeadline(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	deadline := now.Add(-1 * time.Hour)
	if got := classifySLA(now, deadline); got != SLAViolated {
		t.Errorf("classifySLA() = %q, want %q", got, SLAViolated)
	}
}

func TestClassifySLA_ExactlyAtWarningBoundary(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	deadline := now.Add(6 * time.Hour)
	if got := classifySLA(now, deadline); got != SLAWarning {
		t.Errorf("classifySLA() = %q, want %q", got, SLAWarning)
	}
}
