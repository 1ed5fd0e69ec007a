package traffic

import (
	"testing"
	"time"
)

// TestFetchErrorRate_Empty verifies that nothing is reported before any outcome.
func TestFetchErrorRate_Empty(t *testing.T) {
	Reset()
	if errs, total := FetchErrorRate(time.Minute); errs != 0 || total != 0 {
		t.Errorf("FetchErrorRate() = (%d, %d), want (0, 0)", errs, total)
	}
}

func TestFetchErrorRate_SuccessAndError(t *testing.T) {
	Reset()
	RecordFetchSuccess()
	RecordFetchSuccess()
	RecordFetchError()
	errs, total := FetchErrorRate(time.Minute)
	if errs != 1 || total != 3 {
		t.Errorf("FetchErrorRate() = (%d, %d), want (1, 3)", errs, total)
	}
}

// TestFetchErrorRate_DeniedExcluded verifies that rate-limit denials do not
// count as provider calls.
func TestFetchErrorRate_DeniedExcluded(t *testing.T) {
	Reset()
	RecordFetchSuccess()
	RecordDenied()
	RecordDenied()
	errs, total := FetchErrorRate(time.Minute)
	if errs != 0 || total != 1 {
		t.Errorf("FetchErrorRate() = (%d, %d), want (0, 1)", errs, total)
	}
	if n := DenialCount(time.Minute); n != 2 {
		t.Errorf("DenialCount() = %d, want 2", n)
	}
}

func TestTracker_WindowAndRetention(t *testing.T) {
	now := time.Date(2024, 1, 2, 13, 0, 0, 0, time.UTC)
	tr := NewTracker(2 * time.Minute)
	tr.now = func() time.Time { return now }

	tr.RecordFetchError()
	now = now.Add(90 * time.Second)
	tr.RecordFetchSuccess()

	if errs, total := tr.FetchErrorRate(time.Minute); errs != 0 || total != 1 {
		t.Errorf("FetchErrorRate(1m) = (%d, %d), want (0, 1)", errs, total)
	}
	if errs, total := tr.FetchErrorRate(2 * time.Minute); errs != 1 || total != 2 {
		t.Errorf("FetchErrorRate(2m) = (%d, %d), want (1, 2)", errs, total)
	}

	// Past retention the old error is pruned on the next record.
	now = now.Add(2 * time.Minute)
	tr.RecordFetchSuccess()
	if errs, total := tr.FetchErrorRate(time.Hour); errs != 0 || total != 2 {
		t.Errorf("FetchErrorRate(1h) after prune = (%d, %d), want (0, 2)", errs, total)
	}
}

func TestTracker_SetRetentionIgnoresNonPositive(t *testing.T) {
	tr := NewTracker(0)
	if tr.retention != DefaultRetention {
		t.Fatalf("retention = %v, want %v", tr.retention, DefaultRetention)
	}
	tr.SetRetention(-time.Second)
	if tr.retention != DefaultRetention {
		t.Errorf("retention = %v after negative SetRetention, want unchanged", tr.retention)
	}
	tr.SetRetention(10 * time.Minute)
	if tr.retention != 10*time.Minute {
		t.Errorf("retention = %v, want 10m", tr.retention)
	}
}
