// Package traffic keeps short sliding windows of weather provider outcomes and
// rate-limit denials. /health reads the provider error rate from here.
package traffic

import (
	"sync"
	"time"
)

// DefaultRetention bounds how long outcomes are kept.
const DefaultRetention = 5 * time.Minute

var defaultTracker = NewTracker(DefaultRetention)

// RecordFetchSuccess records a provider call that returned an observation.
func RecordFetchSuccess() {
	defaultTracker.RecordFetchSuccess()
}

// RecordFetchError records a provider call that failed.
func RecordFetchError() {
	defaultTracker.RecordFetchError()
}

// RecordDenied records a rate-limited HTTP request.
func RecordDenied() {
	defaultTracker.RecordDenied()
}

// FetchErrorRate returns (errors, total) provider calls within the window.
func FetchErrorRate(window time.Duration) (errors, total int) {
	return defaultTracker.FetchErrorRate(window)
}

// DenialCount returns the number of denials within the window.
func DenialCount(window time.Duration) int {
	return defaultTracker.DenialCount(window)
}

// SetRetention changes how long the default tracker keeps outcomes. Call it
// at startup when the health window is longer than DefaultRetention.
func SetRetention(d time.Duration) {
	defaultTracker.SetRetention(d)
}

// Reset clears all recorded outcomes. For tests only.
func Reset() {
	defaultTracker.Reset()
}

// Tracker maintains sliding windows of outcome timestamps.
type Tracker struct {
	mu           sync.Mutex
	retention    time.Duration
	now          func() time.Time
	successTimes []time.Time
	errorTimes   []time.Time
	deniedTimes  []time.Time
}

// NewTracker returns a Tracker that forgets outcomes older than retention.
func NewTracker(retention time.Duration) *Tracker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Tracker{retention: retention, now: time.Now}
}

func (t *Tracker) RecordFetchSuccess() {
	t.record(&t.successTimes)
}

func (t *Tracker) RecordFetchError() {
	t.record(&t.errorTimes)
}

func (t *Tracker) RecordDenied() {
	t.record(&t.deniedTimes)
}

func (t *Tracker) record(slice *[]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	*slice = append(*slice, now)
	t.pruneLocked(now)
}

// FetchErrorRate returns (errorCount, totalCount) of provider calls within the window.
// Denials are not provider calls and are excluded.
func (t *Tracker) FetchErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	errCount := countSince(t.errorTimes, cutoff)
	return errCount, errCount + countSince(t.successTimes, cutoff)
}

func (t *Tracker) DenialCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.deniedTimes, t.now().Add(-window))
}

func (t *Tracker) SetRetention(d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	t.retention = d
	t.mu.Unlock()
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successTimes = nil
	t.errorTimes = nil
	t.deniedTimes = nil
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than the retention period. Must be
// called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.retention)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for i < len(times) && times[i].Before(cutoff) {
			i++
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&t.successTimes)
	prune(&t.errorTimes)
	prune(&t.deniedTimes)
}
