package lifecycle

import "testing"

func TestCurrent_DefaultStarting(t *testing.T) {
	Reset()
	if got := Current(); got != Starting {
		t.Errorf("Current() = %v, want starting", got)
	}
	if IsShuttingDown() {
		t.Error("IsShuttingDown() = true, want false by default")
	}
}

func TestSetReady(t *testing.T) {
	Reset()
	SetReady()
	if got := Current(); got != Ready {
		t.Errorf("Current() = %v, want ready", got)
	}
}

func TestSetShuttingDown_Sticky(t *testing.T) {
	Reset()
	defer Reset()
	SetShuttingDown()
	SetReady()
	if !IsShuttingDown() {
		t.Errorf("Current() = %v after SetReady, want shutting-down", Current())
	}
}

func TestPhaseString(t *testing.T) {
	tests := map[Phase]string{
		Starting:     "starting",
		Ready:        "ready",
		ShuttingDown: "shutting-down",
		Phase(9):     "unknown",
	}
	for p, want := range tests {
		if got := p.String(); got != want {
			t.Errorf("Phase(%d).String() = %q, want %q", p, got, want)
		}
	}
}
