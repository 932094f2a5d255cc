package session

import (
	"errors"
	"sync"
	"testing"
)

func TestLifecycle_InitialState(t *testing.T) {
	lc := NewLifecycle("s-1")

	if lc.State() != StateCreated {
		t.Errorf("expected StateCreated, got %v", lc.State())
	}
	if lc.SessionID() != "s-1" {
		t.Errorf("expected s-1, got %v", lc.SessionID())
	}
	if !lc.AcceptsChunks() {
		t.Error("expected AcceptsChunks to be true")
	}
	if lc.IsClosed() {
		t.Error("expected IsClosed to be false")
	}
}

func TestLifecycle_Activate(t *testing.T) {
	lc := NewLifecycle("s-1")

	for i := 0; i < 3; i++ {
		if err := lc.Activate(); err != nil {
			t.Errorf("activate %d: unexpected error: %v", i, err)
		}
	}
	if lc.State() != StateActive {
		t.Errorf("expected StateActive, got %v", lc.State())
	}
}

func TestLifecycle_FinalizeOnlyOnce(t *testing.T) {
	lc := NewLifecycle("s-1")
	_ = lc.Activate()

	if err := lc.BeginFinalize(); err != nil {
		t.Fatalf("first finalize: unexpected error: %v", err)
	}
	if err := lc.BeginFinalize(); !errors.Is(err, ErrSessionInactive) {
		t.Errorf("second finalize: expected ErrSessionInactive, got %v", err)
	}
	if lc.AcceptsChunks() {
		t.Error("finalizing session must not accept chunks")
	}
	if err := lc.Activate(); !errors.Is(err, ErrSessionInactive) {
		t.Errorf("activate after finalize: expected ErrSessionInactive, got %v", err)
	}
}

func TestLifecycle_FinalizeFromCreated(t *testing.T) {
	lc := NewLifecycle("s-1")
	if err := lc.BeginFinalize(); err != nil {
		t.Errorf("stopping a session with no chunks should be allowed: %v", err)
	}
}

func TestLifecycle_Close(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*Lifecycle)
	}{
		{"from created", func(*Lifecycle) {}},
		{"from active", func(l *Lifecycle) { _ = l.Activate() }},
		{"from finalizing", func(l *Lifecycle) { _ = l.BeginFinalize() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc := NewLifecycle("s-1")
			tt.setup(lc)
			if !lc.Close() {
				t.Error("expected first Close to transition")
			}
			if lc.Close() {
				t.Error("expected second Close to be a no-op")
			}
			if !lc.IsClosed() || lc.State() != StateClosed {
				t.Errorf("expected closed, got %v", lc.State())
			}
			if err := lc.BeginFinalize(); !errors.Is(err, ErrSessionInactive) {
				t.Errorf("expected ErrSessionInactive, got %v", err)
			}
		})
	}
}

func TestLifecycle_ConcurrentClose(t *testing.T) {
	lc := NewLifecycle("s-1")
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if lc.Close() {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Errorf("expected exactly one Close to win, got %d", winners)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateCreated, "CREATED"},
		{StateActive, "ACTIVE"},
		{StateFinalizing, "FINALIZING"},
		{StateClosed, "CLOSED"},
		{State(99), "UNKNOWN(99)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
