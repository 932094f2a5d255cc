package stt

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestError_Is(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("transcribe: %w", NewError("openai", ErrUnavailable, cause))

	if !errors.Is(err, ErrUnavailable) {
		t.Error("expected ErrUnavailable")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable")
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("did not expect ErrTimeout")
	}

	var se *Error
	if !errors.As(err, &se) || se.Backend != "openai" {
		t.Errorf("expected *Error for openai, got %v", se)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{NewError("x", ErrNotConfigured, nil), "not_configured"},
		{NewError("x", ErrTimeout, nil), "timeout"},
		{context.DeadlineExceeded, "timeout"},
		{NewError("x", ErrRejected, errors.New("400")), "rejected"},
		{NewError("x", ErrUnavailable, nil), "unavailable"},
		{context.Canceled, "canceled"},
		{errors.New("boom"), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	if Classify("local", nil) != nil {
		t.Error("nil should stay nil")
	}
	if err := Classify("local", context.DeadlineExceeded); !errors.Is(err, ErrTimeout) {
		t.Errorf("expected timeout, got %v", err)
	}
	orig := NewError("local", ErrRejected, nil)
	if err := Classify("remote", orig); err != error(orig) {
		t.Error("existing *Error should pass through")
	}
}

func TestParams_CloneAndTemperature(t *testing.T) {
	p := Params{Temperatures: []float64{0.2, 0.4}}
	c := p.Clone()
	c.Temperatures[0] = 0.9

	if p.Temperature() != 0.2 {
		t.Errorf("clone shares slice with original: %v", p.Temperatures)
	}
	if (Params{}).Temperature() != 0 {
		t.Error("empty temperatures should default to 0")
	}
}
