package mock

import (
	"context"
	"errors"
	"testing"
	"time"

	"ai-lecture-transcriber/internal/service/stt"
)

func request(n int) stt.Request {
	return stt.Request{SessionID: "s1", Samples: make([]float32, n)}
}

func TestBackend_DefaultRotation(t *testing.T) {
	b := New("local", stt.KindLocal)
	ctx := context.Background()

	for i := 0; i < len(DefaultUtterances)+1; i++ {
		res, err := b.Transcribe(ctx, request(16000))
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		want := DefaultUtterances[i%len(DefaultUtterances)].Text
		if res.Text != want {
			t.Errorf("call %d: got %q, want %q", i, res.Text, want)
		}
		if res.Backend != "local" {
			t.Errorf("expected backend name, got %q", res.Backend)
		}
		if len(res.Segments) != 1 || res.Segments[0].EndMs != 1000 {
			t.Errorf("expected one 1s segment, got %+v", res.Segments)
		}
	}
	if b.Calls() != len(DefaultUtterances)+1 {
		t.Errorf("expected %d calls, got %d", len(DefaultUtterances)+1, b.Calls())
	}
}

func TestBackend_InstancesAreIndependent(t *testing.T) {
	a := New("a", stt.KindLocal)
	b := New("b", stt.KindLocal)
	ctx := context.Background()

	a.Transcribe(ctx, request(10))
	res, _ := b.Transcribe(ctx, request(10))
	if res.Text != DefaultUtterances[0].Text {
		t.Errorf("second instance should start at the first utterance, got %q", res.Text)
	}
}

func TestBackend_ScriptRepeatsLast(t *testing.T) {
	b := New("remote", stt.KindRemote, WithScript(
		Response{Text: "first", Confidence: 0.9},
		Response{Text: "", Confidence: 0},
	))
	ctx := context.Background()

	texts := []string{}
	for i := 0; i < 3; i++ {
		res, _ := b.Transcribe(ctx, request(10))
		texts = append(texts, res.Text)
	}
	if texts[0] != "first" || texts[1] != "" || texts[2] != "" {
		t.Errorf("unexpected sequence %q", texts)
	}
}

func TestBackend_ErrorIsClassified(t *testing.T) {
	b := New("remote", stt.KindRemote, WithScript(Response{Err: errors.New("503")}))
	_, err := b.Transcribe(context.Background(), request(10))
	if !errors.Is(err, stt.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestBackend_DelayRespectsContext(t *testing.T) {
	b := New("local", stt.KindLocal, WithScript(Response{Text: "slow", Delay: time.Second}))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Transcribe(ctx, request(10))
	if !errors.Is(err, stt.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestBackend_Batch(t *testing.T) {
	b := New("local", stt.KindLocal)
	var _ stt.BatchBackend = b

	results, errs := b.TranscribeBatch(context.Background(), []stt.Request{request(10), request(10), request(10)})
	if len(results) != 3 || len(errs) != 3 {
		t.Fatalf("expected 3 positional results, got %d/%d", len(results), len(errs))
	}
	if b.BatchCalls() != 1 || b.Calls() != 0 {
		t.Errorf("expected 1 batch call and 0 single calls, got %d/%d", b.BatchCalls(), b.Calls())
	}
	if len(b.Requests()) != 3 {
		t.Errorf("expected 3 recorded requests, got %d", len(b.Requests()))
	}
}

func TestSingle_HidesBatch(t *testing.T) {
	var backend stt.Backend = Single{New("local", stt.KindLocal)}
	if _, ok := backend.(stt.BatchBackend); ok {
		t.Error("Single should not expose TranscribeBatch")
	}
}

func TestBackend_Func(t *testing.T) {
	b := New("local", stt.KindLocal, WithFunc(func(_ context.Context, req stt.Request) (stt.Result, error) {
		return stt.Result{Text: req.SessionID}, nil
	}))
	res, err := b.Transcribe(context.Background(), request(10))
	if err != nil || res.Text != "s1" || res.Backend != "local" {
		t.Errorf("unexpected result %+v err=%v", res, err)
	}
}
