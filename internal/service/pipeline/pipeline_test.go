package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"ai-lecture-transcriber/internal/service/audio"
	"ai-lecture-transcriber/internal/service/confidence"
	"ai-lecture-transcriber/internal/service/engine"
	"ai-lecture-transcriber/internal/service/hallucination"
	"ai-lecture-transcriber/internal/service/params"
	"ai-lecture-transcriber/internal/service/preprocess"
	"ai-lecture-transcriber/internal/service/stt"
	"ai-lecture-transcriber/internal/service/stt/mock"
	"ai-lecture-transcriber/internal/service/vad"
)

func tonePCM(seconds float64) []byte {
	n := int(seconds * audio.SampleRate)
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.3 * math.Sin(2*math.Pi*220*float64(i)/audio.SampleRate))
	}
	return audio.EncodePCM16(samples)
}

type fixture struct {
	p     *Pipeline
	local *mock.Backend
	gate  *vad.Gate
}

func newFixture(t *testing.T, content params.ContentType, opts ...mock.Option) fixture {
	t.Helper()
	logger := zerolog.Nop()
	local := mock.New("mock-local", stt.KindLocal, opts...)
	analyzer, err := confidence.New(nil, logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	gate := vad.NewGate(vad.DefaultConfig(), nil, logger, nil)
	p := New(Stages{
		Gate:         gate,
		Preprocessor: preprocess.New(preprocess.DefaultConfig(), logger, nil),
		Optimizer:    params.New("en"),
		Engine:       engine.New(engine.Config{Strategy: engine.StrategyLocalOnly, MinConfidence: 0.1}, local, nil, logger, nil),
		Filter:       hallucination.New(hallucination.DefaultConfig(), logger, nil),
		Analyzer:     analyzer,
	}, content, logger, nil)
	return fixture{p: p, local: local, gate: gate}
}

func (f fixture) chunk(index int, pcm []byte, hist *hallucination.Context) ChunkInput {
	return ChunkInput{
		SessionID:         "session-1",
		ChunkIndex:        index,
		PCM:               pcm,
		SessionDurationMs: audio.DurationMs(pcm) * int64(index+1),
		Detector:          f.gate.NewDetector(),
		History:           hist,
	}
}

func TestProcessChunk_SilenceSkipsInference(t *testing.T) {
	f := newFixture(t, params.ContentUnknown)
	out := f.p.ProcessChunk(context.Background(), f.chunk(0, make([]byte, 2*audio.SampleRate*2), nil))

	if out.Transcript != "" || out.Reason != ReasonNoSpeech {
		t.Errorf("expected empty transcript with %s, got %q/%q", ReasonNoSpeech, out.Transcript, out.Reason)
	}
	if !out.Success || !out.Stats.IsSilent {
		t.Errorf("expected successful silent result, got %+v", out.Stats)
	}
	if out.Stats.DurationMs != 2000 {
		t.Errorf("expected 2000ms, got %d", out.Stats.DurationMs)
	}
	if f.local.Calls() != 0 {
		t.Errorf("backend should not be called for silence, got %d calls", f.local.Calls())
	}
}

func TestProcessChunk_Speech(t *testing.T) {
	f := newFixture(t, params.ContentUnknown)
	hist := hallucination.NewContext(10)

	out := f.p.ProcessChunk(context.Background(), f.chunk(0, tonePCM(1), hist))
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if out.Transcript != mock.DefaultUtterances[0].Text {
		t.Errorf("unexpected transcript %q (reason %q)", out.Transcript, out.Reason)
	}
	if out.Backend != "mock-local" || out.FallbackUsed {
		t.Errorf("unexpected backend %q fallback=%v", out.Backend, out.FallbackUsed)
	}
	if out.Confidence <= 0 || out.Confidence > 1 || out.Report == nil {
		t.Errorf("unexpected confidence %f", out.Confidence)
	}
	if out.ContentType != params.ContentQASession {
		t.Errorf("expected short session to detect qa_session, got %s", out.ContentType)
	}
	if !hist.Contains(out.Transcript) {
		t.Error("accepted transcript should be added to history")
	}

	reqs := f.local.Requests()
	if len(reqs) != 1 || reqs[0].Priority != stt.PriorityHigh || reqs[0].Final {
		t.Errorf("unexpected requests %+v", reqs)
	}
}

func TestProcessChunk_OddLengthPCM(t *testing.T) {
	f := newFixture(t, params.ContentUnknown)
	pcm := append(tonePCM(0.5), 0x7f)

	out := f.p.ProcessChunk(context.Background(), f.chunk(0, pcm, nil))
	if out.Stats.SampleCount != audio.SampleRate/2 {
		t.Errorf("expected trailing byte dropped, got %d samples", out.Stats.SampleCount)
	}
}

func TestProcessChunk_SuppressesHallucination(t *testing.T) {
	f := newFixture(t, params.ContentUnknown, mock.WithScript(mock.Response{
		Text: "Thanks for watching and please subscribe!", Confidence: 0.8,
	}))

	out := f.p.ProcessChunk(context.Background(), f.chunk(0, tonePCM(1), nil))
	if out.Transcript != "" || out.Reason != ReasonLowConfidence {
		t.Errorf("expected suppression, got %q/%q", out.Transcript, out.Reason)
	}
	if out.RawTranscript == "" || out.Verdict == nil || !out.Verdict.IsHallucination {
		t.Error("raw transcript and verdict should be kept for diagnostics")
	}
	if !out.Success {
		t.Error("suppression is not a failure")
	}
}

func TestProcessChunk_RepeatedAcrossChunks(t *testing.T) {
	f := newFixture(t, params.ContentUnknown, mock.WithScript(mock.Response{
		Text: "Let us move on to the next slide.", Confidence: 0.9,
	}))
	hist := hallucination.NewContext(10)

	first := f.p.ProcessChunk(context.Background(), f.chunk(0, tonePCM(1), hist))
	second := f.p.ProcessChunk(context.Background(), f.chunk(1, tonePCM(1), hist))

	if first.Transcript == "" {
		t.Fatalf("first chunk should pass, reason %q", first.Reason)
	}
	if second.Transcript != "" || !second.Verdict.HasCategory(hallucination.CategoryRepeatedTranscript) {
		t.Errorf("expected repeated transcript suppression, got %q", second.Transcript)
	}
}

func TestProcessChunk_BackendFailure(t *testing.T) {
	f := newFixture(t, params.ContentUnknown, mock.WithScript(mock.Response{Err: errors.New("connection refused")}))

	out := f.p.ProcessChunk(context.Background(), f.chunk(0, tonePCM(1), nil))
	if out.Success || out.Reason != ReasonBackendUnavailable {
		t.Errorf("expected backend failure, got success=%v reason=%q", out.Success, out.Reason)
	}
	if !errors.Is(out.Err, stt.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", out.Err)
	}
}

func TestProcessChunk_ForcedContentType(t *testing.T) {
	f := newFixture(t, params.ContentLecture)
	out := f.p.ProcessChunk(context.Background(), f.chunk(0, tonePCM(1), nil))
	if out.ContentType != params.ContentLecture {
		t.Errorf("expected lecture, got %s", out.ContentType)
	}
}

func TestProcessFinal(t *testing.T) {
	f := newFixture(t, params.ContentUnknown)

	empty := f.p.ProcessFinal(context.Background(), FinalInput{SessionID: "s"})
	if empty.Transcript != "" || empty.Reason != ReasonNoSpeech || f.local.Calls() != 0 {
		t.Errorf("empty final pass should not call the backend, got %+v", empty)
	}

	out := f.p.ProcessFinal(context.Background(), FinalInput{SessionID: "s", PCM: tonePCM(3)})
	if out.Transcript == "" || out.Err != nil {
		t.Fatalf("expected final transcript, got %q (%v)", out.Transcript, out.Err)
	}
	reqs := f.local.Requests()
	if len(reqs) != 1 || !reqs[0].Final || reqs[0].ChunkIndex != -1 {
		t.Fatalf("expected one final request, got %+v", reqs)
	}
	if !reqs[0].Params.WordTimestamps {
		t.Error("final pass should request word timestamps")
	}
}
