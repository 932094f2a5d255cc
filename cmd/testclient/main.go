// Command testclient runs a synthetic session (tone and silence chunks)
// against mock backends and reports what the pipeline did with each chunk.
package main

import (
	"context"
	"flag"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"ai-lecture-transcriber/internal/app"
	"ai-lecture-transcriber/internal/config"
	"ai-lecture-transcriber/internal/service/audio"
)

func tone(seconds, freq, amplitude float64) []byte {
	samples := make([]float32, int(seconds*audio.SampleRate))
	for i := range samples {
		samples[i] = float32(amplitude * math.Sin(2*math.Pi*freq*float64(i)/audio.SampleRate))
	}
	return audio.EncodePCM16(samples)
}

func silence(seconds float64) []byte {
	return make([]byte, int(seconds*audio.SampleRate)*audio.BytesPerSample)
}

func main() {
	strategy := flag.String("strategy", "local_first", "Engine strategy")
	strict := flag.Bool("strict", false, "Strict hallucination filtering")
	flag.Parse()

	cfg := config.Default()
	cfg.Observability.LogFormat = "console"
	cfg.Transcription.Strategy = *strategy
	cfg.Transcription.StrictFiltering = *strict
	cfg.Transcription.Local.Provider = "mock"
	cfg.Transcription.Remote.Provider = "mock"
	cfg.Session.GracePeriod = 0

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	application, err := app.New(ctx, cfg, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create application")
	}
	if err := application.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start application")
	}
	defer func() { _ = application.Shutdown(context.Background()) }()

	orch := application.Orchestrator
	snap, err := orch.StartSession(ctx, "testclient")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start session")
	}
	log.Info().Str("sessionId", snap.ID).Msg("Session started")

	chunks := [][]byte{
		tone(2, 220, 0.3),
		silence(2),
		tone(3, 180, 0.25),
		tone(0.5, 300, 0.2),
		append(tone(1, 220, 0.3), 0x01),
	}
	for i, pcm := range chunks {
		res, err := orch.PushChunk(ctx, snap.ID, pcm)
		if err != nil {
			log.Fatal().Err(err).Int("chunk", i).Msg("failed to push chunk")
		}
		log.Info().
			Int("chunkIndex", res.ChunkIndex).
			Int("bytes", res.BytesProcessed).
			Bool("silent", res.AudioStats.IsSilent).
			Str("status", res.Status).
			Str("reason", res.Reason).
			Str("transcript", res.Transcript).
			Float64("confidence", res.Confidence).
			Msg("Chunk processed")
	}

	final, err := orch.StopSession(ctx, snap.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to stop session")
	}
	log.Info().
		Str("status", final.Status).
		Int("chunks", final.TotalChunks).
		Int64("durationMs", final.TotalDurationMs).
		Int("paragraphs", len(final.Paragraphs)).
		Float64("confidence", final.Confidence).
		Str("transcript", final.FinalTranscript).
		Msg("Session finalized")

	for kind, s := range application.Engine.Stats() {
		log.Info().Str("backend", kind).Int64("calls", s.Calls).Int64("failures", s.Failures).Dur("avgLatency", s.AvgLatency).Msg("Backend stats")
	}
}
