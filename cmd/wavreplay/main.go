// Command wavreplay streams a 16 kHz mono WAV file through an in-process
// transcriber in fixed-size chunks and prints every update.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"ai-lecture-transcriber/internal/app"
	"ai-lecture-transcriber/internal/config"
	"ai-lecture-transcriber/internal/service/audio"
)

func main() {
	audioFile := flag.String("audio", "testdata/lecture-16khz.wav", "Path to WAV file (16kHz 16-bit mono)")
	chunk := flag.Duration("chunk", 3*time.Second, "Audio per pushed chunk")
	realtime := flag.Bool("realtime", false, "Pace chunks at playback speed")
	localProvider := flag.String("local", "", "Override the local provider (whisper, mock, none)")
	remoteProvider := flag.String("remote", "", "Override the remote provider (openai, google, mock, none)")
	clientID := flag.String("client", "wavreplay", "Client ID")
	flag.Parse()

	data, err := os.ReadFile(*audioFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read audio file")
	}
	pcm, sampleRate, channels, err := audio.ParseWAV(data)
	if err != nil {
		log.Fatal().Err(err).Msg("Not a valid WAV file")
	}
	if sampleRate != audio.SampleRate || channels != 1 {
		log.Fatal().Int("sampleRate", sampleRate).Int("channels", channels).Msg("Only 16kHz mono PCM is supported")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *localProvider != "" {
		cfg.Transcription.Local.Provider = *localProvider
	}
	if *remoteProvider != "" {
		cfg.Transcription.Remote.Provider = *remoteProvider
	}
	cfg.Session.GracePeriod = 0

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}
	if err := application.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = application.Shutdown(shutdownCtx)
	}()

	orch := application.Orchestrator
	snap, err := orch.StartSession(ctx, *clientID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start session")
	}
	updates, unsubscribe, err := orch.Subscribe(snap.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to subscribe")
	}
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for u := range updates {
			switch {
			case u.Chunk != nil:
				fmt.Printf("[%6.1fs] #%d %s (%.2f, %s)\n",
					float64(u.Chunk.TotalDurationMs)/1000, u.Chunk.ChunkIndex, u.Chunk.Text, u.Chunk.Confidence, u.Chunk.Backend)
			case u.Final != nil:
				fmt.Printf("final %s: %d chunks\n", u.Final.Status, u.Final.TotalChunks)
			}
		}
	}()

	chunkBytes := int(chunk.Seconds()*audio.SampleRate) * audio.BytesPerSample
	if chunkBytes <= 0 {
		log.Fatal().Dur("chunk", *chunk).Msg("Chunk duration too small")
	}
	start := time.Now()
	for off := 0; off < len(pcm) && ctx.Err() == nil; off += chunkBytes {
		end := min(off+chunkBytes, len(pcm))
		res, err := orch.PushChunk(ctx, snap.ID, pcm[off:end])
		if err != nil {
			log.Error().Err(err).Int("offset", off).Msg("Push failed")
			break
		}
		if res.Reason != "" {
			log.Debug().Int("chunkIndex", res.ChunkIndex).Str("reason", res.Reason).Msg("Chunk produced no text")
		}
		if *realtime {
			time.Sleep(*chunk)
		}
	}
	log.Info().Dur("elapsed", time.Since(start)).Int64("audioMs", audio.DurationMs(pcm)).Msg("Finished streaming")

	final, err := orch.StopSession(ctx, snap.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to stop session")
	}
	<-done

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(final)
}
