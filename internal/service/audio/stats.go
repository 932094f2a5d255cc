// Package audio provides PCM decoding, level statistics and WAV encoding
// for 16-bit little-endian mono chunks.
package audio

import (
	"encoding/binary"
	"math"

	"github.com/rs/zerolog/log"
)

const (
	// SampleRate is the only rate the pipeline accepts from clients.
	SampleRate = 16000

	// BytesPerSample for 16-bit PCM.
	BytesPerSample = 2

	silenceDBFS     = -45.0
	silenceMaxLevel = 0.001

	deepSilenceDBFS     = -50.0
	deepSilenceMaxLevel = 0.0005

	// floorDBFS is reported for digital silence instead of -Inf.
	floorDBFS = -100.0
)

// Stats summarizes the level of a chunk.
type Stats struct {
	MaxLevel    float64 `json:"maxLevel"`
	RMSLevel    float64 `json:"rmsLevel"`
	DBFS        float64 `json:"dbfs"`
	IsSilent    bool    `json:"isSilent"`
	DurationMs  int64   `json:"durationMs"`
	SampleCount int     `json:"sampleCount"`
}

// IsDeepSilence reports whether the chunk is quiet enough to skip voice
// activity detection entirely.
func (s Stats) IsDeepSilence() bool {
	return s.DBFS < deepSilenceDBFS && s.MaxLevel < deepSilenceMaxLevel
}

// ComputeStats decodes pcm and computes its level statistics.
// A trailing odd byte is dropped with a warning.
func ComputeStats(pcm []byte) Stats {
	samples, truncated := DecodePCM16(pcm)
	if truncated {
		log.Warn().
			Str("component", "audio").
			Int("bytes", len(pcm)).
			Msg("Odd PCM byte length, dropping trailing byte")
	}
	return StatsFromSamples(samples, SampleRate)
}

// StatsFromSamples computes statistics for normalized samples in [-1, 1].
func StatsFromSamples(samples []float32, sampleRate int) Stats {
	if len(samples) == 0 || sampleRate <= 0 {
		return Stats{DBFS: floorDBFS, IsSilent: true}
	}

	var peak, sumSquares float64
	for _, s := range samples {
		v := math.Abs(float64(s))
		if v > peak {
			peak = v
		}
		sumSquares += float64(s) * float64(s)
	}
	rms := math.Sqrt(sumSquares / float64(len(samples)))

	st := Stats{
		MaxLevel:    peak,
		RMSLevel:    rms,
		DBFS:        ToDBFS(rms),
		SampleCount: len(samples),
		DurationMs:  int64(len(samples)) * 1000 / int64(sampleRate),
	}
	st.IsSilent = st.DBFS < silenceDBFS || st.MaxLevel < silenceMaxLevel
	return st
}

// ToDBFS converts a linear level to dBFS, clamped at the floor.
func ToDBFS(level float64) float64 {
	if level <= 0 {
		return floorDBFS
	}
	db := 20 * math.Log10(level)
	if db < floorDBFS {
		return floorDBFS
	}
	return db
}

// DecodePCM16 converts little-endian 16-bit PCM into samples in [-1, 1).
// It reports whether a trailing odd byte was ignored.
func DecodePCM16(pcm []byte) ([]float32, bool) {
	truncated := len(pcm)%BytesPerSample != 0
	n := len(pcm) / BytesPerSample
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(v) / 32768.0
	}
	return samples, truncated
}

// EncodePCM16 converts samples back to little-endian 16-bit PCM, clipping
// values outside [-1, 1].
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		v := float64(s) * 32767.0
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(math.Round(v))))
	}
	return out
}

// DurationMs returns the playback length of pcm at the pipeline sample rate.
func DurationMs(pcm []byte) int64 {
	return int64(len(pcm)/BytesPerSample) * 1000 / SampleRate
}
