package audio

import (
	"math"
	"sort"
)

// WindowSize is the analysis window shared by the VAD and SNR estimation
// (32 ms at 16 kHz).
const WindowSize = 512

// Quality holds signal measurements beyond plain levels.
type Quality struct {
	CrestFactor float64 `json:"crestFactor"`
	DCOffset    float64 `json:"dcOffset"`
	SNRDB       float64 `json:"snrDb"`
}

// AnalyzeQuality computes crest factor, DC offset and an SNR estimate.
// SNR compares the loud (90th percentile) and quiet (10th percentile)
// window energies; a chunk with fewer than two windows reports 0 dB.
func AnalyzeQuality(samples []float32) Quality {
	if len(samples) == 0 {
		return Quality{}
	}

	var peak, sum, sumSquares float64
	for _, s := range samples {
		v := float64(s)
		if math.Abs(v) > peak {
			peak = math.Abs(v)
		}
		sum += v
		sumSquares += v * v
	}
	n := float64(len(samples))
	rms := math.Sqrt(sumSquares / n)

	q := Quality{DCOffset: sum / n}
	if rms > 0 {
		q.CrestFactor = peak / rms
	}

	energies := windowEnergies(samples, WindowSize)
	if len(energies) < 2 {
		return q
	}
	sort.Float64s(energies)
	noise := percentileSorted(energies, 0.10)
	signal := percentileSorted(energies, 0.90)
	switch {
	case signal <= 0:
		q.SNRDB = 0
	case noise <= 1e-12:
		q.SNRDB = 60
	default:
		q.SNRDB = math.Min(60, 10*math.Log10(signal/noise))
	}
	return q
}

func windowEnergies(samples []float32, size int) []float64 {
	var out []float64
	for start := 0; start+size <= len(samples); start += size {
		var e float64
		for _, s := range samples[start : start+size] {
			e += float64(s) * float64(s)
		}
		out = append(out, e/float64(size))
	}
	return out
}

func percentileSorted(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Round(p * float64(len(sorted)-1)))
	return sorted[idx]
}
