package preprocess

import (
	"math"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	frameSize = 1024
	hopSize   = frameSize / 2

	// blockSamples bounds the STFT working set for long buffers.
	blockSamples = 30 * 16000
)

// spectrum is the short-time Fourier transform of a block of samples.
type spectrum struct {
	frames [][]complex128
	binHz  float64
	n      int
	fft    *fourier.FFT
	window []float64
}

// sqrtHann returns a periodic root-Hann window. Used for both analysis and
// synthesis so the squared window sums to one at 50% overlap.
func sqrtHann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = math.Sqrt(0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n))))
	}
	return w
}

func analyze(samples []float32, sampleRate int) *spectrum {
	n := len(samples)
	pad := frameSize - hopSize
	frames := (n+hopSize-1)/hopSize + 1
	padded := make([]float64, (frames-1)*hopSize+frameSize)
	for i, s := range samples {
		padded[pad+i] = float64(s)
	}

	sp := &spectrum{
		frames: make([][]complex128, frames),
		binHz:  float64(sampleRate) / frameSize,
		n:      n,
		fft:    fourier.NewFFT(frameSize),
		window: sqrtHann(frameSize),
	}
	buf := make([]float64, frameSize)
	for f := 0; f < frames; f++ {
		off := f * hopSize
		for i := range buf {
			buf[i] = padded[off+i] * sp.window[i]
		}
		sp.frames[f] = sp.fft.Coefficients(nil, buf)
	}
	return sp
}

// synthesize overlap-adds the (possibly modified) frames back into n samples.
func (sp *spectrum) synthesize() []float32 {
	pad := frameSize - hopSize
	length := (len(sp.frames)-1)*hopSize + frameSize
	acc := make([]float64, length)
	wsum := make([]float64, length)
	seq := make([]float64, frameSize)

	for f, coeff := range sp.frames {
		// gonum's inverse transform is unnormalized.
		sp.fft.Sequence(seq, coeff)
		off := f * hopSize
		for i := range seq {
			acc[off+i] += seq[i] / frameSize * sp.window[i]
			wsum[off+i] += sp.window[i] * sp.window[i]
		}
	}

	out := make([]float32, sp.n)
	for i := range out {
		j := pad + i
		if wsum[j] > 1e-8 {
			out[i] = float32(acc[j] / wsum[j])
		}
	}
	return out
}

// meanMagnitude averages bin magnitudes across frames.
func (sp *spectrum) meanMagnitude() []float64 {
	if len(sp.frames) == 0 {
		return nil
	}
	mean := make([]float64, len(sp.frames[0]))
	for _, frame := range sp.frames {
		for b, c := range frame {
			mean[b] += cmplx.Abs(c)
		}
	}
	for b := range mean {
		mean[b] /= float64(len(sp.frames))
	}
	return mean
}

// applyGain scales every frame by a per-bin gain.
func (sp *spectrum) applyGain(gain func(freqHz float64) float64) {
	if len(sp.frames) == 0 {
		return
	}
	gains := make([]float64, len(sp.frames[0]))
	for b := range gains {
		gains[b] = gain(float64(b) * sp.binHz)
	}
	for _, frame := range sp.frames {
		for b := range frame {
			frame[b] *= complex(gains[b], 0)
		}
	}
}

// processBlocks runs fn on consecutive blocks of at most blockSamples.
func processBlocks(samples []float32, fn func(block []float32) []float32) []float32 {
	if len(samples) <= blockSamples {
		return fn(samples)
	}
	out := make([]float32, 0, len(samples))
	for start := 0; start < len(samples); start += blockSamples {
		end := start + blockSamples
		if end > len(samples) {
			end = len(samples)
		}
		out = append(out, fn(samples[start:end])...)
	}
	return out
}

// bandEnergyRatio returns the share of spectral energy between lo and hi Hz.
func bandEnergyRatio(samples []float32, sampleRate int, lo, hi float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	n := len(samples)
	if n > blockSamples {
		n = blockSamples
	}
	sp := analyze(samples[:n], sampleRate)
	var band, total float64
	for _, frame := range sp.frames {
		for b, c := range frame {
			p := real(c)*real(c) + imag(c)*imag(c)
			total += p
			if f := float64(b) * sp.binHz; f >= lo && f <= hi {
				band += p
			}
		}
	}
	if total == 0 {
		return 0
	}
	return band / total
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(math.Round(p * float64(len(sorted)-1)))
	return sorted[idx]
}
