package preprocess

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/rs/zerolog"

	"ai-lecture-transcriber/internal/service/audio"
)

func newTestProcessor(cfg Config) *Processor {
	return New(cfg, zerolog.Nop(), nil)
}

func tone(freq, amplitude float64, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amplitude * math.Sin(2*math.Pi*freq*float64(i)/audio.SampleRate))
	}
	return out
}

func TestProcess_AllStagesApplied(t *testing.T) {
	p := newTestProcessor(DefaultConfig())
	res := p.Process(Input{Samples: tone(440, 0.3, 16000), SampleRate: 16000, Channels: 1})

	if len(res.Stages) != 6 {
		t.Fatalf("expected 6 stage reports, got %d", len(res.Stages))
	}
	for _, st := range res.Stages {
		if !st.Applied {
			t.Errorf("stage %s not applied: %s", st.Stage, st.Error)
		}
	}
	if len(res.Samples) != 16000 {
		t.Errorf("expected length to be preserved, got %d", len(res.Samples))
	}
	if res.Stats.MaxLevel > 0.95 {
		t.Errorf("peak %f exceeds 0.95", res.Stats.MaxLevel)
	}
}

func TestProcess_Idempotent(t *testing.T) {
	p := newTestProcessor(DefaultConfig())
	first := p.Process(Input{Samples: tone(440, 0.3, 32000), SampleRate: 16000, Channels: 1})
	second := p.Process(Input{Samples: first.Samples, SampleRate: first.SampleRate, Channels: first.Channels})

	if d := math.Abs(first.Stats.MaxLevel - second.Stats.MaxLevel); d > 0.02 {
		t.Errorf("peak drifted by %f on second pass (%f -> %f)", d, first.Stats.MaxLevel, second.Stats.MaxLevel)
	}
	if d := math.Abs(first.Stats.RMSLevel - second.Stats.RMSLevel); d > 0.02 {
		t.Errorf("rms drifted by %f on second pass", d)
	}
}

// speechLike is a 150 Hz voice with two harmonics under a 4 Hz syllable
// envelope plus Gaussian noise.
func speechLike(n int, seed uint64) []float32 {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	out := make([]float32, n)
	for i := range out {
		ts := float64(i) / audio.SampleRate
		env := 0.5 + 0.5*math.Sin(2*math.Pi*4*ts)
		v := math.Sin(2*math.Pi*150*ts) + 0.5*math.Sin(2*math.Pi*300*ts) + 0.25*math.Sin(2*math.Pi*450*ts)
		out[i] = float32(0.2*env*v + 0.02*rng.NormFloat64())
	}
	return out
}

// Noise reduction and formant boost are not exact fixed points on noisy
// input, so repeated passes may move the peak by a few hundredths.
const noisyPassTolerance = 0.05

func TestProcess_RepeatedPassesOnNoisySpeechStayBounded(t *testing.T) {
	p := newTestProcessor(DefaultConfig())
	in := Input{Samples: speechLike(32000, 7), SampleRate: 16000, Channels: 1}
	first := p.Process(in)

	prev := first
	for pass := 2; pass <= 4; pass++ {
		next := p.Process(Input{Samples: prev.Samples, SampleRate: prev.SampleRate, Channels: prev.Channels})
		if len(next.Samples) != len(first.Samples) {
			t.Fatalf("pass %d changed length to %d", pass, len(next.Samples))
		}
		if d := math.Abs(next.Stats.MaxLevel - first.Stats.MaxLevel); d > noisyPassTolerance {
			t.Errorf("pass %d peak drifted by %f (%f -> %f)", pass, d, first.Stats.MaxLevel, next.Stats.MaxLevel)
		}
		if d := math.Abs(next.Stats.RMSLevel - first.Stats.RMSLevel); d > noisyPassTolerance {
			t.Errorf("pass %d rms drifted by %f", pass, d)
		}
		if next.Stats.MaxLevel > 0.95 {
			t.Errorf("pass %d peak %f exceeds 0.95", pass, next.Stats.MaxLevel)
		}
		prev = next
	}
}

func TestProcess_QuietInputIsAmplifiedWithinBounds(t *testing.T) {
	p := newTestProcessor(DefaultConfig())
	res := p.Process(Input{Samples: tone(440, 0.01, 16000), SampleRate: 16000, Channels: 1})

	if res.Stats.MaxLevel <= 0.01 {
		t.Errorf("expected gain to be applied, peak=%f", res.Stats.MaxLevel)
	}
	if res.Stats.MaxLevel > limiterLevel+1e-6 {
		t.Errorf("peak %f exceeds limiter", res.Stats.MaxLevel)
	}
	gain := res.Stages[1].Metadata["gain"]
	if gain < 0.1 || gain > 20 {
		t.Errorf("gain %f outside [0.1, 20]", gain)
	}
}

func TestProcess_StereoAndResample(t *testing.T) {
	mono := make([]float32, 8000)
	copy(mono, tone(300, 0.3, 8000))
	stereo := make([]float32, 0, 16000)
	for _, s := range mono {
		stereo = append(stereo, s, s)
	}

	p := newTestProcessor(DefaultConfig())
	res := p.Process(Input{Samples: stereo, SampleRate: 8000, Channels: 2})

	if res.Channels != 1 {
		t.Errorf("expected mono output, got %d channels", res.Channels)
	}
	if res.SampleRate != audio.SampleRate {
		t.Errorf("expected %d Hz, got %d", audio.SampleRate, res.SampleRate)
	}
	if len(res.Samples) != 16000 {
		t.Errorf("expected 16000 samples after resampling, got %d", len(res.Samples))
	}
	if len(res.Warnings) == 0 {
		t.Error("expected a resampling warning")
	}
}

func TestProcess_DisabledStages(t *testing.T) {
	in := tone(440, 0.3, 4000)
	p := newTestProcessor(Config{})
	res := p.Process(Input{Samples: in, SampleRate: 16000, Channels: 1})

	for _, st := range res.Stages {
		if st.Applied {
			t.Errorf("stage %s should be disabled", st.Stage)
		}
	}
	for i := range in {
		if in[i] != res.Samples[i] {
			t.Fatalf("sample %d changed with all stages disabled", i)
		}
	}
}

func TestProcess_Empty(t *testing.T) {
	p := newTestProcessor(DefaultConfig())
	res := p.Process(Input{})
	if len(res.Samples) != 0 {
		t.Errorf("expected no samples, got %d", len(res.Samples))
	}
	if !res.Stats.IsSilent {
		t.Error("expected silent stats for empty input")
	}
}

func TestRunStage_FailurePassesThrough(t *testing.T) {
	p := newTestProcessor(DefaultConfig())
	in := tone(440, 0.3, 1024)
	st := &runState{sampleRate: 16000, channels: 1}

	tests := []struct {
		name string
		fn   stageFunc
	}{
		{"error", func([]float32, *runState) ([]float32, map[string]float64, error) {
			return nil, nil, errors.New("boom")
		}},
		{"panic", func([]float32, *runState) ([]float32, map[string]float64, error) {
			panic("boom")
		}},
		{"nan", func(s []float32, _ *runState) ([]float32, map[string]float64, error) {
			out := append([]float32(nil), s...)
			out[3] = float32(math.NaN())
			return out, nil, nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, report := p.runStage("test", tt.fn, in, st)
			if report.Applied {
				t.Error("failed stage reported as applied")
			}
			if report.Error == "" {
				t.Error("expected error in report")
			}
			if len(out) != len(in) || &out[0] != &in[0] {
				t.Error("expected input to be passed through")
			}
		})
	}
}

func TestValidate_DCOffsetAndClipping(t *testing.T) {
	in := tone(440, 0.5, 4000)
	for i := range in {
		in[i] += 0.3
	}
	out, meta, err := validate(in, &runState{sampleRate: 16000, channels: 1})
	if err != nil {
		t.Fatal(err)
	}
	if meta["dcCorrected"] != 1 {
		t.Error("expected DC correction")
	}
	var sum float64
	for _, s := range out {
		sum += float64(s)
	}
	if mean := sum / float64(len(out)); math.Abs(mean) > 0.01 {
		t.Errorf("residual DC offset %f", mean)
	}
	if peak, _ := peakAndRMS(out); peak > 0.95+1e-6 {
		t.Errorf("peak %f not renormalized", peak)
	}
}

func TestValidate_LowDynamicRangeWarnsOnly(t *testing.T) {
	in := make([]float32, 1000)
	for i := range in {
		in[i] = 0.2
		if i%2 == 1 {
			in[i] = -0.2
		}
	}
	st := &runState{sampleRate: 16000, channels: 1}
	out, _, err := validate(in, st)
	if err != nil {
		t.Fatal(err)
	}
	if len(st.warnings) != 1 {
		t.Errorf("expected one warning, got %v", st.warnings)
	}
	if out[0] != in[0] {
		t.Error("low dynamic range must not alter audio")
	}
}

func TestCompress_LimitsPeaks(t *testing.T) {
	out, _, err := compress(tone(200, 1.0, 16000), &runState{sampleRate: 16000, channels: 1})
	if err != nil {
		t.Fatal(err)
	}
	if peak, _ := peakAndRMS(out); peak > limiterLevel+1e-6 {
		t.Errorf("peak %f above limiter", peak)
	}
}

func TestReduceNoise_RemovesHum(t *testing.T) {
	hum := tone(60, 0.2, 32000)
	speech := tone(1000, 0.2, 32000)
	mixed := make([]float32, len(hum))
	for i := range mixed {
		mixed[i] = hum[i] + speech[i]
	}

	out, _, err := reduceNoise(mixed, &runState{sampleRate: 16000, channels: 1})
	if err != nil {
		t.Fatal(err)
	}
	humIn := bandEnergyRatio(mixed, 16000, 40, 80)
	humOut := bandEnergyRatio(out, 16000, 40, 80)
	if humOut >= humIn {
		t.Errorf("expected hum energy share to drop, in=%f out=%f", humIn, humOut)
	}
}

func TestSpectralRoundTrip(t *testing.T) {
	in := tone(523, 0.4, 5000)
	out := analyze(in, 16000).synthesize()
	for i := range in {
		if math.Abs(float64(in[i]-out[i])) > 1e-4 {
			t.Fatalf("sample %d: got %f, want %f", i, out[i], in[i])
		}
	}
}

func TestCompatibility(t *testing.T) {
	speechLike := tone(1000, 0.5, 16000)
	if c := compatibility(speechLike, 16000, 1); c < 0.99 {
		t.Errorf("expected full score for in-band tone, got %f", c)
	}
	if c := compatibility(make([]float32, 16000), 16000, 1); c > 0.41 {
		t.Errorf("silence should only score format points, got %f", c)
	}
}
