package dsp

import (
	"math"
	"testing"

	"github.com/MomoPewpew/Orpheus/internal/model"
)

func TestApplyFiltersSkippedAtDefaultSettings(t *testing.T) {
	c := NewChain(2, 48000, nil)
	chunk := []float32{0.5, -0.5, 0.25, -0.25}
	want := append([]float32(nil), chunk...)

	c.applyFilters(chunk, model.DefaultEffects().Filters)
	for i := range chunk {
		if chunk[i] != want[i] {
			t.Fatalf("applyFilters mutated chunk at default settings: got %v, want %v", chunk, want)
		}
	}
}

func TestLowPassAttenuatesHighFrequencyMoreThanLow(t *testing.T) {
	const sr = 48000.0
	filters := model.Filters{
		HighPass: model.FrequencyFilter{FrequencyHz: 0},
		LowPass:  model.FrequencyFilter{FrequencyHz: 500},
	}

	lowToneRMS := rmsAfterFilter(t, sr, filters, 100)
	highToneRMS := rmsAfterFilter(t, sr, filters, 8000)

	if highToneRMS >= lowToneRMS {
		t.Fatalf("500Hz low-pass should attenuate an 8kHz tone more than a 100Hz tone: low=%v high=%v", lowToneRMS, highToneRMS)
	}
}

func rmsAfterFilter(t *testing.T, sampleRate float64, filters model.Filters, toneHz float64) float64 {
	t.Helper()
	c := NewChain(2, sampleRate, nil)
	n := int(sampleRate) // 1 second, plenty of settling time
	chunk := make([]float32, n*2)
	for i := 0; i < n; i++ {
		v := float32(math.Sin(2 * math.Pi * toneHz * float64(i) / sampleRate))
		chunk[i*2] = v
		chunk[i*2+1] = v
	}
	c.applyFilters(chunk, filters)

	// RMS over the settled second half only, to avoid filter ring-up.
	sumSq := 0.0
	count := 0
	for i := n / 2; i < n; i++ {
		v := float64(chunk[i*2])
		sumSq += v * v
		count++
	}
	return math.Sqrt(sumSq / float64(count))
}

func TestCompressorNoopAtUnityRatio(t *testing.T) {
	c := NewChain(2, 48000, nil)
	chunk := []float32{0.9, -0.9, 0.8, -0.8}
	want := append([]float32(nil), chunk...)

	c.applyCompressor(chunk, model.Compressor{Ratio: 1})
	for i := range chunk {
		if chunk[i] != want[i] {
			t.Fatalf("compressor mutated chunk at ratio 1: got %v, want %v", chunk, want)
		}
	}
}

func TestCompressorAttenuatesAboveHighThreshold(t *testing.T) {
	c := NewChain(1, 48000, nil)
	comp := model.Compressor{LowThresholdDB: -60, HighThresholdDB: -12, Ratio: 4}

	chunk := make([]float32, 64)
	for i := range chunk {
		chunk[i] = 0.99
	}
	before := chunk[0]
	c.applyCompressor(chunk, comp)
	if chunk[0] >= before {
		t.Fatalf("compressor should reduce a chunk peaking well above the high threshold: got %v, want < %v", chunk[0], before)
	}
	if chunk[0] <= 0 {
		t.Fatalf("compressor should not fully silence the signal: got %v", chunk[0])
	}
}

func TestSpeechDampingNoopWhenAmountZero(t *testing.T) {
	c := NewChain(2, 48000, nil)
	chunk := []float32{0.5, -0.5, 0.25, -0.25}
	want := append([]float32(nil), chunk...)

	c.applySpeechDamping(chunk, model.DampenSpeechRange{Amount: 0})
	for i := range chunk {
		if chunk[i] != want[i] {
			t.Fatalf("speech damping mutated chunk at amount 0: got %v, want %v", chunk, want)
		}
	}
}

func TestSpeechDampingReducesMidBandEnergy(t *testing.T) {
	const sr = 48000.0
	n := int(sr)
	toneHz := 1000.0 // squarely in the mid speech band

	build := func() []float32 {
		chunk := make([]float32, n*2)
		for i := 0; i < n; i++ {
			v := float32(0.5 * math.Sin(2*math.Pi*toneHz*float64(i)/sr))
			chunk[i*2] = v
			chunk[i*2+1] = v
		}
		return chunk
	}

	dampen := model.DampenSpeechRange{Amount: 1}
	damped := build()
	c := NewChain(2, sr, nil)
	c.applySpeechDamping(damped, dampen)

	undamped := build()

	rms := func(chunk []float32) float64 {
		sumSq := 0.0
		count := 0
		for i := n / 2; i < n; i++ {
			v := float64(chunk[i*2])
			sumSq += v * v
			count++
		}
		return math.Sqrt(sumSq / float64(count))
	}

	if rms(damped) >= rms(undamped) {
		t.Fatalf("full-amount ducking should reduce mid-band energy: damped=%v undamped=%v", rms(damped), rms(undamped))
	}
}

func TestChimeProducesNonEmptyStereoTone(t *testing.T) {
	chime := NewChime(48000)
	out := chime.Tone(ChimeSoundboardTriggered)
	if len(out) == 0 {
		t.Fatal("expected non-empty tone")
	}
	if len(out)%2 != 0 {
		t.Fatal("tone must be interleaved stereo (even length)")
	}
	for _, v := range out {
		if v > chimeVolume+1e-6 || v < -chimeVolume-1e-6 {
			t.Fatalf("sample %v exceeds configured chime volume %v", v, chimeVolume)
		}
	}
}
