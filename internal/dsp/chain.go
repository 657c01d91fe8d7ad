package dsp

import (
	"log/slog"
	"math"

	"github.com/MomoPewpew/Orpheus/internal/model"
)

const nyquist = 24000.0 // SampleRate/2 for the engine's fixed 48kHz rate

// Chain is the mixer's per-environment-free, global effects chain: high/low
// pass filtering, then compression, then (optionally) speech-range ducking.
// It owns all persistent filter state, so one Chain must be reused across
// chunks for a given channel count — never rebuilt per chunk, or every
// section resets and the response clicks at every chunk boundary.
type Chain struct {
	sampleRate float64
	channels   int

	highPass *ButterworthFilter
	lowPass  *ButterworthFilter
	hpFreq   float64
	lpFreq   float64

	compPrevGain []float64
	compRatio    float64

	duckLow, duckMid, duckHigh *BandPassFilter
	duckAmount                 float64

	logger *slog.Logger
}

// NewChain creates an effects chain for the given channel count and sample
// rate. Filter sections are (re)built lazily, on first Process call or
// whenever the requested cutoff changes, mirroring the original mixer's
// lazily-initialized `_high_pass_state`/`_low_pass_state`.
func NewChain(channels int, sampleRate float64, logger *slog.Logger) *Chain {
	prevGain := make([]float64, channels)
	for i := range prevGain {
		prevGain[i] = 1
	}
	return &Chain{
		sampleRate:   sampleRate,
		channels:     channels,
		compPrevGain: prevGain,
		compRatio:    1,
		logger:       logger,
	}
}

// Process applies the full chain in place to an interleaved stereo float32
// chunk, using effects as the current effective settings and
// hasVoiceActivity reporting whether the remote party is currently talking
// (gates the speech ducker).
func (c *Chain) Process(chunk []float32, effects model.Effects, hasVoiceActivity bool) {
	c.applyFilters(chunk, effects.Filters)
	c.applyCompressor(chunk, effects.Compressor)
	if hasVoiceActivity {
		c.applySpeechDamping(chunk, effects.Filters.DampenSpeechRange)
	}
}

// applyFilters mirrors _apply_filters: skipped entirely when high-pass is
// off and low-pass sits at the Nyquist-adjacent default, to avoid spending
// CPU (and introducing any filter coloration) on the common case.
func (c *Chain) applyFilters(chunk []float32, f model.Filters) {
	hp := f.HighPass.FrequencyHz
	lp := f.LowPass.FrequencyHz
	if hp == 0 && lp == 20000 {
		return
	}

	if hp > 0 {
		if c.highPass == nil || c.hpFreq != hp {
			c.highPass = NewButterworthFilter(c.channels, hp, c.sampleRate, true)
			c.hpFreq = hp
		}
		c.filterInPlace(chunk, c.highPass)
	}
	if lp < nyquist*2 {
		if c.lowPass == nil || c.lpFreq != lp {
			c.lowPass = NewButterworthFilter(c.channels, lp, c.sampleRate, false)
			c.lpFreq = lp
		}
		c.filterInPlace(chunk, c.lowPass)
	}
}

func (c *Chain) filterInPlace(chunk []float32, f *ButterworthFilter) {
	frames := len(chunk) / c.channels
	for i := 0; i < frames; i++ {
		for ch := 0; ch < c.channels; ch++ {
			idx := i*c.channels + ch
			chunk[idx] = float32(f.Process(ch, float64(chunk[idx])))
		}
	}
}

// applyCompressor mirrors _apply_compressor: a peak-following two-sided
// threshold compressor, gain-smoothed across chunks per channel.
func (c *Chain) applyCompressor(chunk []float32, comp model.Compressor) {
	if comp.Ratio == 1 {
		return
	}
	c.compRatio = comp.Ratio
	frames := len(chunk) / c.channels

	for ch := 0; ch < c.channels; ch++ {
		peak := 0.0
		for i := 0; i < frames; i++ {
			v := math.Abs(float64(chunk[i*c.channels+ch]))
			if v > peak {
				peak = v
			}
		}
		if peak == 0 {
			continue
		}
		peakDB := 20 * math.Log10(peak)

		var targetGain float64
		switch {
		case peakDB > comp.LowThresholdDB && peakDB < comp.HighThresholdDB:
			targetGain = 1
		case peakDB <= comp.LowThresholdDB:
			dbBelow := comp.LowThresholdDB - peakDB
			gainDB := dbBelow / comp.Ratio
			targetGain = math.Pow(10, gainDB/20)
		default:
			dbAbove := peakDB - comp.HighThresholdDB
			gainDB := -dbAbove * (1 - 1/comp.Ratio)
			targetGain = math.Pow(10, gainDB/20)
		}

		const smoothing = 0.9
		gain := smoothing*c.compPrevGain[ch] + (1-smoothing)*targetGain
		c.compPrevGain[ch] = gain

		for i := 0; i < frames; i++ {
			idx := i*c.channels + ch
			v := float64(chunk[idx]) * gain
			chunk[idx] = float32(clip(v, -1, 1))
		}
	}
}

// applySpeechDamping mirrors _apply_speech_dampening: three weighted
// bandpass bands approximate the speech envelope, which is then subtracted
// back proportionally to the configured ducking amount. NaN propagation
// from an ill-conditioned filter state resets all three band filters' state and leaves
// the chunk untouched for this call, exactly as the original does.
func (c *Chain) applySpeechDamping(chunk []float32, dampen model.DampenSpeechRange) {
	if dampen.Amount == 0 {
		return
	}
	if c.duckLow == nil {
		c.duckLow = NewBandPassFilter(c.channels, 100, 600, c.sampleRate)
		c.duckMid = NewBandPassFilter(c.channels, 600, 2000, c.sampleRate)
		c.duckHigh = NewBandPassFilter(c.channels, 2000, 4000, c.sampleRate)
	}

	frames := len(chunk) / c.channels
	speechRange := make([]float64, len(chunk))
	nan := false

	for ch := 0; ch < c.channels; ch++ {
		for i := 0; i < frames; i++ {
			idx := i*c.channels + ch
			x := float64(chunk[idx])
			low := c.duckLow.Process(ch, x)
			mid := c.duckMid.Process(ch, x)
			high := c.duckHigh.Process(ch, x)
			v := low*1.0 + mid*1.5 + high*0.5
			if math.IsNaN(v) {
				nan = true
			}
			speechRange[idx] = v
		}
	}

	if nan {
		if c.logger != nil {
			c.logger.Warn("NaN in speech range, resetting ducker filter state")
		}
		c.duckLow.Reset()
		c.duckMid.Reset()
		c.duckHigh.Reset()
		return
	}

	attenuationDB := -24.0 * dampen.Amount
	attenuationFactor := math.Pow(10, attenuationDB/20)

	result := make([]float64, len(chunk))
	for i := range chunk {
		result[i] = float64(chunk[i]) - speechRange[i]*(1-attenuationFactor)
		if math.IsNaN(result[i]) {
			if c.logger != nil {
				c.logger.Warn("NaN after speech dampening, discarding result for this chunk")
			}
			return
		}
	}
	for i := range chunk {
		chunk[i] = float32(result[i])
	}
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
