// Package dsp implements the mixer's per-frame effects chain of spec §4.5:
// high/low-pass filtering, dynamic-range compression, and speech-range
// ducking. Biquad coefficients follow the RBJ Audio-EQ-Cookbook formulas;
// the Q per cascaded section is chosen so two sections in series reproduce
// a 4th-order Butterworth response, matching the original mixer's
// scipy.signal.butter(4, ...) design.
package dsp

import "math"

// biquad is one direct-form-I second-order IIR section with its own state,
// independent per channel.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64 // a0 is normalized to 1
	x1, x2     float64
	y1, y2     float64
}

func (bq *biquad) reset() {
	bq.x1, bq.x2, bq.y1, bq.y2 = 0, 0, 0, 0
}

func (bq *biquad) process(x float64) float64 {
	y := bq.b0*x + bq.b1*bq.x1 + bq.b2*bq.x2 - bq.a1*bq.y1 - bq.a2*bq.y2
	bq.x2, bq.x1 = bq.x1, x
	bq.y2, bq.y1 = bq.y1, y
	return y
}

// butterworthQs holds the pole Q factors for the two cascaded biquad
// sections that make up a 4th-order Butterworth filter (poles at
// cos-spaced angles; Q = 1/(2*cos(theta))).
var butterworthQs = [2]float64{0.5411961, 1.3065630}

// lowPassSection designs one RBJ low-pass biquad at the given Q.
func lowPassSection(freqHz, sampleRate, q float64) biquad {
	w0 := 2 * math.Pi * freqHz / sampleRate
	cosw, sinw := math.Cos(w0), math.Sin(w0)
	alpha := sinw / (2 * q)

	b0 := (1 - cosw) / 2
	b1 := 1 - cosw
	b2 := (1 - cosw) / 2
	a0 := 1 + alpha
	a1 := -2 * cosw
	a2 := 1 - alpha

	return biquad{b0: b0 / a0, b1: b1 / a0, b2: b2 / a0, a1: a1 / a0, a2: a2 / a0}
}

// highPassSection designs one RBJ high-pass biquad at the given Q.
func highPassSection(freqHz, sampleRate, q float64) biquad {
	w0 := 2 * math.Pi * freqHz / sampleRate
	cosw, sinw := math.Cos(w0), math.Sin(w0)
	alpha := sinw / (2 * q)

	b0 := (1 + cosw) / 2
	b1 := -(1 + cosw)
	b2 := (1 + cosw) / 2
	a0 := 1 + alpha
	a1 := -2 * cosw
	a2 := 1 - alpha

	return biquad{b0: b0 / a0, b1: b1 / a0, b2: b2 / a0, a1: a1 / a0, a2: a2 / a0}
}

// bandPassSection designs one RBJ constant 0 dB peak gain band-pass biquad
// spanning [loHz, hiHz], used for the three speech-ducking sub-bands. The
// original mixer designs these as scipy.signal.butter(2, [lo, hi], 'band'),
// a 4th-order (two cascaded biquad) bandpass; each band here likewise
// cascades two identical sections of this design (see NewBandPassFilter),
// centered on the same band and bandwidth.
func bandPassSection(loHz, hiHz, sampleRate float64) biquad {
	centerHz := math.Sqrt(loHz * hiHz)
	bwOctaves := math.Log2(hiHz / loHz)

	w0 := 2 * math.Pi * centerHz / sampleRate
	cosw, sinw := math.Cos(w0), math.Sin(w0)
	alpha := sinw * math.Sinh(math.Ln2/2*bwOctaves*w0/sinw)

	b0 := alpha
	b1 := 0.0
	b2 := -alpha
	a0 := 1 + alpha
	a1 := -2 * cosw
	a2 := 1 - alpha

	return biquad{b0: b0 / a0, b1: b1 / a0, b2: b2 / a0, a1: a1 / a0, a2: a2 / a0}
}

// ButterworthFilter is a 4th-order Butterworth low-pass or high-pass filter
// realized as two cascaded biquad sections per channel, mirroring the
// original mixer's scipy.signal.butter(4, ...) + lfilter-with-carried-state
// design: each channel keeps its own persistent state across chunks so the
// filter response doesn't click at chunk boundaries.
type ButterworthFilter struct {
	sections [][2]biquad // per channel: two cascaded sections
}

// NewButterworthFilter builds a filter for the given number of channels.
// highPass selects high-pass design; otherwise low-pass.
func NewButterworthFilter(channels int, freqHz, sampleRate float64, highPass bool) *ButterworthFilter {
	f := &ButterworthFilter{sections: make([][2]biquad, channels)}
	for ch := range f.sections {
		if highPass {
			f.sections[ch][0] = highPassSection(freqHz, sampleRate, butterworthQs[0])
			f.sections[ch][1] = highPassSection(freqHz, sampleRate, butterworthQs[1])
		} else {
			f.sections[ch][0] = lowPassSection(freqHz, sampleRate, butterworthQs[0])
			f.sections[ch][1] = lowPassSection(freqHz, sampleRate, butterworthQs[1])
		}
	}
	return f
}

// Process filters one sample on the given channel, advancing that channel's
// persistent state.
func (f *ButterworthFilter) Process(channel int, x float64) float64 {
	s := &f.sections[channel]
	return s[1].process(s[0].process(x))
}

// BandPassFilter is a single cascaded-pair band-pass filter per channel,
// used as one of the three speech-ducking sub-bands.
type BandPassFilter struct {
	sections [][2]biquad
}

// NewBandPassFilter builds a band-pass filter spanning [loHz, hiHz].
func NewBandPassFilter(channels int, loHz, hiHz, sampleRate float64) *BandPassFilter {
	f := &BandPassFilter{sections: make([][2]biquad, channels)}
	for ch := range f.sections {
		f.sections[ch][0] = bandPassSection(loHz, hiHz, sampleRate)
		f.sections[ch][1] = bandPassSection(loHz, hiHz, sampleRate)
	}
	return f
}

// Process filters one sample on the given channel.
func (f *BandPassFilter) Process(channel int, x float64) float64 {
	s := &f.sections[channel]
	return s[1].process(s[0].process(x))
}

// Reset clears all channel state (used after a NaN is detected).
func (f *BandPassFilter) Reset() {
	for ch := range f.sections {
		f.sections[ch][0].reset()
		f.sections[ch][1].reset()
	}
}
