package dsp

import "math"

// Chime generates a short sine-tone acknowledgement for the soundboard
// trigger HTTP endpoint, grounded in the teacher's notification tone
// synthesis: a linear-envelope sine burst, not mixed into the layer and
// environment mix — mixer.AcknowledgeSoundboard queues the returned PCM to
// the transport adapter as a frame of its own.
type Chime struct {
	sampleRate int
}

// NewChime builds a generator for the given sample rate.
func NewChime(sampleRate int) *Chime {
	return &Chime{sampleRate: sampleRate}
}

// ChimeKind identifies which acknowledgement tone to synthesize.
type ChimeKind int

const (
	ChimeSoundboardTriggered ChimeKind = iota
	ChimeReconcileApplied
)

const chimeVolume = 0.18

// Tone generates interleaved stereo float32 PCM for kind.
func (c *Chime) Tone(kind ChimeKind) []float32 {
	type tone struct {
		freqHz float64
		durMs  int
	}
	var tones []tone
	switch kind {
	case ChimeSoundboardTriggered:
		tones = []tone{{880, 60}}
	case ChimeReconcileApplied:
		tones = []tone{{523, 50}, {784, 70}}
	default:
		return nil
	}

	var out []float32
	for _, t := range tones {
		out = append(out, c.sineTone(t.freqHz, t.durMs)...)
	}
	return out
}

// sineTone synthesizes durationMs of a sine wave at freqHz with a 5ms
// linear fade in/out, duplicated across both stereo channels.
func (c *Chime) sineTone(freqHz float64, durationMs int) []float32 {
	totalSamples := c.sampleRate * durationMs / 1000
	fadeLen := c.sampleRate * 5 / 1000
	if fadeLen > totalSamples/2 {
		fadeLen = totalSamples / 2
	}

	out := make([]float32, totalSamples*2)
	for i := 0; i < totalSamples; i++ {
		t := float64(i) / float64(c.sampleRate)
		s := math.Sin(2 * math.Pi * freqHz * t)

		env := 1.0
		if i < fadeLen {
			env = float64(i) / float64(fadeLen)
		} else if i >= totalSamples-fadeLen {
			env = float64(totalSamples-1-i) / float64(fadeLen)
		}

		v := float32(s * env * chimeVolume)
		out[i*2] = v
		out[i*2+1] = v
	}
	return out
}
