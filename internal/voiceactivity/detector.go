// Package voiceactivity classifies whether the remote party on the voice
// transport is currently speaking, gating the DSP chain's speech ducker
// (spec §4.5). It is adapted from the teacher's client-side VAD, which
// decides whether to *transmit* a locally captured frame; here the same
// energy-threshold-plus-hangover algorithm instead decides whether an
// *incoming* decoded frame counts as speech for ducking purposes.
package voiceactivity

import "math"

const (
	// DefaultThreshold is the RMS level above which a frame is classified as
	// speech (~-46 dBFS), matching the teacher's default.
	DefaultThreshold = float32(0.005)

	// DefaultHangover holds the "speaking" state for this many frames after
	// the last frame that crossed the threshold, so the ducker doesn't flap
	// open and closed between words (~400ms at 20ms/frame).
	DefaultHangover = 20
)

// Detector tracks whether the remote party is currently speaking, across a
// stream of incoming decoded audio frames. Not safe for concurrent use; the
// transport adapter that feeds it is its sole owner.
type Detector struct {
	threshold float32
	hangover  int
	remaining int
	enabled   bool
}

// New returns a Detector with the default threshold and hangover, enabled.
func New() *Detector {
	return &Detector{
		threshold: DefaultThreshold,
		hangover:  DefaultHangover,
		enabled:   true,
	}
}

// SetEnabled enables or disables detection. While disabled, Observe always
// reports false (the ducker treats the remote party as always silent).
func (d *Detector) SetEnabled(enabled bool) {
	d.enabled = enabled
	if !enabled {
		d.remaining = 0
	}
}

// Observe classifies one incoming mono (or single-channel-reduced) frame and
// updates the hangover state, returning whether the remote party should be
// considered actively speaking as of this frame.
func (d *Detector) Observe(frame []float32) bool {
	if !d.enabled {
		return false
	}
	rms := RMS(frame)
	if rms > d.threshold {
		d.remaining = d.hangover
		return true
	}
	if d.remaining > 0 {
		d.remaining--
		return true
	}
	return false
}

// Reset clears the hangover counter, e.g. on a transport reconnect.
func (d *Detector) Reset() {
	d.remaining = 0
}

// RMS returns the root-mean-square level of a float32 PCM frame.
func RMS(frame []float32) float32 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return float32(math.Sqrt(sum / float64(len(frame))))
}
