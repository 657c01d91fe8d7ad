package layer

import "time"

// Fade is a linear amplitude ramp over time, per spec §4.2: before T0 it
// holds V0, between T0 and T1 it interpolates linearly, and after T1 the
// caller should use the live steady-state volume rather than V1 — the fade
// target was only ever "the effective volume as of the moment the fade
// started," not a value to clamp to forever.
type Fade struct {
	Active bool
	T0, T1 time.Duration
	V0, V1 float64
}

// StartFadeIn begins a fade from vStart up to vTarget over durationMs,
// starting at now. Per spec §4.2 "start_fade_in".
func StartFadeIn(now time.Duration, vStart, vTarget float64, durationMs int) Fade {
	return Fade{
		Active: true,
		T0:     now,
		T1:     now + time.Duration(durationMs)*time.Millisecond,
		V0:     vStart,
		V1:     vTarget,
	}
}

// StartFadeOut begins a fade from vStart down to zero over durationMs,
// starting at now. Per spec §4.2 "start_fade_out".
func StartFadeOut(now time.Duration, vStart float64, durationMs int) Fade {
	return StartFadeIn(now, vStart, 0, durationMs)
}

// IsFading reports whether the fade window is currently in progress at now
// (spec §4.2: "start <= now < end").
func (f Fade) IsFading(now time.Duration) bool {
	return f.Active && now >= f.T0 && now < f.T1
}

// ValueAt returns the faded volume at now. steady is the volume to report
// once the fade window has fully elapsed (T1 <= now): not V1, since the
// live effective volume may have already moved on once another edge fires.
func (f Fade) ValueAt(now time.Duration, steady float64) float64 {
	if !f.Active || now >= f.T1 {
		return steady
	}
	if now < f.T0 {
		return f.V0
	}
	span := f.T1 - f.T0
	if span <= 0 {
		return f.V1
	}
	frac := float64(now-f.T0) / float64(span)
	return f.V0 + (f.V1-f.V0)*frac
}
