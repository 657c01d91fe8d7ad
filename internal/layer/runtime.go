// Package layer implements the per-layer scheduling state machine of spec
// §4.2: loop position, active-sound selection, chance/cooldown gating, and
// per-sound fades. A Runtime is created lazily on first use and lives in
// the mixer's runtime cache (package mixer); it is looked up by the
// "{layer_id}_{active_file_id}" key described in spec §3, never by a
// back-pointer into the Layer it plays, so a reconcile can swap the whole
// declarative tree without invalidating in-flight playback state.
package layer

import (
	"time"

	"github.com/MomoPewpew/Orpheus/internal/model"
	"github.com/MomoPewpew/Orpheus/internal/registry"
)

// RNG is the random source a Runtime draws its chance roll and shuffle
// picks from. Production code uses the package-level default (unseeded, per
// spec §5); tests inject a seeded one so sequences are reproducible.
type RNG interface {
	Float64() float64 // uniform in [0, 1)
}

// SoundLookup resolves a sound file id to its decoded buffer. Returns nil
// for an id that never loaded or failed to decode — per spec §7 that must
// produce silence, not an error.
type SoundLookup func(fileID string) *registry.Buffer

// Runtime is the live playback state for one layer (or one soundboard
// one-shot). Not safe for concurrent use — the audio thread is its sole
// owner (spec §5).
type Runtime struct {
	rng RNG

	positionInLoop   int
	audioPosition    int
	activeSoundIndex int
	chanceRoll       float64
	cooldownElapsed  int
	hasPlayed        bool
	isFinished       bool

	// Edge-detection snapshot: what was true at the end of the previous
	// frame (spec §4.2's was_playing/previous_volume).
	wasPlaying     bool
	previousVolume float64

	fade Fade
}

// New creates a Runtime for l, seeding its chance roll and initial
// was_playing/previous_volume snapshot exactly as spec §4.2 describes.
func New(l model.Layer, env *model.Environment, effects model.Effects, lookup SoundLookup, rng RNG) *Runtime {
	r := &Runtime{
		rng:              rng,
		activeSoundIndex: clampIndex(l.SelectedSoundIndex, len(l.Sounds)),
		chanceRoll:       rng.Float64(),
		wasPlaying:       true,
	}
	r.previousVolume = r.EffectiveVolume(l, env, effects, lookup)
	return r
}

func clampIndex(idx, length int) int {
	if length == 0 {
		return 0
	}
	if idx < 0 || idx >= length {
		return 0
	}
	return idx
}

// CurrentSound returns the currently active LayerSound, or false if the
// layer has no sounds.
func (r *Runtime) CurrentSound(l model.Layer) (model.LayerSound, bool) {
	if len(l.Sounds) == 0 {
		return model.LayerSound{}, false
	}
	if r.activeSoundIndex >= len(l.Sounds) {
		r.activeSoundIndex = 0
	}
	return l.Sounds[r.activeSoundIndex], true
}

// EffectiveVolume returns the current sound's steady (un-faded) effective
// volume, or 0 if the layer has no sounds.
func (r *Runtime) EffectiveVolume(l model.Layer, env *model.Environment, effects model.Effects, lookup SoundLookup) float64 {
	sound, ok := r.CurrentSound(l)
	if !ok {
		return 0
	}
	return model.EffectiveVolume(env, l, sound, peakOf(lookup, sound.FileID), effects)
}

func peakOf(lookup SoundLookup, fileID string) float64 {
	if lookup == nil {
		return 0
	}
	if buf := lookup(fileID); buf != nil {
		return buf.PeakVolume
	}
	return 0
}

// ShouldPlay evaluates the admission predicate of spec §4.2 using this
// runtime's current chance roll and cooldown counter.
func (r *Runtime) ShouldPlay(l model.Layer, env *model.Environment, freeWeight float64) bool {
	return model.ShouldPlay(env, l, r.chanceRoll, r.cooldownElapsed, freeWeight)
}

// IsFinished reports whether a one-shot runtime has exhausted its audio.
func (r *Runtime) IsFinished() bool { return r.isFinished }

// HasPlayed reports whether this runtime contributed audio during the
// current loop cycle.
func (r *Runtime) HasPlayed() bool { return r.hasPlayed }

// WasPlaying reports whether ShouldPlay was true as of the end of the
// previous frame (used by mixer edge detection).
func (r *Runtime) WasPlaying() bool { return r.wasPlaying }

// PreviousVolume reports the effective volume as of the end of the
// previous frame (used by mixer edge detection).
func (r *Runtime) PreviousVolume() float64 { return r.previousVolume }

// RefreshEdgeState snapshots the current should-play/volume state for the
// next frame's edge detection. Called by the mixer once per frame, after
// any fade injection for this frame has already been decided.
func (r *Runtime) RefreshEdgeState(playing bool, volume float64) {
	r.wasPlaying = playing
	r.previousVolume = volume
}

// StartFadeIn begins a fade-in from vStart to vTarget.
func (r *Runtime) StartFadeIn(now time.Duration, vStart, vTarget float64, durationMs int) {
	r.fade = StartFadeIn(now, vStart, vTarget, durationMs)
}

// StartFadeOut begins a fade-out from vStart to silence.
func (r *Runtime) StartFadeOut(now time.Duration, vStart float64, durationMs int) {
	r.fade = StartFadeOut(now, vStart, durationMs)
}

// IsFading reports whether a fade window is in progress at now.
func (r *Runtime) IsFading(now time.Duration) bool { return r.fade.IsFading(now) }

// VolumeIncludingFade returns the faded volume at now, falling back to
// steady once the fade window elapses.
func (r *Runtime) VolumeIncludingFade(now time.Duration, steady float64) float64 {
	return r.fade.ValueAt(now, steady)
}

// GetNextChunk produces exactly n stereo frames (2*n float32 samples,
// interleaved) per spec §4.2. oneShot layers that have exhausted their
// audio return (nil, true); everything else always returns a full n-frame
// buffer, zero-padded where no audio was available.
func (r *Runtime) GetNextChunk(n int, l model.Layer, env *model.Environment, effects model.Effects, lookup SoundLookup, sampleRate int) ([]float32, bool) {
	out := make([]float32, n*2)

	sound, ok := r.CurrentSound(l)
	if !ok {
		return out, false
	}
	buf := lookup(sound.FileID)
	audioLen := 0
	if buf != nil {
		audioLen = buf.FrameCount()
	}

	loopLen := effectiveLoopFrames(l, sampleRate, audioLen)

	if l.IsOneShot() && r.audioPosition >= audioLen {
		r.isFinished = true
		return nil, true
	}

	remaining := n
	outOffset := 0

	for remaining > 0 {
		if loopLen > 0 && r.positionInLoop >= loopLen {
			if l.IsOneShot() && r.audioPosition >= audioLen {
				r.isFinished = true
				break
			}
			r.endOfLoop(l, env, effects, lookup)
			sound, ok = r.CurrentSound(l)
			if !ok {
				break
			}
			buf = lookup(sound.FileID)
			audioLen = 0
			if buf != nil {
				audioLen = buf.FrameCount()
			}
			loopLen = effectiveLoopFrames(l, sampleRate, audioLen)
		}

		spaceInLoop := remaining
		if loopLen > 0 {
			spaceInLoop = loopLen - r.positionInLoop
		}
		take := remaining
		if spaceInLoop < take {
			take = spaceInLoop
		}
		if take <= 0 {
			break
		}

		if buf != nil && r.audioPosition < audioLen {
			avail := audioLen - r.audioPosition
			copyFrames := take
			if avail < copyFrames {
				copyFrames = avail
			}
			src := buf.Samples[r.audioPosition*2 : (r.audioPosition+copyFrames)*2]
			copy(out[outOffset*2:(outOffset+copyFrames)*2], src)
			r.audioPosition += copyFrames
		} else if l.IsOneShot() {
			// One-shot with no more audio: done, regardless of loop window.
			r.audioPosition = audioLen
		} else {
			// Looping layer whose audio is shorter than the loop window:
			// remaining samples in the loop are silence (out is already
			// zeroed); endOfLoop rewinds the audio position at the boundary.
		}

		r.positionInLoop += take
		outOffset += take
		remaining -= take
	}

	return out, false
}

// effectiveLoopFrames returns the loop length in frames: the declared value
// for a looping layer, or the active sound's audio length for a one-shot
// (spec §4.2).
func effectiveLoopFrames(l model.Layer, sampleRate, audioLenFrames int) int {
	if l.IsOneShot() {
		return audioLenFrames
	}
	return model.LoopLengthSamples(l, sampleRate)
}

// endOfLoop implements spec §4.2 "end_of_loop": resets position counters,
// advances sound selection per mode, re-rolls chance, and accounts cooldown.
func (r *Runtime) endOfLoop(l model.Layer, env *model.Environment, effects model.Effects, lookup SoundLookup) {
	r.positionInLoop = 0
	r.audioPosition = 0

	if r.hasPlayed {
		r.updateActiveSoundIndex(l, env)
	}

	r.chanceRoll = r.rng.Float64()

	cooldown := model.EffectiveCooldownCycles(env, l)
	if r.cooldownElapsed >= cooldown {
		r.cooldownElapsed = 0
	} else if r.hasPlayed || r.cooldownElapsed > 0 {
		r.cooldownElapsed++
	}

	r.hasPlayed = false
	r.wasPlaying = true
	r.previousVolume = r.EffectiveVolume(l, env, effects, lookup)
}

// updateActiveSoundIndex advances the active sound selection per the
// layer's effective mode.
func (r *Runtime) updateActiveSoundIndex(l model.Layer, env *model.Environment) {
	if len(l.Sounds) == 0 {
		return
	}
	switch model.EffectiveMode(env, l) {
	case model.ModeSingle:
		r.activeSoundIndex = clampIndex(l.SelectedSoundIndex, len(l.Sounds))
	case model.ModeSequence:
		r.activeSoundIndex = (r.activeSoundIndex + 1) % len(l.Sounds)
	case model.ModeShuffle:
		r.activeSoundIndex = r.weightedPick(l, env)
	default:
		r.activeSoundIndex = clampIndex(r.activeSoundIndex, len(l.Sounds))
	}
}

// weightedPick performs a weighted random choice over l.Sounds by each
// sound's effective shuffle frequency (spec §4.2 SHUFFLE mode).
func (r *Runtime) weightedPick(l model.Layer, env *model.Environment) int {
	total := 0.0
	weights := make([]float64, len(l.Sounds))
	for i, s := range l.Sounds {
		w := model.EffectiveFrequency(env, l.ID, s)
		if w < 0 {
			w = 0
		}
		weights[i] = w
		total += w
	}
	if total <= 0 {
		return 0
	}
	roll := r.rng.Float64() * total
	acc := 0.0
	for i, w := range weights {
		acc += w
		if roll < acc {
			return i
		}
	}
	return len(weights) - 1
}

// MarkPlayed records that this runtime contributed audio during the
// current cycle (mixer calls this when it adds the layer's samples to the
// mix).
func (r *Runtime) MarkPlayed() { r.hasPlayed = true }
