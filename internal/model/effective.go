package model

// This file implements the pure effective-value resolution functions of
// spec §3: every numeric field on a Layer/LayerSound/Environment can be
// overridden by the active preset, and resolution always prefers the
// override when present.

// EffectiveChance returns the layer's chance, preferring the active
// preset's override.
func EffectiveChance(env *Environment, l Layer) float64 {
	if pl := env.PresetLayerFor(l.ID); pl != nil && pl.Chance != nil {
		return *pl.Chance
	}
	return l.Chance
}

// EffectiveWeight returns the layer's weight, preferring the active
// preset's override.
func EffectiveWeight(env *Environment, l Layer) float64 {
	if pl := env.PresetLayerFor(l.ID); pl != nil && pl.Weight != nil {
		return *pl.Weight
	}
	return l.Weight
}

// EffectiveCooldownCycles returns the layer's cooldown, preferring the
// active preset's override.
func EffectiveCooldownCycles(env *Environment, l Layer) int {
	if pl := env.PresetLayerFor(l.ID); pl != nil && pl.CooldownCycles != nil {
		return *pl.CooldownCycles
	}
	return l.CooldownCycles
}

// EffectiveMode returns the layer's sound-selection mode, preferring the
// active preset's override.
func EffectiveMode(env *Environment, l Layer) LayerMode {
	if pl := env.PresetLayerFor(l.ID); pl != nil && pl.Mode != nil {
		return *pl.Mode
	}
	return l.Mode
}

// EffectiveLayerVolume returns the layer's own volume (independent of any
// sound within it), preferring the active preset's override.
func EffectiveLayerVolume(env *Environment, l Layer) float64 {
	if pl := env.PresetLayerFor(l.ID); pl != nil && pl.Volume != nil {
		return *pl.Volume
	}
	return l.Volume
}

// EffectiveMaxWeight returns the environment's weight budget, preferring
// the active preset's override.
func EffectiveMaxWeight(env *Environment) float64 {
	if preset := env.ActivePreset(); preset != nil && preset.MaxWeight != nil {
		return *preset.MaxWeight
	}
	return env.MaxWeight
}

// presetSoundFor returns the active preset's override for the given sound
// id within the given layer, or nil.
func presetSoundFor(env *Environment, layerID, soundID string) *PresetSound {
	pl := env.PresetLayerFor(layerID)
	if pl == nil {
		return nil
	}
	for i := range pl.Sounds {
		if pl.Sounds[i].ID == soundID {
			return &pl.Sounds[i]
		}
	}
	return nil
}

// EffectiveSoundVolume returns a sound's raw (un-normalized) volume,
// preferring the active preset's override.
func EffectiveSoundVolume(env *Environment, layerID string, s LayerSound) float64 {
	if ps := presetSoundFor(env, layerID, s.ID); ps != nil && ps.Volume != nil {
		return *ps.Volume
	}
	return s.Volume
}

// EffectiveFrequency returns a sound's shuffle weight, preferring the
// active preset's override.
func EffectiveFrequency(env *Environment, layerID string, s LayerSound) float64 {
	if ps := presetSoundFor(env, layerID, s.ID); ps != nil && ps.Frequency != nil {
		return *ps.Frequency
	}
	return s.Frequency
}

// NormalizedSoundVolume applies equal-peak leveling: when normalization is
// enabled and the file's peak volume is known (> 0), the raw sound volume
// is divided by that peak so every sound hits the same perceived level at
// volume 1.0. peakVolume of 0 means "unknown" (e.g. a file that failed to
// decode) and normalization is skipped rather than dividing by zero.
func NormalizedSoundVolume(effects Effects, peakVolume, rawVolume float64) float64 {
	if !effects.Normalize.Enabled || peakVolume <= 0 {
		return rawVolume
	}
	return rawVolume / peakVolume
}

// EffectiveVolume is the final, un-faded gain for a sound: layer volume
// times the normalized sound volume. Master volume is deliberately excluded
// — it is applied once, at final mix (package mixer), never folded into
// per-sound values. peakVolume is the owning SoundFile's peak amplitude (0
// if unknown).
func EffectiveVolume(env *Environment, l Layer, s LayerSound, peakVolume float64, effects Effects) float64 {
	raw := EffectiveSoundVolume(env, l.ID, s)
	normalized := NormalizedSoundVolume(effects, peakVolume, raw)
	return EffectiveLayerVolume(env, l) * normalized
}

// LoopLengthSamples returns the layer's loop length in samples at the given
// sample rate, or 0 for a one-shot layer (see Layer.IsOneShot).
func LoopLengthSamples(l Layer, sampleRate int) int {
	if l.IsOneShot() {
		return 0
	}
	return (l.LoopLengthMs * sampleRate) / 1000
}

// ShouldPlay implements the layer admission predicate of spec §4.2: the
// chance roll must land within the effective chance, the cooldown must have
// elapsed, and there must be enough free weight left in the environment's
// budget.
func ShouldPlay(env *Environment, l Layer, chanceRoll float64, cooldownElapsed int, freeWeight float64) bool {
	chance := EffectiveChance(env, l)
	cooldown := EffectiveCooldownCycles(env, l)
	weight := EffectiveWeight(env, l)

	if chanceRoll > chance {
		return false
	}
	if !(cooldownElapsed == 0 || cooldownElapsed > cooldown) {
		return false
	}
	return freeWeight >= weight
}
