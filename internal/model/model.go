// Package model defines the declarative tree an environment author edits:
// sound files, layers, sounds, presets, and environments, plus the
// process-wide effects configuration. Types here are plain data — no
// runtime scheduling state lives on them. Runtime state for a playing
// layer lives in package layer; the two are bound by id, never by pointer,
// so a reconcile can swap the whole tree without invalidating in-flight
// runtimes (see package reconcile and package mixer).
package model

// LayerMode selects how a layer advances through its sounds at the end of
// each loop cycle.
type LayerMode string

const (
	ModeShuffle  LayerMode = "SHUFFLE"
	ModeSequence LayerMode = "SEQUENCE"
	ModeSingle   LayerMode = "SINGLE"
)

// PlayState is an environment's high-level transport state.
type PlayState string

const (
	Playing PlayState = "PLAYING"
	Stopped PlayState = "STOPPED"
)

// SoundFile is a registered, decoded audio asset. The PCM buffer itself is
// owned by the registry (package registry); this struct carries only the
// metadata needed for effective-value resolution and persistence.
type SoundFile struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Path             string  `json:"path"`
	PeakVolume       float64 `json:"peak_volume"`
	DurationMs       int     `json:"duration_ms"`
	OriginalFilename string  `json:"original_filename"`
	UsageCount       int     `json:"usageCount"`
}

// LayerSound is one candidate sound within a layer's shuffle/sequence pool.
type LayerSound struct {
	ID        string  `json:"id"`
	FileID    string  `json:"fileId"`
	Frequency float64 `json:"frequency"`
	Volume    float64 `json:"volume"`
}

// Layer is one scheduled loop (or one-shot, when LoopLengthMs is absent) in
// an environment's declared playback order.
type Layer struct {
	ID                  string       `json:"id"`
	Name                string       `json:"name"`
	Sounds              []LayerSound `json:"sounds"`
	Chance              float64      `json:"chance"`
	CooldownCycles      int          `json:"cooldownCycles"`
	LoopLengthMs        int          `json:"loopLengthMs"`
	Weight              float64      `json:"weight"`
	Volume              float64      `json:"volume"`
	Mode                LayerMode    `json:"mode"`
	SelectedSoundIndex  int          `json:"selectedSoundIndex"`
}

// IsOneShot reports whether the layer plays once through rather than
// looping. Per spec, 0/negative/absent LoopLengthMs are all one-shot — the
// zero value of the int field already means "absent" for JSON-omitted data.
func (l Layer) IsOneShot() bool {
	return l.LoopLengthMs <= 0
}

// PresetSound sparsely overrides a LayerSound. A nil field means "inherit
// the base value".
type PresetSound struct {
	ID        string   `json:"id"`
	Volume    *float64 `json:"volume,omitempty"`
	Frequency *float64 `json:"frequency,omitempty"`
}

// PresetLayer sparsely overrides a Layer, matched to its base by ID.
type PresetLayer struct {
	ID             string        `json:"id"`
	Volume         *float64      `json:"volume,omitempty"`
	Weight         *float64      `json:"weight,omitempty"`
	Chance         *float64      `json:"chance,omitempty"`
	CooldownCycles *int          `json:"cooldownCycles,omitempty"`
	Mode           *LayerMode    `json:"mode,omitempty"`
	Sounds         []PresetSound `json:"sounds,omitempty"`
}

// Preset is a named bundle of layer overrides an environment can activate.
type Preset struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	MaxWeight *float64      `json:"maxWeight,omitempty"`
	Layers    []PresetLayer `json:"layers"`
}

// Environment is one independently scheduled ambience: a declared layer
// order, optional presets, a soundboard, and play-state/fade-window runtime
// fields. The fade window is runtime state, but it lives here (rather than
// in package layer) because it is preserved across reconciles per spec
// §4.6(1) — the reconciler copies it forward by value, not by reference.
type Environment struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	MaxWeight       float64   `json:"maxWeight"`
	BackgroundImage string    `json:"backgroundImage,omitempty"`
	Soundboard      []string  `json:"soundboard"`
	Presets         []Preset  `json:"presets"`
	ActivePresetID  *string   `json:"activePresetId"`
	PlayState       PlayState `json:"playState"`
	Layers          []Layer   `json:"layers"`

	// Fade window. Zero FadeStart/FadeEnd means no active window.
	FadeStart int64 `json:"-"`
	FadeEnd   int64 `json:"-"`
}

// ActivePreset returns the environment's active preset, or nil if none is
// set or the referenced id is not found (orphan — see package reconcile for
// the recovery rule applied at load time).
func (e *Environment) ActivePreset() *Preset {
	if e.ActivePresetID == nil {
		return nil
	}
	for i := range e.Presets {
		if e.Presets[i].ID == *e.ActivePresetID {
			return &e.Presets[i]
		}
	}
	return nil
}

// PresetLayerFor returns the active preset's override for the given layer
// id, or nil if there is no active preset or no override for that layer.
func (e *Environment) PresetLayerFor(layerID string) *PresetLayer {
	preset := e.ActivePreset()
	if preset == nil {
		return nil
	}
	for i := range preset.Layers {
		if preset.Layers[i].ID == layerID {
			return &preset.Layers[i]
		}
	}
	return nil
}

// NormalizeFilters holds the equal-peak leveling toggle.
type NormalizeFilters struct {
	Enabled bool `json:"enabled"`
}

// FadeSettings configures fade durations used by the reconciler and mixer.
type FadeSettings struct {
	FadeInDurationMs    int `json:"fadeInDuration"`
	CrossfadeDurationMs int `json:"crossfadeDuration"`
}

// FrequencyFilter configures a single-cutoff filter.
type FrequencyFilter struct {
	FrequencyHz float64 `json:"frequency"`
}

// DampenSpeechRange configures the speech ducker.
type DampenSpeechRange struct {
	Amount float64 `json:"amount"`
}

// Filters bundles the DSP chain's frequency-domain settings.
type Filters struct {
	HighPass           FrequencyFilter   `json:"highPass"`
	LowPass            FrequencyFilter   `json:"lowPass"`
	DampenSpeechRange  DampenSpeechRange `json:"dampenSpeechRange"`
}

// Compressor configures the peak-following two-sided compressor.
type Compressor struct {
	LowThresholdDB  float64 `json:"lowThreshold"`
	HighThresholdDB float64 `json:"highThreshold"`
	Ratio           float64 `json:"ratio"`
}

// Effects bundles the global DSP and fade configuration.
type Effects struct {
	Normalize  NormalizeFilters `json:"normalize"`
	Fades      FadeSettings     `json:"fades"`
	Filters    Filters          `json:"filters"`
	Compressor Compressor       `json:"compressor"`
}

// DefaultEffects returns the defaults called out in spec §6: no high-pass,
// low-pass at Nyquist-adjacent 20kHz, unity compressor ratio, no ducking.
func DefaultEffects() Effects {
	return Effects{
		Normalize: NormalizeFilters{Enabled: false},
		Fades:     FadeSettings{FadeInDurationMs: 1000, CrossfadeDurationMs: 2000},
		Filters: Filters{
			HighPass:          FrequencyFilter{FrequencyHz: 0},
			LowPass:           FrequencyFilter{FrequencyHz: 20000},
			DampenSpeechRange: DampenSpeechRange{Amount: 0},
		},
		Compressor: Compressor{LowThresholdDB: -60, HighThresholdDB: 0, Ratio: 1},
	}
}

// AppState is the whole declarative document: every environment, the
// sound-file catalogue, and global settings. The reconciler finishes
// mutating it before publishing; the mixer then receives the same pointer
// (not a copy) under the mixer lock (package mixer), and from then on only
// the audio thread writes to it (the environments' fade windows).
type AppState struct {
	Environments []Environment `json:"environments"`
	MasterVolume float64       `json:"masterVolume"`
	Soundboard   []string      `json:"soundboard"`
	Effects      Effects       `json:"effects"`
	SoundFiles   []SoundFile   `json:"sound_files"`
}

// FindEnvironment returns a pointer to the environment with the given id,
// or nil.
func (s *AppState) FindEnvironment(id string) *Environment {
	for i := range s.Environments {
		if s.Environments[i].ID == id {
			return &s.Environments[i]
		}
	}
	return nil
}

// FindSoundFile returns the sound file with the given id, or nil.
func (s *AppState) FindSoundFile(id string) *SoundFile {
	for i := range s.SoundFiles {
		if s.SoundFiles[i].ID == id {
			return &s.SoundFiles[i]
		}
	}
	return nil
}
