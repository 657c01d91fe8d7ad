// Package mixer implements the per-frame real-time mixing loop of spec §4.4:
// layer scheduling (chance/cooldown/weight), per-layer and per-environment
// fades, the global DSP chain, backpressure against the transport, and
// deadline-driven pacing with overhead smoothing. It owns the only mutex
// that ever touches LayerRuntime state or the DSP filter state — modeled on
// the teacher's AudioEngine, whose Start/Stop/captureLoop/playbackLoop own a
// single mutex plus atomic running flag around one dedicated goroutine pair.
// Here there is exactly one goroutine: the audio thread described in §5.
package mixer

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MomoPewpew/Orpheus/internal/dsp"
	"github.com/MomoPewpew/Orpheus/internal/layer"
	"github.com/MomoPewpew/Orpheus/internal/model"
	"github.com/MomoPewpew/Orpheus/internal/transport"
)

// Fixed audio constants from spec §4.4.
const (
	SampleRate         = 48000
	Channels           = 2
	FrameMs            = 40
	ChunkSamples       = SampleRate * FrameMs / 1000 // 1920
	targetBufferMs     = 200
	TargetBufferChunks = targetBufferMs / FrameMs // 5
	overheadSmoothing  = 0.1
)

type envSnapshot struct {
	playing bool
}

// Mixer owns the LayerRuntime cache, the previous-env-state map, the
// transport reference, the running flag, and the audio-thread handle — the
// single lock's entire jurisdiction per spec §5.
type Mixer struct {
	mu sync.Mutex

	lookup  layer.SoundLookup
	adapter transport.Adapter
	logger  *slog.Logger
	chain   *dsp.Chain
	chime   *dsp.Chime

	state   *model.AppState
	tempEnv *model.Environment

	prevEnv  map[string]envSnapshot
	runtimes map[string]*layer.Runtime

	soundboardLayers map[string]model.Layer
	soundboardKeys   []string

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New builds a Mixer. lookup resolves a sound file id to its decoded buffer
// (normally registry.Registry.Lookup); adapter is the transport frames are
// submitted to.
func New(lookup layer.SoundLookup, adapter transport.Adapter, logger *slog.Logger) *Mixer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mixer{
		lookup:  lookup,
		adapter: adapter,
		logger:  logger,
		chain:   dsp.NewChain(Channels, SampleRate, logger),
		chime:   dsp.NewChime(SampleRate),
		tempEnv: &model.Environment{ID: "__soundboard__", MaxWeight: 0, PlayState: model.Playing},

		prevEnv:          make(map[string]envSnapshot),
		runtimes:         make(map[string]*layer.Runtime),
		soundboardLayers: make(map[string]model.Layer),
	}
}

// SetState publishes a new app-state snapshot under the mixer lock and
// starts the audio thread if it isn't already running and something should
// play (spec §4.6 step 6 / §4.4's "start the loop" path used by the
// reconciler).
func (m *Mixer) SetState(next *model.AppState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = next
	if !m.running && m.anyShouldPlayLocked(next) {
		m.startLocked()
	}
}

// IsRunning reports whether the audio thread is currently active.
func (m *Mixer) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// PlayingLayers reports the ids of layers whose most recent should_play was
// true, for the GET /api/playing-layers endpoint (spec §6).
func (m *Mixer) PlayingLayers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil
	}
	var out []string
	for i := range m.state.Environments {
		env := &m.state.Environments[i]
		for _, l := range env.Layers {
			if rt, ok := m.runtimes[m.layerKey(l)]; ok && rt.WasPlaying() {
				out = append(out, l.ID)
			}
		}
	}
	return out
}

// FadeWindow is a snapshot of one environment's fade window (spec §4.3).
type FadeWindow struct {
	FadeStart int64
	FadeEnd   int64
}

// ActiveFadeWindows returns the fade windows still open as of now, keyed by
// environment id, read under the mixer lock. The audio thread mutates
// FadeStart/FadeEnd on the same published Environment values every frame
// (UpdateFadeState/ClearFade), so callers that need the current window —
// the reconciler preserving an in-progress fade across a Reconcile call —
// must go through this accessor rather than dereferencing a previously
// published *model.AppState directly.
func (m *Mixer) ActiveFadeWindows(now time.Duration) map[string]FadeWindow {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil
	}
	var out map[string]FadeWindow
	for i := range m.state.Environments {
		env := &m.state.Environments[i]
		if model.IsFading(env, now) {
			if out == nil {
				out = make(map[string]FadeWindow, len(m.state.Environments))
			}
			out[env.ID] = FadeWindow{FadeStart: env.FadeStart, FadeEnd: env.FadeEnd}
		}
	}
	return out
}

func (m *Mixer) anyShouldPlayLocked(state *model.AppState) bool {
	if state == nil {
		return len(m.soundboardKeys) > 0
	}
	now := model.Now()
	for i := range state.Environments {
		env := &state.Environments[i]
		if env.PlayState == model.Playing || model.IsFading(env, now) {
			return true
		}
	}
	return len(m.soundboardKeys) > 0
}

// PlaySoundboard enqueues a one-shot per spec §4.4: creates (if absent) a
// runtime keyed "soundboard_{file_id}" with a synthesized non-looping layer,
// and starts the mixer loop if it isn't running.
func (m *Mixer) PlaySoundboard(fileID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == nil {
		m.state = &model.AppState{Effects: model.DefaultEffects()}
	}

	key := "soundboard_" + fileID
	if _, exists := m.runtimes[key]; !exists {
		l := layer.NewSoundboardLayer(key, fileID)
		m.soundboardLayers[key] = l
		m.runtimes[key] = layer.New(l, m.tempEnv, m.state.Effects, m.lookup, layer.DefaultRNG{})
		m.soundboardKeys = append(m.soundboardKeys, key)
	}
	if !m.running {
		m.startLocked()
	}
}

// AcknowledgeSoundboard queues a brief tone confirming a soundboard trigger
// was received, straight to the adapter as one frame (package dsp's Chime),
// whether or not the requested sound resolves. It bypasses layer
// scheduling, the DSP chain and the backpressure check; it is dropped only
// if the adapter's QueueFrame refuses it.
func (m *Mixer) AcknowledgeSoundboard() {
	tone := m.chime.Tone(dsp.ChimeSoundboardTriggered)
	if len(tone) == 0 {
		return
	}

	m.mu.Lock()
	masterVolume := 1.0
	if m.state != nil {
		masterVolume = m.state.MasterVolume
	}
	m.mu.Unlock()

	m.adapter.QueueFrame(serializeFrame(tone, masterVolume))
}

func (m *Mixer) startLocked() {
	m.running = true
	m.stopCh = make(chan struct{})
	m.wg.Add(1)
	go m.runLoop()
}

// Stop implements spec §5's stop_processing: sets is_running = false and
// joins the audio thread with a 1-second timeout, abandoning it with a
// logged warning past that deadline.
func (m *Mixer) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	close(m.stopCh)
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		m.logger.Warn("mixer stop timed out after 1s, abandoning audio thread")
	}
}

// runLoop is the deadline-driven pacing loop of spec §4.4. It is the sole
// owner of LayerRuntime and DSP filter state (spec §5).
func (m *Mixer) runLoop() {
	defer m.wg.Done()
	defer m.recoverPanic()

	frameDur := time.Duration(FrameMs) * time.Millisecond
	nextFrameTime := time.Now()
	var overhead time.Duration

	for {
		select {
		case <-m.stopCh:
			m.setRunning(false)
			return
		default:
		}

		now := time.Now()
		if sleepFor := nextFrameTime.Sub(now) - overhead; sleepFor > time.Millisecond {
			select {
			case <-time.After(sleepFor):
			case <-m.stopCh:
				m.setRunning(false)
				return
			}
		}

		now = time.Now()
		if now.Sub(nextFrameTime) > frameDur {
			m.logger.Warn("mixer loop fell behind, resetting pacing clock", "behind", now.Sub(nextFrameTime))
			nextFrameTime = now.Add(frameDur)
		}

		loopStart := time.Now()
		active := m.processFrame()
		overhead = time.Duration((1-overheadSmoothing)*float64(overhead) + overheadSmoothing*float64(time.Since(loopStart)))

		nextFrameTime = nextFrameTime.Add(frameDur)

		if !active {
			m.setRunning(false)
			return
		}
	}
}

// recoverPanic implements spec §7's "fatal only" clause: an audio-thread
// panic terminates the loop, is logged with the stack, and the next
// reconcile that demands play restarts the thread (via SetState/PlaySoundboard
// calling startLocked when !running).
func (m *Mixer) recoverPanic() {
	if r := recover(); r != nil {
		m.logger.Error("mixer audio thread panicked, loop terminated", "panic", fmt.Sprint(r))
		m.setRunning(false)
	}
}

func (m *Mixer) setRunning(v bool) {
	m.mu.Lock()
	m.running = v
	m.mu.Unlock()
}

// processFrame runs one iteration of spec §4.4's numbered steps 1–10 and
// reports whether the loop should continue (step 6's active-set check).
func (m *Mixer) processFrame() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.state
	if state == nil {
		return false
	}
	now := model.Now()

	m.handleTransitions(state, now)

	activeEnvs, activeSoundboard := m.collectActive(state, now)
	if len(activeEnvs) == 0 && len(activeSoundboard) == 0 {
		m.logger.Debug("mixer loop exiting: no active environments or soundboard sounds")
		return false
	}

	if !m.adapter.IsConnected() {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		m.adapter.EnsureConnected(ctx)
		cancel()
		return true
	}
	if m.adapter.BufferedFrames() >= TargetBufferChunks {
		return true
	}

	frame := m.mixFrame(state, now, activeEnvs, activeSoundboard)
	m.chain.Process(frame, state.Effects, m.adapter.HasVoiceActivity())
	m.adapter.QueueFrame(serializeFrame(frame, state.MasterVolume))
	return true
}

// handleTransitions implements spec §4.4 step 4: diff env_states cached from
// the previous iteration, evict runtimes on a STOPPED→PLAYING edge so the
// environment gets a clean cycle, and age the fade window (spec §4.3
// update_fade_state).
func (m *Mixer) handleTransitions(state *model.AppState, now time.Duration) {
	seen := make(map[string]bool, len(state.Environments))
	for i := range state.Environments {
		env := &state.Environments[i]
		seen[env.ID] = true

		wasPlaying := m.prevEnv[env.ID].playing
		isPlaying := env.PlayState == model.Playing
		if isPlaying && !wasPlaying {
			for _, l := range env.Layers {
				delete(m.runtimes, m.layerKey(l))
			}
		}

		model.UpdateFadeState(env, now)
		m.prevEnv[env.ID] = envSnapshot{playing: isPlaying}
	}
	for id := range m.prevEnv {
		if !seen[id] {
			delete(m.prevEnv, id)
		}
	}
}

// collectActive implements spec §4.4 step 5: active_envs = playing or
// fading; active_soundboard_runtimes = every pending one-shot key.
func (m *Mixer) collectActive(state *model.AppState, now time.Duration) ([]*model.Environment, []string) {
	var envs []*model.Environment
	for i := range state.Environments {
		env := &state.Environments[i]
		if env.PlayState == model.Playing || model.IsFading(env, now) {
			envs = append(envs, env)
		}
	}
	sb := make([]string, len(m.soundboardKeys))
	copy(sb, m.soundboardKeys)
	return envs, sb
}

// layerKey implements the cache key of spec §3: "{layer_id}_{active_file_id}".
// active_file_id is read from the layer's declarative SelectedSoundIndex, not
// the runtime's currently-advancing active_sound_index — the runtime may
// shuffle or sequence through its pool without the key changing, but editing
// which file the layer's default sound points to mints a new key and thus a
// fresh runtime.
func (m *Mixer) layerKey(l model.Layer) string {
	fileID := ""
	if l.SelectedSoundIndex >= 0 && l.SelectedSoundIndex < len(l.Sounds) {
		fileID = l.Sounds[l.SelectedSoundIndex].FileID
	}
	return l.ID + "_" + fileID
}

func (m *Mixer) runtimeFor(env *model.Environment, l model.Layer, effects model.Effects) *layer.Runtime {
	key := m.layerKey(l)
	rt, ok := m.runtimes[key]
	if !ok {
		rt = layer.New(l, env, effects, m.lookup, layer.DefaultRNG{})
		m.runtimes[key] = rt
	}
	return rt
}

// mixFrame implements spec §4.4 steps 7–9: per-environment mixing scaled by
// fade_progress, plus soundboard one-shots scaled by their sound's effective
// volume.
func (m *Mixer) mixFrame(state *model.AppState, now time.Duration, envs []*model.Environment, soundboard []string) []float32 {
	mainMix := make([]float32, ChunkSamples*Channels)
	envMix := make([]float32, ChunkSamples*Channels)

	for _, env := range envs {
		for i := range envMix {
			envMix[i] = 0
		}
		freeWeight := model.EffectiveMaxWeight(env)

		for _, l := range env.Layers {
			rt := m.runtimeFor(env, l, state.Effects)

			// get_next_chunk runs before should_play (matching the original):
			// if this frame crosses a loop boundary, end_of_loop re-rolls the
			// chance/cooldown state first, so a boundary re-roll takes effect
			// the same frame rather than lagging by one.
			chunk, finished := rt.GetNextChunk(ChunkSamples, l, env, state.Effects, m.lookup, SampleRate)

			shouldPlay := rt.ShouldPlay(l, env, freeWeight)
			// Every earlier layer reserves its weight once its runtime exists
			// for this frame, whether or not it actually plays this cycle or
			// finishes partway through it (spec §4.2; the original sums
			// layer_info.layer.effective_weight unconditionally for each
			// cached layer_info ahead of this one).
			freeWeight -= model.EffectiveWeight(env, l)

			if finished {
				delete(m.runtimes, m.layerKey(l))
				continue
			}

			currentVolume := rt.EffectiveVolume(l, env, state.Effects, m.lookup)
			m.mixLayer(rt, state.Effects, now, shouldPlay, currentVolume, chunk, envMix)
		}

		progress := model.FadeProgress(env, now)
		addScaled(mainMix, envMix, progress)
	}

	for _, key := range soundboard {
		rt, ok := m.runtimes[key]
		if !ok {
			continue
		}
		l := m.soundboardLayers[key]

		chunk, finished := rt.GetNextChunk(ChunkSamples, l, m.tempEnv, state.Effects, m.lookup, SampleRate)
		if finished {
			m.removeSoundboardKey(key)
			continue
		}
		vol := rt.EffectiveVolume(l, m.tempEnv, state.Effects, m.lookup)
		addScaled(mainMix, chunk, vol)
		rt.MarkPlayed()
	}

	return mainMix
}

func (m *Mixer) removeSoundboardKey(key string) {
	delete(m.runtimes, key)
	delete(m.soundboardLayers, key)
	for i, k := range m.soundboardKeys {
		if k == key {
			m.soundboardKeys = append(m.soundboardKeys[:i], m.soundboardKeys[i+1:]...)
			break
		}
	}
}

// mixLayer implements spec §4.4's "Edge detection" paragraph: a changed
// steady volume always restarts a ramp from the old value; otherwise a
// should_play rising edge starts a fade-in from silence and a falling edge
// (once this cycle actually contributed audio) starts a fade-out. The chunk
// is added whenever should_play or a fade is still in progress, scaled by
// the fade-inclusive volume — get_next_chunk itself returns unit-gain PCM.
func (m *Mixer) mixLayer(rt *layer.Runtime, effects model.Effects, now time.Duration, shouldPlay bool, currentVolume float64, chunk []float32, envMix []float32) {
	prevVolume := rt.PreviousVolume()
	wasPlaying := rt.WasPlaying()
	fadeMs := effects.Fades.FadeInDurationMs

	switch {
	case prevVolume != currentVolume:
		rt.StartFadeIn(now, prevVolume, currentVolume, fadeMs)
	case shouldPlay && !wasPlaying:
		rt.StartFadeIn(now, 0, currentVolume, fadeMs)
	case !shouldPlay && wasPlaying && rt.HasPlayed() && !rt.IsFading(now):
		rt.StartFadeOut(now, currentVolume, fadeMs)
	}

	if shouldPlay || rt.IsFading(now) {
		gain := rt.VolumeIncludingFade(now, currentVolume)
		addScaled(envMix, chunk, gain)
		rt.MarkPlayed()
	}

	rt.RefreshEdgeState(shouldPlay, currentVolume)
}

func addScaled(dst, src []float32, gain float64) {
	g := float32(gain)
	if g == 0 {
		return
	}
	for i := range dst {
		dst[i] += src[i] * g
	}
}

// serializeFrame applies master volume, clips to [-1, 1], and converts to
// 16-bit LE signed PCM (spec §4.4 step 10 / §6's audio output format).
func serializeFrame(frame []float32, masterVolume float64) []byte {
	out := make([]byte, len(frame)*2)
	for i, s := range frame {
		v := clip(float64(s)*masterVolume, -1, 1)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v*32767)))
	}
	return out
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
