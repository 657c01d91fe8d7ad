// Package reconcile implements the state reconciliation procedure of spec
// §4.6: diff the previous and next declarative app-states, preserve any
// in-progress environment fade, inject fade intents for play_state
// transitions (including crossfade detection), and publish the result to
// the mixer.
package reconcile

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MomoPewpew/Orpheus/internal/mixer"
	"github.com/MomoPewpew/Orpheus/internal/model"
)

// Reconciler holds the previously reconciled snapshot so each call can diff
// play_state transitions against it. Reconcile calls are serialized on mu,
// since the HTTP handlers and the hot-reload watcher may call it from
// different goroutines.
type Reconciler struct {
	mu     sync.Mutex
	mixer  *mixer.Mixer
	logger *slog.Logger
	prev   *model.AppState
}

// New builds a Reconciler publishing to m.
func New(m *mixer.Mixer, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{mixer: m, logger: logger}
}

type transition struct {
	id       string
	from, to model.PlayState
}

// Reconcile applies spec §4.6 to next and publishes it to the mixer. It is
// safe to call repeatedly as the control plane receives updates; the first
// call (no prior state) preserves nothing and computes transitions against
// an implicit all-STOPPED baseline.
func (r *Reconciler) Reconcile(next *model.AppState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := model.Now()

	r.preserveFades(next, now)
	transitions := r.computeTransitions(next)
	r.applyTransitions(next, transitions, now)

	r.mixer.SetState(next)
	r.prev = next
}

// preserveFades implements spec §4.6 step 1: any previously published env
// whose fade window is still open has those exact timestamps copied onto
// the matching next env before any new fade logic runs. It reads the window
// through mixer.ActiveFadeWindows rather than r.prev's own Environment
// values: r.prev is the very same *model.Environment the audio thread
// mutates every frame via UpdateFadeState/ClearFade (spec §5's single
// mutex), so dereferencing it here without that lock would race the audio
// thread's writes.
func (r *Reconciler) preserveFades(next *model.AppState, now time.Duration) {
	windows := r.mixer.ActiveFadeWindows(now)
	for i := range next.Environments {
		nEnv := &next.Environments[i]
		w, ok := windows[nEnv.ID]
		if !ok {
			continue
		}
		nEnv.FadeStart = w.FadeStart
		nEnv.FadeEnd = w.FadeEnd
	}
}

// computeTransitions implements spec §4.6 step 2: play_state changes from
// prev to next, ignoring the fade timestamps already preserved. An
// environment absent from prev is treated as having come from STOPPED — a
// brand-new environment that starts PLAYING is itself a transition.
func (r *Reconciler) computeTransitions(next *model.AppState) []transition {
	prevState := make(map[string]model.PlayState)
	if r.prev != nil {
		for _, e := range r.prev.Environments {
			prevState[e.ID] = e.PlayState
		}
	}

	var out []transition
	for i := range next.Environments {
		env := &next.Environments[i]
		from, existed := prevState[env.ID]
		if !existed {
			from = model.Stopped
		}
		if from != env.PlayState {
			out = append(out, transition{id: env.ID, from: from, to: env.PlayState})
		}
	}
	return out
}

// applyTransitions implements spec §4.6 steps 3–4: crossfade detection, then
// the fallback fade-out/fade-in/instant-on rules.
func (r *Reconciler) applyTransitions(next *model.AppState, transitions []transition, now time.Duration) {
	if len(transitions) == 0 {
		return
	}
	crossfadeMs := next.Effects.Fades.CrossfadeDurationMs

	if isCrossfade(transitions) {
		for _, t := range transitions {
			if env := next.FindEnvironment(t.id); env != nil {
				model.StartFade(env, now, crossfadeMs)
			}
		}
		r.logger.Debug("crossfade started", "duration_ms", crossfadeMs)
		return
	}

	for _, t := range transitions {
		env := next.FindEnvironment(t.id)
		if env == nil {
			continue
		}
		switch {
		case t.from == model.Playing && t.to == model.Stopped:
			model.StartFade(env, now, crossfadeMs)
		case t.from == model.Stopped && t.to == model.Playing:
			if anyOtherPlayingOrFading(next, t.id, now) {
				model.StartFade(env, now, crossfadeMs)
			} else {
				model.ClearFade(env)
			}
		}
	}
}

// isCrossfade implements spec §4.6 step 3: exactly two transitions, one
// PLAYING→STOPPED and one STOPPED→PLAYING.
func isCrossfade(transitions []transition) bool {
	if len(transitions) != 2 {
		return false
	}
	var sawStop, sawStart bool
	for _, t := range transitions {
		if t.from == model.Playing && t.to == model.Stopped {
			sawStop = true
		}
		if t.from == model.Stopped && t.to == model.Playing {
			sawStart = true
		}
	}
	return sawStop && sawStart
}

func anyOtherPlayingOrFading(state *model.AppState, exceptID string, now time.Duration) bool {
	for i := range state.Environments {
		env := &state.Environments[i]
		if env.ID == exceptID {
			continue
		}
		if env.PlayState == model.Playing || model.IsFading(env, now) {
			return true
		}
	}
	return false
}

// RecoverOrphanPreset implements spec §7's reconciler-preset-orphan rule: if
// env references an activePresetId absent from its own preset list, try to
// recover that preset definition from the last-persisted copy (matched by
// environment id, then preset id); otherwise clear the reference and warn.
// Never returns an error — an orphan is a recoverable condition, not a
// fault.
func RecoverOrphanPreset(env *model.Environment, persisted *model.AppState, logger *slog.Logger) {
	if env.ActivePresetID == nil || env.ActivePreset() != nil {
		return
	}
	if persisted != nil {
		if pEnv := persisted.FindEnvironment(env.ID); pEnv != nil {
			for _, p := range pEnv.Presets {
				if p.ID == *env.ActivePresetID {
					env.Presets = append(env.Presets, p)
					return
				}
			}
		}
	}
	if logger != nil {
		logger.Warn("orphaned activePresetId, clearing", "env", env.ID, "presetId", *env.ActivePresetID)
	}
	env.ActivePresetID = nil
}
