package reconcile

import (
	"testing"
	"time"

	"github.com/MomoPewpew/Orpheus/internal/mixer"
	"github.com/MomoPewpew/Orpheus/internal/model"
	"github.com/MomoPewpew/Orpheus/internal/registry"
	"github.com/MomoPewpew/Orpheus/internal/transport"
)

func silentLookup(string) *registry.Buffer { return nil }

func newTestMixer() *mixer.Mixer {
	return mixer.New(silentLookup, transport.NewNopAdapter(8), nil)
}

func withFakeClock(t *testing.T, start time.Duration) func(advance time.Duration) {
	t.Helper()
	now := start
	model.NowFunc = func() time.Time { return time.Unix(0, int64(now)) }
	t.Cleanup(func() { model.NowFunc = time.Now })
	return func(advance time.Duration) { now += advance }
}

func envState(id string, state model.PlayState) *model.AppState {
	return &model.AppState{
		Environments: []model.Environment{{ID: id, PlayState: state, MaxWeight: 10}},
		Effects:      model.DefaultEffects(),
	}
}

func TestReconcileStoppedToPlayingWithNoOthersIsInstantOn(t *testing.T) {
	advance := withFakeClock(t, 0)
	r := New(newTestMixer(), nil)

	r.Reconcile(envState("a", model.Stopped))
	advance(10 * time.Millisecond)
	next := envState("a", model.Playing)
	r.Reconcile(next)

	env := next.FindEnvironment("a")
	if env.FadeStart != 0 || env.FadeEnd != 0 {
		t.Fatalf("first environment to start with nothing else playing should be instant-on, got fade window [%d,%d]", env.FadeStart, env.FadeEnd)
	}
}

func TestReconcilePlayingToStoppedStartsFadeOut(t *testing.T) {
	advance := withFakeClock(t, 0)
	r := New(newTestMixer(), nil)

	r.Reconcile(envState("a", model.Playing))
	advance(10 * time.Millisecond)
	next := envState("a", model.Stopped)
	r.Reconcile(next)

	env := next.FindEnvironment("a")
	if env.FadeStart == 0 && env.FadeEnd == 0 {
		t.Fatal("PLAYING to STOPPED should open a fade-out window")
	}
	wantDuration := time.Duration(next.Effects.Fades.CrossfadeDurationMs) * time.Millisecond
	if got := time.Duration(env.FadeEnd - env.FadeStart); got != wantDuration {
		t.Fatalf("fade-out window length = %v, want %v", got, wantDuration)
	}
}

func TestReconcileCrossfadeDetectsSwap(t *testing.T) {
	advance := withFakeClock(t, 0)
	r := New(newTestMixer(), nil)

	prev := &model.AppState{
		Environments: []model.Environment{
			{ID: "a", PlayState: model.Playing, MaxWeight: 10},
			{ID: "b", PlayState: model.Stopped, MaxWeight: 10},
		},
		Effects: model.DefaultEffects(),
	}
	r.Reconcile(prev)
	advance(10 * time.Millisecond)

	next := &model.AppState{
		Environments: []model.Environment{
			{ID: "a", PlayState: model.Stopped, MaxWeight: 10},
			{ID: "b", PlayState: model.Playing, MaxWeight: 10},
		},
		Effects: model.DefaultEffects(),
	}
	r.Reconcile(next)

	a := next.FindEnvironment("a")
	b := next.FindEnvironment("b")
	if a.FadeStart == 0 && a.FadeEnd == 0 {
		t.Fatal("outgoing environment should have a fade window during a crossfade")
	}
	if b.FadeStart == 0 && b.FadeEnd == 0 {
		t.Fatal("incoming environment should have a fade window during a crossfade")
	}
	if a.FadeStart != b.FadeStart || a.FadeEnd != b.FadeEnd {
		t.Fatal("crossfade partners should share the same window")
	}
}

func TestReconcileStoppedToPlayingWithAnotherPlayingFadesIn(t *testing.T) {
	advance := withFakeClock(t, 0)
	r := New(newTestMixer(), nil)

	prev := &model.AppState{
		Environments: []model.Environment{
			{ID: "a", PlayState: model.Playing, MaxWeight: 10},
			{ID: "b", PlayState: model.Stopped, MaxWeight: 10},
		},
		Effects: model.DefaultEffects(),
	}
	r.Reconcile(prev)
	advance(10 * time.Millisecond)

	next := &model.AppState{
		Environments: []model.Environment{
			{ID: "a", PlayState: model.Playing, MaxWeight: 10},
			{ID: "b", PlayState: model.Playing, MaxWeight: 10},
		},
		Effects: model.DefaultEffects(),
	}
	r.Reconcile(next)

	b := next.FindEnvironment("b")
	if b.FadeStart == 0 && b.FadeEnd == 0 {
		t.Fatal("starting an environment while another already plays should fade in, not cut in")
	}
}

func TestReconcilePreservesInProgressFade(t *testing.T) {
	advance := withFakeClock(t, 0)
	r := New(newTestMixer(), nil)

	r.Reconcile(envState("a", model.Playing))
	advance(10 * time.Millisecond)
	r.Reconcile(envState("a", model.Stopped))

	firstEnd := r.prev.FindEnvironment("a").FadeEnd
	firstStart := r.prev.FindEnvironment("a").FadeStart

	advance(5 * time.Millisecond)
	next := envState("a", model.Stopped)
	r.Reconcile(next)

	env := next.FindEnvironment("a")
	if env.FadeStart != firstStart || env.FadeEnd != firstEnd {
		t.Fatalf("an in-progress fade window must be preserved verbatim, got [%d,%d] want [%d,%d]", env.FadeStart, env.FadeEnd, firstStart, firstEnd)
	}
}

func TestRecoverOrphanPresetRestoresFromPersistedCopy(t *testing.T) {
	presetID := "p1"
	env := &model.Environment{ID: "a", ActivePresetID: &presetID}
	persisted := &model.AppState{
		Environments: []model.Environment{{
			ID:      "a",
			Presets: []model.Preset{{ID: presetID, Name: "storm"}},
		}},
	}

	RecoverOrphanPreset(env, persisted, nil)

	if env.ActivePresetID == nil || *env.ActivePresetID != presetID {
		t.Fatal("orphan recovery should keep the reference once the preset is restored")
	}
	if env.ActivePreset() == nil {
		t.Fatal("recovered preset should now resolve via ActivePreset")
	}
}

func TestRecoverOrphanPresetClearsWhenUnrecoverable(t *testing.T) {
	presetID := "missing"
	env := &model.Environment{ID: "a", ActivePresetID: &presetID}

	RecoverOrphanPreset(env, nil, nil)

	if env.ActivePresetID != nil {
		t.Fatal("an unrecoverable orphan should be cleared")
	}
}
