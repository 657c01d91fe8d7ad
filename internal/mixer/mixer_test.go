package mixer

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/MomoPewpew/Orpheus/internal/model"
	"github.com/MomoPewpew/Orpheus/internal/registry"
	"github.com/MomoPewpew/Orpheus/internal/transport"
)

func constantBuffer(value float32, frames int) *registry.Buffer {
	samples := make([]float32, frames*2)
	for i := range samples {
		samples[i] = value
	}
	return &registry.Buffer{Samples: samples, PeakVolume: 1}
}

func lookupOf(buffers map[string]*registry.Buffer) func(string) *registry.Buffer {
	return func(id string) *registry.Buffer { return buffers[id] }
}

func oneLayerEnv(chance float64) *model.Environment {
	return &model.Environment{
		ID:        "env1",
		MaxWeight: 10,
		PlayState: model.Playing,
		Layers: []model.Layer{{
			ID:             "layer1",
			Chance:         chance,
			Weight:         1,
			Volume:         1,
			Mode:           model.ModeSingle,
			LoopLengthMs:   1000,
			CooldownCycles: 0,
			Sounds:         []model.LayerSound{{ID: "s1", FileID: "f1", Frequency: 1, Volume: 1}},
		}},
	}
}

func TestProcessFrameMixesPlayingLayerAtFullGain(t *testing.T) {
	buffers := map[string]*registry.Buffer{"f1": constantBuffer(0.5, ChunkSamples)}
	adapter := transport.NewNopAdapter(8)

	m := New(lookupOf(buffers), adapter, nil)
	state := &model.AppState{Environments: []model.Environment{*oneLayerEnv(1)}, MasterVolume: 1, Effects: model.DefaultEffects()}
	m.state = state

	if !m.processFrame() {
		t.Fatal("processFrame should report the loop stays active")
	}

	frames := adapter.Drain()
	if len(frames) != 1 {
		t.Fatalf("expected exactly one submitted frame, got %d", len(frames))
	}
	frame := frames[0]
	if len(frame) != ChunkSamples*Channels*2 {
		t.Fatalf("frame length = %d, want %d", len(frame), ChunkSamples*Channels*2)
	}

	sample := int16(binary.LittleEndian.Uint16(frame[:2]))
	sourceValue := 0.5
	want := int16(sourceValue * 32767)
	if diff := int(sample) - int(want); diff < -2 || diff > 2 {
		t.Fatalf("first sample = %d, want approximately %d", sample, want)
	}
}

func TestProcessFrameChanceZeroIsSilent(t *testing.T) {
	buffers := map[string]*registry.Buffer{"f1": constantBuffer(1, ChunkSamples)}
	adapter := transport.NewNopAdapter(8)

	m := New(lookupOf(buffers), adapter, nil)
	m.state = &model.AppState{Environments: []model.Environment{*oneLayerEnv(0)}, MasterVolume: 1, Effects: model.DefaultEffects()}

	if !m.processFrame() {
		t.Fatal("processFrame should report the loop stays active")
	}

	frame := adapter.Drain()[0]
	for i := 0; i < len(frame); i += 2 {
		if s := int16(binary.LittleEndian.Uint16(frame[i : i+2])); s != 0 {
			t.Fatalf("expected silence at sample %d, got %d", i/2, s)
		}
	}
}

func TestWeightAdmissionOnlyFirstLayerPlays(t *testing.T) {
	buffers := map[string]*registry.Buffer{
		"fA": constantBuffer(1, ChunkSamples),
		"fB": constantBuffer(1, ChunkSamples),
	}
	adapter := transport.NewNopAdapter(8)
	m := New(lookupOf(buffers), adapter, nil)

	env := model.Environment{
		ID:        "env1",
		MaxWeight: 1,
		PlayState: model.Playing,
		Layers: []model.Layer{
			{ID: "A", Chance: 1, Weight: 1, Volume: 1, Mode: model.ModeSingle, LoopLengthMs: 1000,
				Sounds: []model.LayerSound{{ID: "sa", FileID: "fA", Frequency: 1, Volume: 1}}},
			{ID: "B", Chance: 1, Weight: 1, Volume: 1, Mode: model.ModeSingle, LoopLengthMs: 1000,
				Sounds: []model.LayerSound{{ID: "sb", FileID: "fB", Frequency: 1, Volume: 1}}},
		},
	}
	m.state = &model.AppState{Environments: []model.Environment{env}, MasterVolume: 1, Effects: model.DefaultEffects()}

	if !m.processFrame() {
		t.Fatal("processFrame should report the loop stays active")
	}

	playing := m.PlayingLayers()
	if len(playing) != 1 || playing[0] != "A" {
		t.Fatalf("PlayingLayers() = %v, want only [A]", playing)
	}
}

func TestProcessFrameExitsWhenNothingActive(t *testing.T) {
	adapter := transport.NewNopAdapter(8)
	m := New(lookupOf(nil), adapter, nil)
	m.state = &model.AppState{Effects: model.DefaultEffects()}

	if m.processFrame() {
		t.Fatal("processFrame should report the loop should exit with no active environments")
	}
}

func TestProcessFrameSkipsOnBackpressure(t *testing.T) {
	buffers := map[string]*registry.Buffer{"f1": constantBuffer(1, ChunkSamples)}
	adapter := transport.NewNopAdapter(TargetBufferChunks + 1)
	m := New(lookupOf(buffers), adapter, nil)
	m.state = &model.AppState{Environments: []model.Environment{*oneLayerEnv(1)}, MasterVolume: 1, Effects: model.DefaultEffects()}

	for i := 0; i < TargetBufferChunks; i++ {
		adapter.QueueFrame([]byte{0, 0})
	}

	if !m.processFrame() {
		t.Fatal("processFrame should report the loop stays active even when skipping a frame")
	}
	if got := adapter.BufferedFrames(); got != TargetBufferChunks {
		t.Fatalf("backpressure should skip mixing: BufferedFrames() = %d, want %d", got, TargetBufferChunks)
	}
}

func TestWeightAdmissionReservesSilentEarlierLayersWeight(t *testing.T) {
	buffers := map[string]*registry.Buffer{
		"fA": constantBuffer(1, ChunkSamples),
		"fB": constantBuffer(1, ChunkSamples),
	}
	adapter := transport.NewNopAdapter(8)
	m := New(lookupOf(buffers), adapter, nil)

	env := model.Environment{
		ID:        "env1",
		MaxWeight: 1,
		PlayState: model.Playing,
		Layers: []model.Layer{
			// Chance 0: never actually plays, but still holds a runtime and
			// must still reserve its weight budget for layer B.
			{ID: "A", Chance: 0, Weight: 1, Volume: 1, Mode: model.ModeSingle, LoopLengthMs: 1000,
				Sounds: []model.LayerSound{{ID: "sa", FileID: "fA", Frequency: 1, Volume: 1}}},
			{ID: "B", Chance: 1, Weight: 1, Volume: 1, Mode: model.ModeSingle, LoopLengthMs: 1000,
				Sounds: []model.LayerSound{{ID: "sb", FileID: "fB", Frequency: 1, Volume: 1}}},
		},
	}
	m.state = &model.AppState{Environments: []model.Environment{env}, MasterVolume: 1, Effects: model.DefaultEffects()}

	if !m.processFrame() {
		t.Fatal("processFrame should report the loop stays active")
	}

	playing := m.PlayingLayers()
	if len(playing) != 0 {
		t.Fatalf("PlayingLayers() = %v, want none — A's reserved weight should leave no budget for B", playing)
	}
}

func TestAcknowledgeSoundboardQueuesATone(t *testing.T) {
	adapter := transport.NewNopAdapter(8)
	m := New(lookupOf(nil), adapter, nil)
	m.state = &model.AppState{MasterVolume: 1, Effects: model.DefaultEffects()}

	m.AcknowledgeSoundboard()

	frames := adapter.Drain()
	if len(frames) != 1 {
		t.Fatalf("expected exactly one queued chime frame, got %d", len(frames))
	}
	allSilent := true
	for i := 0; i < len(frames[0]); i += 2 {
		if int16(binary.LittleEndian.Uint16(frames[0][i:i+2])) != 0 {
			allSilent = false
			break
		}
	}
	if allSilent {
		t.Fatal("expected the acknowledgement tone to contain audible samples")
	}
}

func TestSoundboardPlaybackStartsLoopAndStops(t *testing.T) {
	buffers := map[string]*registry.Buffer{"chime": constantBuffer(0.3, ChunkSamples)}
	adapter := transport.NewNopAdapter(32)
	m := New(lookupOf(buffers), adapter, nil)

	m.PlaySoundboard("chime")
	if !m.IsRunning() {
		t.Fatal("PlaySoundboard should start the audio thread")
	}

	deadline := time.After(2 * time.Second)
	for adapter.BufferedFrames() == 0 {
		select {
		case <-deadline:
			t.Fatal("soundboard one-shot never produced a frame")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	m.Stop()
	if m.IsRunning() {
		t.Fatal("Stop should clear the running flag")
	}
}
