// Package registry owns decoded float32 stereo PCM buffers, keyed by sound
// file id. All decoding happens at construction time, off the audio thread
// — spec §4.1 and §5 both require that the mixer loop never blocks on disk
// I/O. Decoding itself uses github.com/gopxl/beep the way the teacher's
// streaming package (adapted from the wider example pack, not bken) decodes
// OGG Vorbis: a beep.StreamSeekCloser is read to EOF once, resampled to the
// registry's target rate, and the whole track is kept as a PCM buffer since
// ambience loops are replayed indefinitely (unlike a "stream once" music
// track, re-decoding it per loop would be wasted CPU on the audio thread).
package registry

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/vorbis"
	"github.com/gopxl/beep/wav"
)

// SampleRate is the fixed output rate every decoded buffer is resampled to.
const SampleRate = 48000

// Channels is the fixed output channel count; mono sources are duplicated.
const Channels = 2

// Buffer is an immutable, shared, decoded PCM asset: 48kHz stereo float32
// samples in [-1, 1], interleaved L/R. Once registered it is never mutated
// — multiple layers across multiple environments may reference the same
// buffer concurrently from the single audio thread.
type Buffer struct {
	ID         string
	Name       string
	Path       string
	PeakVolume float64
	DurationMs int
	Samples    []float32 // interleaved stereo
}

// FrameCount returns the number of stereo sample frames in the buffer.
func (b *Buffer) FrameCount() int {
	return len(b.Samples) / Channels
}

// Registry looks up decoded buffers by id. Safe for concurrent reads after
// construction; nothing mutates it once Load calls have finished.
type Registry struct {
	buffers map[string]*Buffer
	// failed records ids whose decode failed, so LoadError can distinguish
	// "never loaded" from "loaded with a decode error" for logging; per
	// spec §7 a failed decode still creates a SoundFile entry that produces
	// silence, it is not an engine-fatal condition.
	failed map[string]error
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		buffers: make(map[string]*Buffer),
		failed:  make(map[string]error),
	}
}

// Load decodes path (MP3, WAV, or OGG — dispatched by extension) and
// registers the result under id. On decode failure the error is recorded
// (retrievable via LoadError) and no buffer is registered; Lookup then
// returns nil, which layers treat as silence per spec §7, not a fatal error.
func (r *Registry) Load(id, name, path string) error {
	buf, peak, durationMs, err := decodeFile(path)
	if err != nil {
		r.failed[id] = err
		return fmt.Errorf("decode %s: %w", path, err)
	}
	r.buffers[id] = &Buffer{
		ID:         id,
		Name:       name,
		Path:       path,
		PeakVolume: peak,
		DurationMs: durationMs,
		Samples:    buf,
	}
	return nil
}

// LoadError returns the error recorded for id's most recent failed Load, or
// nil if it loaded successfully or was never loaded.
func (r *Registry) LoadError(id string) error {
	return r.failed[id]
}

// Lookup returns the decoded buffer for id, or nil if it was never
// registered or failed to decode.
func (r *Registry) Lookup(id string) *Buffer {
	return r.buffers[id]
}

// Len returns the number of successfully registered buffers.
func (r *Registry) Len() int {
	return len(r.buffers)
}

// decodeFile dispatches to the right beep decoder by extension, drains the
// stream into an interleaved stereo float32 buffer resampled to SampleRate,
// and reports the peak absolute sample value.
func decodeFile(path string) ([]float32, float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, err
	}
	defer f.Close()

	var streamer beep.StreamSeekCloser
	var format beep.Format

	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	case ".wav":
		streamer, format, err = wav.Decode(f)
	case ".ogg":
		streamer, format, err = vorbis.Decode(f)
	default:
		return nil, 0, 0, fmt.Errorf("unsupported audio format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, 0, 0, err
	}
	defer streamer.Close()

	var resampled beep.Streamer = streamer
	if int(format.SampleRate) != SampleRate {
		resampled = beep.Resample(4, format.SampleRate, beep.SampleRate(SampleRate), streamer)
	}

	const readChunk = 4096
	chunk := make([][2]float64, readChunk)
	var out []float32
	var peak float64

	for {
		n, ok := resampled.Stream(chunk)
		for i := 0; i < n; i++ {
			l, rgt := chunk[i][0], chunk[i][1]
			out = append(out, float32(l), float32(rgt))
			if a := math.Abs(l); a > peak {
				peak = a
			}
			if a := math.Abs(rgt); a > peak {
				peak = a
			}
		}
		if !ok {
			break
		}
	}

	frames := len(out) / Channels
	durationMs := 0
	if SampleRate > 0 {
		durationMs = frames * 1000 / SampleRate
	}
	return out, peak, durationMs, nil
}
