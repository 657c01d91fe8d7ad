// Package transport implements the voice-transport adapter contract of
// spec §6/§7: a 40ms-frame sink the mixer submits PCM to, with buffered-depth
// reporting for backpressure and a voice-activity query for the speech
// ducker. Concrete adapters wrap a live WebTransport session or a local
// sound card; tests use NopAdapter.
package transport

import "context"

// Adapter is the transport contract spec.md §6 describes: queue_frame,
// buffered_frames, is_connected, ensure_connected, has_voice_activity.
type Adapter interface {
	// QueueFrame submits one 16-bit LE PCM frame for transmission. Reports
	// false if the frame was dropped (disconnected, or the adapter's own
	// buffer is full) — the mixer treats this the same as any other submit
	// failure: drop and continue pacing (spec §7).
	QueueFrame(frame []byte) bool

	// BufferedFrames reports how many frames are queued for send but not
	// yet flushed — the backpressure signal the mixer compares against
	// target_buffer_chunks.
	BufferedFrames() int

	// IsConnected reports whether the adapter currently has a usable
	// session.
	IsConnected() bool

	// EnsureConnected attempts to (re)establish a session if not already
	// connected. Must not block longer than a brief, bounded attempt — the
	// mixer calls this once per frame when disconnected and then skips the
	// frame regardless of outcome (spec §4.4 step 2).
	EnsureConnected(ctx context.Context)

	// HasVoiceActivity reports whether the remote party is currently
	// speaking, gating the DSP chain's speech ducker.
	HasVoiceActivity() bool
}
