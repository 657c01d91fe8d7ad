package transport

import (
	"context"
	"sync"

	"github.com/MomoPewpew/Orpheus/internal/jitterbuf"
)

// NopAdapter is a test double and dev-mode fallback: it accepts frames into
// a bounded queue (so backpressure tests have something real to observe)
// and never reports voice activity unless told to.
type NopAdapter struct {
	mu        sync.Mutex
	queue     *jitterbuf.Queue
	connected bool
	voiceOn   bool
}

// NewNopAdapter creates a connected NopAdapter whose queue holds up to
// bufferCapacity frames.
func NewNopAdapter(bufferCapacity int) *NopAdapter {
	return &NopAdapter{
		queue:     jitterbuf.New(bufferCapacity),
		connected: true,
	}
}

func (n *NopAdapter) QueueFrame(frame []byte) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.connected {
		return false
	}
	return n.queue.Push(frame)
}

// Drain removes and returns every currently queued frame, simulating the
// transport flushing its buffer — tests call this between mixer iterations
// to relieve backpressure.
func (n *NopAdapter) Drain() [][]byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out [][]byte
	for {
		f := n.queue.Pop()
		if f == nil {
			break
		}
		out = append(out, f)
	}
	return out
}

func (n *NopAdapter) BufferedFrames() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.queue.Depth()
}

func (n *NopAdapter) IsConnected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connected
}

func (n *NopAdapter) EnsureConnected(ctx context.Context) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connected = true
}

// SetConnected lets tests simulate a disconnect.
func (n *NopAdapter) SetConnected(connected bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connected = connected
	if !connected {
		n.queue.Reset()
	}
}

func (n *NopAdapter) HasVoiceActivity() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.voiceOn
}

// SetVoiceActivity lets tests drive the speech-ducker gate.
func (n *NopAdapter) SetVoiceActivity(active bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.voiceOn = active
}

var _ Adapter = (*NopAdapter)(nil)
