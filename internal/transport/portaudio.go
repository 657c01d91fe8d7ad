package transport

import (
	"context"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MomoPewpew/Orpheus/internal/jitterbuf"
)

// LocalAdapter writes mixer frames straight to a sound card via PortAudio,
// grounded in the teacher's capture/playback stream setup in audio.go
// (Start/resolveDevice). Used by cmd/ambienced-monitor for operators
// auditioning a mix without a live voice client — it never reports voice
// activity, since there is no remote party to duck against.
type LocalAdapter struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	outBuf []float32
	queue  *jitterbuf.Queue

	sampleRate float64
	channels   int
}

// NewLocalAdapter opens the default output device's playback stream.
func NewLocalAdapter(sampleRate float64, channels, framesPerBuffer, bufferCapacity int) (*LocalAdapter, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}

	a := &LocalAdapter{
		queue:      jitterbuf.New(bufferCapacity),
		sampleRate: sampleRate,
		channels:   channels,
	}

	outBuf := make([]float32, framesPerBuffer*channels)
	devices, err := portaudio.Devices()
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}
	outputDev, err := resolveOutputDevice(devices)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   outputDev,
			Channels: channels,
			Latency:  outputDev.DefaultLowOutputLatency,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: framesPerBuffer,
	}
	stream, err := portaudio.OpenStream(params, outBuf)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, err
	}

	a.stream = stream
	a.outBuf = outBuf
	return a, nil
}

func resolveOutputDevice(devices []*portaudio.DeviceInfo) (*portaudio.DeviceInfo, error) {
	def, err := portaudio.DefaultOutputDevice()
	if err == nil && def != nil {
		return def, nil
	}
	for _, d := range devices {
		if d.MaxOutputChannels > 0 {
			return d, nil
		}
	}
	return nil, err
}

// QueueFrame decodes the 16-bit LE PCM frame to float32 and pushes it to
// the output stream. PortAudio's blocking Write provides its own
// backpressure, so the jitterbuf here only tracks whether the last write
// succeeded for BufferedFrames' benefit.
func (a *LocalAdapter) QueueFrame(frame []byte) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stream == nil {
		return false
	}

	n := len(frame) / 2
	if n > len(a.outBuf) {
		n = len(a.outBuf)
	}
	for i := 0; i < n; i++ {
		s := int16(uint16(frame[i*2]) | uint16(frame[i*2+1])<<8)
		a.outBuf[i] = float32(s) / 32768.0
	}

	a.queue.Reset()
	if err := a.stream.Write(); err != nil {
		a.queue.Push(frame)
		return false
	}
	return true
}

func (a *LocalAdapter) BufferedFrames() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.queue.Depth()
}

func (a *LocalAdapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stream != nil
}

func (a *LocalAdapter) EnsureConnected(ctx context.Context) {
	// A local sound card doesn't disconnect/reconnect the way a network
	// session does; nothing to do once the stream opened successfully in
	// NewLocalAdapter.
}

func (a *LocalAdapter) HasVoiceActivity() bool { return false }

// Close stops and closes the PortAudio stream.
func (a *LocalAdapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stream != nil {
		a.stream.Stop()
		a.stream.Close()
		a.stream = nil
	}
	portaudio.Terminate()
}

var _ Adapter = (*LocalAdapter)(nil)
