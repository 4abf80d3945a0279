package speakwatch

import "time"

// StreamConfig is the negotiated capture format for one stream.
type StreamConfig struct {
	Channels   int
	SampleRate float64
	Latency    time.Duration
}

// HostDevice is an input endpoint as reported by a Host.
type HostDevice interface {
	// Name returns the device's display name, or an error when the host
	// cannot report one.
	Name() (string, error)
	// DefaultInputConfig returns the device's preferred capture format.
	DefaultInputConfig() (StreamConfig, error)
}

// Stream is an open capture stream.
type Stream interface {
	Start() error
	// Close stops buffer delivery. No callback runs after Close returns.
	Close() error
}

// Host is the host audio subsystem.
//
// onBuffer is invoked on the host's audio thread with interleaved samples in
// unit range. The slice is only valid for the duration of the call. onFault
// is invoked on the same thread when the host reports a delivery fault.
type Host interface {
	InputDevices() ([]HostDevice, error)
	OpenInputStream(dev HostDevice, cfg StreamConfig, onBuffer func([]float32), onFault func(error)) (Stream, error)
}
