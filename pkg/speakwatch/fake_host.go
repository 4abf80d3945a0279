package speakwatch

import (
	"errors"
	"sync"
)

// FakeHost is an in-memory Host whose devices and buffer delivery are driven
// by the caller. It is safe for concurrent use.
type FakeHost struct {
	mu         sync.Mutex
	devices    []*FakeDevice
	enumErr    error
	streams    []*FakeStream
	enumerated int
}

// FakeDevice is a device registered on a FakeHost.
type FakeDevice struct {
	DeviceName string
	Config     StreamConfig
	// NameErr makes Name fail, as a host does for unreadable endpoints.
	NameErr error
	// ConfigErr makes DefaultInputConfig fail.
	ConfigErr error
	// OpenErr makes OpenInputStream fail for this device.
	OpenErr error
	// StartErr makes Start fail on streams opened for this device.
	StartErr error
}

func (d *FakeDevice) Name() (string, error) {
	if d.NameErr != nil {
		return "", d.NameErr
	}
	return d.DeviceName, nil
}

func (d *FakeDevice) DefaultInputConfig() (StreamConfig, error) {
	if d.ConfigErr != nil {
		return StreamConfig{}, d.ConfigErr
	}
	return d.Config, nil
}

// NewFakeHost returns a host with one mono 48 kHz device per name.
func NewFakeHost(names ...string) *FakeHost {
	h := &FakeHost{}
	for _, name := range names {
		h.AddDevice(&FakeDevice{
			DeviceName: name,
			Config:     StreamConfig{Channels: 1, SampleRate: 48000},
		})
	}
	return h
}

// AddDevice appends dev to the enumeration order.
func (h *FakeHost) AddDevice(dev *FakeDevice) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.devices = append(h.devices, dev)
}

// RemoveDevice drops every device named name from future enumerations.
func (h *FakeHost) RemoveDevice(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	kept := h.devices[:0]
	for _, d := range h.devices {
		if d.DeviceName != name {
			kept = append(kept, d)
		}
	}
	h.devices = kept
}

// SetEnumerationError makes InputDevices fail with err until reset with nil.
func (h *FakeHost) SetEnumerationError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enumErr = err
}

// Enumerations counts InputDevices calls.
func (h *FakeHost) Enumerations() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enumerated
}

func (h *FakeHost) InputDevices() ([]HostDevice, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enumerated++
	if h.enumErr != nil {
		return nil, h.enumErr
	}
	devices := make([]HostDevice, 0, len(h.devices))
	for _, d := range h.devices {
		devices = append(devices, d)
	}
	return devices, nil
}

func (h *FakeHost) OpenInputStream(dev HostDevice, cfg StreamConfig, onBuffer func([]float32), onFault func(error)) (Stream, error) {
	fd, ok := dev.(*FakeDevice)
	if !ok {
		return nil, errors.New("device does not belong to the fake host")
	}
	if fd.OpenErr != nil {
		return nil, fd.OpenErr
	}
	s := &FakeStream{device: fd, config: cfg, onBuffer: onBuffer, onFault: onFault}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, other := range h.streams {
		if other.Running() {
			s.runningAtOpen++
		}
	}
	h.streams = append(h.streams, s)
	return s, nil
}

// Streams returns every stream opened so far, oldest first.
func (h *FakeHost) Streams() []*FakeStream {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*FakeStream, len(h.streams))
	copy(out, h.streams)
	return out
}

// LastStream returns the most recently opened stream, or nil.
func (h *FakeHost) LastStream() *FakeStream {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.streams) == 0 {
		return nil
	}
	return h.streams[len(h.streams)-1]
}

// OpenStreams counts streams that are started and not yet closed.
func (h *FakeHost) OpenStreams() int {
	h.mu.Lock()
	streams := make([]*FakeStream, len(h.streams))
	copy(streams, h.streams)
	h.mu.Unlock()

	n := 0
	for _, s := range streams {
		if s.Running() {
			n++
		}
	}
	return n
}

// FakeStream delivers buffers synchronously on the goroutine calling Deliver.
// Deliver and Close are mutually exclusive, so no callback runs after Close.
type FakeStream struct {
	mu       sync.Mutex
	device   *FakeDevice
	config   StreamConfig
	onBuffer func([]float32)
	onFault  func(error)
	started  bool
	closed   bool

	runningAtOpen int
}

// DeviceName returns the name of the device the stream was opened on.
func (s *FakeStream) DeviceName() string { return s.device.DeviceName }

// RunningAtOpen is how many other streams of the host were running when this
// one was opened.
func (s *FakeStream) RunningAtOpen() int { return s.runningAtOpen }

// Config returns the negotiated configuration.
func (s *FakeStream) Config() StreamConfig { return s.config }

func (s *FakeStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device.StartErr != nil {
		return s.device.StartErr
	}
	if s.closed {
		return errors.New("stream closed")
	}
	s.started = true
	return nil
}

func (s *FakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Running reports whether the stream is started and not closed.
func (s *FakeStream) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.closed
}

// Closed reports whether Close was called.
func (s *FakeStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Deliver hands buf to the stream callback. It returns false when the stream
// is not running and the buffer was dropped.
func (s *FakeStream) Deliver(buf []float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.closed {
		return false
	}
	s.onBuffer(buf)
	return true
}

// Fault reports err through the stream's fault callback.
func (s *FakeStream) Fault(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.closed {
		return false
	}
	s.onFault(err)
	return true
}
