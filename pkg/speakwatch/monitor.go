package speakwatch

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Monitor owns at most one capture stream and publishes the peak level and
// activity of the most recent buffer.
//
// Level/activity, threshold and the stream handle are synchronized
// independently. Readers never take a lock.
type Monitor struct {
	host   Host
	sink   DiagnosticSink
	logger *Logger

	reading   atomic.Uint64 // packed Reading
	threshold atomic.Uint32 // float32 bits

	mu     sync.Mutex // serializes stream replacement
	stream Stream
	guard  *streamGuard
	device string
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithThreshold sets the initial activity threshold.
func WithThreshold(t float32) MonitorOption {
	return func(m *Monitor) { m.threshold.Store(math.Float32bits(t)) }
}

// WithDiagnostics routes enumeration output and stream faults to sink.
func WithDiagnostics(sink DiagnosticSink) MonitorOption {
	return func(m *Monitor) {
		if sink != nil {
			m.sink = sink
		}
	}
}

// WithLogger replaces the monitor's structured logger.
func WithLogger(l *Logger) MonitorOption {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewMonitor creates an idle monitor with level 0, inactive, and the
// default threshold.
func NewMonitor(host Host, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		host:   host,
		sink:   discardSink{},
		logger: GetGlobalLogger(),
	}
	m.threshold.Store(math.Float32bits(DefaultThreshold))
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithComponent("Monitor").WithField("monitor_id", uuid.NewString())
	return m
}

// streamGuard gates buffer processing for one stream. Once retired or
// faulted, buffers from that stream no longer touch the monitor's state.
type streamGuard struct {
	device  string
	retired atomic.Bool
	faulted atomic.Bool
}

func (g *streamGuard) live() bool {
	return !g.retired.Load() && !g.faulted.Load()
}

// SelectDevice starts monitoring the input device whose name equals id.
//
// The device list is enumerated fresh. If the device is missing or its
// default configuration cannot be read, the current stream keeps running.
// Otherwise the current stream is closed before the new one is opened, so a
// failure to open or start the new stream leaves the monitor idle.
func (m *Monitor) SelectDevice(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dev, err := findInput(m.host, id)
	if err != nil {
		m.logger.WithError(err).WithField("device", id).Warn("Device selection failed")
		return err
	}

	cfg, err := dev.DefaultInputConfig()
	if err != nil {
		openErr := NewStreamOpenError(id, err)
		m.logger.LogError(openErr)
		return openErr
	}

	m.dropStreamLocked()

	guard := &streamGuard{device: id}
	stream, err := m.host.OpenInputStream(dev, cfg,
		func(buf []float32) { m.process(guard, buf) },
		func(err error) { m.fault(guard, err) },
	)
	if err != nil {
		openErr := NewStreamOpenError(id, err)
		m.logger.LogError(openErr)
		return openErr
	}
	if err := stream.Start(); err != nil {
		guard.retired.Store(true)
		if cerr := stream.Close(); cerr != nil {
			m.logger.WithError(cerr).Warn("Failed to close stream after start failure")
		}
		openErr := NewStreamOpenError(id, err)
		m.logger.LogError(openErr)
		return openErr
	}

	m.stream = stream
	m.guard = guard
	m.device = id
	m.logger.LogAudioEvent("monitoring_started", map[string]interface{}{
		"device":      id,
		"channels":    cfg.Channels,
		"sample_rate": cfg.SampleRate,
	})
	return nil
}

// dropStreamLocked closes the held stream, if any. m.mu must be held.
func (m *Monitor) dropStreamLocked() {
	if m.stream == nil {
		return
	}
	m.guard.retired.Store(true)
	if err := m.stream.Close(); err != nil {
		m.logger.WithError(err).WithField("device", m.device).Warn("Failed to close capture stream")
	}
	m.logger.LogAudioEvent("monitoring_stopped", map[string]interface{}{"device": m.device})
	m.stream = nil
	m.guard = nil
	m.device = ""
}

// process runs on the host audio thread for every delivered buffer.
func (m *Monitor) process(g *streamGuard, buf []float32) {
	if !g.live() {
		return
	}
	level := PeakLevel(buf)
	threshold := math.Float32frombits(m.threshold.Load())
	m.reading.Store(packReading(Reading{Level: level, Active: Classify(level, threshold)}))
}

// fault runs on the host audio thread. The first fault of a stream is
// reported and the stream stops updating state until a new device is
// selected.
func (m *Monitor) fault(g *streamGuard, err error) {
	if g.retired.Load() || !g.faulted.CompareAndSwap(false, true) {
		return
	}
	fErr := NewCallbackFaultError(g.device, err)
	m.sink.Diagnostic(fmt.Sprintf("audio stream error: %s", fErr.Error()))
	m.logger.LogError(fErr)
}

// Close stops monitoring and releases the stream. The monitor can be
// reused with SelectDevice afterwards.
func (m *Monitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropStreamLocked()
	return nil
}

// IsActive reports whether the last processed buffer was classified as speech.
func (m *Monitor) IsActive() bool {
	return m.Reading().Active
}

// Level returns the peak level of the last processed buffer.
func (m *Monitor) Level() float32 {
	return m.Reading().Level
}

// Reading returns level and activity as published for the same buffer.
func (m *Monitor) Reading() Reading {
	return unpackReading(m.reading.Load())
}

// Threshold returns the current activity threshold.
func (m *Monitor) Threshold() float32 {
	return math.Float32frombits(m.threshold.Load())
}

// SetThreshold changes the activity threshold. Any value is accepted; it is
// applied from the next processed buffer.
func (m *Monitor) SetThreshold(t float32) {
	m.threshold.Store(math.Float32bits(t))
}

// State reports whether a stream is currently held.
func (m *Monitor) State() MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return Idle
	}
	return Monitoring
}

// Device returns the id of the monitored device, or "" when idle.
func (m *Monitor) Device() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.device
}

// Faulted reports whether the held stream has reported a fault and is no
// longer updating state.
func (m *Monitor) Faulted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.guard != nil && m.guard.faulted.Load()
}
