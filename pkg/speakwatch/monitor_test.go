package speakwatch

import (
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type recordingSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *recordingSink) Diagnostic(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
}

func (s *recordingSink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}

func newTestMonitor(host Host, opts ...MonitorOption) *Monitor {
	opts = append([]MonitorOption{WithLogger(NopLogger())}, opts...)
	return NewMonitor(host, opts...)
}

func TestNewMonitorInitialState(t *testing.T) {
	m := newTestMonitor(NewFakeHost("mic"))

	assert.False(t, m.IsActive())
	assert.Equal(t, float32(0), m.Level())
	assert.Equal(t, DefaultThreshold, m.Threshold())
	assert.Equal(t, Idle, m.State())
	assert.Empty(t, m.Device())
	assert.False(t, m.Faulted())
}

func TestMonitorBufferScenarios(t *testing.T) {
	tests := []struct {
		name       string
		buffer     []float32
		threshold  float32
		wantLevel  float32
		wantActive bool
	}{
		{
			name:       "peak above threshold",
			buffer:     []float32{0.05, -0.02, 0.15},
			threshold:  0.1,
			wantLevel:  0.15,
			wantActive: true,
		},
		{
			name:       "peak below threshold",
			buffer:     []float32{0.05, -0.02, 0.08},
			threshold:  0.1,
			wantLevel:  0.08,
			wantActive: false,
		},
		{
			name:       "negative peak counts by magnitude",
			buffer:     []float32{0.01, -0.4, 0.2},
			threshold:  0.3,
			wantLevel:  0.4,
			wantActive: true,
		},
		{
			name:       "peak equal to threshold is not active",
			buffer:     []float32{0.25},
			threshold:  0.25,
			wantLevel:  0.25,
			wantActive: false,
		},
		{
			name:       "clipped input is not clamped",
			buffer:     []float32{1.5, -0.2},
			threshold:  0.1,
			wantLevel:  1.5,
			wantActive: true,
		},
		{
			name:       "negative threshold always triggers",
			buffer:     []float32{0},
			threshold:  -1,
			wantLevel:  0,
			wantActive: true,
		},
		{
			name:       "empty buffer",
			buffer:     []float32{},
			threshold:  0.1,
			wantLevel:  0,
			wantActive: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := NewFakeHost("mic")
			m := newTestMonitor(host, WithThreshold(tt.threshold))
			require.NoError(t, m.SelectDevice("mic"))

			require.True(t, host.LastStream().Deliver(tt.buffer))

			assert.Equal(t, tt.wantLevel, m.Level())
			assert.Equal(t, tt.wantActive, m.IsActive())
			assert.Equal(t, Reading{Level: tt.wantLevel, Active: tt.wantActive}, m.Reading())
		})
	}
}

func TestMonitorUsesThresholdInEffectAtProcessing(t *testing.T) {
	host := NewFakeHost("mic")
	m := newTestMonitor(host, WithThreshold(0.1))
	require.NoError(t, m.SelectDevice("mic"))
	stream := host.LastStream()

	stream.Deliver([]float32{0.2})
	assert.True(t, m.IsActive())

	// The published flag is not re-derived when the threshold changes.
	m.SetThreshold(0.5)
	assert.True(t, m.IsActive())
	assert.Equal(t, float32(0.2), m.Level())

	stream.Deliver([]float32{0.2})
	assert.False(t, m.IsActive())
}

func TestMonitorPeakProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		buf := rapid.SliceOf(rapid.Float32Range(-1, 1)).Draw(t, "buffer")
		threshold := rapid.Float32Range(-0.5, 1.5).Draw(t, "threshold")

		host := NewFakeHost("mic")
		m := newTestMonitor(host)
		if err := m.SelectDevice("mic"); err != nil {
			t.Fatalf("select: %v", err)
		}
		m.SetThreshold(threshold)
		host.LastStream().Deliver(buf)

		var peak float32
		for _, s := range buf {
			if a := float32(math.Abs(float64(s))); a > peak {
				peak = a
			}
		}
		if got := m.Level(); got != peak {
			t.Fatalf("level = %v, want %v", got, peak)
		}
		if got := m.IsActive(); got != (peak > threshold) {
			t.Fatalf("active = %v for peak %v threshold %v", got, peak, threshold)
		}
	})
}

func TestProperty_ThresholdRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)
	m := newTestMonitor(NewFakeHost())

	properties.Property("threshold reads back exactly what was written", prop.ForAll(
		func(v float32) bool {
			m.SetThreshold(v)
			return math.Float32bits(m.Threshold()) == math.Float32bits(v)
		},
		gen.Float32(),
	))

	properties.TestingRun(t)
}

func TestThresholdRoundTripSpecialValues(t *testing.T) {
	m := newTestMonitor(NewFakeHost())
	values := []float32{
		-1, 0, 1.5, 1e9,
		float32(math.Inf(1)), float32(math.Inf(-1)),
		math.SmallestNonzeroFloat32, math.MaxFloat32,
	}
	for _, v := range values {
		m.SetThreshold(v)
		assert.Equal(t, v, m.Threshold())
	}

	nan := float32(math.NaN())
	m.SetThreshold(nan)
	assert.Equal(t, math.Float32bits(nan), math.Float32bits(m.Threshold()))
}

func TestSelectUnknownDeviceLeavesStateUnchanged(t *testing.T) {
	host := NewFakeHost("mic")
	m := newTestMonitor(host, WithThreshold(0.1))
	require.NoError(t, m.SelectDevice("mic"))
	stream := host.LastStream()
	stream.Deliver([]float32{0.3})

	err := m.SelectDevice("headset")
	require.Error(t, err)
	assert.True(t, IsErrorCode(err, ErrCodeDeviceNotFound))
	assert.Contains(t, err.Error(), "headset")

	assert.Equal(t, float32(0.3), m.Level())
	assert.True(t, m.IsActive())
	assert.Equal(t, Monitoring, m.State())
	assert.Equal(t, "mic", m.Device())
	assert.True(t, stream.Running())
	assert.Len(t, host.Streams(), 1)
}

func TestSelectUnknownDeviceWhileIdle(t *testing.T) {
	m := newTestMonitor(NewFakeHost("mic"))

	err := m.SelectDevice("nope")
	assert.True(t, IsErrorCode(err, ErrCodeDeviceNotFound))
	assert.Equal(t, Idle, m.State())
	assert.False(t, m.IsActive())
	assert.Equal(t, float32(0), m.Level())
}

func TestSelectDeviceEnumeratesFresh(t *testing.T) {
	host := NewFakeHost()
	m := newTestMonitor(host)

	require.Error(t, m.SelectDevice("usb"))
	host.AddDevice(&FakeDevice{DeviceName: "usb", Config: StreamConfig{Channels: 2, SampleRate: 44100}})

	require.NoError(t, m.SelectDevice("usb"))
	assert.Equal(t, 2, host.Enumerations())
	assert.Equal(t, StreamConfig{Channels: 2, SampleRate: 44100}, host.LastStream().Config())
}

func TestSelectDeviceHostUnavailable(t *testing.T) {
	host := NewFakeHost("mic")
	cause := errors.New("daemon not running")
	host.SetEnumerationError(cause)
	m := newTestMonitor(host)

	err := m.SelectDevice("mic")
	require.Error(t, err)
	assert.True(t, IsErrorCode(err, ErrCodeHostUnavailable))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, Idle, m.State())
}

func TestSwitchDeviceClosesPreviousStreamFirst(t *testing.T) {
	host := NewFakeHost("builtin", "usb")
	m := newTestMonitor(host, WithThreshold(0.1))

	require.NoError(t, m.SelectDevice("builtin"))
	first := host.LastStream()
	first.Deliver([]float32{0.9})

	require.NoError(t, m.SelectDevice("usb"))
	second := host.LastStream()

	assert.True(t, first.Closed())
	assert.Equal(t, 0, second.RunningAtOpen())
	assert.Equal(t, 1, host.OpenStreams())
	assert.Equal(t, "usb", m.Device())
	assert.Equal(t, "usb", second.DeviceName())

	// Buffers from the old device are no longer processed.
	assert.False(t, first.Deliver([]float32{0.7}))
	assert.Equal(t, float32(0.9), m.Level())

	second.Deliver([]float32{0.05})
	assert.Equal(t, float32(0.05), m.Level())
	assert.False(t, m.IsActive())
}

func TestReselectSameDeviceReplacesStream(t *testing.T) {
	host := NewFakeHost("mic")
	m := newTestMonitor(host)

	require.NoError(t, m.SelectDevice("mic"))
	require.NoError(t, m.SelectDevice("mic"))

	streams := host.Streams()
	require.Len(t, streams, 2)
	assert.True(t, streams[0].Closed())
	assert.True(t, streams[1].Running())
	assert.Equal(t, 1, host.OpenStreams())
}

func TestConfigFailureKeepsCurrentStream(t *testing.T) {
	host := NewFakeHost("mic")
	host.AddDevice(&FakeDevice{DeviceName: "broken", ConfigErr: errors.New("no default format")})
	m := newTestMonitor(host)

	require.NoError(t, m.SelectDevice("mic"))
	stream := host.LastStream()

	err := m.SelectDevice("broken")
	require.Error(t, err)
	assert.True(t, IsErrorCode(err, ErrCodeStreamOpen))
	assert.True(t, stream.Running())
	assert.Equal(t, Monitoring, m.State())
	assert.Equal(t, "mic", m.Device())
}

func TestOpenFailureAfterDropLeavesMonitorIdle(t *testing.T) {
	tests := []struct {
		name   string
		device *FakeDevice
	}{
		{
			name:   "open refused",
			device: &FakeDevice{DeviceName: "exclusive", OpenErr: errors.New("device busy")},
		},
		{
			name:   "start refused",
			device: &FakeDevice{DeviceName: "exclusive", StartErr: errors.New("start failed")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := NewFakeHost("mic")
			host.AddDevice(tt.device)
			m := newTestMonitor(host, WithThreshold(0.1))

			require.NoError(t, m.SelectDevice("mic"))
			previous := host.LastStream()
			previous.Deliver([]float32{0.4})

			err := m.SelectDevice("exclusive")
			require.Error(t, err)
			assert.True(t, IsErrorCode(err, ErrCodeStreamOpen))

			assert.True(t, previous.Closed())
			assert.Equal(t, Idle, m.State())
			assert.Empty(t, m.Device())
			assert.Equal(t, 0, host.OpenStreams())

			// The last published values remain readable.
			assert.Equal(t, float32(0.4), m.Level())
			assert.True(t, m.IsActive())
		})
	}
}

func TestStartFailureClosesNewStream(t *testing.T) {
	host := NewFakeHost()
	host.AddDevice(&FakeDevice{DeviceName: "mic", StartErr: errors.New("start failed")})
	m := newTestMonitor(host)

	require.Error(t, m.SelectDevice("mic"))
	require.NotNil(t, host.LastStream())
	assert.True(t, host.LastStream().Closed())
}

func TestDuplicateNamesSelectFirstInHostOrder(t *testing.T) {
	host := NewFakeHost()
	host.AddDevice(&FakeDevice{DeviceName: "USB Audio", Config: StreamConfig{Channels: 1, SampleRate: 16000}})
	host.AddDevice(&FakeDevice{DeviceName: "USB Audio", Config: StreamConfig{Channels: 2, SampleRate: 48000}})
	m := newTestMonitor(host)

	require.NoError(t, m.SelectDevice("USB Audio"))
	assert.Equal(t, 16000.0, host.LastStream().Config().SampleRate)
}

func TestSelectSkipsDevicesWithoutName(t *testing.T) {
	host := NewFakeHost()
	host.AddDevice(&FakeDevice{DeviceName: "mic", NameErr: errors.New("name unavailable")})
	m := newTestMonitor(host)

	err := m.SelectDevice("mic")
	assert.True(t, IsErrorCode(err, ErrCodeDeviceNotFound))
}

func TestCallbackFaultIsReportedAndStreamGoesStale(t *testing.T) {
	host := NewFakeHost("mic")
	sink := &recordingSink{}
	m := newTestMonitor(host, WithThreshold(0.1), WithDiagnostics(sink))

	require.NoError(t, m.SelectDevice("mic"))
	stream := host.LastStream()
	stream.Deliver([]float32{0.5})

	require.True(t, stream.Fault(errors.New("device unplugged")))
	assert.True(t, m.Faulted())
	assert.Equal(t, Monitoring, m.State())

	lines := sink.Lines()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "device unplugged")
	assert.Contains(t, lines[0], "mic")

	// Further buffers and faults from the faulted stream are ignored.
	stream.Deliver([]float32{0.01})
	stream.Fault(errors.New("again"))
	assert.Equal(t, float32(0.5), m.Level())
	assert.True(t, m.IsActive())
	assert.Len(t, sink.Lines(), 1)

	require.NoError(t, m.SelectDevice("mic"))
	assert.False(t, m.Faulted())
	host.LastStream().Deliver([]float32{0.01})
	assert.Equal(t, float32(0.01), m.Level())
	assert.False(t, m.IsActive())
}

func TestCloseDropsStream(t *testing.T) {
	host := NewFakeHost("mic")
	m := newTestMonitor(host)

	require.NoError(t, m.Close())

	require.NoError(t, m.SelectDevice("mic"))
	stream := host.LastStream()
	require.NoError(t, m.Close())

	assert.True(t, stream.Closed())
	assert.Equal(t, Idle, m.State())
	assert.False(t, stream.Deliver([]float32{1}))

	require.NoError(t, m.SelectDevice("mic"))
	assert.Equal(t, Monitoring, m.State())
}

func TestConcurrentReadersSeeConsistentReadings(t *testing.T) {
	host := NewFakeHost("mic")
	m := newTestMonitor(host, WithThreshold(0.5))
	require.NoError(t, m.SelectDevice("mic"))
	stream := host.LastStream()

	loud := []float32{0.1, -0.9, 0.3}
	quiet := []float32{0.1, -0.2, 0.05}

	var stop atomic.Bool
	var wg sync.WaitGroup
	var torn atomic.Int64

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				r := m.Reading()
				if r.Level != 0 && r.Active != (r.Level > 0.5) {
					torn.Add(1)
				}
				_ = m.IsActive()
				_ = m.Level()
				_ = m.Threshold()
			}
		}()
	}

	for i := 0; i < 5000; i++ {
		if i%2 == 0 {
			stream.Deliver(loud)
		} else {
			stream.Deliver(quiet)
		}
	}
	stop.Store(true)
	wg.Wait()

	assert.Zero(t, torn.Load())
}

func TestConcurrentSelectDeviceNeverLeavesTwoStreams(t *testing.T) {
	host := NewFakeHost("a", "b", "c")
	m := newTestMonitor(host)
	names := []string{"a", "b", "c"}

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, m.SelectDevice(names[i%len(names)]))
		}(i)
	}

	var deliverers sync.WaitGroup
	var stop atomic.Bool
	deliverers.Add(1)
	go func() {
		defer deliverers.Done()
		for !stop.Load() {
			if s := host.LastStream(); s != nil {
				s.Deliver([]float32{0.2})
			}
		}
	}()

	wg.Wait()
	stop.Store(true)
	deliverers.Wait()

	assert.Equal(t, 1, host.OpenStreams())
	for _, s := range host.Streams() {
		assert.Zero(t, s.RunningAtOpen())
	}
	assert.True(t, strings.Contains("abc", m.Device()))
	assert.NotEmpty(t, m.Device())
}
