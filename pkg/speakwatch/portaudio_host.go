package speakwatch

import (
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/gordonklaus/portaudio"
)

var (
	errInvalidDeviceName = errors.New("device name is not valid UTF-8")
	errInputUnderflow    = errors.New("input underflow: no valid input data available")
	errNotPortAudio      = errors.New("device does not belong to the PortAudio host")
)

// PortAudioHost is the Host backed by PortAudio.
//
// PortAudio snapshots the device list when it is initialized, so devices
// plugged in after NewPortAudioHost only appear once the host is recreated.
type PortAudioHost struct {
	mu     sync.Mutex
	closed bool
	logger *Logger
}

// NewPortAudioHost initializes PortAudio. Close must be called to release it.
func NewPortAudioHost() (*PortAudioHost, error) {
	logger := GetGlobalLogger().WithComponent("PortAudioHost")
	if err := portaudio.Initialize(); err != nil {
		logger.WithError(err).Error("Failed to initialize PortAudio")
		return nil, NewHostUnavailableError(err)
	}
	logger.Debug("PortAudio initialized")
	return &PortAudioHost{logger: logger}, nil
}

// Close terminates PortAudio. Any stream still open is closed by PortAudio.
func (h *PortAudioHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	if err := portaudio.Terminate(); err != nil {
		h.logger.WithError(err).Error("Failed to terminate PortAudio")
		return err
	}
	h.logger.Debug("PortAudio terminated")
	return nil
}

func (h *PortAudioHost) InputDevices() ([]HostDevice, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, NewHostUnavailableError(errors.New("portaudio host closed"))
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, NewHostUnavailableError(err)
	}

	inputs := make([]HostDevice, 0, len(devices))
	for _, dev := range devices {
		if dev.MaxInputChannels > 0 {
			inputs = append(inputs, paDevice{info: dev})
		}
	}
	return inputs, nil
}

func (h *PortAudioHost) OpenInputStream(dev HostDevice, cfg StreamConfig, onBuffer func([]float32), onFault func(error)) (Stream, error) {
	pd, ok := dev.(paDevice)
	if !ok {
		return nil, errNotPortAudio
	}

	params := portaudio.LowLatencyParameters(pd.info, nil)
	params.Input.Channels = cfg.Channels
	if cfg.Latency > 0 {
		params.Input.Latency = cfg.Latency
	}
	params.Output.Device = nil
	params.Output.Channels = 0
	params.SampleRate = cfg.SampleRate
	params.FramesPerBuffer = portaudio.FramesPerBufferUnspecified

	stream, err := portaudio.OpenStream(params, func(in []float32, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
		if flags&portaudio.InputUnderflow != 0 {
			onFault(errInputUnderflow)
			return
		}
		onBuffer(in)
	})
	if err != nil {
		return nil, err
	}
	return &paStream{stream: stream}, nil
}

type paDevice struct {
	info *portaudio.DeviceInfo
}

func (d paDevice) Name() (string, error) {
	if !utf8.ValidString(d.info.Name) {
		return "", errInvalidDeviceName
	}
	return d.info.Name, nil
}

func (d paDevice) DefaultInputConfig() (StreamConfig, error) {
	if d.info.MaxInputChannels <= 0 {
		return StreamConfig{}, fmt.Errorf("device %q has no input channels", d.info.Name)
	}
	if d.info.DefaultSampleRate <= 0 {
		return StreamConfig{}, fmt.Errorf("device %q reports no default sample rate", d.info.Name)
	}
	return StreamConfig{
		Channels:   d.info.MaxInputChannels,
		SampleRate: d.info.DefaultSampleRate,
		Latency:    d.info.DefaultLowInputLatency,
	}, nil
}

type paStream struct {
	stream *portaudio.Stream
}

func (s *paStream) Start() error {
	return s.stream.Start()
}

// Close aborts rather than stops so a stalled device cannot block the caller
// waiting for pending buffers to drain.
func (s *paStream) Close() error {
	abortErr := s.stream.Abort()
	closeErr := s.stream.Close()
	if closeErr != nil {
		return closeErr
	}
	if abortErr != nil && !errors.Is(abortErr, portaudio.StreamIsStopped) {
		return abortErr
	}
	return nil
}
