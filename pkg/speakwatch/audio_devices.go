package speakwatch

import (
	"fmt"
)

// DeviceDirectory enumerates input devices on a Host. Nothing is cached;
// every call queries the host again.
type DeviceDirectory struct {
	host   Host
	sink   DiagnosticSink
	logger *Logger
}

// NewDeviceDirectory creates a directory over host. A nil sink discards
// diagnostics.
func NewDeviceDirectory(host Host, sink DiagnosticSink) *DeviceDirectory {
	if sink == nil {
		sink = discardSink{}
	}
	return &DeviceDirectory{
		host:   host,
		sink:   sink,
		logger: GetGlobalLogger().WithComponent("DeviceDirectory"),
	}
}

// ListInputDevices returns the host's input devices in host order. Devices
// whose name cannot be read are skipped. An empty host yields an empty,
// non-nil slice.
func (d *DeviceDirectory) ListInputDevices() ([]InputDevice, error) {
	d.sink.Diagnostic("enumerating input devices")

	named, err := enumerateInputs(d.host)
	if err != nil {
		d.logger.WithError(err).Error("Failed to enumerate input devices")
		return nil, err
	}

	devices := make([]InputDevice, 0, len(named))
	for _, n := range named {
		d.sink.Diagnostic(fmt.Sprintf("found input device: %s", n.name))
		devices = append(devices, InputDevice{Name: n.name, ID: n.name})
	}
	d.sink.Diagnostic(fmt.Sprintf("input devices found: %d", len(devices)))
	d.logger.WithField("device_count", len(devices)).Debug("Input devices enumerated")
	return devices, nil
}

// ListInputDevices is a convenience for a one-off enumeration without
// diagnostics.
func ListInputDevices(host Host) ([]InputDevice, error) {
	return NewDeviceDirectory(host, nil).ListInputDevices()
}

type namedDevice struct {
	name string
	dev  HostDevice
}

func enumerateInputs(host Host) ([]namedDevice, error) {
	devices, err := host.InputDevices()
	if err != nil {
		if IsErrorCode(err, ErrCodeHostUnavailable) {
			return nil, err
		}
		return nil, NewHostUnavailableError(err)
	}

	named := make([]namedDevice, 0, len(devices))
	for _, dev := range devices {
		name, err := dev.Name()
		if err != nil {
			continue
		}
		named = append(named, namedDevice{name: name, dev: dev})
	}
	return named, nil
}

// findInput returns the first device, in host order, whose name equals id.
func findInput(host Host, id string) (HostDevice, error) {
	named, err := enumerateInputs(host)
	if err != nil {
		return nil, err
	}
	for _, n := range named {
		if n.name == id {
			return n.dev, nil
		}
	}
	return nil, NewDeviceNotFoundError(id)
}
