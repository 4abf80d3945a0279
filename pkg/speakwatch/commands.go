package speakwatch

// Commands is the surface an application binds to its UI. Failures are
// returned as user-visible text; an empty string means success.
type Commands struct {
	directory *DeviceDirectory
	monitor   *Monitor
}

// NewCommands binds a directory and a monitor sharing the same host.
func NewCommands(directory *DeviceDirectory, monitor *Monitor) *Commands {
	return &Commands{directory: directory, monitor: monitor}
}

func (c *Commands) ListInputDevices() ([]InputDevice, string) {
	devices, err := c.directory.ListInputDevices()
	if err != nil {
		return nil, err.Error()
	}
	return devices, ""
}

func (c *Commands) SelectDevice(id string) string {
	if err := c.monitor.SelectDevice(id); err != nil {
		return err.Error()
	}
	return ""
}

func (c *Commands) IsActive() bool {
	return c.monitor.IsActive()
}

func (c *Commands) GetLevel() float32 {
	return c.monitor.Level()
}

func (c *Commands) SetThreshold(value float32) {
	c.monitor.SetThreshold(value)
}

func (c *Commands) GetThreshold() float32 {
	return c.monitor.Threshold()
}
