package speakwatch

// DefaultThreshold is the level above which a buffer counts as speech.
const DefaultThreshold float32 = 0.001

// InputDevice is one entry of the device directory. ID is what SelectDevice
// expects; it is currently the display name.
type InputDevice struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// MonitorState enum
type MonitorState string

const (
	Idle       MonitorState = "idle"
	Monitoring MonitorState = "monitoring"
)

// Reading is the level and activity derived from a single buffer.
type Reading struct {
	Level  float32 `json:"level"`
	Active bool    `json:"active"`
}

// DiagnosticSink receives human-readable diagnostic lines from the engine.
type DiagnosticSink interface {
	Diagnostic(line string)
}

// DiagnosticFunc adapts a plain function to DiagnosticSink.
type DiagnosticFunc func(line string)

func (f DiagnosticFunc) Diagnostic(line string) { f(line) }

// LoggerSink routes diagnostics to a Logger at info level.
type LoggerSink struct {
	Logger *Logger
}

func (s LoggerSink) Diagnostic(line string) {
	if s.Logger == nil {
		return
	}
	s.Logger.Info(line)
}

type discardSink struct{}

func (discardSink) Diagnostic(string) {}
