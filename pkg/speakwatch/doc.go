// Package speakwatch detects, in near real time, whether someone is speaking
// into a selected microphone.
//
// # Overview
//
// The package provides:
//   - A device directory listing the host's input devices
//   - A capture monitor that holds one capture stream and classifies every
//     buffer by its peak level against a threshold
//   - A PortAudio host backend and an in-memory FakeHost
//   - A command surface that flattens failures to user-visible text
//   - Structured logging with Zerolog, configuration and persisted settings
//
// # Quick Start
//
//	host, err := speakwatch.NewPortAudioHost()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer host.Close()
//
//	devices, err := speakwatch.ListInputDevices(host)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	monitor := speakwatch.NewMonitor(host, speakwatch.WithThreshold(0.05))
//	defer monitor.Close()
//	if err := monitor.SelectDevice(devices[0].ID); err != nil {
//		log.Fatal(err)
//	}
//
//	for range time.Tick(100 * time.Millisecond) {
//		r := monitor.Reading()
//		fmt.Printf("level=%.3f active=%v\n", r.Level, r.Active)
//	}
//
// # Device Identity
//
// Devices are identified by their display name. Two devices reporting the
// same name cannot be told apart; SelectDevice picks the first one in host
// enumeration order.
//
// # Stream Replacement
//
// SelectDevice looks the device up and reads its default configuration
// first; failures there leave the current stream running. It then closes the
// current stream before opening the new one. If opening fails the monitor is
// left idle.
//
// # Thread Safety
//
// Buffers are processed on the host's audio thread. Level and activity are
// published together in one atomic word, the threshold in another, so
// IsActive, Level, Reading, Threshold and SetThreshold never block. Stream
// replacement is serialized by a mutex.
//
// # Faults
//
// A fault reported by the host while delivering buffers is written to the
// DiagnosticSink and never returned to a caller. The stream then stops
// updating state until another device is selected.
package speakwatch
