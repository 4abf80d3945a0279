package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rojolang/speakwatch/pkg/speakwatch"
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	configPath string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "speakwatch",
		Short: "Speaking indicator for a microphone",
		Long:  "Shows in real time whether someone is speaking into the selected input device",

		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			lc := cfg.LogConfig()
			if verbose {
				lc.Level = speakwatch.DebugLevel
			}
			speakwatch.SetGlobalLogger(speakwatch.NewLogger(lc))
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file (json, yaml or toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn, error, none")

	rootCmd.AddCommand(devicesCmd())
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(thresholdCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		speakwatch.GetGlobalLogger().WithError(err).Fatal("CLI execution failed")
	}
}

func loadConfig() *speakwatch.Config {
	cfg, err := speakwatch.LoadConfig(configPath)
	if err != nil {
		speakwatch.GetGlobalLogger().WithError(err).Fatal("Failed to load configuration")
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg
}

func devicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Audio input device commands",
	}
	cmd.AddCommand(devicesListCmd())
	return cmd
}

func devicesListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available input devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			host, err := speakwatch.NewPortAudioHost()
			if err != nil {
				return fmt.Errorf("list devices: %w", err)
			}
			defer host.Close()

			logger := speakwatch.GetGlobalLogger().WithComponent("CLI")
			directory := speakwatch.NewDeviceDirectory(host, speakwatch.LoggerSink{Logger: logger})
			devices, err := directory.ListInputDevices()
			if err != nil {
				return fmt.Errorf("list devices: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(devices)
			}

			if len(devices) == 0 {
				fmt.Println("No input devices found")
				return nil
			}
			fmt.Println("Input Devices:")
			for i, device := range devices {
				fmt.Printf("  %d: %s\n", i, device.Name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print devices as JSON")
	return cmd
}

func monitorCmd() *cobra.Command {
	var (
		device    string
		threshold float32
		interval  time.Duration
		duration  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Show a live speaking indicator",
		Long:  "Select an input device and show whether someone is speaking, refreshed every interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			logger := speakwatch.GetGlobalLogger().WithComponent("CLI")
			store := speakwatch.NewSettingsStore(cfg.SettingsFile)

			saved, err := store.Load()
			if err != nil {
				logger.WithError(err).Warn("Failed to load saved settings")
			}

			selected := firstNonEmpty(device, cfg.Device, saved.SelectedDevice)
			if selected == "" {
				return errors.New("no device selected; run `speakwatch devices list` and pass --device")
			}

			thr := cfg.Threshold
			if store.Exists() {
				thr = saved.Threshold
			}
			if cmd.Flags().Changed("threshold") {
				thr = threshold
			}
			if !cmd.Flags().Changed("interval") {
				interval = cfg.PollInterval
			}

			host, err := speakwatch.NewPortAudioHost()
			if err != nil {
				return err
			}
			defer host.Close()

			directory := speakwatch.NewDeviceDirectory(host, speakwatch.LoggerSink{Logger: logger})
			monitor := speakwatch.NewMonitor(host,
				speakwatch.WithThreshold(thr),
				speakwatch.WithDiagnostics(speakwatch.LoggerSink{Logger: logger}),
			)
			defer monitor.Close()
			commands := speakwatch.NewCommands(directory, monitor)

			if failure := commands.SelectDevice(selected); failure != "" {
				return errors.New(failure)
			}
			if err := store.Save(speakwatch.Settings{SelectedDevice: selected, Threshold: commands.GetThreshold()}); err != nil {
				logger.WithError(err).Warn("Failed to save settings")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			fmt.Printf("Monitoring %q (threshold %g), Ctrl+C to stop\n", selected, commands.GetThreshold())

			handler := speakwatch.ChainReadingHandlers(
				func(r speakwatch.Reading) {
					fmt.Printf("\r%s", formatIndicator(r, commands.GetThreshold(), 30))
				},
				speakwatch.CreateActivityChangeHandler(func(active bool) {
					logger.WithField("active", active).Debug("Activity changed")
				}),
				speakwatch.CreateStaleLevelDetector(3*time.Second, func(since time.Duration) {
					if !monitor.Faulted() {
						logger.WithField("since", since.String()).Debug("Level unchanged")
						return
					}
					logger.Warn("Capture stream faulted, reselecting device")
					if failure := commands.SelectDevice(selected); failure != "" {
						logger.Error(failure)
					}
				}),
			)

			_ = speakwatch.Poll(ctx, monitor, interval, handler)
			fmt.Println()
			return nil
		},
	}

	cmd.Flags().StringVarP(&device, "device", "d", "", "Input device name")
	cmd.Flags().Float32VarP(&threshold, "threshold", "t", speakwatch.DefaultThreshold, "Activity threshold")
	cmd.Flags().DurationVarP(&interval, "interval", "i", 100*time.Millisecond, "Refresh interval")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop after this long (0 runs until interrupted)")
	return cmd
}

func thresholdCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threshold",
		Short: "Show or change the saved activity threshold",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the saved threshold",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			settings, err := speakwatch.NewSettingsStore(cfg.SettingsFile).Load()
			if err != nil {
				return fmt.Errorf("load settings: %w", err)
			}
			fmt.Println(strconv.FormatFloat(float64(settings.Threshold), 'g', -1, 32))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [value]",
		Short: "Save a new threshold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseFloat(args[0], 32)
			if err != nil {
				return fmt.Errorf("invalid threshold %q: %w", args[0], err)
			}
			cfg := loadConfig()
			store := speakwatch.NewSettingsStore(cfg.SettingsFile)
			settings, err := store.Load()
			if err != nil {
				return fmt.Errorf("load settings: %w", err)
			}
			settings.Threshold = float32(value)
			if err := store.Save(settings); err != nil {
				return fmt.Errorf("save settings: %w", err)
			}
			fmt.Printf("Threshold set to %g\n", settings.Threshold)
			return nil
		},
	})

	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			fmt.Println("Current Configuration:")
			fmt.Printf("  Log Level: %s\n", cfg.LogLevel)
			fmt.Printf("  Pretty Logs: %v\n", cfg.LogPretty)
			fmt.Printf("  Threshold: %g\n", cfg.Threshold)
			fmt.Printf("  Poll Interval: %s\n", cfg.PollInterval)
			fmt.Printf("  Settings File: %s\n", cfg.SettingsFile)
			fmt.Printf("  Device: %s\n", orDefault(cfg.Device, "<from settings>"))

			if issues := cfg.Validate(); len(issues) > 0 {
				fmt.Println("\nIssues:")
				for _, issue := range issues {
					fmt.Printf("  - %s\n", issue)
				}
			}
			return nil
		},
	})

	return cmd
}

// formatIndicator renders one status line: a marker, a label, the level and
// a bar whose threshold position is marked with '|'.
func formatIndicator(r speakwatch.Reading, threshold float32, width int) string {
	marker, label := "○", "silent"
	if r.Active {
		marker, label = "●", "speaking"
	}
	return fmt.Sprintf("%s %-8s %.4f [%s]", marker, label, r.Level, levelBar(r.Level, threshold, width))
}

func levelBar(level, threshold float32, width int) string {
	if width <= 0 {
		return ""
	}
	filled := barCells(level, width)
	mark := -1
	if threshold >= 0 && threshold <= 1 {
		mark = barCells(threshold, width)
		if mark >= width {
			mark = width - 1
		}
	}

	var b strings.Builder
	for i := 0; i < width; i++ {
		switch {
		case i == mark:
			b.WriteByte('|')
		case i < filled:
			b.WriteByte('#')
		default:
			b.WriteByte(' ')
		}
	}
	return b.String()
}

func barCells(v float32, width int) int {
	if !(v > 0) {
		return 0
	}
	if v >= 1 {
		return width
	}
	return int(v * float32(width))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
