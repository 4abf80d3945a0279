package speakwatch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Settings are the user choices an application restores at start-up.
type Settings struct {
	SelectedDevice string  `mapstructure:"selected_device" json:"selected_device"`
	Threshold      float32 `mapstructure:"threshold" json:"threshold"`
}

// DefaultSettings returns settings with no device and the default threshold.
func DefaultSettings() Settings {
	return Settings{Threshold: DefaultThreshold}
}

// SettingsStore persists Settings to a single file. The format follows the
// file extension.
type SettingsStore struct {
	mu   sync.Mutex
	path string
}

// NewSettingsStore returns a store backed by path.
func NewSettingsStore(path string) *SettingsStore {
	return &SettingsStore{path: path}
}

// Path returns the backing file.
func (s *SettingsStore) Path() string { return s.path }

// Exists reports whether the settings file is present.
func (s *SettingsStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

func isSettingsExt(ext string) bool {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "json", "yaml", "yml", "toml":
		return true
	}
	return false
}

func (s *SettingsStore) viper() (*viper.Viper, error) {
	if !isSettingsExt(filepath.Ext(s.path)) {
		return nil, fmt.Errorf("unsupported settings file type: %s", s.path)
	}
	v := viper.New()
	v.SetConfigFile(s.path)
	v.SetDefault("selected_device", "")
	v.SetDefault("threshold", DefaultThreshold)
	return v, nil
}

// Load reads the settings file. A missing file yields DefaultSettings.
func (s *SettingsStore) Load() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.viper()
	if err != nil {
		return DefaultSettings(), err
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return DefaultSettings(), nil
		}
		return DefaultSettings(), fmt.Errorf("read settings %s: %w", s.path, err)
	}
	return Settings{
		SelectedDevice: v.GetString("selected_device"),
		Threshold:      float32(v.GetFloat64("threshold")),
	}, nil
}

// Save writes settings, creating parent directories as needed.
func (s *SettingsStore) Save(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.viper()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create settings dir: %w", err)
		}
	}
	v.Set("selected_device", settings.SelectedDevice)
	v.Set("threshold", float64(settings.Threshold))
	if err := v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("write settings %s: %w", s.path, err)
	}
	return nil
}
