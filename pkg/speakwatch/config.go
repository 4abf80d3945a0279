package speakwatch

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application-level settings.
type Config struct {
	LogLevel     string        `mapstructure:"log_level" json:"log_level" validate:"loglevel"`
	LogPretty    bool          `mapstructure:"log_pretty" json:"log_pretty"`
	Threshold    float32       `mapstructure:"threshold" json:"threshold"`
	PollInterval time.Duration `mapstructure:"poll_interval" json:"poll_interval" validate:"gt=0"`
	SettingsFile string        `mapstructure:"settings_file" json:"settings_file" validate:"required,settingsext"`
	Device       string        `mapstructure:"device" json:"device,omitempty"`
}

var validate = newConfigValidator()

func newConfigValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("loglevel", func(fl validator.FieldLevel) bool {
		_, ok := ParseLogLevel(fl.Field().String())
		return ok
	})
	_ = v.RegisterValidation("settingsext", func(fl validator.FieldLevel) bool {
		return isSettingsExt(filepath.Ext(fl.Field().String()))
	})
	return v
}

func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", true)
	v.SetDefault("threshold", DefaultThreshold)
	v.SetDefault("poll_interval", 100*time.Millisecond)
	v.SetDefault("settings_file", ".speakwatch-settings.json")
	v.SetDefault("device", "")
}

// LoadConfig reads .env (if present), an optional config file and
// SPEAKWATCH_* environment variables, in increasing precedence.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setConfigDefaults(v)
	v.SetEnvPrefix("SPEAKWATCH")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
			GetGlobalLogger().WithField("path", path).Info("No config file found")
		}
	}

	cfg := &Config{
		LogLevel:     v.GetString("log_level"),
		LogPretty:    v.GetBool("log_pretty"),
		Threshold:    float32(v.GetFloat64("threshold")),
		PollInterval: v.GetDuration("poll_interval"),
		SettingsFile: v.GetString("settings_file"),
		Device:       v.GetString("device"),
	}
	return cfg, nil
}

// Validate returns list of issues
func (c *Config) Validate() []string {
	issues := []string{}
	err := validate.Struct(c)
	if err == nil {
		return issues
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return append(issues, err.Error())
	}
	for _, e := range fieldErrs {
		issues = append(issues, formatConfigIssue(e))
	}
	return issues
}

func formatConfigIssue(e validator.FieldError) string {
	switch e.Tag() {
	case "loglevel":
		return fmt.Sprintf("Invalid log level: %v", e.Value())
	case "gt":
		return fmt.Sprintf("%s must be positive, got %v", e.Field(), e.Value())
	case "required":
		return fmt.Sprintf("%s is required", e.Field())
	case "settingsext":
		return fmt.Sprintf("%s must end in .json, .yaml or .toml: %v", e.Field(), e.Value())
	default:
		return fmt.Sprintf("%s failed validation '%s'", e.Field(), e.Tag())
	}
}

// LogConfig builds the logger configuration described by c.
func (c *Config) LogConfig() *LogConfig {
	lc := DefaultLogConfig()
	if level, ok := ParseLogLevel(c.LogLevel); ok {
		lc.Level = level
	}
	lc.Pretty = c.LogPretty
	return lc
}
