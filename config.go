package main

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort           = "/dev/ttyUSB0"
	DefaultBaud           = 115200
	DefaultReadTimeout    = time.Second
	DefaultLogFile        = "motor_control.log"
	// longer than the 660ms X11 autorepeat delay; raise release_delay when
	// a held key stutters between start and stop
	DefaultReleaseDelay   = 750 * time.Millisecond
	DefaultTelemetryTopic = "/topic/motor-telemetry"

	// tarm/serial maps the read timeout onto VTIME, counted in tenths of a
	// second in a single byte.
	MaxReadTimeout = 25500 * time.Millisecond
)

type Config struct {
	Port           string        `yaml:"port" env:"MOTOR_RELAY_PORT"`
	Baud           int           `yaml:"baud" env:"MOTOR_RELAY_BAUD"`
	ReadTimeout    time.Duration `yaml:"read_timeout" env:"MOTOR_RELAY_READ_TIMEOUT"`
	LogFile        string        `yaml:"log_file" env:"MOTOR_RELAY_LOG_FILE"`
	Debug          bool          `yaml:"debug" env:"MOTOR_RELAY_DEBUG"`
	ReleaseDelay   time.Duration `yaml:"release_delay" env:"MOTOR_RELAY_RELEASE_DELAY"`
	BrokerURL      string        `yaml:"broker_url" env:"MOTOR_RELAY_BROKER_URL"`
	TelemetryTopic string        `yaml:"telemetry_topic" env:"MOTOR_RELAY_TELEMETRY_TOPIC"`
	Keys           KeyMap        `yaml:"keys"`
}

func DefaultConfig() Config {
	return Config{
		Port:           DefaultPort,
		Baud:           DefaultBaud,
		ReadTimeout:    DefaultReadTimeout,
		LogFile:        DefaultLogFile,
		ReleaseDelay:   DefaultReleaseDelay,
		TelemetryTopic: DefaultTelemetryTopic,
		Keys:           DefaultKeyMap(),
	}
}

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// LoadConfig layers the YAML file at path (skipped when path is empty) and
// then MOTOR_RELAY_* environment variables over the defaults. Keys missing
// from the file keep their default binding.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	if len(path) > 0 {
		data, err := os.ReadFile(path)
		if err != nil {
			return config, fmt.Errorf("unable to read config file: %w", err)
		}

		err = yaml.Unmarshal(data, &config)
		if err != nil {
			return config, fmt.Errorf("unable to parse config file %s: %w", path, err)
		}
	}

	err := env.Parse(&config)
	if err != nil {
		return config, fmt.Errorf("unable to parse environment: %w", err)
	}

	return config, nil
}

func (c Config) Validate() error {
	if len(c.Port) == 0 {
		return ValidationError{Field: "port", Message: "must not be empty"}
	}

	if c.Baud <= 0 {
		return ValidationError{Field: "baud", Message: "must be positive"}
	}

	// a zero timeout makes reads block forever and the reader could never
	// be stopped
	if c.ReadTimeout <= 0 || c.ReadTimeout > MaxReadTimeout {
		return ValidationError{
			Field:   "read_timeout",
			Message: fmt.Sprintf("must be between 0 and %s", MaxReadTimeout),
		}
	}

	if c.ReleaseDelay <= 0 {
		return ValidationError{Field: "release_delay", Message: "must be positive"}
	}

	if len(c.BrokerURL) > 0 && len(c.TelemetryTopic) == 0 {
		return ValidationError{Field: "telemetry_topic", Message: "required when broker_url is set"}
	}

	return c.Keys.Validate()
}
