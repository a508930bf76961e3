package config

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/viper"
)

// Settings keys as they appear in the batching settings file
const (
	KeyBatchSize           = "BATCH_SIZE"
	KeyTripBatchSize       = "OUTDOOR_TRIP_BATCH_SIZE"
	KeyBatchSessionTimeout = "BATCH_SESSION_TIMEOUT"
	KeyAccuracy            = "ACCURACY"
)

// Settings holds the persisted batching configuration, read once at construction
type Settings struct {
	// BatchSize is the routine batch buffer size
	BatchSize int
	// TripBatchSize is the outdoor trip batch buffer size
	TripBatchSize int
	// SessionTimeout is handed to the engine on every start call
	SessionTimeout time.Duration
	// Accuracy is the requested accuracy level
	Accuracy int
}

// DefaultSettings returns the settings used when no file is present
func DefaultSettings() Settings {
	return Settings{
		BatchSize:      DefaultBatchSize,
		TripBatchSize:  DefaultTripBatchSize,
		SessionTimeout: DefaultBatchSessionTimeout,
		Accuracy:       DefaultAccuracy,
	}
}

// LoadSettings reads a key=value settings file. An empty path yields defaults.
func LoadSettings(path string) (Settings, error) {
	v := newSettingsViper()
	if path == "" {
		return decodeSettings(v)
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Settings{}, fmt.Errorf("failed to read settings %s: %w", path, err)
	}
	return decodeSettings(v)
}

// ParseSettings reads key=value settings from r
func ParseSettings(r io.Reader) (Settings, error) {
	v := newSettingsViper()
	if err := v.ReadConfig(r); err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings: %w", err)
	}
	return decodeSettings(v)
}

func newSettingsViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("env")
	v.SetDefault(KeyBatchSize, DefaultBatchSize)
	v.SetDefault(KeyTripBatchSize, DefaultTripBatchSize)
	v.SetDefault(KeyBatchSessionTimeout, DefaultBatchSessionTimeout.Milliseconds())
	v.SetDefault(KeyAccuracy, DefaultAccuracy)
	return v
}

func decodeSettings(v *viper.Viper) (Settings, error) {
	s := Settings{
		BatchSize:      v.GetInt(KeyBatchSize),
		TripBatchSize:  v.GetInt(KeyTripBatchSize),
		SessionTimeout: time.Duration(v.GetInt64(KeyBatchSessionTimeout)) * time.Millisecond,
		Accuracy:       v.GetInt(KeyAccuracy),
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks that every numeric setting is usable
func (s Settings) Validate() error {
	if s.BatchSize <= 0 {
		return fmt.Errorf("%s must be positive, got %d", KeyBatchSize, s.BatchSize)
	}
	if s.TripBatchSize <= 0 {
		return fmt.Errorf("%s must be positive, got %d", KeyTripBatchSize, s.TripBatchSize)
	}
	if s.SessionTimeout <= 0 {
		return errors.New(KeyBatchSessionTimeout + " must be positive")
	}
	if s.Accuracy < 0 {
		return fmt.Errorf("%s must not be negative, got %d", KeyAccuracy, s.Accuracy)
	}
	return nil
}

// QueueConfig holds configuration for the unit-of-work queue
type QueueConfig struct {
	// Depth is the initial capacity of the pending buffer
	Depth int
}

// DefaultQueueConfig returns default configuration for the queue
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Depth: DefaultQueueDepth,
	}
}

// ReportConfig holds configuration for the report mailbox
type ReportConfig struct {
	// TTL is the time-to-live for undelivered reports
	TTL time.Duration
}

// DefaultReportConfig returns default configuration for the mailbox
func DefaultReportConfig() ReportConfig {
	return ReportConfig{
		TTL: DefaultReportTTL,
	}
}

// ReconnectConfig holds configuration for engine event stream reconnection
type ReconnectConfig struct {
	// InitialDelay is the first backoff step
	InitialDelay time.Duration
	// MaxDelay caps the backoff
	MaxDelay time.Duration
}

// DefaultReconnectConfig returns default reconnect configuration
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		InitialDelay: DefaultReconnectInitialDelay,
		MaxDelay:     DefaultReconnectMaxDelay,
	}
}
