package internal

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/haatos/simple-cd/internal/util"
)

var Config = DefaultConfiguration()

type HoursDuration time.Duration

func NewHoursDuration(hours int64) HoursDuration {
	return HoursDuration(time.Duration(hours) * time.Hour)
}

func (hd HoursDuration) Duration() time.Duration {
	return time.Duration(hd)
}

func (hd HoursDuration) MarshalJSON() ([]byte, error) {
	hours := float64(time.Duration(hd)) / float64(time.Hour)
	return json.Marshal(hours)
}

func (hd *HoursDuration) UnmarshalJSON(data []byte) error {
	var hours float64
	if err := json.Unmarshal(data, &hours); err != nil {
		return err
	}
	*hd = HoursDuration(hours * float64(time.Hour))
	return nil
}

// Configuration holds the tunables that operators edit in config.json.
// Everything environment specific lives in settings.AppSettings instead.
type Configuration struct {
	QueueSize           int64         `json:"queue_size"`
	RunTimeoutHours     HoursDuration `json:"run_timeout_hours"`
	RunRetentionHours   HoursDuration `json:"run_retention_hours"`
	CacheRetentionHours HoursDuration `json:"cache_retention_hours"`
}

func DefaultConfiguration() *Configuration {
	return &Configuration{
		QueueSize:           3,
		RunTimeoutHours:     NewHoursDuration(1),
		RunRetentionHours:   NewHoursDuration(30 * 24),
		CacheRetentionHours: NewHoursDuration(7 * 24),
	}
}

func (c *Configuration) Validate() error {
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", c.QueueSize)
	}
	if c.RunTimeoutHours <= 0 {
		return fmt.Errorf("run_timeout_hours must be positive")
	}
	return nil
}

// InitializeConfiguration reads the configuration file at path, writing
// the defaults there first when it does not exist yet.
func InitializeConfiguration(path string) error {
	config := DefaultConfiguration()

	if exists, _ := util.PathExists(path); !exists {
		if err := writeConfiguration(path, config); err != nil {
			return err
		}
		Config = config
		return nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("err reading configuration: %w", err)
	}
	if err := json.Unmarshal(b, config); err != nil {
		return fmt.Errorf("err parsing configuration %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return err
	}
	Config = config
	return nil
}

func writeConfiguration(path string, config *Configuration) error {
	b, err := json.MarshalIndent(config, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}
