package kvguard

import (
	"encoding/json"
	"os"
	"time"
)

// Config holds all workload parameters
type Config struct {
	Replicas map[string]string `json:"replicas"` // replica name to base url

	Keys      int `json:"keys"`    // number of distinct keys
	Readers   int `json:"readers"` // reader clients per key per replica
	DurationS int `json:"duration"`
	TimeoutMS int `json:"timeout"`       // per-operation timeout
	PollS     int `json:"poll_interval"` // validity poll interval
	DumpS     int `json:"dump_interval"` // stat dump interval
	Throttle  int `json:"throttle"`      // ops per second per client, 0 is unlimited

	OfflineCheck bool   `json:"offline_check"` // re-verify retained history at teardown
	EventLog     string `json:"event_log"`     // json event log path, empty disables
	HistoryFile  string `json:"history_file"`  // history dump path, empty disables
}

// DefaultConfig returns a default workload config
func DefaultConfig() Config {
	return Config{
		Keys:         4,
		Readers:      2,
		DurationS:    60,
		TimeoutMS:    1000,
		PollS:        2,
		DumpS:        10,
		OfflineCheck: true,
	}
}

func (c Config) Duration() time.Duration     { return time.Duration(c.DurationS) * time.Second }
func (c Config) Timeout() time.Duration      { return time.Duration(c.TimeoutMS) * time.Millisecond }
func (c Config) PollInterval() time.Duration { return time.Duration(c.PollS) * time.Second }
func (c Config) DumpInterval() time.Duration { return time.Duration(c.DumpS) * time.Second }

// String is implemented to print the config
func (c Config) String() string {
	b, err := json.Marshal(c)
	if err != nil {
		return err.Error()
	}
	return string(b)
}

// Load reads the workload parameters from a configuration file
func (c *Config) Load(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return json.NewDecoder(file).Decode(c)
}

// Save saves the workload parameters to a configuration file
func (c *Config) Save(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return json.NewEncoder(file).Encode(c)
}
