package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// ScheduleConfig holds scheduler configuration: per-channel cadences,
// the business-hours window and the adaptive thresholds. Loaded once at
// startup; may be hot-reloaded through the control surface.
type ScheduleConfig struct {
	BusinessHours BusinessHoursConfig      `json:"business_hours"`
	Channels      map[string]ChannelConfig `json:"channels"`
	Thresholds    Thresholds               `json:"thresholds"`
}

// BusinessHoursConfig is the local time window during which heavier sync
// strategies are deprioritized.
type BusinessHoursConfig struct {
	StartHour int    `json:"start_hour"` // inclusive, 0-23
	EndHour   int    `json:"end_hour"`   // exclusive, 0-23
	Timezone  string `json:"timezone"`
}

// ChannelConfig holds the cadence for one scheduled strategy channel.
type ChannelConfig struct {
	Enabled          bool   `json:"enabled"`
	IntervalSeconds  int    `json:"interval_seconds"`
	BusinessHoursOK  bool   `json:"business_hours_ok"` // eligible inside business hours
	MinUrgency       string `json:"min_urgency"`       // channel no-ops below this
	PreferredHour    *int   `json:"preferred_hour,omitempty"`
	EstimateBaseline int    `json:"estimate_baseline_seconds"`
}

// Thresholds consolidates the urgency/priority cutoffs the source scattered
// across files. One definition per tier; "low stock" is stock <= reorder point.
type Thresholds struct {
	ReorderAlertCount int     `json:"reorder_alert_count"`   // reorder-needed count that forces a critical run
	HighChangeRatePct float64 `json:"high_change_rate_pct"`  // recent change rate above this escalates
	LowChangeRatePct  float64 `json:"low_change_rate_pct"`   // below this deflates estimates
	StaleSyncHours    float64 `json:"stale_sync_hours"`      // >24h escalates, prefers smart
	OverdueSyncHours  float64 `json:"overdue_sync_hours"`    // >48h prefers full
	RecentLogWindow   int     `json:"recent_log_window"`     // sync logs sampled for change rate
	SmartInventoryHrs float64 `json:"smart_inventory_hours"` // smart: < this since success -> inventory
	SmartActiveHrs    float64 `json:"smart_active_hours"`    // smart: < this -> active, else full
}

// LoadScheduleConfig loads schedule configuration from a JSON file if
// SCHEDULE_CONFIG_PATH is set, falling back to defaults.
func LoadScheduleConfig() *ScheduleConfig {
	if path := os.Getenv("SCHEDULE_CONFIG_PATH"); path != "" {
		if cfg, err := loadScheduleConfigFromFile(path); err == nil {
			return cfg
		}
	}
	return DefaultScheduleConfig()
}

func loadScheduleConfigFromFile(path string) (*ScheduleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultScheduleConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid schedule config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks window bounds and channel names.
func (c *ScheduleConfig) Validate() error {
	bh := c.BusinessHours
	if bh.StartHour < 0 || bh.StartHour > 23 || bh.EndHour < 0 || bh.EndHour > 24 {
		return fmt.Errorf("business hours out of range: %d-%d", bh.StartHour, bh.EndHour)
	}
	for name, ch := range c.Channels {
		if ch.Enabled && ch.IntervalSeconds <= 0 {
			return fmt.Errorf("channel %s: interval must be positive", name)
		}
		if ch.PreferredHour != nil && (*ch.PreferredHour < 0 || *ch.PreferredHour > 23) {
			return fmt.Errorf("channel %s: preferred hour out of range", name)
		}
	}
	return nil
}

// DefaultScheduleConfig returns the default scheduler configuration.
func DefaultScheduleConfig() *ScheduleConfig {
	fullPreferred := 2 // 02:00 local

	return &ScheduleConfig{
		BusinessHours: BusinessHoursConfig{
			StartHour: 8,
			EndHour:   18,
			Timezone:  getEnv("SCHEDULE_TIMEZONE", "Local"),
		},
		Channels: map[string]ChannelConfig{
			"critical": {
				Enabled:          true,
				IntervalSeconds:  getIntEnv("SCHEDULE_CRITICAL_INTERVAL", 900),
				BusinessHoursOK:  true,
				MinUrgency:       "high",
				EstimateBaseline: 30,
			},
			"inventory": {
				Enabled:          true,
				IntervalSeconds:  getIntEnv("SCHEDULE_INVENTORY_INTERVAL", 3600),
				BusinessHoursOK:  true,
				MinUrgency:       "low",
				EstimateBaseline: 60,
			},
			"smart": {
				Enabled:          true,
				IntervalSeconds:  getIntEnv("SCHEDULE_SMART_INTERVAL", 21600),
				BusinessHoursOK:  false,
				MinUrgency:       "low",
				EstimateBaseline: 120,
			},
			"full": {
				Enabled:          true,
				IntervalSeconds:  getIntEnv("SCHEDULE_FULL_INTERVAL", 86400),
				BusinessHoursOK:  false,
				MinUrgency:       "low",
				PreferredHour:    &fullPreferred,
				EstimateBaseline: 300,
			},
		},
		Thresholds: Thresholds{
			ReorderAlertCount: getIntEnv("SCHEDULE_REORDER_ALERT_COUNT", 10),
			HighChangeRatePct: 20,
			LowChangeRatePct:  5,
			StaleSyncHours:    24,
			OverdueSyncHours:  48,
			RecentLogWindow:   10,
			SmartInventoryHrs: 6,
			SmartActiveHrs:    24,
		},
	}
}

// Helper functions for environment variables

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}
