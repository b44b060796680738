package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ProviderFlags maps a logical slot name to its enabled flag
type ProviderFlags map[string]bool

// Value implements driver.Valuer
func (f ProviderFlags) Value() (driver.Value, error) {
	if f == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]bool(f))
}

// Scan implements sql.Scanner
func (f *ProviderFlags) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*f = ProviderFlags{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into ProviderFlags", src)
	}
	decoded := map[string]bool{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*f = decoded
	return nil
}

// ProcessingSettings is the singleton row controlling the pipeline
type ProcessingSettings struct {
	FeatureEnabled         bool          `json:"feature_enabled" yaml:"feature_enabled"`
	BatchSize              int           `json:"batch_size" yaml:"batch_size" validate:"min=1,max=1000"`
	ProcessingDelayMinutes int           `json:"processing_delay_minutes" yaml:"processing_delay_minutes" validate:"min=0"`
	ProvidersEnabled       ProviderFlags `json:"providers_enabled" yaml:"providers_enabled"`
	UpdatedAt              time.Time     `json:"updated_at" yaml:"updated_at"`
}

// SlotEnabled reports whether a slot is switched on; slots missing from the map are off
func (s *ProcessingSettings) SlotEnabled(slot string) bool {
	return s.ProvidersEnabled[slot]
}

// ProcessingDelay returns the debounce delay as a duration
func (s *ProcessingSettings) ProcessingDelay() time.Duration {
	return time.Duration(s.ProcessingDelayMinutes) * time.Minute
}
