package pipeline

import (
	"fmt"
	"time"

	"energy-monitor-service/internal/tracker"
)

// Sample is one incoming telemetry reading. It is owned by the pipeline for
// the duration of one run and never persisted as such.
type Sample struct {
	InstallationID string
	Devices        map[string]string // device name -> "ON"|"OFF"
	BatteryLevel   float64
	SolarOutput    float64
	TS             time.Time // arrival timestamp
}

// Validate rejects malformed samples before any side effect.
func (s *Sample) Validate() error {
	if s.InstallationID == "" {
		return fmt.Errorf("%w: missing installation_id", ErrValidation)
	}
	if len(s.Devices) == 0 {
		return fmt.Errorf("%w: empty devices map", ErrValidation)
	}
	for name, state := range s.Devices {
		if state != tracker.StateOn && state != tracker.StateOff {
			return fmt.Errorf("%w: device %q has state %q, want ON or OFF", ErrValidation, name, state)
		}
	}
	return nil
}
