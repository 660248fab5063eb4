package realtime

import (
	"encoding/json"
	"sort"
	"time"

	"energy-monitor-service/internal/store"
)

const (
	EventStateUpdate        = "state-update"
	EventLogUpdate          = "log-update"
	EventAggregateUpdate    = "aggregate-update"
	EventBatterySolarSeries = "battery-solar-series"
)

// Event is the wire envelope for every fan-out message.
type Event struct {
	Kind    string          `json:"kind"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

type DeviceReading struct {
	State       string  `json:"state"`
	Consumption float64 `json:"consumption"`
}

type StatePayload struct {
	Timestamp    time.Time                `json:"timestamp"`
	BatteryLevel float64                  `json:"battery_level"`
	SolarOutput  float64                  `json:"solar_output"`
	Devices      map[string]DeviceReading `json:"devices"`
}

type LogLine struct {
	Timestamp time.Time `json:"timestamp"`
	Changes   string    `json:"changes"`
}

type LogPayload struct {
	Logs []LogLine `json:"logs"`
}

type DeviceEnergy struct {
	DeviceName     string  `json:"device_name"`
	EnergyConsumed float64 `json:"energy_consumed"`
}

type AggregatePayload struct {
	Devices []DeviceEnergy `json:"devices"`
}

type SeriesPoint struct {
	Timestamp    time.Time `json:"timestamp"`
	BatteryLevel float64   `json:"battery_level"`
	SolarOutput  float64   `json:"solar_output"`
}

type SeriesPayload struct {
	Data []SeriesPoint `json:"data"`
}

// StatePayloadFrom shapes one snapshot for the viewer.
func StatePayloadFrom(s *store.StateSnapshot) StatePayload {
	states := store.DecodeStringMap(s.DeviceStates)
	consumptions := store.DecodeFloatMap(s.Consumptions)
	devices := make(map[string]DeviceReading, len(states))
	for name, state := range states {
		devices[name] = DeviceReading{State: state, Consumption: consumptions[name]}
	}
	return StatePayload{
		Timestamp:    s.TS,
		BatteryLevel: s.BatteryLevel,
		SolarOutput:  s.SolarOutput,
		Devices:      devices,
	}
}

// LogPayloadFrom shapes retained log entries, newest first.
func LogPayloadFrom(entries []store.ChangeLogEntry) LogPayload {
	lines := make([]LogLine, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, LogLine{Timestamp: e.TS, Changes: e.Changes})
	}
	return LogPayload{Logs: lines}
}

// AggregatePayloadFrom projects the per-device map to a sequence sorted by
// energy descending, ties broken by name for a stable order.
func AggregatePayloadFrom(a *store.AggregateRecord) AggregatePayload {
	perDevice := store.DecodeFloatMap(a.DevicesTotalConsumption)
	devices := make([]DeviceEnergy, 0, len(perDevice))
	for name, energy := range perDevice {
		devices = append(devices, DeviceEnergy{DeviceName: name, EnergyConsumed: energy})
	}
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].EnergyConsumed != devices[j].EnergyConsumed {
			return devices[i].EnergyConsumed > devices[j].EnergyConsumed
		}
		return devices[i].DeviceName < devices[j].DeviceName
	})
	return AggregatePayload{Devices: devices}
}

// SeriesPayloadFrom shapes snapshots as timestamp/battery/solar triples.
func SeriesPayloadFrom(snaps []store.StateSnapshot) SeriesPayload {
	points := make([]SeriesPoint, 0, len(snaps))
	for _, s := range snaps {
		points = append(points, SeriesPoint{Timestamp: s.TS, BatteryLevel: s.BatteryLevel, SolarOutput: s.SolarOutput})
	}
	return SeriesPayload{Data: points}
}
