package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// StateSnapshot is one full per-sample state row for an installation.
// Rows are append-only; timestamps are strictly increasing per installation,
// and the unique index enforces that against concurrent writers.
type StateSnapshot struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	InstallationID string         `gorm:"uniqueIndex:idx_snapshot_install_ts,priority:1;not null" json:"installation_id"`
	TS             time.Time      `gorm:"uniqueIndex:idx_snapshot_install_ts,priority:2;not null" json:"ts"`
	BatteryLevel   float64        `json:"battery_level"`
	SolarOutput    float64        `json:"solar_output"`
	DeviceStates   datatypes.JSON `gorm:"type:jsonb" json:"device_states"`       // map[device]"ON"|"OFF"
	Consumptions   datatypes.JSON `gorm:"type:jsonb" json:"device_consumptions"` // map[device]kWh accrued so far
	CreatedAt      time.Time      `json:"created_at"`
}

func (StateSnapshot) TableName() string { return "ems_state_snapshots" }

// ConsumptionRecord is one completed device activation, written when a
// device transitions ON -> OFF.
type ConsumptionRecord struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	InstallationID string    `gorm:"index:idx_consumption_install_ts,priority:1;not null" json:"installation_id"`
	DeviceName     string    `gorm:"not null" json:"device_name"`
	EnergyKWH      float64   `gorm:"not null" json:"energy_kwh"`
	StartTime      time.Time `gorm:"not null" json:"start_time"`
	EndTime        time.Time `gorm:"not null" json:"end_time"`
	TS             time.Time `gorm:"index:idx_consumption_install_ts,priority:2;not null" json:"ts"`
	CreatedAt      time.Time `json:"created_at"`
}

func (ConsumptionRecord) TableName() string { return "ems_consumption_records" }

// ChangeLogEntry records one or more device transitions observed in a single
// sample, newline-joined. At most LogRetention entries are kept per
// installation.
type ChangeLogEntry struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	InstallationID string    `gorm:"index:idx_changelog_install_ts,priority:1;not null" json:"installation_id"`
	TS             time.Time `gorm:"index:idx_changelog_install_ts,priority:2;not null" json:"ts"`
	Changes        string    `gorm:"type:text;not null" json:"changes"`
	CreatedAt      time.Time `json:"created_at"`
}

func (ChangeLogEntry) TableName() string { return "ems_change_logs" }

// AggregateRecord is one windowed rollup. TotalEnergy and
// DevicesTotalConsumption accumulate within a 24h window and reset on the
// seed record that opens the next window.
type AggregateRecord struct {
	ID                      uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	InstallationID          string         `gorm:"index:idx_aggregate_install_ts,priority:1;not null" json:"installation_id"`
	TS                      time.Time      `gorm:"index:idx_aggregate_install_ts,priority:2;not null" json:"ts"`
	AvgPower                float64        `json:"avg_power"`
	TotalEnergy             float64        `json:"total_energy"`
	BatteryLevel            float64        `json:"battery_level"`
	SolarOutput             float64        `json:"solar_output"`
	DevicesTotalConsumption datatypes.JSON `gorm:"type:jsonb" json:"devices_total_consumption"` // map[device]kWh
	CreatedAt               time.Time      `json:"created_at"`
}

func (AggregateRecord) TableName() string { return "ems_aggregates" }

// ViewerBinding maps an authenticated viewer to the one installation they
// monitor. Managed externally; the pipeline only reads it.
type ViewerBinding struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ViewerID       string    `gorm:"uniqueIndex;not null" json:"viewer_id"`
	InstallationID string    `gorm:"uniqueIndex;not null" json:"installation_id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (ViewerBinding) TableName() string { return "ems_viewer_bindings" }
