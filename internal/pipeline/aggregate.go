package pipeline

import (
	"context"
	"log/slog"
	"time"

	"energy-monitor-service/internal/store"
)

const (
	// ResetWindow is how far the reference aggregate may lag the incoming
	// sample before cumulative totals reset. Measured against sample
	// timestamps, not wall clock: if samples stop, the window stalls with them.
	ResetWindow = 24 * time.Hour

	// StepInterval gates how often a new rollup is written. Samples arriving
	// faster than this are aggregation no-ops.
	StepInterval = 60 * time.Second
)

// stepAggregate advances the aggregation state machine for one sample. It
// runs inside the pipeline transaction; any error aborts the whole run.
//
// With no usable reference (none yet, or older than ResetWindow relative to
// the sample), it writes a seed record carrying the sample's battery/solar
// verbatim and zeroed totals. With a reference younger than StepInterval it
// does nothing. Otherwise it rolls everything since the reference into a new
// record, which becomes the next reference.
func stepAggregate(ctx context.Context, tx *store.Repo, sample *Sample) (*store.AggregateRecord, error) {
	last, err := tx.LatestAggregate(ctx, sample.InstallationID)
	if err != nil {
		return nil, err
	}

	if last == nil || sample.TS.Sub(last.TS) > ResetWindow {
		seed := &store.AggregateRecord{
			InstallationID:          sample.InstallationID,
			TS:                      sample.TS,
			AvgPower:                0,
			TotalEnergy:             0,
			BatteryLevel:            sample.BatteryLevel,
			SolarOutput:             sample.SolarOutput,
			DevicesTotalConsumption: store.EncodeFloatMap(nil),
		}
		if err := tx.InsertAggregate(ctx, seed); err != nil {
			return nil, err
		}
		slog.Info("aggregation window seeded", "installation_id", sample.InstallationID, "ts", seed.TS)
		last = seed
	}

	if sample.TS.Sub(last.TS) < StepInterval {
		return nil, nil
	}

	snaps, err := tx.SnapshotsSince(ctx, sample.InstallationID, last.TS)
	if err != nil {
		return nil, err
	}
	var totalBattery, totalSolar float64
	for _, s := range snaps {
		totalBattery += s.BatteryLevel
		totalSolar += s.SolarOutput
	}

	cons, err := tx.ConsumptionsSince(ctx, sample.InstallationID, last.TS)
	if err != nil {
		return nil, err
	}
	totalEnergy := last.TotalEnergy
	perDevice := store.DecodeFloatMap(last.DevicesTotalConsumption)
	for _, c := range cons {
		totalEnergy += c.EnergyKWH
		perDevice[c.DeviceName] += c.EnergyKWH
	}

	// Fixed-divisor approximation of average power (minutes-as-hours), kept
	// bit-for-bit compatible with downstream consumers.
	avgPower := 0.0
	if totalEnergy > 0 {
		avgPower = totalEnergy / 60
	}

	next := &store.AggregateRecord{
		InstallationID:          sample.InstallationID,
		TS:                      sample.TS,
		AvgPower:                avgPower,
		TotalEnergy:             totalEnergy,
		BatteryLevel:            totalBattery,
		SolarOutput:             totalSolar,
		DevicesTotalConsumption: store.EncodeFloatMap(perDevice),
	}
	if err := tx.InsertAggregate(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}
