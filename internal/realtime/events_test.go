package realtime

import (
	"testing"
	"time"

	"energy-monitor-service/internal/store"
)

func TestAggregatePayloadSortsByEnergyDescending(t *testing.T) {
	a := &store.AggregateRecord{
		DevicesTotalConsumption: store.EncodeFloatMap(map[string]float64{
			"kitchen_light": 0.02,
			"tv":            1.5,
			"sound_system":  0.4,
			"bed_light":     0.02,
		}),
	}

	p := AggregatePayloadFrom(a)
	if len(p.Devices) != 4 {
		t.Fatalf("expected 4 devices, got %d", len(p.Devices))
	}
	if p.Devices[0].DeviceName != "tv" || p.Devices[1].DeviceName != "sound_system" {
		t.Fatalf("unexpected order: %+v", p.Devices)
	}
	// Equal energies fall back to name order so the output is stable.
	if p.Devices[2].DeviceName != "bed_light" || p.Devices[3].DeviceName != "kitchen_light" {
		t.Fatalf("tie-break order wrong: %+v", p.Devices)
	}
}

func TestStatePayloadShapesDevices(t *testing.T) {
	s := &store.StateSnapshot{
		TS:           time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		BatteryLevel: 80,
		SolarOutput:  12,
		DeviceStates: store.EncodeStringMap(map[string]string{"tv": "ON", "bed_light": "OFF"}),
		Consumptions: store.EncodeFloatMap(map[string]float64{"tv": 0.04}),
	}

	p := StatePayloadFrom(s)
	if p.BatteryLevel != 80 || p.SolarOutput != 12 {
		t.Fatalf("unexpected payload: %+v", p)
	}
	if p.Devices["tv"].State != "ON" || p.Devices["tv"].Consumption != 0.04 {
		t.Fatalf("tv reading wrong: %+v", p.Devices["tv"])
	}
	if p.Devices["bed_light"].Consumption != 0 {
		t.Fatalf("inactive device must read 0 consumption")
	}
}

func TestDailyAnchor(t *testing.T) {
	p := NewPublisher(nil, nil, 6, time.UTC)

	ts := time.Date(2025, 3, 1, 14, 30, 0, 0, time.UTC)
	anchor := p.DailyAnchor(ts)
	want := time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)
	if !anchor.Equal(want) {
		t.Fatalf("got %v, want %v", anchor, want)
	}

	// Before the anchor hour the series window is still today's, matching the
	// recompute-in-full behavior.
	early := time.Date(2025, 3, 1, 2, 0, 0, 0, time.UTC)
	if got := p.DailyAnchor(early); !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSeriesPayloadFrom(t *testing.T) {
	base := time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)
	snaps := []store.StateSnapshot{
		{TS: base, BatteryLevel: 10, SolarOutput: 1},
		{TS: base.Add(time.Minute), BatteryLevel: 11, SolarOutput: 2},
	}

	p := SeriesPayloadFrom(snaps)
	if len(p.Data) != 2 {
		t.Fatalf("expected 2 points, got %d", len(p.Data))
	}
	if p.Data[1].BatteryLevel != 11 || p.Data[1].SolarOutput != 2 {
		t.Fatalf("unexpected point: %+v", p.Data[1])
	}
}
