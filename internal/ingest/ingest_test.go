package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"energy-monitor-service/internal/pipeline"
	"energy-monitor-service/internal/store"
	"energy-monitor-service/internal/tracker"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeMessage struct {
	topic    string
	payload  []byte
	retained bool
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }
func (m fakeMessage) Retained() bool  { return m.retained }

func newTestIngestor(t *testing.T) (*Ingestor, *store.Repo) {
	t.Helper()
	dsn := "file:ingest_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	repo, err := store.New(db)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	pipe := pipeline.New(repo, tracker.New(map[string]float64{"tv": 0.04}), nil)
	return &Ingestor{Pipeline: pipe, TopicPrefix: DefaultTopicPrefix}, repo
}

func TestParseInstallationID(t *testing.T) {
	cases := []struct {
		topic   string
		want    string
		wantErr error
	}{
		{"sems/telemetry/inst-1", "inst-1", nil},
		{"sems/telemetry/inst-1/", "inst-1", nil},
		{"sems/other/inst-1", "", ErrNotATelemetryTopic},
		{"sems/telemetry/", "", nil},
	}
	for _, c := range cases {
		got, err := ParseInstallationID("", c.topic)
		if c.wantErr != nil {
			if !errors.Is(err, c.wantErr) {
				t.Fatalf("%s: expected %v, got %v", c.topic, c.wantErr, err)
			}
			continue
		}
		if c.want == "" {
			if err == nil {
				t.Fatalf("%s: expected an error for empty id", c.topic)
			}
			continue
		}
		if err != nil || got != c.want {
			t.Fatalf("%s: got (%q, %v), want %q", c.topic, got, err, c.want)
		}
	}
}

func TestHandleMessagePersistsSample(t *testing.T) {
	ing, repo := newTestIngestor(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	msg := fakeMessage{
		topic:   "sems/telemetry/inst-1",
		payload: []byte(`{"battery_level":55,"solar_output":8,"devices":{"tv":"ON"}}`),
	}
	ing.HandleMessage(ctx, msg, at)

	snap, err := repo.LatestSnapshot(ctx, "inst-1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if snap == nil {
		t.Fatalf("sample was not persisted")
	}
	if snap.BatteryLevel != 55 || snap.SolarOutput != 8 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if !snap.TS.Equal(at) {
		t.Fatalf("snapshot must carry the receive time, got %v", snap.TS)
	}
}

func TestHandleMessageIgnoresRetained(t *testing.T) {
	ing, repo := newTestIngestor(t)
	ctx := context.Background()

	msg := fakeMessage{
		topic:    "sems/telemetry/inst-1",
		payload:  []byte(`{"battery_level":55,"solar_output":8,"devices":{"tv":"ON"}}`),
		retained: true,
	}
	ing.HandleMessage(ctx, msg, time.Now().UTC())

	if snap, _ := repo.LatestSnapshot(ctx, "inst-1"); snap != nil {
		t.Fatalf("retained messages must be dropped by default")
	}
}

func TestHandleMessageDropsBadPayloads(t *testing.T) {
	ing, repo := newTestIngestor(t)
	ctx := context.Background()
	at := time.Now().UTC()

	for _, payload := range []string{
		`not json`,
		`{"solar_output":8,"devices":{"tv":"ON"}}`,
		`{"battery_level":55,"solar_output":8,"devices":{}}`,
	} {
		ing.HandleMessage(ctx, fakeMessage{topic: "sems/telemetry/inst-1", payload: []byte(payload)}, at)
	}
	ing.HandleMessage(ctx, fakeMessage{topic: "other/topic", payload: []byte(`{}`)}, at)

	if snap, _ := repo.LatestSnapshot(ctx, "inst-1"); snap != nil {
		t.Fatalf("malformed messages must not persist anything")
	}
}
