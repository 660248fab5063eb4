// Package ingest feeds telemetry arriving over MQTT into the pipeline. The
// broker is a trusted internal source, so there is no per-message identity
// check here; HTTP ingress carries that instead.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"energy-monitor-service/internal/pipeline"
)

var ErrNotATelemetryTopic = errors.New("not a telemetry topic")

const DefaultTopicPrefix = "sems/telemetry/"

type MQTTMessage interface {
	Topic() string
	Payload() []byte
	Retained() bool
}

type Ingestor struct {
	Pipeline     *pipeline.Pipeline
	TopicPrefix  string
	AllowRetains bool
}

type telemetryDTO struct {
	BatteryLevel *float64          `json:"battery_level"`
	SolarOutput  *float64          `json:"solar_output"`
	Devices      map[string]string `json:"devices"`
}

func (i *Ingestor) HandleMessage(ctx context.Context, msg MQTTMessage, receivedAt time.Time) {
	topic := msg.Topic()
	if msg.Retained() && !i.AllowRetains {
		slog.Debug("telemetry ingest ignoring retained", "topic", topic)
		return
	}

	installationID, err := ParseInstallationID(i.TopicPrefix, topic)
	if err != nil {
		if errors.Is(err, ErrNotATelemetryTopic) {
			return
		}
		slog.Warn("telemetry ingest topic parse failed", "topic", topic, "error", err)
		return
	}

	var dto telemetryDTO
	if err := json.Unmarshal(msg.Payload(), &dto); err != nil {
		slog.Warn("telemetry ingest invalid json", "topic", topic, "installation_id", installationID)
		return
	}
	if dto.BatteryLevel == nil || dto.SolarOutput == nil {
		slog.Warn("telemetry ingest missing fields", "topic", topic, "installation_id", installationID)
		return
	}

	sample := &pipeline.Sample{
		InstallationID: installationID,
		Devices:        dto.Devices,
		BatteryLevel:   *dto.BatteryLevel,
		SolarOutput:    *dto.SolarOutput,
		TS:             receivedAt.UTC(),
	}
	if _, err := i.Pipeline.Process(ctx, sample); err != nil {
		slog.Error("telemetry ingest pipeline failed", "topic", topic, "installation_id", installationID, "error", err)
		return
	}
	slog.Debug("telemetry sample stored", "installation_id", installationID, "ts", sample.TS)
}

func ParseInstallationID(prefix, topic string) (string, error) {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	if !strings.HasPrefix(topic, prefix) {
		return "", ErrNotATelemetryTopic
	}
	id := strings.TrimPrefix(topic, prefix)
	id = strings.Trim(id, "/")
	if id == "" {
		return "", errors.New("empty installation id")
	}
	return id, nil
}
