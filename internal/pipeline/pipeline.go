// Package pipeline sequences one telemetry sample through consumption
// accounting, persistence, change detection, aggregation and fan-out.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"energy-monitor-service/internal/observability"
	"energy-monitor-service/internal/store"
	"energy-monitor-service/internal/tracker"
)

// Notifier receives the result of a committed pipeline run. Implementations
// must treat delivery as best-effort; the pipeline never waits on them.
type Notifier interface {
	Committed(ctx context.Context, res *CommitResult)
}

// CommitResult describes one durably committed sample.
type CommitResult struct {
	InstallationID string
	Snapshot       *store.StateSnapshot
	Aggregate      *store.AggregateRecord // nil when the 60s gate suppressed a rollup
	ChangeLines    []string
}

type Pipeline struct {
	repo     *store.Repo
	tracker  *tracker.Tracker
	notifier Notifier
}

func New(repo *store.Repo, trk *tracker.Tracker, notifier Notifier) *Pipeline {
	return &Pipeline{repo: repo, tracker: trk, notifier: notifier}
}

// Process runs the full pipeline for one sample. All store writes happen in
// one transaction; a failure anywhere discards them all. Fan-out is
// dispatched asynchronously after the commit and cannot fail the call.
func (p *Pipeline) Process(ctx context.Context, sample *Sample) (*CommitResult, error) {
	if err := sample.Validate(); err != nil {
		return nil, err
	}
	if sample.TS.IsZero() {
		sample.TS = time.Now().UTC()
	}

	// Snapshot timestamps are strictly increasing per installation. Reject a
	// stale sample before the tracker is touched so it has no side effects.
	// This read runs outside the transaction, so the check repeats inside it
	// against the committed state; this one only catches the common case early.
	latest, err := p.repo.LatestSnapshot(ctx, sample.InstallationID)
	if err != nil {
		return nil, fmt.Errorf("read latest snapshot: %w", err)
	}
	if err := checkIncreasing(sample, latest); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(sample.Devices))
	for name := range sample.Devices {
		names = append(names, name)
	}
	sort.Strings(names)

	var completions []tracker.Completion
	for _, name := range names {
		if c, ok := p.tracker.Observe(sample.InstallationID, name, sample.Devices[name], sample.TS); ok {
			completions = append(completions, c)
		}
	}

	consumptions := make(map[string]float64, len(names))
	for _, name := range names {
		consumptions[name] = p.tracker.Instantaneous(sample.InstallationID, name, sample.TS)
	}

	res := &CommitResult{InstallationID: sample.InstallationID}
	err = p.repo.Transaction(ctx, func(tx *store.Repo) error {
		prev, err := tx.LatestSnapshot(ctx, sample.InstallationID)
		if err != nil {
			return fmt.Errorf("read previous snapshot: %w", err)
		}
		if err := checkIncreasing(sample, prev); err != nil {
			return err
		}
		res.ChangeLines = DetectChanges(prev, sample.Devices)

		snap := &store.StateSnapshot{
			InstallationID: sample.InstallationID,
			TS:             sample.TS,
			BatteryLevel:   sample.BatteryLevel,
			SolarOutput:    sample.SolarOutput,
			DeviceStates:   store.EncodeStringMap(sample.Devices),
			Consumptions:   store.EncodeFloatMap(consumptions),
		}
		if err := tx.InsertSnapshot(ctx, snap); err != nil {
			return fmt.Errorf("append snapshot: %w", err)
		}
		res.Snapshot = snap

		for _, c := range completions {
			rec := &store.ConsumptionRecord{
				InstallationID: c.InstallationID,
				DeviceName:     c.DeviceName,
				EnergyKWH:      c.EnergyKWH,
				StartTime:      c.StartTime,
				EndTime:        c.EndTime,
				TS:             sample.TS,
			}
			if err := tx.InsertConsumption(ctx, rec); err != nil {
				return fmt.Errorf("insert consumption record: %w", err)
			}
		}

		if len(res.ChangeLines) > 0 {
			entry := &store.ChangeLogEntry{
				InstallationID: sample.InstallationID,
				TS:             sample.TS,
				Changes:        strings.Join(res.ChangeLines, "\n"),
			}
			if err := tx.InsertChangeLog(ctx, entry); err != nil {
				return fmt.Errorf("insert change log: %w", err)
			}
			if err := tx.PruneChangeLogs(ctx, sample.InstallationID, store.LogRetention); err != nil {
				return fmt.Errorf("prune change log: %w", err)
			}
		}

		agg, err := stepAggregate(ctx, tx, sample)
		if err != nil {
			return fmt.Errorf("aggregate step: %w", err)
		}
		res.Aggregate = agg
		return nil
	})
	if err != nil {
		// The rollback discarded the consumption records, so the consumed
		// activations must reopen or their energy would be lost for good.
		for _, c := range completions {
			p.tracker.Restore(c.InstallationID, c.DeviceName, c.StartTime)
		}
		observability.PipelineFailures.Inc()
		return nil, err
	}

	observability.SamplesProcessed.Inc()
	if res.Aggregate != nil {
		observability.AggregatesWritten.Inc()
	}
	slog.Debug("sample committed",
		"installation_id", sample.InstallationID,
		"ts", sample.TS,
		"consumption_records", len(completions),
		"change_lines", len(res.ChangeLines),
		"aggregate_written", res.Aggregate != nil)

	if p.notifier != nil {
		go p.notifier.Committed(context.WithoutCancel(ctx), res)
	}
	return res, nil
}

func checkIncreasing(sample *Sample, latest *store.StateSnapshot) error {
	if latest != nil && !sample.TS.After(latest.TS) {
		return fmt.Errorf("%w: sample timestamp %s is not after latest snapshot %s",
			ErrValidation, sample.TS.Format(time.RFC3339Nano), latest.TS.Format(time.RFC3339Nano))
	}
	return nil
}
