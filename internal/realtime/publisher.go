package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"energy-monitor-service/internal/observability"
	"energy-monitor-service/internal/pipeline"
	"energy-monitor-service/internal/store"
)

const channelPrefix = "viewer:"

// ChannelFor names the pub/sub channel carrying one viewer's events.
func ChannelFor(viewerID string) string { return channelPrefix + viewerID }

// Publisher turns a committed pipeline run into the viewer's outbound events.
// It runs outside the commit transaction: every failure here is logged and
// dropped, never surfaced to the request that produced the mutation.
type Publisher struct {
	repo       *store.Repo
	rdb        *redis.Client
	anchorHour int
	loc        *time.Location
}

func NewPublisher(repo *store.Repo, rdb *redis.Client, anchorHour int, loc *time.Location) *Publisher {
	if loc == nil {
		loc = time.Local
	}
	return &Publisher{repo: repo, rdb: rdb, anchorHour: anchorHour, loc: loc}
}

var _ pipeline.Notifier = (*Publisher)(nil)

// Committed resolves the owning viewer and publishes the four event kinds
// independently. A missing binding means there is nobody to notify.
func (p *Publisher) Committed(ctx context.Context, res *pipeline.CommitResult) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	viewerID, err := p.repo.ResolveViewer(ctx, res.InstallationID)
	if err != nil {
		slog.Warn("fan-out viewer lookup failed", "installation_id", res.InstallationID, "error", err)
		observability.PublishFailures.Inc()
		return
	}
	if viewerID == "" {
		slog.Debug("fan-out skipped, no viewer bound", "installation_id", res.InstallationID)
		return
	}
	channel := ChannelFor(viewerID)

	if res.Snapshot != nil {
		p.publish(ctx, channel, EventStateUpdate, StatePayloadFrom(res.Snapshot))
	}

	logs, err := p.repo.LatestChangeLogs(ctx, res.InstallationID, store.LogRetention)
	if err != nil {
		slog.Warn("fan-out log query failed", "installation_id", res.InstallationID, "error", err)
		observability.PublishFailures.Inc()
	} else {
		p.publish(ctx, channel, EventLogUpdate, LogPayloadFrom(logs))
	}

	agg, err := p.repo.LatestAggregate(ctx, res.InstallationID)
	if err != nil {
		slog.Warn("fan-out aggregate query failed", "installation_id", res.InstallationID, "error", err)
		observability.PublishFailures.Inc()
	} else if agg != nil {
		p.publish(ctx, channel, EventAggregateUpdate, AggregatePayloadFrom(agg))
	}

	anchorFrom := time.Now().UTC()
	if res.Snapshot != nil {
		anchorFrom = res.Snapshot.TS
	}
	anchor := p.DailyAnchor(anchorFrom)
	snaps, err := p.repo.SnapshotsFrom(ctx, res.InstallationID, anchor)
	if err != nil {
		slog.Warn("fan-out series query failed", "installation_id", res.InstallationID, "error", err)
		observability.PublishFailures.Inc()
	} else {
		p.publish(ctx, channel, EventBatterySolarSeries, SeriesPayloadFrom(snaps))
	}
}

// DailyAnchor is the fixed local-time start of the battery/solar series for
// the day the sample belongs to.
func (p *Publisher) DailyAnchor(ts time.Time) time.Time {
	local := ts.In(p.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), p.anchorHour, 0, 0, 0, p.loc)
}

func (p *Publisher) publish(ctx context.Context, channel, kind string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("fan-out payload marshal failed", "kind", kind, "error", err)
		observability.PublishFailures.Inc()
		return
	}
	ev, err := json.Marshal(Event{Kind: kind, At: time.Now().UTC(), Payload: body})
	if err != nil {
		slog.Warn("fan-out envelope marshal failed", "kind", kind, "error", err)
		observability.PublishFailures.Inc()
		return
	}
	if err := p.rdb.Publish(ctx, channel, ev).Err(); err != nil {
		slog.Warn("fan-out publish failed", "kind", kind, "channel", channel, "error", err)
		observability.PublishFailures.Inc()
	}
}

// Bridge forwards viewer channel messages from redis into the local hub so a
// connected websocket sees events published by any replica.
type Bridge struct {
	rdb *redis.Client
	hub *Hub
}

func NewBridge(rdb *redis.Client, hub *Hub) *Bridge {
	return &Bridge{rdb: rdb, hub: hub}
}

// Run blocks until ctx is cancelled, forwarding every viewer event to the
// hub. Subscription errors end the loop; the caller decides whether to
// restart.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.rdb.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			viewerID := strings.TrimPrefix(msg.Channel, channelPrefix)
			if viewerID == "" {
				continue
			}
			b.hub.Send(viewerID, []byte(msg.Payload))
		}
	}
}
