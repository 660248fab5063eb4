// Package tracker converts device ON/OFF transitions into energy amounts.
//
// It is the only mutable state in the service that lives outside the
// transactional store: a map from (installation, device) to the time the
// device was last switched on. Access is sharded by installation so
// observations for different installations do not contend.
package tracker

import (
	"hash/fnv"
	"math"
	"sync"
	"time"
)

const (
	StateOn  = "ON"
	StateOff = "OFF"

	shardCount = 32
)

// Completion describes one finished activation, ready to be persisted as a
// consumption record.
type Completion struct {
	InstallationID string
	DeviceName     string
	EnergyKWH      float64
	StartTime      time.Time
	EndTime        time.Time
}

type key struct {
	installation string
	device       string
}

type shard struct {
	mu     sync.Mutex
	active map[key]time.Time
}

// Tracker holds activation start times keyed by (installation, device).
type Tracker struct {
	ratings map[string]float64 // device name -> avg draw in kW
	shards  [shardCount]*shard
}

func New(ratings map[string]float64) *Tracker {
	t := &Tracker{ratings: ratings}
	for i := range t.shards {
		t.shards[i] = &shard{active: map[key]time.Time{}}
	}
	return t
}

func (t *Tracker) shardFor(installationID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(installationID))
	return t.shards[h.Sum32()%shardCount]
}

// Rating returns the configured average draw for the device in kW. Unknown
// devices draw 0.
func (t *Tracker) Rating(device string) float64 {
	return t.ratings[device]
}

// Observe applies one reported state for one device. An ON report registers
// an activation start if none exists; a duplicate ON is a no-op. An OFF
// report with a live activation removes it and returns the completed
// consumption; an OFF without one is a no-op.
func (t *Tracker) Observe(installationID, device, state string, sampleTime time.Time) (Completion, bool) {
	s := t.shardFor(installationID)
	k := key{installation: installationID, device: device}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch state {
	case StateOn:
		if _, ok := s.active[k]; !ok {
			s.active[k] = sampleTime
		}
	case StateOff:
		start, ok := s.active[k]
		if !ok {
			break
		}
		delete(s.active, k)
		if !sampleTime.After(start) {
			// Out-of-order sample; there is no interval to account for.
			break
		}
		return Completion{
			InstallationID: installationID,
			DeviceName:     device,
			EnergyKWH:      energyKWH(sampleTime.Sub(start), t.ratings[device]),
			StartTime:      start,
			EndTime:        sampleTime,
		}, true
	}
	return Completion{}, false
}

// Restore re-registers an activation start, used when a completion consumed
// by Observe could not be persisted and the interval must stay open. If the
// device was switched on again in the meantime the earlier start wins, so no
// part of the interval is lost.
func (t *Tracker) Restore(installationID, device string, start time.Time) {
	s := t.shardFor(installationID)
	k := key{installation: installationID, device: device}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.active[k]; !ok || start.Before(cur) {
		s.active[k] = start
	}
}

// Instantaneous returns the not-yet-committed energy accrued by a currently
// active device, or 0 for an inactive one. It never mutates tracker state.
func (t *Tracker) Instantaneous(installationID, device string, now time.Time) float64 {
	s := t.shardFor(installationID)
	k := key{installation: installationID, device: device}

	s.mu.Lock()
	start, ok := s.active[k]
	s.mu.Unlock()

	if !ok || !now.After(start) {
		return 0
	}
	return energyKWH(now.Sub(start), t.ratings[device])
}

func energyKWH(d time.Duration, ratingKW float64) float64 {
	hours := d.Seconds() / 3600
	return round6(hours * ratingKW)
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
