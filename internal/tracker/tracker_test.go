package tracker

import (
	"math"
	"sync"
	"testing"
	"time"
)

var testRatings = map[string]float64{
	"kitchen_light": 0.005,
	"tv":            0.04,
}

func TestObserveOnOffEmitsEnergy(t *testing.T) {
	trk := New(testRatings)
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, ok := trk.Observe("inst-1", "kitchen_light", StateOn, start); ok {
		t.Fatalf("ON transition must not emit a completion")
	}

	c, ok := trk.Observe("inst-1", "kitchen_light", StateOff, start.Add(2*time.Hour))
	if !ok {
		t.Fatalf("OFF after ON must emit a completion")
	}
	if c.EnergyKWH != 0.01 {
		t.Fatalf("expected 0.010000 kWh for 2h at 0.005 kW, got %v", c.EnergyKWH)
	}
	if !c.StartTime.Equal(start) || !c.EndTime.Equal(start.Add(2*time.Hour)) {
		t.Fatalf("unexpected interval: %v .. %v", c.StartTime, c.EndTime)
	}
}

func TestObserveDuplicateOnKeepsOriginalStart(t *testing.T) {
	trk := New(testRatings)
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	trk.Observe("inst-1", "kitchen_light", StateOn, start)
	trk.Observe("inst-1", "kitchen_light", StateOn, start.Add(time.Hour))

	c, ok := trk.Observe("inst-1", "kitchen_light", StateOff, start.Add(2*time.Hour))
	if !ok {
		t.Fatalf("expected completion")
	}
	if c.EnergyKWH != 0.01 {
		t.Fatalf("duplicate ON must not move the start: got %v kWh", c.EnergyKWH)
	}
}

func TestObserveOffWithoutActivationIsNoop(t *testing.T) {
	trk := New(testRatings)
	if _, ok := trk.Observe("inst-1", "tv", StateOff, time.Now()); ok {
		t.Fatalf("OFF without activation must not emit")
	}
}

func TestToggleSequenceSumsToOnDuration(t *testing.T) {
	trk := New(testRatings)
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	// ON intervals: [0,30m), [1h,1h45m), [3h,3h10m)
	intervals := [][2]time.Duration{
		{0, 30 * time.Minute},
		{time.Hour, time.Hour + 45*time.Minute},
		{3 * time.Hour, 3*time.Hour + 10*time.Minute},
	}

	var sum float64
	var onHours float64
	for _, iv := range intervals {
		trk.Observe("inst-1", "tv", StateOn, base.Add(iv[0]))
		c, ok := trk.Observe("inst-1", "tv", StateOff, base.Add(iv[1]))
		if !ok {
			t.Fatalf("expected completion for interval %v", iv)
		}
		sum += c.EnergyKWH
		onHours += (iv[1] - iv[0]).Hours()
	}

	want := onHours * testRatings["tv"]
	if math.Abs(sum-want) > 1e-6 {
		t.Fatalf("sum of completions %v, want %v within 6-decimal rounding", sum, want)
	}
}

func TestConcurrentOffEmitsExactlyOnce(t *testing.T) {
	trk := New(testRatings)
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	trk.Observe("inst-1", "tv", StateOn, start)

	var wg sync.WaitGroup
	var mu sync.Mutex
	emitted := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := trk.Observe("inst-1", "tv", StateOff, start.Add(time.Hour)); ok {
				mu.Lock()
				emitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if emitted != 1 {
		t.Fatalf("expected exactly one completion from concurrent OFFs, got %d", emitted)
	}
}

func TestConcurrentOnRegistersOnce(t *testing.T) {
	trk := New(testRatings)
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			trk.Observe("inst-1", "kitchen_light", StateOn, start)
		}()
	}
	wg.Wait()

	c, ok := trk.Observe("inst-1", "kitchen_light", StateOff, start.Add(2*time.Hour))
	if !ok || c.EnergyKWH != 0.01 {
		t.Fatalf("expected one activation worth 0.01 kWh, got ok=%v energy=%v", ok, c.EnergyKWH)
	}
}

func TestInstantaneous(t *testing.T) {
	trk := New(testRatings)
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	trk.Observe("inst-1", "kitchen_light", StateOn, start)

	if got := trk.Instantaneous("inst-1", "kitchen_light", start.Add(time.Hour)); got != 0.005 {
		t.Fatalf("active device after 1h: got %v, want 0.005", got)
	}
	if got := trk.Instantaneous("inst-1", "tv", start.Add(time.Hour)); got != 0 {
		t.Fatalf("inactive device: got %v, want 0", got)
	}
	// Reading must not consume the activation.
	if _, ok := trk.Observe("inst-1", "kitchen_light", StateOff, start.Add(2*time.Hour)); !ok {
		t.Fatalf("activation should still be live after Instantaneous")
	}
}

func TestInstallationsAreIsolated(t *testing.T) {
	trk := New(testRatings)
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	trk.Observe("inst-1", "tv", StateOn, start)
	if _, ok := trk.Observe("inst-2", "tv", StateOff, start.Add(time.Hour)); ok {
		t.Fatalf("inst-2 must not see inst-1's activation")
	}
	if _, ok := trk.Observe("inst-1", "tv", StateOff, start.Add(time.Hour)); !ok {
		t.Fatalf("inst-1's activation must survive inst-2's OFF")
	}
}

func TestUnknownDeviceDrawsZero(t *testing.T) {
	trk := New(testRatings)
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	trk.Observe("inst-1", "mystery_gadget", StateOn, start)
	c, ok := trk.Observe("inst-1", "mystery_gadget", StateOff, start.Add(5*time.Hour))
	if !ok {
		t.Fatalf("expected completion")
	}
	if c.EnergyKWH != 0 {
		t.Fatalf("unrated device must draw 0, got %v", c.EnergyKWH)
	}
}

func TestRestoreReopensActivation(t *testing.T) {
	trk := New(testRatings)
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	trk.Restore("inst-1", "tv", t0)
	c, ok := trk.Observe("inst-1", "tv", StateOff, t0.Add(time.Hour))
	if !ok {
		t.Fatalf("restored activation must complete on OFF")
	}
	if c.EnergyKWH != 0.04 || !c.StartTime.Equal(t0) {
		t.Fatalf("unexpected completion: %+v", c)
	}

	// When a newer activation already exists, the earlier start wins so no
	// part of the interval is dropped.
	trk.Observe("inst-1", "tv", StateOn, t0.Add(30*time.Minute))
	trk.Restore("inst-1", "tv", t0)
	c, ok = trk.Observe("inst-1", "tv", StateOff, t0.Add(time.Hour))
	if !ok || !c.StartTime.Equal(t0) {
		t.Fatalf("earlier start must win, got %+v (ok=%v)", c, ok)
	}

	// A restore must never shrink an open interval.
	trk.Observe("inst-1", "tv", StateOn, t0)
	trk.Restore("inst-1", "tv", t0.Add(30*time.Minute))
	c, ok = trk.Observe("inst-1", "tv", StateOff, t0.Add(time.Hour))
	if !ok || !c.StartTime.Equal(t0) {
		t.Fatalf("later restore must not override an earlier start, got %+v (ok=%v)", c, ok)
	}
}
