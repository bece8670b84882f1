package telemetry

import (
	"sync"
	"testing"
	"time"
)

func TestLatest_Empty(t *testing.T) {
	l := NewLatest()
	if _, ok := l.Get(); ok {
		t.Fatal("Get() ok = true on empty store")
	}
	if !l.Stale(time.Now(), time.Minute) {
		t.Error("empty store should be stale")
	}
	if age := l.Age(time.Now()); age != 0 {
		t.Errorf("Age() = %v on empty store, want 0", age)
	}
}

func TestLatest_LastWriteWins(t *testing.T) {
	l := NewLatest()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l.Set(Snapshot{Temperature: 20, ReceivedAt: base})
	l.Set(Snapshot{Temperature: 21.5, ReceivedAt: base.Add(time.Second)})

	got, ok := l.Get()
	if !ok {
		t.Fatal("Get() ok = false")
	}
	if got.Temperature != 21.5 {
		t.Errorf("Temperature = %v, want 21.5", got.Temperature)
	}
}

func TestLatest_Staleness(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l := NewLatest()
	l.Set(Snapshot{ReceivedAt: base})

	tests := []struct {
		name   string
		now    time.Time
		maxAge time.Duration
		want   bool
	}{
		{name: "fresh", now: base.Add(5 * time.Second), maxAge: 30 * time.Second, want: false},
		{name: "boundary", now: base.Add(30 * time.Second), maxAge: 30 * time.Second, want: false},
		{name: "old", now: base.Add(31 * time.Second), maxAge: 30 * time.Second, want: true},
		{name: "disabled", now: base.Add(time.Hour), maxAge: 0, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := l.Stale(tt.now, tt.maxAge); got != tt.want {
				t.Errorf("Stale() = %v, want %v", got, tt.want)
			}
		})
	}
	if age := l.Age(base.Add(7 * time.Second)); age != 7*time.Second {
		t.Errorf("Age() = %v, want 7s", age)
	}
}

func TestLatest_Concurrent(t *testing.T) {
	l := NewLatest()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			l.Set(Snapshot{FreeMemoryBytes: int64(i)})
		}(i)
		go func() {
			defer wg.Done()
			_, _ = l.Get()
		}()
	}
	wg.Wait()
	if _, ok := l.Get(); !ok {
		t.Fatal("Get() ok = false after concurrent writes")
	}
}

func TestSnapshot_SameReading(t *testing.T) {
	a := Snapshot{Temperature: 21.5, AverageTemperature: 21, Humidity: 40.2, AverageHumidity: 39, Voltage: 3.7, FreeMemoryBytes: 102400}
	b := a
	b.ReceivedAt = time.Now()
	if !a.SameReading(b) {
		t.Error("SameReading() = false for snapshots differing only in ReceivedAt")
	}
	b.Voltage = 3.6
	if a.SameReading(b) {
		t.Error("SameReading() = true for different voltage")
	}
}

func TestSnapshot_AgeAndStaleFromOneRead(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	l := NewLatest()
	l.Set(Snapshot{Temperature: 1, ReceivedAt: base})
	snap, _ := l.Get()

	// A newer Set after the read must not change what the read snapshot reports.
	l.Set(Snapshot{Temperature: 2, ReceivedAt: base.Add(time.Minute)})

	now := base.Add(45 * time.Second)
	if got := snap.AgeAt(now); got != 45*time.Second {
		t.Errorf("AgeAt = %v, want 45s", got)
	}
	if !snap.StaleAt(now, 30*time.Second) {
		t.Error("StaleAt(30s) = false, want true for the snapshot that was read")
	}
	if snap.StaleAt(now, 0) {
		t.Error("StaleAt(0) = true, want false")
	}
	if l.Stale(now, 30*time.Second) {
		t.Error("Latest.Stale = true, want false for the newer snapshot")
	}
}
