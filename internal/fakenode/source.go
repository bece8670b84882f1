package fakenode

import (
	"math"
	"math/rand/v2"
	"sync"

	"wotnode-gateway/internal/telemetry"
)

// Fixed always returns the same reading.
type Fixed telemetry.Snapshot

func (f Fixed) Next() telemetry.Snapshot { return telemetry.Snapshot(f) }

// Drift is a random walk around indoor conditions. Averages are kept over
// the last window readings, the way the node firmware reports them.
type Drift struct {
	mu      sync.Mutex
	rng     *rand.Rand
	window  int
	temps   []float64
	hums    []float64
	temp    float64
	hum     float64
	voltage float64
	freeRAM int64
}

func NewDrift(seed uint64, window int) *Drift {
	if window <= 0 {
		window = 10
	}
	return &Drift{
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		window:  window,
		temp:    21.0,
		hum:     45.0,
		voltage: 3.7,
		freeRAM: 102400,
	}
}

func (d *Drift) Next() telemetry.Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.temp = clamp(d.temp+d.rng.NormFloat64()*0.2, -10, 45)
	d.hum = clamp(d.hum+d.rng.NormFloat64()*0.5, 5, 95)
	d.voltage = clamp(d.voltage-0.001+d.rng.NormFloat64()*0.002, 3.0, 4.2)
	d.freeRAM = 100000 + d.rng.Int64N(4096)

	d.temps = appendWindow(d.temps, d.temp, d.window)
	d.hums = appendWindow(d.hums, d.hum, d.window)

	return telemetry.Snapshot{
		Temperature:        round(d.temp, 1),
		AverageTemperature: round(mean(d.temps), 1),
		Humidity:           round(d.hum, 1),
		AverageHumidity:    round(mean(d.hums), 1),
		Voltage:            round(d.voltage, 2),
		FreeMemoryBytes:    d.freeRAM,
	}
}

func appendWindow(xs []float64, x float64, n int) []float64 {
	xs = append(xs, x)
	if len(xs) > n {
		xs = xs[len(xs)-n:]
	}
	return xs
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
