// Package telemetry holds the decoded sensor node reading and the
// last-write-wins holder consumers read it from.
package telemetry

import "time"

// Snapshot is one decoded reading from the sensor node. The averages are
// computed by the node itself.
type Snapshot struct {
	Temperature        float64   `json:"temperature_c"`
	AverageTemperature float64   `json:"avg_temperature_c"`
	Humidity           float64   `json:"humidity_pct"`
	AverageHumidity    float64   `json:"avg_humidity_pct"`
	Voltage            float64   `json:"voltage_v"`
	FreeMemoryBytes    int64     `json:"free_ram_bytes"`
	ReceivedAt         time.Time `json:"received_at"`
}

// SameReading reports whether s and o carry the same measured values,
// ignoring when they were received.
func (s Snapshot) SameReading(o Snapshot) bool {
	return s.Temperature == o.Temperature &&
		s.AverageTemperature == o.AverageTemperature &&
		s.Humidity == o.Humidity &&
		s.AverageHumidity == o.AverageHumidity &&
		s.Voltage == o.Voltage &&
		s.FreeMemoryBytes == o.FreeMemoryBytes
}

// AgeAt is how long before now the snapshot was received.
func (s Snapshot) AgeAt(now time.Time) time.Duration {
	return now.Sub(s.ReceivedAt)
}

// StaleAt reports whether the snapshot is older than maxAge at now. A zero
// maxAge never marks it stale.
func (s Snapshot) StaleAt(now time.Time, maxAge time.Duration) bool {
	return maxAge > 0 && s.AgeAt(now) > maxAge
}
