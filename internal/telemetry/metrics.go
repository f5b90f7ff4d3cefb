package telemetry

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Leniency controls how malformed numeric fields in a metrics line are handled.
type Leniency int

const (
	// CoerceZero replaces a malformed numeric field with 0. This matches the
	// historical agent-facing behavior and is the default.
	CoerceZero Leniency = iota

	// Strict fails the line on the first malformed numeric field.
	Strict
)

// metricsFieldCount is the exact number of comma-separated fields in a
// system-metrics line: timestamp, computer name, computer number, CPU %,
// memory %, disk bytes/sec.
const metricsFieldCount = 6

// MetricsRecord is one parsed system-metrics line.
//
// InferredWatts is derived, never supplied by the agent; it stays zero until
// Derive is called.
type MetricsRecord struct {
	TimestampUTC   string
	ComputerName   string
	ComputerNumber string
	CPUPercent     float64
	MemPercentUsed float64
	DiskBytesSec   int64
	InferredWatts  float64
}

// ParseMetricsLine parses a fixed 6-field CSV system-metrics line.
//
// A wrong field count is always an error, regardless of policy: the line is
// simply not the metrics shape. Malformed numeric fields follow the leniency
// policy.
func ParseMetricsLine(line string, policy Leniency) (MetricsRecord, error) {
	fields := strings.Split(line, ",")
	if len(fields) != metricsFieldCount {
		return MetricsRecord{}, fmt.Errorf("expected %d fields, got %d", metricsFieldCount, len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	rec := MetricsRecord{
		TimestampUTC:   fields[0],
		ComputerName:   fields[1],
		ComputerNumber: fields[2],
	}

	var err error
	if rec.CPUPercent, err = parseFloatField("cpu_percent", fields[3], policy); err != nil {
		return MetricsRecord{}, err
	}
	if rec.MemPercentUsed, err = parseFloatField("mem_percent_used", fields[4], policy); err != nil {
		return MetricsRecord{}, err
	}
	if rec.DiskBytesSec, err = parseIntField("disk_bytes_sec", fields[5], policy); err != nil {
		return MetricsRecord{}, err
	}

	return rec, nil
}

// Derive fills InferredWatts from the utilization fields.
func (r *MetricsRecord) Derive() {
	r.InferredWatts = InferredWatts(r.CPUPercent, r.MemPercentUsed)
}

// InferredWatts estimates power draw from CPU and memory utilization,
// rounded to 2 decimal places.
//
// Watts = (CPU % * 0.85) + (Memory % * 0.25) + 22.5
//
// This is an uncalibrated placeholder model, not a measurement.
func InferredWatts(cpuPercent, memPercentUsed float64) float64 {
	watts := cpuPercent*0.85 + memPercentUsed*0.25 + 22.5
	return math.Round(watts*100) / 100
}

func parseFloatField(name, s string, policy Leniency) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err == nil {
		return v, nil
	}
	if policy == Strict {
		return 0, fmt.Errorf("invalid %s %q: %v", name, s, err)
	}
	return 0, nil
}

func parseIntField(name, s string, policy Leniency) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err == nil {
		return v, nil
	}
	if policy == Strict {
		return 0, fmt.Errorf("invalid %s %q: %v", name, s, err)
	}
	return 0, nil
}
