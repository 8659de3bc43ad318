package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// ReadingKind tags the shape of a raw reading once, at classification time.
type ReadingKind int

const (
	KindDaily ReadingKind = iota
	KindLoadCurve
	KindCSVExport
)

func (k ReadingKind) String() string {
	switch k {
	case KindDaily:
		return "daily"
	case KindLoadCurve:
		return "load_curve"
	case KindCSVExport:
		return "csv_export"
	default:
		return "unknown"
	}
}

// Measure is a reading value as reported by the provider. The Conso API
// sends it as a JSON string, CSV exports as a locale-formatted cell.
type Measure string

// UnmarshalJSON accepts both quoted and bare numeric values.
func (m *Measure) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*m = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*m = Measure(s)
		return nil
	}
	*m = Measure(data)
	return nil
}

// RawReading is a single item returned by the metering API or read from a
// CSV export. Date is the provider's timestamp text; for load curves it is
// the end of the interval.
type RawReading struct {
	Value          Measure `json:"value"`
	Date           string  `json:"date"`
	IntervalLength string  `json:"interval_length,omitempty"`
	MeasureType    string  `json:"measure_type,omitempty"`
}

// APIResponse is the envelope returned by every Conso API endpoint.
type APIResponse struct {
	IntervalReading []RawReading `json:"interval_reading"`
}

// DataPoint is a normalized sample: watt-hours for energy, currency for cost.
type DataPoint struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// StatisticPoint is an hour-aligned record with its running total.
type StatisticPoint struct {
	Start time.Time `json:"start"`
	State float64   `json:"state"`
	Sum   float64   `json:"sum"`
}

// SeriesMetadata describes a statistic series to the store.
type SeriesMetadata struct {
	StatisticID string `json:"statistic_id"`
	Source      string `json:"source"`
	Name        string `json:"name"`
	Unit        string `json:"unit"`
	HasSum      bool   `json:"has_sum"`
}

// PriceSample is one observation of an external price entity.
type PriceSample struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
	Unit  string    `json:"unit,omitempty"`
}
