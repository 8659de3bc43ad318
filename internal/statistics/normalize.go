// Package statistics turns raw meter readings into hourly cumulative
// statistic series.
//
// The pipeline is pure and synchronous:
//
//	readings -> Normalize -> Aggregate -> ToStatistics [-> WithBaseOffset]
//
// Cost series produced by the cost package go through the same Aggregate and
// ToStatistics steps.
package statistics

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/alexzouz/ha-linky/internal/models"
)

const defaultIntervalMinutes = 1.0

var (
	intervalDigits = regexp.MustCompile(`\d+`)

	// kW cells may use a decimal comma and a literal null.
	csvValueReplacer = strings.NewReplacer(",", ".", "null", "0")

	timestampLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04",
		"2006-01-02 15:04",
		"2006-01-02",
	}
)

// ParseTimestamp parses the ISO-8601 variants emitted by the provider. Values
// without an offset are interpreted in loc; values with one are converted to loc.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err == nil {
			return t.In(loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse date: %q", s)
}

// Classify resolves the shape of a reading: anything carrying an interval
// length is a load curve sample, everything else a daily total.
func Classify(r models.RawReading) models.ReadingKind {
	if r.IntervalLength != "" {
		return models.KindLoadCurve
	}
	return models.KindDaily
}

// Normalize converts one raw reading of the given kind. The boolean is false
// when a required field is missing or unparsable; such readings are dropped.
func Normalize(r models.RawReading, kind models.ReadingKind, loc *time.Location) (models.DataPoint, bool) {
	if r.Date == "" || r.Value == "" {
		return models.DataPoint{}, false
	}
	ts, err := ParseTimestamp(r.Date, loc)
	if err != nil {
		return models.DataPoint{}, false
	}

	switch kind {
	case models.KindDaily:
		v, err := strconv.ParseFloat(strings.TrimSpace(string(r.Value)), 64)
		if err != nil {
			return models.DataPoint{}, false
		}
		return models.DataPoint{Time: ts, Value: v}, true

	case models.KindLoadCurve:
		v, err := strconv.ParseFloat(strings.TrimSpace(string(r.Value)), 64)
		if err != nil {
			return models.DataPoint{}, false
		}
		// The API reports the end of the interval.
		minutes := intervalMinutes(r.IntervalLength)
		start := ts.Add(-time.Duration(minutes * float64(time.Minute)))
		return models.DataPoint{Time: start, Value: v}, true

	case models.KindCSVExport:
		raw := csvValueReplacer.Replace(strings.TrimSpace(string(r.Value)))
		kw, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return models.DataPoint{}, false
		}
		return models.DataPoint{Time: ts, Value: kw * 1000}, true
	}

	return models.DataPoint{}, false
}

// NormalizeAll classifies each reading independently and normalizes it,
// preserving input order.
func NormalizeAll(readings []models.RawReading, loc *time.Location) []models.DataPoint {
	out := make([]models.DataPoint, 0, len(readings))
	for _, r := range readings {
		if p, ok := Normalize(r, Classify(r), loc); ok {
			out = append(out, p)
		}
	}
	return out
}

// NormalizeCSV normalizes CSV export rows (start timestamp + kW value).
func NormalizeCSV(rows []models.RawReading, loc *time.Location) []models.DataPoint {
	out := make([]models.DataPoint, 0, len(rows))
	for _, r := range rows {
		if p, ok := Normalize(r, models.KindCSVExport, loc); ok {
			out = append(out, p)
		}
	}
	return out
}

func intervalMinutes(descriptor string) float64 {
	m := intervalDigits.FindString(descriptor)
	if m == "" {
		return defaultIntervalMinutes
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return defaultIntervalMinutes
	}
	return v
}
