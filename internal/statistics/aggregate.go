package statistics

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/alexzouz/ha-linky/internal/models"
)

// HourKey truncates t to the start of its hour in t's own location.
func HourKey(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}

// Aggregate groups points by hour and averages the values of each hour.
// Output holds one point per distinct hour, ascending, values rounded to two
// decimals with round-half-to-even on the exact binary value.
func Aggregate(points []models.DataPoint) []models.DataPoint {
	if len(points) == 0 {
		return []models.DataPoint{}
	}

	type bucket struct {
		start time.Time
		total float64
		count int
	}
	buckets := make(map[int64]*bucket)
	for _, p := range points {
		key := HourKey(p.Time)
		b, ok := buckets[key.Unix()]
		if !ok {
			b = &bucket{start: key}
			buckets[key.Unix()] = b
		}
		b.total += p.Value
		b.count++
	}

	out := make([]models.DataPoint, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, models.DataPoint{
			Time:  b.start,
			Value: Round(b.total/float64(b.count), 2),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

// Round rounds v to the given number of decimals. strconv formats from the
// exact binary value and breaks exact ties to even.
func Round(v float64, decimals int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', decimals, 64), 64)
	if err != nil {
		return v
	}
	return r
}
