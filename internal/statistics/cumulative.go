package statistics

import "github.com/alexzouz/ha-linky/internal/models"

// ToStatistics converts an ordered hourly series into statistic points whose
// Sum is the running total starting from zero.
func ToStatistics(points []models.DataPoint) []models.StatisticPoint {
	out := make([]models.StatisticPoint, len(points))
	var sum float64
	for i, p := range points {
		sum = p.Value + sum
		out[i] = models.StatisticPoint{
			Start: p.Time,
			State: p.Value,
			Sum:   sum,
		}
	}
	return out
}

// WithBaseOffset returns a copy of series with base added to every Sum.
// It continues a running total from a previously stored value.
func WithBaseOffset(series []models.StatisticPoint, base float64) []models.StatisticPoint {
	out := make([]models.StatisticPoint, len(series))
	for i, p := range series {
		out[i] = models.StatisticPoint{
			Start: p.Start,
			State: p.State,
			Sum:   p.Sum + base,
		}
	}
	return out
}
