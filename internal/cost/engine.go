// Package cost prices hourly energy with an ordered list of rules.
//
// Rules are evaluated in list order and the first one matching a point wins.
// A rule carries either a fixed price per kWh or the id of an external price
// entity whose history is resolved as a step function.
package cost

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/alexzouz/ha-linky/internal/models"
)

// EntityHistory is the outcome of fetching one price entity. Err is set when
// the fetch failed; an empty Samples with nil Err means no data was recorded.
type EntityHistory struct {
	Samples []models.PriceSample
	Err     error
}

// PriceHistory maps an entity id to its ascending sample series.
type PriceHistory map[string]EntityHistory

// unit markers, checked in order; the first match decides the divisor.
var unitConversions = []struct {
	markers []string
	divisor float64
}{
	{markers: []string{"c€", "cent", "¢"}, divisor: 100},
	{markers: []string{"eur/mwh", "€/mwh"}, divisor: 1000},
}

// ConvertPrice normalizes a price to currency per kWh based on its unit.
// An empty or unknown unit is taken as currency per kWh already.
func ConvertPrice(price float64, unit string) float64 {
	if unit == "" {
		return price
	}
	lower := strings.ToLower(unit)
	for _, c := range unitConversions {
		for _, m := range c.markers {
			if strings.Contains(lower, m) {
				return price / c.divisor
			}
		}
	}
	return price
}

// PriceAt returns the value of the last sample at or before t.
func PriceAt(samples []models.PriceSample, t time.Time) (models.PriceSample, bool) {
	i := sort.Search(len(samples), func(i int) bool { return samples[i].Time.After(t) })
	if i == 0 {
		return models.PriceSample{}, false
	}
	return samples[i-1], true
}

// ComputeCosts prices each energy point (Wh) and returns the cost points.
// Points with no matching rule, or whose entity has no sample at or before
// the point, are skipped.
func ComputeCosts(energy []models.DataPoint, rules []Rule, history PriceHistory) []models.DataPoint {
	out := make([]models.DataPoint, 0, len(energy))
	for _, p := range energy {
		rule, ok := FirstMatch(rules, p.Time)
		if !ok {
			continue
		}

		var price float64
		switch {
		case rule.EntityID != "":
			sample, found := PriceAt(history[rule.EntityID].Samples, p.Time)
			if !found {
				continue
			}
			price = ConvertPrice(sample.Value, sample.Unit)
		case rule.Price != nil:
			price = *rule.Price
		default:
			continue
		}

		// Round the Wh product before dividing.
		out = append(out, models.DataPoint{
			Time:  p.Time,
			Value: math.RoundToEven(price*p.Value) / 1000,
		})
	}
	return out
}
