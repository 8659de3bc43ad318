package statistics

import (
	"fmt"

	"github.com/alexzouz/ha-linky/internal/models"
)

const (
	SourceConsumption = "linky"
	SourceProduction  = "linky_prod"

	costSuffix = "_cost"

	UnitEnergy = "Wh"
	UnitCost   = "€"
)

// Source returns the statistic source for a meter direction.
func Source(production bool) string {
	if production {
		return SourceProduction
	}
	return SourceConsumption
}

// SeriesID derives the store key, e.g. "linky:12345678901234" or
// "linky_prod:12345678901234_cost".
func SeriesID(prm string, production, cost bool) string {
	id := fmt.Sprintf("%s:%s", Source(production), prm)
	if cost {
		id += costSuffix
	}
	return id
}

// Metadata builds the series description written alongside the points.
func Metadata(prm, name string, production, cost bool) models.SeriesMetadata {
	md := models.SeriesMetadata{
		StatisticID: SeriesID(prm, production, cost),
		Source:      Source(production),
		Name:        name,
		Unit:        UnitEnergy,
		HasSum:      true,
	}
	if cost {
		md.Name = name + " (costs)"
		md.Unit = UnitCost
	}
	return md
}
