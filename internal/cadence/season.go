package cadence

import (
	"time"

	"cadence_scheduler/internal/models"
)

// TargetIsInSeason reports whether the month of query lies within the
// inclusive month range [seasonalStart, seasonalEnd]. A range whose start is
// after its end wraps over the new year, so (11, 2) covers Nov through Feb.
func TargetIsInSeason(seasonalStart, seasonalEnd int, query time.Time) bool {
	month := int(query.Month())
	if seasonalStart > seasonalEnd {
		seasonalEnd += 12
		if month < seasonalStart {
			month += 12
		}
	}
	return seasonalStart <= month && month <= seasonalEnd
}

// InSeason applies TargetIsInSeason to t. Targets without a seasonal range
// are observable all year.
func InSeason(t models.Target, query time.Time) bool {
	if t.SeasonalStart == nil || t.SeasonalEnd == nil {
		return true
	}
	return TargetIsInSeason(*t.SeasonalStart, *t.SeasonalEnd, query)
}
