package sourcecred

import (
	"time"

	"github.com/metagame/sourcecred-sync/internal/config"
)

// now is a hook for tests
var now = time.Now

const week = 7 * 24 * time.Hour

// Season answers the season-boundary questions for one season schedule:
// seasons are consecutive fixed-length windows beginning at the
// configured start date.
type Season struct {
	start       time.Time
	lengthWeeks int
}

// NewSeason creates season math from configuration
func NewSeason(cfg *config.SeasonConfig) *Season {
	return &Season{
		start:       cfg.StartDate,
		lengthWeeks: cfg.LengthWeeks,
	}
}

// currentSeasonStart returns the start of the season containing t
func (s *Season) currentSeasonStart(t time.Time) time.Time {
	if t.Before(s.start) {
		return s.start
	}
	weeksSinceEpoch := int(t.Sub(s.start) / week)
	seasonIndex := weeksSinceEpoch / s.lengthWeeks
	return s.start.Add(time.Duration(seasonIndex*s.lengthWeeks) * week)
}

// NumWeeksInSeason returns the number of weeks elapsed in the current
// season so far, counting the in-progress week. This is the trailing
// window used for seasonal XP.
func (s *Season) NumWeeksInSeason() int {
	t := now()
	if t.Before(s.start) {
		return 1
	}
	elapsed := int(t.Sub(s.currentSeasonStart(t))/week) + 1
	if elapsed > s.lengthWeeks {
		elapsed = s.lengthWeeks
	}
	return elapsed
}

// IsNewSeason reports whether the current time falls in the first week
// of a season; seasonal XP is reset once per boundary crossing.
func (s *Season) IsNewSeason() bool {
	t := now()
	if t.Before(s.start) {
		return false
	}
	return t.Sub(s.currentSeasonStart(t)) < week
}
