package engine

import (
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/voyagen/collectarr/internal/models"
)

// IsScheduledNow reports whether the rule may sync at now. Rules without an
// enabled schedule are always active. The day allow-list is checked first,
// then the time window; a window whose start is later than its end wraps
// past midnight, so 22:00-06:00 covers late evening through early morning.
func IsScheduledNow(rule *models.Rule, now time.Time) bool {
	s := rule.Schedule
	if s == nil || !s.Enabled {
		return true
	}

	if len(s.Days) > 0 {
		day := strings.ToLower(now.Weekday().String())
		found := false
		for _, d := range s.Days {
			if strings.ToLower(strings.TrimSpace(d)) == day {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	start, startOK := parseClock(s.Start)
	end, endOK := parseClock(s.End)
	if !startOK || !endOK {
		if (s.Start != "" && !startOK) || (s.End != "" && !endOK) {
			log.Printf("schedule: unparsable window %q-%q on rule %s, day check only", s.Start, s.End, rule.ID)
		}
		// Without a full window the day check alone decides.
		return true
	}

	minute := now.Hour()*60 + now.Minute()
	if start <= end {
		return minute >= start && minute <= end
	}
	return minute >= start || minute <= end
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return 0, false
	}
	hh, err1 := strconv.Atoi(strings.TrimSpace(h))
	mm, err2 := strconv.Atoi(strings.TrimSpace(m))
	if err1 != nil || err2 != nil || hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, false
	}
	return hh*60 + mm, true
}
