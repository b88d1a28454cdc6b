package engine

import (
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/voyagen/collectarr/internal/models"
)

// numberSentinel orders channels with a missing or unparsable guide number
// after every real number.
const numberSentinel = 999999

var (
	reEventNumber  = regexp.MustCompile(`(?i)\bEvent\s+(\d+)\b`)
	reTrailingFeed = regexp.MustCompile(`^.*[\s+-]\s*(\d+)\s*$`)
)

// SortChannels orders ids according to order and returns a new slice. byID
// supplies channel metadata; ids missing from the map sort with an empty
// name and the number sentinel. Ties always break on the raw id so every
// ordering is total and stable across passes.
func SortChannels(ids []string, byID map[string]models.Channel, order string) []string {
	out := make([]string, len(ids))
	copy(out, ids)

	switch {
	case order == models.SortNameAsc:
		sortByName(out, byID, false)
	case order == models.SortNameDesc:
		sortByName(out, byID, true)
	case order == models.SortNumberAsc:
		sortByNumber(out, byID, false)
	case order == models.SortNumberDesc:
		sortByNumber(out, byID, true)
	case order == models.SortEventsLast:
		out = sortEventsLast(out, byID)
	case strings.HasPrefix(order, models.SortRegexPrefix):
		out = sortByRegex(out, byID, strings.TrimPrefix(order, models.SortRegexPrefix))
	default:
		sort.Strings(out)
	}
	return out
}

func sortByName(ids []string, byID map[string]models.Channel, desc bool) {
	sort.Slice(ids, func(i, j int) bool {
		a := strings.ToLower(byID[ids[i]].Name)
		b := strings.ToLower(byID[ids[j]].Name)
		if a != b {
			if desc {
				return a > b
			}
			return a < b
		}
		return ids[i] < ids[j]
	})
}

func sortByNumber(ids []string, byID map[string]models.Channel, desc bool) {
	sort.Slice(ids, func(i, j int) bool {
		a := numberKey(byID[ids[i]])
		b := numberKey(byID[ids[j]])
		if a != b {
			if desc {
				return a > b
			}
			return a < b
		}
		return ids[i] < ids[j]
	})
}

func numberKey(ch models.Channel) float64 {
	if v, ok := parseNumber(ch.Number); ok {
		return v
	}
	return numberSentinel
}

// sortEventsLast puts named channels first in name order, then event
// placeholder feeds in event-number order. Guide listings for live sports
// fill with dozens of "Event N" style entries; pushing them behind the
// named channels keeps the collection browsable.
func sortEventsLast(ids []string, byID map[string]models.Channel) []string {
	named := make([]string, 0, len(ids))
	events := make([]string, 0)
	for _, id := range ids {
		if isEventPlaceholder(byID[id].Name) {
			events = append(events, id)
		} else {
			named = append(named, id)
		}
	}
	sortByName(named, byID, false)
	sort.Slice(events, func(i, j int) bool {
		a := eventNumber(byID[events[i]].Name)
		b := eventNumber(byID[events[j]].Name)
		if a != b {
			return a < b
		}
		return events[i] < events[j]
	})
	return append(named, events...)
}

// isEventPlaceholder classifies guide names that carry only a provider feed
// number: "Event 12", "Sports+ 50", "Network - 7". Names with an "@" or a
// long title before a colon are real programs that merely end in a number
// and stay in the named class.
func isEventPlaceholder(name string) bool {
	if reEventNumber.MatchString(name) {
		return true
	}
	if !reTrailingFeed.MatchString(name) {
		return false
	}
	if strings.Contains(name, "@") {
		return false
	}
	if i := strings.Index(name, ":"); i >= 30 {
		return false
	}
	return true
}

func eventNumber(name string) int {
	if m := reEventNumber.FindStringSubmatch(name); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	if m := reTrailingFeed.FindStringSubmatch(name); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	return numberSentinel
}

// sortByRegex splits ids into names matching pattern and the rest, each in
// name order, matches first. An invalid pattern is logged and degrades to
// the default id ordering.
func sortByRegex(ids []string, byID map[string]models.Channel, pattern string) []string {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		log.Printf("sorter: invalid sort pattern %q: %v", pattern, err)
		sort.Strings(ids)
		return ids
	}
	matched := make([]string, 0, len(ids))
	rest := make([]string, 0, len(ids))
	for _, id := range ids {
		if re.MatchString(byID[id].Name) {
			matched = append(matched, id)
		} else {
			rest = append(rest, id)
		}
	}
	sortByName(matched, byID, false)
	sortByName(rest, byID, false)
	return append(matched, rest...)
}
