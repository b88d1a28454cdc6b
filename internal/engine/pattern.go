package engine

import (
	"sort"
	"strconv"
	"strings"
)

// GeneratePattern compresses a set of channel numbers into the comma-joined
// range expression the matcher consumes: {101,102,103,107} -> "101-103,107".
// Consecutive runs collapse to "start-end", even two-element ones.
// Duplicates are ignored; an empty set yields "".
func GeneratePattern(numbers []int) string {
	if len(numbers) == 0 {
		return ""
	}
	sorted := append([]int(nil), numbers...)
	sort.Ints(sorted)

	var tokens []string
	flush := func(start, end int) {
		if start == end {
			tokens = append(tokens, strconv.Itoa(start))
			return
		}
		tokens = append(tokens, strconv.Itoa(start)+"-"+strconv.Itoa(end))
	}

	start, prev := sorted[0], sorted[0]
	for _, n := range sorted[1:] {
		switch {
		case n == prev:
			continue
		case n == prev+1:
			prev = n
		default:
			flush(start, prev)
			start, prev = n, n
		}
	}
	flush(start, prev)
	return strings.Join(tokens, ",")
}
