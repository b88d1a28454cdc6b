package engine

import (
	"log"
	"regexp"
	"strconv"
	"strings"

	"github.com/voyagen/collectarr/internal/models"
)

// compiledPattern is one expanded pattern fragment in matchable form. A
// fragment can carry several match strategies at once: a purely numeric
// fragment has an equality value and a word-boundary regexp, a range
// fragment has bounds, and every fragment that compiles has a
// case-insensitive regexp. Compilation failures are carried as a nil re so
// a bad pattern costs a log line, not the rule.
type compiledPattern struct {
	raw string

	isNumber bool
	value    float64

	isRange bool
	lo, hi  float64

	re    *regexp.Regexp // case-insensitive text match
	numRe *regexp.Regexp // word-boundary form, used against the guide number
}

// Matches reports whether a single channel satisfies the rule. Use MatchAll
// or MatchRule for whole inventories; they compile the rule's patterns once.
func Matches(ch models.Channel, rule *models.Rule) bool {
	return matchChannel(ch, rule, compileRule(rule))
}

// MatchAll returns the channels satisfying the rule, preserving inventory
// order.
func MatchAll(channels []models.Channel, rule *models.Rule) []models.Channel {
	pats := compileRule(rule)
	var out []models.Channel
	for _, ch := range channels {
		if matchChannel(ch, rule, pats) {
			out = append(out, ch)
		}
	}
	return out
}

// MatchRule returns the IDs of the channels satisfying the rule, in
// inventory order.
func MatchRule(rule *models.Rule, channels []models.Channel) []string {
	pats := compileRule(rule)
	var out []string
	for _, ch := range channels {
		if matchChannel(ch, rule, pats) {
			out = append(out, ch.ID)
		}
	}
	return out
}

func matchChannel(ch models.Channel, rule *models.Rule, pats []compiledPattern) bool {
	if !sourceAllowed(ch, rule) {
		return false
	}

	nameEnabled := rule.HasMatchType(models.MatchTypeName)
	numberEnabled := rule.HasMatchType(models.MatchTypeNumber)
	epgEnabled := rule.HasMatchType(models.MatchTypeEPG)

	num, numOK := parseNumber(ch.Number)

	for _, p := range pats {
		// Numeric fast paths against the parsed guide number. Ranges apply
		// regardless of match types; exact equality only when "number" is
		// enabled.
		if numOK {
			if p.isNumber && numberEnabled && num == p.value {
				return true
			}
			if p.isRange && num >= p.lo && num <= p.hi {
				return true
			}
		}
		if p.re == nil {
			continue
		}
		if nameEnabled && p.re.MatchString(ch.Name) {
			return true
		}
		if numberEnabled {
			if p.isNumber {
				if p.numRe != nil && p.numRe.MatchString(ch.Number) {
					return true
				}
			} else if p.re.MatchString(ch.Number) {
				return true
			}
		}
		if epgEnabled && (p.re.MatchString(ch.Callsign) || p.re.MatchString(ch.Affiliate)) {
			return true
		}
	}
	return false
}

// sourceAllowed applies the source filter ahead of any pattern check. A
// non-empty include list wins as an allow-list; otherwise a non-empty
// exclude list removes its members.
func sourceAllowed(ch models.Channel, rule *models.Rule) bool {
	if len(rule.IncludeSources) > 0 {
		return containsString(rule.IncludeSources, ch.SourceID)
	}
	if len(rule.ExcludeSources) > 0 {
		return !containsString(rule.ExcludeSources, ch.SourceID)
	}
	return true
}

func compileRule(rule *models.Rule) []compiledPattern {
	numberEnabled := rule.HasMatchType(models.MatchTypeNumber)
	raw := expandPatterns(rule.Patterns, numberEnabled)

	out := make([]compiledPattern, 0, len(raw))
	for _, text := range raw {
		p := compiledPattern{raw: text}

		if lo, hi, ok := parseRange(text); ok {
			p.isRange, p.lo, p.hi = true, lo, hi
		}
		if isNumericText(text) {
			if v, err := strconv.ParseFloat(text, 64); err == nil {
				p.isNumber, p.value = true, v
			}
		}

		re, err := regexp.Compile("(?i)" + text)
		if err != nil {
			// The pattern still works as a range or exact number; it just
			// contributes no text match.
			log.Printf("matcher: invalid pattern %q: %v", text, err)
		} else {
			p.re = re
			if p.isNumber {
				// Anchor bare numbers so "400" does not match inside "6400".
				if numRe, err := regexp.Compile(`(?i)\b` + text + `\b`); err == nil {
					p.numRe = numRe
				}
			}
		}
		out = append(out, p)
	}
	return out
}

// expandPatterns splits comma-separated number lists ("101,105,200-299")
// into independent fragments. Expansion only happens when "number" matching
// is enabled; a comma in a name pattern is regex text.
func expandPatterns(patterns []string, numberEnabled bool) []string {
	if !numberEnabled {
		return patterns
	}
	var out []string
	for _, p := range patterns {
		if !strings.Contains(p, ",") {
			out = append(out, p)
			continue
		}
		for _, frag := range strings.Split(p, ",") {
			frag = strings.TrimSpace(frag)
			if frag != "" {
				out = append(out, frag)
			}
		}
	}
	return out
}

// parseRange parses "<start>-<end>" where both sides are plain numbers.
// Anything else, including negative numbers and multi-dash strings, is not
// a range and falls through to regex matching.
func parseRange(s string) (lo, hi float64, ok bool) {
	i := strings.IndexByte(s, '-')
	if i <= 0 || i == len(s)-1 {
		return 0, 0, false
	}
	left, right := s[:i], s[i+1:]
	if !isNumericText(left) || !isNumericText(right) {
		return 0, 0, false
	}
	lo, err1 := strconv.ParseFloat(left, 64)
	hi, err2 := strconv.ParseFloat(right, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return lo, hi, true
}

// isNumericText reports whether s is digits with at most one decimal point.
func isNumericText(s string) bool {
	if s == "" {
		return false
	}
	digits, dots := 0, 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.':
			dots++
			if dots > 1 {
				return false
			}
		default:
			return false
		}
	}
	return digits > 0
}

func parseNumber(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
