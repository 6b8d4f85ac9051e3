package config

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// ParseDuration parses interval strings written as a concatenation of
// <integer><unit> tokens, where the unit is one of d, h, m, s: "5m",
// "1h30m", "2d5h30m15s". Tokens are summed.
//
// The grammar is strict: an empty string, a bare number, or any trailing or
// embedded junk ("5m abc") rejects the whole string. There is no silent
// default — callers that want a fallback apply their own.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	var total time.Duration
	rest := s
	for rest != "" {
		i := 0
		for i < len(rest) && unicode.IsDigit(rune(rest[i])) {
			i++
		}
		if i == 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		var value int64
		for _, ch := range rest[:i] {
			value = value*10 + int64(ch-'0')
		}
		if i >= len(rest) {
			return 0, fmt.Errorf("invalid duration %q: missing unit", s)
		}
		var unit time.Duration
		switch rest[i] {
		case 'd':
			unit = 24 * time.Hour
		case 'h':
			unit = time.Hour
		case 'm':
			unit = time.Minute
		case 's':
			unit = time.Second
		default:
			return 0, fmt.Errorf("invalid duration %q: unknown unit %q", s, string(rest[i]))
		}
		total += time.Duration(value) * unit
		rest = rest[i+1:]
	}
	return total, nil
}
