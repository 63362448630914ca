package helpers

import (
	"strconv"
	"strings"
)

// ParseAmount parses a user-typed monetary amount. It accepts both comma and
// dot as the decimal separator and tolerates surrounding whitespace.
// Returns the parsed value and true on success; zero amounts are rejected.
func ParseAmount(input string) (float64, bool) {
	s := strings.TrimSpace(input)
	if s == "" {
		return 0, false
	}
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
