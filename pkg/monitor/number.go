package monitor

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseViewerCount converts a platform-formatted viewer figure into an
// absolute count. Accepted forms: a bare integer, a number suffixed with
// 万 (×10⁴), or a number suffixed with 亿 (×10⁸). The empty string parses
// to zero.
func ParseViewerCount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "万"):
		multiplier = 10_000
		s = strings.TrimSuffix(s, "万")
	case strings.HasSuffix(s, "亿"):
		multiplier = 100_000_000
		s = strings.TrimSuffix(s, "亿")
	}

	if multiplier == 1 {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid viewer count %q: %w", s, err)
		}
		return n, nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid viewer count %q: %w", s, err)
	}
	// Round to absorb binary float noise ("46.8" is not exact).
	return int64(math.Round(f * float64(multiplier))), nil
}
