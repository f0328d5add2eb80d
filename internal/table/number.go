package table

import (
	"math"
	"strconv"
	"strings"
)

// ParseNumber parses plain, percent and locale-formatted numbers such as
// "1.000,5", "1,000.5", "12%" and "3e-2". The decimal separator is whichever of
// ',' and '.' appears last; the other one is treated as a thousands separator.
func ParseNumber(s string) (float64, bool) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return 0, false
	}
	raw = strings.ReplaceAll(raw, "%", "")
	raw = strings.ReplaceAll(raw, "\u00a0", " ")
	raw = strings.TrimSpace(raw)
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return finite(f)
	}
	var dec rune
	cpos := strings.LastIndex(raw, ",")
	dpos := strings.LastIndex(raw, ".")
	switch {
	case cpos >= 0 && dpos >= 0:
		if cpos > dpos {
			dec = ','
		} else {
			dec = '.'
		}
	case cpos >= 0:
		// a lone comma followed by exactly three digits reads as a thousands group
		if strings.Count(raw, ",") > 1 || len(raw)-cpos-1 == 3 {
			dec = '.'
		} else {
			dec = ','
		}
	default:
		dec = '.'
	}
	for _, sep := range []rune{',', '.', ' '} {
		if sep != dec {
			raw = strings.ReplaceAll(raw, string(sep), "")
		}
	}
	if dec != '.' {
		raw = strings.ReplaceAll(raw, string(dec), ".")
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return finite(f)
}

func finite(f float64) (float64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
