package domain

import (
	"strings"
	"time"
)

var dayFormats = []string{
	"January 2, 2006", // April 17, 2025
	"Jan 2, 2006",     // Apr 17, 2025
	"2 January 2006",  // 10 December 2021
	"2 Jan 2006",      // 10 Dec 2021
	"2006-01-02",      // 2025-08-11
}

var monthFormats = []string{
	"January 2006",
	"Jan 2006",
}

// ParseDateWithPrecision parses the human-readable date formats seen across
// listing pages and returns (ISO date, precision). Unparseable input yields
// ("", PrecisionUnknown).
func ParseDateWithPrecision(raw string) (string, DatePrecision) {
	s := strings.TrimSpace(strings.ReplaceAll(raw, " ", " "))
	if s == "" {
		return "", PrecisionUnknown
	}

	for _, fmtStr := range dayFormats {
		if t, err := time.Parse(fmtStr, s); err == nil {
			return t.Format("2006-01-02"), PrecisionDay
		}
	}

	for _, fmtStr := range monthFormats {
		if t, err := time.Parse(fmtStr, s); err == nil {
			return t.Format("2006-01") + "-01", PrecisionMonth
		}
	}

	if len(s) == 4 {
		if t, err := time.Parse("2006", s); err == nil {
			return t.Format("2006") + "-01-01", PrecisionYear
		}
	}

	return "", PrecisionUnknown
}

// NormalizeISODate coerces assorted date strings (ISO timestamps, RFC 822
// pubDates, human formats) into YYYY-MM-DD, returning "" when nothing parses.
func NormalizeISODate(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	formats := []string{
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
		time.RFC1123Z,
		time.RFC1123,
		time.RFC822Z,
		time.RFC822,
		"January 2, 2006",
		"Jan 2, 2006",
		"2 January 2006",
		"2 Jan 2006",
	}
	for _, fmtStr := range formats {
		if t, err := time.Parse(fmtStr, s); err == nil {
			return t.Format("2006-01-02")
		}
	}

	if iso, prec := ParseDateWithPrecision(s); prec != PrecisionUnknown {
		return iso
	}
	return ""
}
