package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pevans/bdmscrape/article"
)

// frenchMonths maps month names, with and without accents, plus the usual
// abbreviations, to month numbers.
var frenchMonths = map[string]time.Month{
	"janvier": time.January, "janv": time.January,
	"février": time.February, "fevrier": time.February, "févr": time.February, "fevr": time.February,
	"mars":  time.March,
	"avril": time.April, "avr": time.April,
	"mai":     time.May,
	"juin":    time.June,
	"juillet": time.July, "juil": time.July,
	"août": time.August, "aout": time.August,
	"septembre": time.September, "sept": time.September,
	"octobre": time.October, "oct": time.October,
	"novembre": time.November, "nov": time.November,
	"décembre": time.December, "decembre": time.December, "déc": time.December, "dec": time.December,
}

// frenchDatePattern matches "22 mai 2023", "1er juin 2024", "3 févr. 2022".
var frenchDatePattern = regexp.MustCompile(`\b(\d{1,2})(?:er)?\s+(\p{L}+)\.?\s+(\d{4})\b`)

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05",
	article.DateLayout,
}

// ParseISODate parses an ISO-8601 timestamp and returns its calendar day in
// the timestamp's own offset.
func ParseISODate(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("empty timestamp")
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format(article.DateLayout), nil
		}
	}
	return "", fmt.Errorf("unrecognized ISO-8601 timestamp %q", value)
}

// ParseFrenchDate parses a human-readable French date such as
// "22 mai 2023 à 9h56" and returns "2023-05-22".
func ParseFrenchDate(text string) (string, error) {
	text = strings.ReplaceAll(text, "\u00a0", " ")
	m := frenchDatePattern.FindStringSubmatch(text)
	if m == nil {
		return "", fmt.Errorf("no French date in %q", text)
	}

	day, err := strconv.Atoi(m[1])
	if err != nil {
		return "", fmt.Errorf("invalid day %q: %w", m[1], err)
	}
	month, ok := frenchMonths[strings.ToLower(m[2])]
	if !ok {
		return "", fmt.Errorf("unknown month %q", m[2])
	}
	year, err := strconv.Atoi(m[3])
	if err != nil {
		return "", fmt.Errorf("invalid year %q: %w", m[3], err)
	}

	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || t.Month() != month {
		return "", fmt.Errorf("invalid date %q", m[0])
	}
	return t.Format(article.DateLayout), nil
}
