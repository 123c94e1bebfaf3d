package timeseries

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// fluxString renders s as a Flux string literal
func fluxString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, `${`, `\${`, "\n", `\n`)
	return `"` + r.Replace(s) + `"`
}

var windowPattern = regexp.MustCompile(`^\d+(ms|s|m|h|d|w|mo|y)$`)

type seriesSpec struct {
	bucket      string
	measurement string
	tagKey      string
	field       string
}

func (s seriesSpec) source(tag string, start, end time.Time) string {
	return fmt.Sprintf(`from(bucket: %s)
  |> range(start: %d, stop: %d)
  |> filter(fn: (r) => r[%s] == %s)
  |> filter(fn: (r) => r["_measurement"] == %s)
  |> filter(fn: (r) => r["_field"] == %s)`,
		fluxString(s.bucket),
		start.Unix(), end.Unix(),
		fluxString(s.tagKey), fluxString(tag),
		fluxString(s.measurement),
		fluxString(s.field),
	)
}

func (s seriesSpec) rangeQuery(tag string, start, end time.Time, window string) (string, error) {
	q := s.source(tag, start, end)
	if window != "" {
		if !windowPattern.MatchString(window) {
			return "", fmt.Errorf("invalid aggregate window %q", window)
		}
		q += "\n  |> aggregateWindow(every: " + window + ", fn: mean, createEmpty: false)"
	}
	q += "\n  |> sort(columns: [\"_time\"])"
	return q, nil
}

func (s seriesSpec) statsQuery(tag string, start, end time.Time) string {
	return "data = " + s.source(tag, start, end) + `

data |> min() |> yield(name: "min")
data |> max() |> yield(name: "max")
data |> mean() |> yield(name: "mean")
data |> count() |> yield(name: "count")`
}

func (s seriesSpec) tagValuesQuery(lookback time.Duration) string {
	hours := int(lookback.Hours())
	if hours < 1 {
		hours = 1
	}
	return fmt.Sprintf(`import "influxdata/influxdb/schema"

schema.tagValues(
  bucket: %s,
  tag: %s,
  predicate: (r) => r._field == %s,
  start: -%dh
)`, fluxString(s.bucket), fluxString(s.tagKey), fluxString(s.field), hours)
}

// AggregateWindow picks the aggregation window for a query span
func AggregateWindow(span time.Duration) string {
	switch {
	case span > 7*24*time.Hour:
		return "1d"
	case span <= 24*time.Hour:
		return "15m"
	default:
		return "1h"
	}
}

var lookbackPattern = regexp.MustCompile(`(\d+)\s*([hdw])`)

// ParseLookback parses spans like "24h", "7d" or "2w". Anything else
// yields def.
func ParseLookback(s string, def time.Duration) time.Duration {
	m := lookbackPattern.FindStringSubmatch(strings.ToLower(s))
	if m == nil {
		return def
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return def
	}
	switch m[2] {
	case "h":
		return time.Duration(n) * time.Hour
	case "d":
		return time.Duration(n) * 24 * time.Hour
	case "w":
		return time.Duration(n) * 7 * 24 * time.Hour
	}
	return def
}
