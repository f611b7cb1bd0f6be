package aggregator

import (
	"time"

	"github.com/retracehq/retrace/internal/errors"
	"github.com/retracehq/retrace/store"
)

// Interval is a consolidation window size.
type Interval string

const (
	// Interval10Min consolidates the last ten minutes of captures.
	Interval10Min Interval = "10min"
	// Interval1Hour consolidates the last hour.
	Interval1Hour Interval = "1hour"
	// Interval1Day consolidates the last day.
	Interval1Day Interval = "1day"
)

// Intervals lists all supported intervals in ascending duration order.
func Intervals() []Interval {
	return []Interval{Interval10Min, Interval1Hour, Interval1Day}
}

// ParseInterval validates an interval name from the API.
func ParseInterval(name string) (Interval, error) {
	switch Interval(name) {
	case Interval10Min, Interval1Hour, Interval1Day:
		return Interval(name), nil
	default:
		return "", errors.InvalidArgument("unknown interval: " + name)
	}
}

// Duration returns the window length.
func (i Interval) Duration() time.Duration {
	switch i {
	case Interval10Min:
		return 10 * time.Minute
	case Interval1Hour:
		return time.Hour
	case Interval1Day:
		return 24 * time.Hour
	}
	return 0
}

// LogType returns the activity log type for aggregates of this interval.
func (i Interval) LogType() store.LogType {
	switch i {
	case Interval10Min:
		return store.LogTypeSummary10Min
	case Interval1Hour:
		return store.LogTypeSummary1Hour
	case Interval1Day:
		return store.LogTypeSummary24Hour
	}
	return ""
}

// Tag returns the tag marking aggregates of this interval.
func (i Interval) Tag() string {
	return string(i)
}
