// Package timing normalizes the date/time shapes the billing layer accepts
// into epoch seconds, and converts epoch seconds back to localized instants.
//
// Epoch seconds are the canonical stored representation. Every human input
// funnels through ToEpoch; every display conversion goes through ToLocal.
// Sub-second precision is always truncated.
package timing

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// ErrAmbiguousDate is returned when an input matches none of the accepted
// date/time shapes.
var ErrAmbiguousDate = errors.New("ambiguous date")

// ToEpoch converts a heterogeneous date/time value to epoch seconds.
//
// Resolution order:
//   - time.Time: its Unix seconds
//   - integer kinds: taken as an epoch directly
//   - float kinds and fractional numeric strings: floored to whole seconds
//   - numeric strings: parsed as an integer epoch
//   - any other string: parsed as a natural-language date/time in loc
//
// A nil loc means UTC.
func ToEpoch(value any, loc *time.Location) (int64, error) {
	if loc == nil {
		loc = time.UTC
	}
	switch v := value.(type) {
	case time.Time:
		return v.Unix(), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(math.Floor(v)), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, fmt.Errorf("%w: empty string", ErrAmbiguousDate)
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(math.Floor(f)), nil
		}
		t, err := dateparse.ParseIn(s, loc)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrAmbiguousDate, s)
		}
		return t.Unix(), nil
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrAmbiguousDate, value)
	}
}

// ToLocal converts epoch seconds to an instant localized to the named
// timezone. An empty or "utc" name selects UTC.
func ToLocal(epoch int64, tz string) (time.Time, error) {
	loc, err := LoadLocation(tz)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(epoch, 0).In(loc), nil
}

// LoadLocation resolves a timezone name, accepting "" and "utc" as UTC.
func LoadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" || strings.EqualFold(tz, "utc") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}

// TodayTrigger returns the epoch of today's local midnight in loc plus the
// given offset. Used to place a same-day notification.
func TodayTrigger(secondsFromMidnight int64, loc *time.Location) int64 {
	if loc == nil {
		loc = time.UTC
	}
	now := time.Now().In(loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	return midnight.Unix() + secondsFromMidnight
}

// NextRunFromNow returns now + periodicity seconds, or 0 when the
// periodicity is not positive (sentinel for "do not schedule").
func NextRunFromNow(periodicitySeconds int64) int64 {
	if periodicitySeconds <= 0 {
		return 0
	}
	return time.Now().Unix() + periodicitySeconds
}
