package libpq

import (
	"math"
	"time"

	"cloud.google.com/go/civil"
	"github.com/pkg/errors"
)

const (
	secondsInDay    = 24 * 60 * 60
	microsPerSecond = int64(1000000)
)

// PostgreSQL measures binary dates and timestamps from 2000-01-01, not
// from the unix epoch.
var (
	PGDateEpoch      = civil.Date{Year: 2000, Month: time.January, Day: 1}
	PGTimestampEpoch = civil.DateTime{Date: PGDateEpoch}

	pgEpochUnix = PGTimestampEpoch.In(time.UTC).Unix()
)

// DaysSinceEpoch returns the signed number of days from 2000-01-01 to d.
func DaysSinceEpoch(d civil.Date) int32 {
	return int32(d.DaysSince(PGDateEpoch))
}

// DateFromDays is the inverse of DaysSinceEpoch.
func DateFromDays(days int32) civil.Date {
	return PGDateEpoch.AddDays(int(days))
}

// MicrosSinceEpoch returns the signed number of microseconds from
// 2000-01-01T00:00:00 to dt. Sub-microsecond precision is truncated.
// ErrTimestampOutOfRange is returned when the offset does not fit int64.
func MicrosSinceEpoch(dt civil.DateTime) (int64, error) {
	t := dt.In(time.UTC)

	unix := t.Unix()
	if unix < math.MinInt64+pgEpochUnix {
		return 0, errors.Wrapf(ErrTimestampOutOfRange, "%s", dt)
	}
	secs := unix - pgEpochUnix
	us := int64(t.Nanosecond() / 1000)

	// Keep secs and us on the same side of zero so the multiplication
	// below is the only place that can overflow.
	if secs < 0 && us > 0 {
		secs++
		us -= microsPerSecond
	}
	if secs > math.MaxInt64/microsPerSecond || secs < math.MinInt64/microsPerSecond {
		return 0, errors.Wrapf(ErrTimestampOutOfRange, "%s", dt)
	}

	v := secs * microsPerSecond
	if (us > 0 && v > math.MaxInt64-us) || (us < 0 && v < math.MinInt64-us) {
		return 0, errors.Wrapf(ErrTimestampOutOfRange, "%s", dt)
	}
	return v + us, nil
}

// TimestampFromMicros is the inverse of MicrosSinceEpoch.
func TimestampFromMicros(us int64) civil.DateTime {
	secs, rem := us/microsPerSecond, us%microsPerSecond
	if rem < 0 {
		secs--
		rem += microsPerSecond
	}
	t := time.Unix(pgEpochUnix+secs, rem*1000).UTC()
	return civil.DateTimeOf(t)
}

// unixDaysToDate converts days since 1970-01-01 to a calendar date.
func unixDaysToDate(days int64) civil.Date {
	return civil.DateOf(time.Unix(days*secondsInDay, 0).UTC())
}
