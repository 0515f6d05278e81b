package dsg

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// TimeUnits is a parsed CF time units string such as "seconds since 1970-01-01".
type TimeUnits struct {
	Seconds   float64 // Length of one axis unit in seconds.
	Reference time.Time
}

var unitSeconds = map[string]float64{
	"second": 1, "seconds": 1, "sec": 1, "secs": 1, "s": 1,
	"minute": 60, "minutes": 60, "min": 60, "mins": 60,
	"hour": 3600, "hours": 3600, "hr": 3600, "hrs": 3600, "h": 3600,
	"day": 86400, "days": 86400, "d": 86400,
}

// ParseTimeUnits parses "<unit> since <reference>". The reference may be a
// date, a date and time separated by a space or "T", with optional fractional
// seconds, and an optional "UTC", "Z" or zero offset suffix. Fields need not be
// zero padded.
func ParseTimeUnits(s string) (TimeUnits, error) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) < 3 || strings.ToLower(fields[1]) != "since" {
		return TimeUnits{}, fmt.Errorf("unsupported time units %q", s)
	}
	secs, ok := unitSeconds[strings.ToLower(fields[0])]
	if !ok {
		return TimeUnits{}, fmt.Errorf("unsupported time unit %q in %q", fields[0], s)
	}
	ref, err := parseReference(strings.Join(fields[2:], " "))
	if err != nil {
		return TimeUnits{}, fmt.Errorf("invalid reference time in %q: %w", s, err)
	}
	return TimeUnits{Seconds: secs, Reference: ref}, nil
}

func parseReference(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, suffix := range []string{" UTC", "UTC", "Z", "+00:00", " +0:00", " 00:00"} {
		if strings.HasSuffix(s, suffix) && len(s) > len(suffix)+5 {
			s = strings.TrimSpace(strings.TrimSuffix(s, suffix))
			break
		}
	}
	s = strings.Replace(s, "T", " ", 1)

	datePart, clockPart, _ := strings.Cut(s, " ")
	d := strings.Split(datePart, "-")
	if len(d) != 3 {
		return time.Time{}, fmt.Errorf("bad date %q", datePart)
	}
	year, err1 := strconv.Atoi(d[0])
	month, err2 := strconv.Atoi(d[1])
	day, err3 := strconv.Atoi(d[2])
	if err1 != nil || err2 != nil || err3 != nil || month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf("bad date %q", datePart)
	}

	var hour, minute int
	var second float64
	if clockPart = strings.TrimSpace(clockPart); clockPart != "" {
		c := strings.Split(clockPart, ":")
		var err error
		if hour, err = strconv.Atoi(c[0]); err != nil {
			return time.Time{}, fmt.Errorf("bad time %q", clockPart)
		}
		if len(c) > 1 {
			if minute, err = strconv.Atoi(c[1]); err != nil {
				return time.Time{}, fmt.Errorf("bad time %q", clockPart)
			}
		}
		if len(c) > 2 {
			if second, err = strconv.ParseFloat(c[2], 64); err != nil {
				return time.Time{}, fmt.Errorf("bad time %q", clockPart)
			}
		}
	}

	whole := math.Floor(second)
	nanos := int(math.Round((second - whole) * 1e9))
	return time.Date(year, time.Month(month), day, hour, minute, int(whole), nanos, time.UTC), nil
}

// ToAxis converts t to the axis' numeric units.
func (u TimeUnits) ToAxis(t time.Time) float64 {
	secs := float64(t.Unix()-u.Reference.Unix()) + float64(t.Nanosecond()-u.Reference.Nanosecond())/1e9
	return secs / u.Seconds
}

// FromAxis converts an axis value to a UTC time rounded to the microsecond.
// It returns false for NaN, infinite or out-of-range values.
func (u TimeUnits) FromAxis(v float64) (time.Time, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return time.Time{}, false
	}
	secs := v * u.Seconds
	if math.Abs(secs) > 1e13 {
		return time.Time{}, false
	}
	whole := math.Floor(secs)
	micros := math.Round((secs - whole) * 1e6)
	t := time.Unix(u.Reference.Unix()+int64(whole), int64(u.Reference.Nanosecond())+int64(micros)*1000)
	return t.UTC(), true
}
