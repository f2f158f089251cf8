package util

import (
	"fmt"
	"time"
)

// SkipThrottler reports Ok at most once per period, used to rate limit progress logs in tight loops.
type SkipThrottler struct {
	d    time.Duration
	last time.Time
}

func NewSkipThrottler(d time.Duration) *SkipThrottler {
	tt := &SkipThrottler{d: d, last: time.Date(0, 0, 0, 0, 0, 0, 0, time.UTC)}
	return tt
}

func (tt *SkipThrottler) Ok() bool {
	now := time.Now()
	if now.Before(tt.last.Add(tt.d)) {
		return false
	}

	tt.last = time.Now()
	return true
}

// TimeString formats a duration as hours, minutes and seconds for log lines.
func TimeString(d time.Duration) string {
	s := d.Seconds()
	h := int(s / 3600)
	s -= float64(h * 3600)
	m := int(s / 60)
	s -= float64(m * 60)
	switch {
	case h > 0:
		return fmt.Sprintf("%d h %d min %.1f s", h, m, s)
	case m > 0:
		return fmt.Sprintf("%d min %.1f s", m, s)
	}
	return fmt.Sprintf("%.3f s", s)
}
