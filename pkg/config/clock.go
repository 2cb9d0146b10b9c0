package config

import "time"

// Clock supplies wall-clock time in the configured display zone. The monitor
// core takes a Clock instead of calling time.Now so tests can pin time.
type Clock interface {
	Now() time.Time
}

type zoneClock struct {
	loc *time.Location
}

// NewClock returns a Clock that reports time in loc.
func NewClock(loc *time.Location) Clock {
	return zoneClock{loc: loc}
}

func (c zoneClock) Now() time.Time {
	return time.Now().In(c.loc)
}
