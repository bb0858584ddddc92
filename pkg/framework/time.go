package framework

import "time"

type systemTime struct{}

func (systemTime) Time() time.Time {
	return time.Now()
}

// SystemTime is the TimeSource backed by the wall clock.
var SystemTime TimeSource = systemTime{}

// TimeFunc is the func form of TimeSource.
type TimeFunc func() time.Time

// Time implements TimeSource.
func (f TimeFunc) Time() time.Time {
	return f()
}
