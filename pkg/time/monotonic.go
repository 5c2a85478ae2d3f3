package time

import "time"

// clock provides monotonic time since process start
// we will use time.Since which uses monotonic clock under the hood
// time.Now is not monotonic and can go backwards if system time is changed
// lease deadlines are kept as offsets from a fixed start time so expiry
// checks always move forward
type Clock struct {
	startTime time.Time
}

func NewClock() *Clock {
	return &Clock{
		startTime: time.Now(),
	}
}

// duration since process start
// this duration is monotonic and always moves forward
func (c *Clock) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

// converts a monotonic offset back to wall time for reporting
// never compare the result, compare offsets instead
func (c *Clock) WallTime(offset time.Duration) time.Time {
	return c.startTime.Add(offset)
}
