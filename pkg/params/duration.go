package params

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/G-Research/maestro/internal/common/maestroerrors"
)

// DurationPolicy bounds a test either by the number of messages exchanged or by wall-clock time.
// The zero value is invalid.
type DurationPolicy struct {
	count int64
	time  time.Duration
}

func CountPolicy(count int64) DurationPolicy {
	return DurationPolicy{count: count}
}

func TimePolicy(d time.Duration) DurationPolicy {
	return DurationPolicy{time: d}
}

// ParseDuration accepts a plain message count ("10000") or a Go duration ("90s", "5m", "1h").
func ParseDuration(s string) (DurationPolicy, error) {
	s = strings.TrimSpace(s)
	if count, err := strconv.ParseInt(s, 10, 64); err == nil {
		if count <= 0 {
			return DurationPolicy{}, invalidDuration(s, "message count must be positive")
		}
		return CountPolicy(count), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return DurationPolicy{}, invalidDuration(s, "expected a message count or a duration such as 5m")
	}
	if d < time.Second {
		return DurationPolicy{}, invalidDuration(s, "duration must be at least one second")
	}
	return TimePolicy(d), nil
}

func invalidDuration(s string, msg string) error {
	return errors.WithStack(&maestroerrors.ErrInvalidArgument{
		Name:    "duration",
		Value:   s,
		Message: msg,
	})
}

func (p DurationPolicy) IsCount() bool {
	return p.count > 0
}

func (p DurationPolicy) IsTime() bool {
	return p.time > 0
}

func (p DurationPolicy) IsZero() bool {
	return !p.IsCount() && !p.IsTime()
}

func (p DurationPolicy) Count() int64 {
	return p.count
}

func (p DurationPolicy) Time() time.Duration {
	return p.time
}

// Reached reports whether a worker that has handled count messages since start is done.
func (p DurationPolicy) Reached(count int64, elapsed time.Duration) bool {
	if p.IsCount() {
		return count >= p.count
	}
	if p.IsTime() {
		return elapsed >= p.time
	}
	return false
}

// Eta estimates the remaining time given the current throughput in messages per second.
func (p DurationPolicy) Eta(count int64, elapsed time.Duration, rate float64) time.Duration {
	switch {
	case p.IsTime():
		if elapsed >= p.time {
			return 0
		}
		return p.time - elapsed
	case p.IsCount():
		if count >= p.count || rate <= 0 {
			return 0
		}
		return time.Duration(float64(p.count-count) / rate * float64(time.Second))
	}
	return 0
}

func (p DurationPolicy) String() string {
	if p.IsCount() {
		return strconv.FormatInt(p.count, 10)
	}
	if p.IsTime() {
		return p.time.String()
	}
	return ""
}
