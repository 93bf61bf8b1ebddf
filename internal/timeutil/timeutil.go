package timeutil

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// ParseDurationOrDefault parses duration and returns def on empty or invalid value.
func ParseDurationOrDefault(value string, def time.Duration) time.Duration {
	if strings.TrimSpace(value) == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

// Seconds converts fractional seconds to a duration. Values beyond the
// range of time.Duration are clamped; negative and NaN values give zero.
func Seconds(value float64) time.Duration {
	nanos := value * float64(time.Second)
	switch {
	case math.IsNaN(nanos) || nanos <= 0:
		return 0
	case nanos >= math.MaxInt64:
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(nanos)
}

// FormatSeconds prints seconds with at most millisecond precision and no trailing zeros.
func FormatSeconds(value float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.3f", value), "0"), ".")
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
