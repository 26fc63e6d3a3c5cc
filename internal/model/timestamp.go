// Package model holds the records exchanged between controller, monitor,
// HTTP and MQTT. Every record validates its fields explicitly.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	hwcerrors "hwc-server/internal/errors"
)

// Timestamp is a time that also accepts epoch milliseconds on input
type Timestamp struct {
	time.Time
}

// At wraps t
func At(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

// UnmarshalJSON accepts RFC3339 strings, numeric strings and numbers (ms since epoch)
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		parsed, err := ParseTimestamp(s)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	}
	var ms float64
	if err := json.Unmarshal(b, &ms); err != nil {
		return fmt.Errorf("%w: timestamp %s", hwcerrors.ErrInvalidArgument, string(b))
	}
	t.Time = time.UnixMilli(int64(ms))
	return nil
}

// ParseTimestamp parses epoch milliseconds or an RFC3339 time
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(ms) || math.IsInf(ms, 0) {
			return Timestamp{}, hwcerrors.NewValidationError("createdAt", "timestamp", s)
		}
		return At(time.UnixMilli(int64(ms))), nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return Timestamp{}, hwcerrors.NewValidationError("createdAt", "RFC3339 or epoch milliseconds", s)
	}
	return At(parsed), nil
}

func checkNumber(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return hwcerrors.NewValidationError(field, "finite number", v)
	}
	return nil
}

func checkRange(field string, v, min, max float64) error {
	if err := checkNumber(field, v); err != nil {
		return err
	}
	if v < min || v > max {
		return hwcerrors.NewValidationError(field, fmt.Sprintf("%g..%g", min, max), v)
	}
	return nil
}

func checkMin(field string, v, min float64) error {
	if err := checkNumber(field, v); err != nil {
		return err
	}
	if v < min {
		return hwcerrors.NewValidationError(field, fmt.Sprintf(">= %g", min), v)
	}
	return nil
}

// Round rounds v to the given number of decimals
func Round(v float64, decimals int) float64 {
	k := math.Pow10(decimals)
	return math.Round(v*k) / k
}

// Float returns a pointer to v
func Float(v float64) *float64 {
	return &v
}
