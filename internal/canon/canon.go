// Package canon holds the canonical time layout and qualified-name format
// shared across the ledger, control channel, registry, and task packages —
// the wire format described in spec.md §6.
package canon

import (
	"fmt"
	"strings"
	"time"
)

// TimeLayout is the canonical time format: ISO-like, minute precision
// (seconds preserved where available).
const TimeLayout = "2006-01-02T15:04:05"

// FormatTime renders t in the canonical layout.
func FormatTime(t time.Time) string {
	return t.Format(TimeLayout)
}

// ParseTime parses the canonical layout in the local timezone.
func ParseTime(s string) (time.Time, error) {
	return time.ParseInLocation(TimeLayout, s, time.Local)
}

// QualifiedName builds "{routineName}.{time in canonical format}".
func QualifiedName(routineName string, at time.Time) string {
	return routineName + "." + FormatTime(at)
}

// SplitQualifiedName reverses QualifiedName, returning the routine name and
// parsed instant.
func SplitQualifiedName(qualified string) (routineName string, at time.Time, err error) {
	idx := strings.IndexByte(qualified, '.')
	if idx < 0 {
		return "", time.Time{}, fmt.Errorf("malformed qualified name: %q", qualified)
	}
	routineName = qualified[:idx]
	at, err = ParseTime(qualified[idx+1:])
	if err != nil {
		return "", time.Time{}, fmt.Errorf("malformed qualified name %q: %w", qualified, err)
	}
	return routineName, at, nil
}

// LogFileStem replaces ':' with '-' for filesystem-safe log file names,
// per spec.md §6 ("with ':' → '-' for filesystem compatibility").
func LogFileStem(qualified string) string {
	return strings.ReplaceAll(qualified, ":", "-")
}
