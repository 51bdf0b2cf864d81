package dates

import (
	"fmt"
	"strings"
	"time"

	apperr "github.com/yungbote/modmon/internal/pkg/errors"
)

// Layouts are tried in order. Values without a zone are read as UTC.
var Layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Parse reads a date or date-time string.
func Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty date", apperr.ErrInvalidArgument)
	}
	for _, layout := range Layouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognised date %q", apperr.ErrInvalidArgument, s)
}

// ParseOptional returns nil for an empty string.
func ParseOptional(s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := Parse(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ISO formats t the way modmon writes timestamps back into metadata.
func ISO(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05")
}
