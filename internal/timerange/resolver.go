// Package timerange turns human range tokens ("30m", "2d",
// "2024-01-01 to 2024-01-02") into concrete time windows.
package timerange

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/JaysonAlbert/log-search-mcp/internal/domain"
)

var relativeRe = regexp.MustCompile(`^(\d+)\s*([smhd])$`)

var units = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
}

// Accepted absolute bound layouts, most specific first.
var layouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	dateOnly,
}

const dateOnly = "2006-01-02"

// Resolver resolves range tokens against a clock and a location.
type Resolver struct {
	Now func() time.Time
	Loc *time.Location
}

func NewResolver() *Resolver {
	return &Resolver{Now: time.Now, Loc: time.Local}
}

// Resolve returns nil for an empty token.
func (r *Resolver) Resolve(token string) (*domain.TimeFilter, error) {
	tok := strings.ToLower(strings.TrimSpace(token))
	if tok == "" {
		return nil, nil
	}
	if m := relativeRe.FindStringSubmatch(tok); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: %q: amount must be a positive integer", domain.ErrInvalidTimeRange, token)
		}
		d := time.Duration(n) * units[m[2]]
		if d/units[m[2]] != time.Duration(n) {
			return nil, fmt.Errorf("%w: %q: duration overflows", domain.ErrInvalidTimeRange, token)
		}
		end := r.now()
		return &domain.TimeFilter{Kind: domain.FilterRelative, Start: end.Add(-d), End: end, Duration: d}, nil
	}
	if from, to, ok := strings.Cut(tok, " to "); ok {
		start, _, err := r.parseBound(from)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", domain.ErrInvalidTimeRange, token, err)
		}
		end, dayOnly, err := r.parseBound(to)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", domain.ErrInvalidTimeRange, token, err)
		}
		if dayOnly {
			// a bare end date covers the whole day
			y, m, d := end.Date()
			end = time.Date(y, m, d+1, 0, 0, 0, 0, end.Location()).Add(-time.Second)
		}
		if start.After(end) {
			return nil, fmt.Errorf("%w: %q: start is after end", domain.ErrInvalidTimeRange, token)
		}
		return &domain.TimeFilter{Kind: domain.FilterAbsolute, Start: start, End: end}, nil
	}
	return nil, fmt.Errorf("%w: %q: expected <n>{s,m,h,d} or \"<date> to <date>\"", domain.ErrInvalidTimeRange, token)
}

func (r *Resolver) parseBound(s string) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	loc := r.Loc
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range layouts {
		// layouts are lowercase-safe except the RFC3339 "T"/"Z"
		v := s
		if layout != dateOnly {
			v = strings.ToUpper(s)
		}
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, layout == dateOnly, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("unrecognised date %q", s)
}

func (r *Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}
