package command

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsortableLayout marks a timestamp layout whose rendered values do
// not sort lexically in time order, which the awk window relies on.
var ErrUnsortableLayout = errors.New("timestamp layout does not sort as text")

// layout elements in descending significance
const (
	unitYear = iota
	unitMonth
	unitDay
	unitHour
	unitMinute
	unitSecond
	unitFraction
)

// rejected holds Go layout elements that are named, unpadded, 12-hour or
// zone dependent. Longer elements come first so "January" wins over "Jan".
var rejected = []string{
	"January", "Monday", "Jan", "Mon", "MST",
	"Z07:00:00", "-07:00:00", "Z070000", "-070000", "Z07:00", "-07:00", "Z0700", "-0700", "Z07", "-07",
	"__2", "002", "_2", "PM", "pm", "06", "03",
}

var padded = []struct {
	elem string
	unit int
}{
	{"2006", unitYear},
	{"01", unitMonth},
	{"02", unitDay},
	{"15", unitHour},
	{"04", unitMinute},
	{"05", unitSecond},
}

// CheckLayout accepts layouts such as "2006-01-02 15:04:05" or
// "2006/01/02T15:04:05.000": zero-padded numeric fields, year first, each
// following field the next smaller unit.
func CheckLayout(layout string) error {
	next := unitYear
	for i := 0; i < len(layout); {
		rest := layout[i:]
		if bad := hasElement(rest, rejected); bad != "" {
			return fmt.Errorf("%w: %q contains %q", ErrUnsortableLayout, layout, bad)
		}
		// fractional seconds: ".000" sorts, ".999" trims and does not
		if j := fractionLen(rest); j > 0 {
			if rest[1] == '9' {
				return fmt.Errorf("%w: %q trims trailing zeros", ErrUnsortableLayout, layout)
			}
			if next != unitFraction {
				return fmt.Errorf("%w: %q has fractional seconds out of order", ErrUnsortableLayout, layout)
			}
			next++
			i += j
			continue
		}
		matched := false
		for _, p := range padded {
			if !strings.HasPrefix(rest, p.elem) {
				continue
			}
			if p.unit != next {
				return fmt.Errorf("%w: %q: fields must run from year down to seconds", ErrUnsortableLayout, layout)
			}
			next++
			i += len(p.elem)
			matched = true
			break
		}
		if matched {
			continue
		}
		switch c := rest[0]; c {
		case '1', '2', '3', '4', '5':
			return fmt.Errorf("%w: %q has an unpadded field", ErrUnsortableLayout, layout)
		}
		i++
	}
	if next == unitYear {
		return fmt.Errorf("%w: %q has no year", ErrUnsortableLayout, layout)
	}
	return nil
}

// fractionLen returns the length of a ".000" / ",999" element at the start
// of s, or 0. A run followed by another digit is literal text, as in time.Format.
func fractionLen(s string) int {
	if len(s) < 2 || (s[0] != '.' && s[0] != ',') || (s[1] != '0' && s[1] != '9') {
		return 0
	}
	j := 1
	for j < len(s) && s[j] == s[1] {
		j++
	}
	if j < len(s) && s[j] >= '0' && s[j] <= '9' {
		return 0
	}
	return j
}

func hasElement(s string, elems []string) string {
	for _, e := range elems {
		if strings.HasPrefix(s, e) {
			return e
		}
	}
	return ""
}
