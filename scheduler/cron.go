// Package scheduler fires backup rounds on a fixed interval or a minimal
// five-field cron subset. It owns exactly one timer; there is no external
// scheduler framework underneath.
package scheduler

import (
	"strconv"
	"strings"
	"time"

	"github.com/INLOpen/nexusvault/core"
)

// Schedule computes fire times.
type Schedule interface {
	// Next returns the first fire time strictly after t.
	Next(t time.Time) time.Time
}

// intervalSchedule fires every fixed duration.
type intervalSchedule struct {
	every time.Duration
}

func (s intervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.every)
}

// cronSchedule is the minimal five-field subset: minute, hour, day of
// month, month, day of week. Each field accepts "*", "*/step", plain
// numbers, ranges and comma lists.
type cronSchedule struct {
	minute, hour, dom, month, dow map[int]struct{}
}

// Parse accepts either "@interval <duration>" or a five-field cron
// expression.
func Parse(expr string) (Schedule, error) {
	const op = "scheduler.parse"
	expr = strings.TrimSpace(expr)
	if rest, ok := strings.CutPrefix(expr, "@interval"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return nil, core.Errorf(core.KindConfig, op, "bad interval %q: %v", rest, err)
		}
		if d < time.Minute {
			return nil, core.Errorf(core.KindConfig, op, "interval %s is below one minute", d)
		}
		return intervalSchedule{every: d}, nil
	}

	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, core.Errorf(core.KindConfig, op, "cron expression %q: want 5 fields, got %d", expr, len(fields))
	}
	bounds := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	sets := make([]map[int]struct{}, 5)
	for i, field := range fields {
		set, err := parseField(field, bounds[i][0], bounds[i][1])
		if err != nil {
			return nil, core.Errorf(core.KindConfig, op, "cron field %q: %v", field, err)
		}
		sets[i] = set
	}
	return &cronSchedule{minute: sets[0], hour: sets[1], dom: sets[2], month: sets[3], dow: sets[4]}, nil
}

func parseField(field string, lo, hi int) (map[int]struct{}, error) {
	set := make(map[int]struct{})
	for _, part := range strings.Split(field, ",") {
		switch {
		case part == "*":
			for v := lo; v <= hi; v++ {
				set[v] = struct{}{}
			}
		case strings.HasPrefix(part, "*/"):
			step, err := strconv.Atoi(part[2:])
			if err != nil || step <= 0 {
				return nil, errBadStep(part)
			}
			for v := lo; v <= hi; v += step {
				set[v] = struct{}{}
			}
		case strings.Contains(part, "-"):
			ends := strings.SplitN(part, "-", 2)
			a, errA := strconv.Atoi(ends[0])
			b, errB := strconv.Atoi(ends[1])
			if errA != nil || errB != nil || a > b || a < lo || b > hi {
				return nil, errBadRange(part)
			}
			for v := a; v <= b; v++ {
				set[v] = struct{}{}
			}
		default:
			v, err := strconv.Atoi(part)
			if err != nil || v < lo || v > hi {
				return nil, errBadValue(part)
			}
			set[v] = struct{}{}
		}
	}
	return set, nil
}

func errBadStep(s string) error  { return &fieldError{"step", s} }
func errBadRange(s string) error { return &fieldError{"range", s} }
func errBadValue(s string) error { return &fieldError{"value", s} }

type fieldError struct {
	what, input string
}

func (e *fieldError) Error() string { return "bad " + e.what + " " + strconv.Quote(e.input) }

func (s *cronSchedule) matches(t time.Time) bool {
	if _, ok := s.minute[t.Minute()]; !ok {
		return false
	}
	if _, ok := s.hour[t.Hour()]; !ok {
		return false
	}
	if _, ok := s.dom[t.Day()]; !ok {
		return false
	}
	if _, ok := s.month[int(t.Month())]; !ok {
		return false
	}
	if _, ok := s.dow[int(t.Weekday())]; !ok {
		return false
	}
	return true
}

// Next scans forward minute by minute. The subset has no impossible
// expressions cheaper than a four-year horizon.
func (s *cronSchedule) Next(t time.Time) time.Time {
	cur := t.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(4, 0, 0)
	for cur.Before(limit) {
		if s.matches(cur) {
			return cur
		}
		cur = cur.Add(time.Minute)
	}
	return time.Time{}
}
