package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
)

var hourParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// HourSet is a set of designated hours of the day (0-23).
type HourSet uint32

// ParseHours reads a cron hour field such as "0,12", "8-20/4" or "*/6".
func ParseHours(expr string) (HourSet, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return 0, errors.New("screenshot hours required")
	}
	if strings.ContainsAny(expr, " \t") {
		return 0, fmt.Errorf("invalid screenshot hours %q", expr)
	}
	sched, err := hourParser.Parse("0 " + expr + " * * *")
	if err != nil {
		return 0, fmt.Errorf("invalid screenshot hours %q: %w", expr, err)
	}
	spec, ok := sched.(*cron.SpecSchedule)
	if !ok {
		return 0, fmt.Errorf("invalid screenshot hours %q", expr)
	}
	var set HourSet
	for h := 0; h < 24; h++ {
		if spec.Hour&(1<<uint(h)) != 0 {
			set |= 1 << uint(h)
		}
	}
	return set, nil
}

// Hours builds a set from explicit values; out-of-range hours are ignored.
func Hours(hours ...int) HourSet {
	var set HourSet
	for _, h := range hours {
		if h >= 0 && h < 24 {
			set |= 1 << uint(h)
		}
	}
	return set
}

func (s HourSet) Contains(hour int) bool {
	return hour >= 0 && hour < 24 && s&(1<<uint(hour)) != 0
}

func (s HourSet) List() []int {
	var out []int
	for h := 0; h < 24; h++ {
		if s.Contains(h) {
			out = append(out, h)
		}
	}
	sort.Ints(out)
	return out
}

func (s HourSet) String() string {
	hours := s.List()
	parts := make([]string, len(hours))
	for i, h := range hours {
		parts[i] = strconv.Itoa(h)
	}
	return strings.Join(parts, ",")
}
