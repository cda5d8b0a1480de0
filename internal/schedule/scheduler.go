// Package schedule computes strike instants from a daily time-of-day schedule.
package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"nav-strike-engine/internal/domain"
)

// timeOfDay is one schedule entry.
type timeOfDay struct {
	hour   int
	minute int
}

func (t timeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.hour, t.minute)
}

func (t timeOfDay) on(year int, month time.Month, day int, loc *time.Location) time.Time {
	return time.Date(year, month, day, t.hour, t.minute, 0, 0, loc)
}

// Scheduler holds daily strike points interpreted in a fixed location.
type Scheduler struct {
	entries []timeOfDay
	loc     *time.Location
}

// New parses "HH:MM" entries. Entries may be given in any order and are
// sorted and de-duplicated. A nil location means UTC.
func New(entries []string, loc *time.Location) (*Scheduler, error) {
	if len(entries) == 0 {
		return nil, domain.NewConfigurationError("strike schedule is empty")
	}
	if loc == nil {
		loc = time.UTC
	}

	seen := make(map[timeOfDay]struct{}, len(entries))
	parsed := make([]timeOfDay, 0, len(entries))
	for _, e := range entries {
		tod, err := parseTimeOfDay(e)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[tod]; dup {
			continue
		}
		seen[tod] = struct{}{}
		parsed = append(parsed, tod)
	}

	s := &Scheduler{entries: parsed, loc: loc}
	s.sortEntries()
	return s, nil
}

func parseTimeOfDay(s string) (timeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return timeOfDay{}, domain.NewValidationError("schedule entry %q is not HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return timeOfDay{}, domain.NewValidationError("schedule entry %q has invalid hour", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return timeOfDay{}, domain.NewValidationError("schedule entry %q has invalid minute", s)
	}
	return timeOfDay{hour: h, minute: m}, nil
}

func (s *Scheduler) sortEntries() {
	sort.Slice(s.entries, func(i, j int) bool {
		if s.entries[i].hour != s.entries[j].hour {
			return s.entries[i].hour < s.entries[j].hour
		}
		return s.entries[i].minute < s.entries[j].minute
	})
}

// NextStrikeTime returns the earliest schedule entry strictly after now.
// If every entry today is at or before now, it returns the first entry
// of the following day.
func (s *Scheduler) NextStrikeTime(now time.Time) (time.Time, error) {
	if s == nil || len(s.entries) == 0 {
		return time.Time{}, domain.NewConfigurationError("strike schedule is empty")
	}

	local := now.In(s.loc)
	y, m, d := local.Date()

	for _, e := range s.entries {
		candidate := e.on(y, m, d, s.loc)
		if candidate.After(local) {
			return candidate, nil
		}
	}

	// time.Date normalizes day overflow into the next month/year
	return s.entries[0].on(y, m, d+1, s.loc), nil
}

// Entries returns the sorted schedule as "HH:MM" strings.
func (s *Scheduler) Entries() []string {
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.String()
	}
	return out
}

// Location returns the reference location of the schedule.
func (s *Scheduler) Location() *time.Location {
	return s.loc
}

// CronSpecs returns one seconds-resolution cron spec per entry.
func (s *Scheduler) CronSpecs() []string {
	specs := make([]string, len(s.entries))
	for i, e := range s.entries {
		specs[i] = fmt.Sprintf("0 %d %d * * *", e.minute, e.hour)
	}
	return specs
}
