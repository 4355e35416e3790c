// Package timeperiod supplements internal/config's textual timeperiod
// parser with the exception-precedence, exclusion-folding, and
// DST-boundary-aware range semantics that Check scheduling depends on:
// calendar dates outrank month/day rules, which outrank plain weekday
// rows, and an excluded timeperiod punches a hole out of its parent
// regardless of how either one was computed.
package timeperiod

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/corvidwatch/sentryd/internal/config"
	"github.com/corvidwatch/sentryd/internal/objects"
)

// Kind orders the five date-exception directive types from weakest
// (plain weekday table) to strongest (a specific calendar date). Where two
// exceptions on a timeperiod both match a given day, the higher Kind wins.
type Kind int

const (
	KindWeekday Kind = iota
	KindMonthWeekday
	KindMonthDay
	KindMonthDate
	KindCalendarDate
)

// maxSearchDays bounds how far NextValid/NextInvalid will scan forward
// before giving up and returning the original time unchanged. Naemon uses
// a similar one-year cap; 300 days comfortably covers every period made of
// weekday tables plus a handful of holiday exceptions without risking a
// multi-second scan against a pathological all-excluded timeperiod.
const maxSearchDays = 300

// ClassifyException returns the precedence Kind of a raw exception
// directive string, using the same format detection as matchException in
// internal/config/timeperiod.go.
func ClassifyException(raw string) Kind {
	parts := strings.Fields(raw)
	if len(parts) < 2 {
		return KindWeekday
	}
	if strings.Contains(parts[0], "-") && len(parts[0]) >= 8 {
		return KindCalendarDate
	}
	if parseMonth(parts[0]) > 0 && len(parts) >= 3 {
		if _, err := strconv.Atoi(parts[1]); err == nil {
			return KindMonthDate
		}
	}
	if parseWeekday(parts[0]) >= 0 && len(parts) >= 4 {
		return KindMonthWeekday
	}
	if parts[0] == "day" {
		return KindMonthDay
	}
	return KindWeekday
}

var monthNames = map[string]int{
	"january": 1, "february": 2, "march": 3, "april": 4,
	"may": 5, "june": 6, "july": 7, "august": 8,
	"september": 9, "october": 10, "november": 11, "december": 12,
}

func parseMonth(s string) int { return monthNames[strings.ToLower(s)] }

var weekdayNames = map[string]int{
	"sunday": 0, "monday": 1, "tuesday": 2, "wednesday": 3,
	"thursday": 4, "friday": 5, "saturday": 6,
}

func parseWeekday(s string) int {
	v, ok := weekdayNames[strings.ToLower(s)]
	if !ok {
		return -1
	}
	return v
}

// winningException returns the highest-Kind exception on tp that matches
// day t (ignoring time-of-day), or nil if none apply. Ties (shouldn't
// normally happen in valid configs) keep the first one encountered.
func winningException(tp *objects.Timeperiod, t time.Time) *objects.TimeDateException {
	var best *objects.TimeDateException
	bestKind := Kind(-1)
	for i := range tp.Exceptions {
		exc := &tp.Exceptions[i]
		if !dayMatches(*exc, t) {
			continue
		}
		k := ClassifyException(exc.Timerange)
		if k > bestKind {
			bestKind = k
			best = exc
		}
	}
	return best
}

// dayMatches reports whether exception exc's calendar rule matches t's
// date, independent of its HH:MM-HH:MM time range. Supported forms, each
// optionally followed by "/ N" (a stride in days from the range start):
//
//	2007-06-01 [- 2008-02-01]
//	july 10 [- [august] 15]
//	day 1 [- 15]           (negative days count back from month end)
//	monday 3 july          (nth weekday of a month; -1 = last)
func dayMatches(exc objects.TimeDateException, t time.Time) bool {
	tokens := strings.Fields(exc.Timerange)
	if len(tokens) < 2 {
		return false
	}
	tokens = tokens[:len(tokens)-1] // drop the trailing HH:MM-HH:MM range

	skip := 1
	if n := len(tokens); n >= 2 && tokens[n-2] == "/" {
		if v, err := strconv.Atoi(tokens[n-1]); err == nil && v > 0 {
			skip = v
		}
		tokens = tokens[:n-2]
	}
	if len(tokens) == 0 {
		return false
	}

	today := midnight(t)

	// calendar date, single or range
	if start, ok := parseCalendarDate(tokens[0], t.Location()); ok {
		end, hasEnd := start, false
		if len(tokens) >= 3 && tokens[1] == "-" {
			if e, ok2 := parseCalendarDate(tokens[2], t.Location()); ok2 {
				end, hasEnd = e, true
			}
		}
		if today.Before(start) {
			return false
		}
		if hasEnd && today.After(end) {
			return false
		}
		if !hasEnd && skip == 1 {
			return today.Equal(start)
		}
		return daysBetween(start, today)%skip == 0
	}

	// month date, single or range ("july 10 - 15", "july 10 - august 15")
	if mo := parseMonth(tokens[0]); mo > 0 && len(tokens) >= 2 {
		d1, err := strconv.Atoi(tokens[1])
		if err != nil {
			return false
		}
		start := time.Date(t.Year(), time.Month(mo), d1, 0, 0, 0, 0, t.Location())
		end := start
		if len(tokens) >= 4 && tokens[2] == "-" {
			if mo2 := parseMonth(tokens[3]); mo2 > 0 && len(tokens) >= 5 {
				if d2, err := strconv.Atoi(tokens[4]); err == nil {
					end = time.Date(t.Year(), time.Month(mo2), d2, 0, 0, 0, 0, t.Location())
				}
			} else if d2, err := strconv.Atoi(tokens[3]); err == nil {
				end = time.Date(t.Year(), time.Month(mo), d2, 0, 0, 0, 0, t.Location())
			}
		}
		if end.Before(start) {
			end = end.AddDate(1, 0, 0) // range wraps past new year
		}
		if today.Before(start) || today.After(end) {
			return false
		}
		return daysBetween(start, today)%skip == 0
	}

	// nth weekday of a month
	if wd := parseWeekday(tokens[0]); wd >= 0 && len(tokens) >= 3 {
		n, err := strconv.Atoi(tokens[1])
		if err != nil {
			return false
		}
		mo := parseMonth(tokens[2])
		if mo <= 0 {
			return false
		}
		return matchWeekdayOfMonth(t, wd, n, mo)
	}

	// day of month, single or range
	if tokens[0] == "day" && len(tokens) >= 2 {
		d1, err := strconv.Atoi(tokens[1])
		if err != nil {
			return false
		}
		d2 := d1
		if len(tokens) >= 4 && tokens[2] == "-" {
			if v, err := strconv.Atoi(tokens[3]); err == nil {
				d2 = v
			}
		}
		dim := daysInMonthOf(t)
		norm := func(d int) int {
			if d < 0 {
				return dim + 1 + d
			}
			return d
		}
		d1n, d2n := norm(d1), norm(d2)
		if t.Day() < d1n || t.Day() > d2n {
			return false
		}
		return (t.Day()-d1n)%skip == 0
	}

	return false
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func parseCalendarDate(s string, loc *time.Location) (time.Time, bool) {
	if !strings.Contains(s, "-") || len(s) < 8 {
		return time.Time{}, false
	}
	parts := strings.SplitN(s, "-", 3)
	if len(parts) != 3 {
		return time.Time{}, false
	}
	yr, err1 := strconv.Atoi(parts[0])
	mo, err2 := strconv.Atoi(parts[1])
	dy, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, false
	}
	return time.Date(yr, time.Month(mo), dy, 0, 0, 0, 0, loc), true
}

// daysBetween counts calendar days from a to b (both at midnight), DST-safe.
func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Round(24*time.Hour) / (24 * time.Hour))
}

func daysInMonthOf(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}

func matchWeekdayOfMonth(t time.Time, weekday, n, month int) bool {
	if int(t.Month()) != month || int(t.Weekday()) != weekday {
		return false
	}
	if n > 0 {
		return (t.Day()-1)/7+1 == n
	}
	daysInMonth := time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
	weekNum := (daysInMonth - t.Day()) / 7
	return weekNum == (-n - 1)
}

func exceptionTimeRangeOf(exc objects.TimeDateException) string {
	parts := strings.Fields(exc.Timerange)
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// Contains reports whether t falls inside tp, honoring exception
// precedence (a higher-Kind exception match overrides the plain weekday
// table) and folding out any excluded child timeperiod.
func Contains(tp *objects.Timeperiod, t time.Time) bool {
	if tp == nil {
		return true
	}
	for _, exc := range tp.Exclusions {
		if Contains(exc, t) {
			return false
		}
	}
	if exc := winningException(tp, t); exc != nil {
		ranges, err := config.ParseTimeRanges(exceptionTimeRangeOf(*exc))
		if err != nil {
			return false
		}
		return inRanges(t, ranges)
	}
	dow := int(t.Weekday())
	rangeStr := tp.Ranges[dow]
	if rangeStr == "" {
		return false
	}
	ranges, err := config.ParseTimeRanges(rangeStr)
	if err != nil {
		return false
	}
	return inRanges(t, ranges)
}

func inRanges(t time.Time, ranges []config.TimeRange) bool {
	minutes := t.Hour()*60 + t.Minute()
	for _, r := range ranges {
		start := r.StartHour*60 + r.StartMin
		end := r.EndHour*60 + r.EndMin
		if minutes >= start && minutes < end {
			return true
		}
	}
	return false
}

// NextValid returns the next time >= from that lies inside tp, scanning
// day-by-day (not a fixed duration step) so that a range boundary like
// "09:00-17:00" lands on the right wall-clock hour even across a
// spring-forward/fall-back transition in tp's location.
func NextValid(tp *objects.Timeperiod, from time.Time) time.Time {
	return search(tp, from, true)
}

// NextInvalid returns the next time >= from that lies outside tp.
func NextInvalid(tp *objects.Timeperiod, from time.Time) time.Time {
	return search(tp, from, false)
}

func search(tp *objects.Timeperiod, from time.Time, wantValid bool) time.Time {
	if tp == nil {
		if wantValid {
			return from
		}
		return from // an always-valid nil timeperiod never goes invalid
	}
	if Contains(tp, from) == wantValid {
		return from
	}
	// The IN/OUT decision only changes at midnight or at a range boundary of
	// tp or one of its exclusions, so scanning those instants per day is
	// exhaustive. Candidates are built with time.Date (wall clock), so a
	// "09:00" boundary lands on 09:00 local even across a DST transition.
	loc := from.Location()
	deadline := from.AddDate(0, 0, maxSearchDays)
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	for !day.After(deadline) {
		for _, m := range boundaryMinutes(tp, day) {
			candidate := time.Date(day.Year(), day.Month(), day.Day(), m/60, m%60, 0, 0, loc)
			if candidate.Before(from) {
				continue
			}
			if candidate.After(deadline) {
				return from
			}
			if Contains(tp, candidate) == wantValid {
				return candidate
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return from
}

// boundaryMinutes returns the sorted minute offsets within day at which tp's
// IN/OUT decision can change: midnight, plus every start and end of the
// day's applicable ranges on tp and, recursively, its exclusions.
func boundaryMinutes(tp *objects.Timeperiod, day time.Time) []int {
	set := map[int]struct{}{0: {}}
	collectBoundaries(tp, day, set)
	out := make([]int, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Ints(out)
	return out
}

func collectBoundaries(tp *objects.Timeperiod, day time.Time, set map[int]struct{}) {
	if tp == nil {
		return
	}
	var rangeStr string
	if exc := winningException(tp, day); exc != nil {
		rangeStr = exceptionTimeRangeOf(*exc)
	} else {
		rangeStr = tp.Ranges[int(day.Weekday())]
	}
	if rangeStr != "" {
		if ranges, err := config.ParseTimeRanges(rangeStr); err == nil {
			for _, r := range ranges {
				set[r.StartHour*60+r.StartMin] = struct{}{}
				set[r.EndHour*60+r.EndMin] = struct{}{}
			}
		}
	}
	for _, exc := range tp.Exclusions {
		collectBoundaries(exc, day, set)
	}
}
