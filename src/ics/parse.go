// Package ics imports events from iCalendar files. Recurring events are
// expanded into one occurrence per instance inside a bounded window.
package ics

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/haorendashu/catindex/src/errors"
	"github.com/haorendashu/catindex/src/logging"
)

// idNamespace seeds the name-based IDs of VEVENTs without a UID.
var idNamespace = uuid.MustParse("6f1d4a5e-3c2b-4e8a-9b7d-2a1c0e5f8d34")

// vevent is the normalized form of one VEVENT before expansion.
type vevent struct {
	uid     string
	summary string
	start   time.Time
	end     time.Time
	allDay  bool

	rrule      string
	exdates    []time.Time
	recurrence *time.Time
}

// Options controls parsing and expansion.
type Options struct {
	// WindowStart and WindowEnd bound recurrence expansion, inclusive.
	// Non-recurring events are returned whatever their dates.
	WindowStart time.Time
	WindowEnd   time.Time

	// MaxOccurrences caps the instances produced by one recurring event.
	// Zero means defaultMaxOccurrences.
	MaxOccurrences int

	// Logger receives per-event warnings. Defaults to a stderr logger.
	Logger *log.Logger
}

// Occurrence is one concrete event instance ready to be added to a catalog.
type Occurrence struct {
	// ID is the UID for single events and UID@unix-start for instances of a
	// recurring one.
	ID     string
	UID    string
	Title  string
	Start  time.Time
	End    time.Time
	AllDay bool
}

// Parse reads one calendar and returns its occurrences sorted by start.
// Malformed VEVENTs are logged and skipped; a malformed calendar fails.
func Parse(r io.Reader, opts Options) ([]Occurrence, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default("import")
	}

	cal, err := ical.ParseCalendar(r)
	if err != nil {
		return nil, errors.NewImportError("parse calendar", err)
	}

	var events []vevent
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(comp)
		if perr != nil {
			logger.Warn("skipping vevent", "uid", ev.uid, "err", perr)
			continue
		}
		events = append(events, ev)
	}

	res, err := expand(events, opts, logger)
	if err != nil {
		return nil, errors.NewImportError("expand recurrences", err)
	}
	logger.Debug("parsed calendar", "vevents", len(events), "occurrences", len(res))
	return res, nil
}

func parseVEvent(ve *ical.VEvent) (vevent, error) {
	var out vevent

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.summary = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, fmt.Errorf("missing DTSTART")
	}
	out.allDay = isDateValue(dtStart)

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil && strings.TrimSpace(p.Value) != "" {
		out.uid = strings.TrimSpace(p.Value)
	} else {
		out.uid = uuid.NewSHA1(idNamespace, []byte(out.summary+"\x00"+dtStart.Value)).String()
	}

	var err error
	if out.allDay {
		out.start, err = parseICSTime(dtStart.Value)
	} else {
		out.start, err = ve.GetStartAt()
	}
	if err != nil {
		return out, fmt.Errorf("DTSTART %q: %w", dtStart.Value, err)
	}

	switch {
	case ve.GetProperty(ical.ComponentPropertyDtEnd) != nil:
		dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd)
		if isDateValue(dtEnd) {
			out.end, err = parseICSTime(dtEnd.Value)
		} else {
			out.end, err = ve.GetEndAt()
		}
		if err != nil {
			return out, fmt.Errorf("DTEND %q: %w", dtEnd.Value, err)
		}
	case ve.GetProperty("DURATION") != nil:
		d, derr := parseDuration(ve.GetProperty("DURATION").Value)
		if derr != nil {
			return out, derr
		}
		out.end = out.start.Add(d)
	case out.allDay:
		out.end = out.start.AddDate(0, 0, 1)
	default:
		out.end = out.start
	}
	if out.end.Before(out.start) {
		return out, fmt.Errorf("ends %s before it starts %s", out.end, out.start)
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.rrule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			if t, terr := parseICSTime(part); terr == nil {
				out.exdates = append(out.exdates, t)
			}
		}
	}
	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		if t, terr := parseICSTime(p.Value); terr == nil {
			out.recurrence = &t
		}
	}
	return out, nil
}

func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// parseICSTime parses DATE and DATE-TIME values. Floating times are read as
// UTC so imports do not depend on the host time zone.
func parseICSTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, fmt.Errorf("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, time.UTC)
	default:
		return time.ParseInLocation("20060102", v, time.UTC)
	}
}

// parseDuration reads the RFC 5545 dur-value forms PnW and PnDTnHnMnS.
// Negative durations are rejected.
func parseDuration(v string) (time.Duration, error) {
	s := strings.TrimPrefix(strings.TrimSpace(v), "+")
	if !strings.HasPrefix(s, "P") || len(s) < 3 {
		return 0, fmt.Errorf("invalid DURATION %q", v)
	}
	s = s[1:]

	var (
		total  time.Duration
		inTime bool
		num    strings.Builder
	)
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num.WriteRune(r)
			continue
		case r == 'T':
			inTime = true
			continue
		}
		if num.Len() == 0 {
			return 0, fmt.Errorf("invalid DURATION %q", v)
		}
		n, err := strconv.Atoi(num.String())
		if err != nil {
			return 0, fmt.Errorf("invalid DURATION %q: %w", v, err)
		}
		num.Reset()

		var unit time.Duration
		switch {
		case r == 'W' && !inTime:
			unit = 7 * 24 * time.Hour
		case r == 'D' && !inTime:
			unit = 24 * time.Hour
		case r == 'H' && inTime:
			unit = time.Hour
		case r == 'M' && inTime:
			unit = time.Minute
		case r == 'S' && inTime:
			unit = time.Second
		default:
			return 0, fmt.Errorf("invalid DURATION %q", v)
		}
		total += time.Duration(n) * unit
	}
	if num.Len() != 0 {
		return 0, fmt.Errorf("invalid DURATION %q", v)
	}
	return total, nil
}
