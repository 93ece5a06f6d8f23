package ics

import (
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/teambition/rrule-go"
)

const defaultMaxOccurrences = 1000

// expand turns parsed VEVENTs into occurrences. Overrides (VEVENTs carrying
// a RECURRENCE-ID) replace the instance of their UID starting at that time.
func expand(events []vevent, opts Options, logger *log.Logger) ([]Occurrence, error) {
	if opts.WindowEnd.Before(opts.WindowStart) {
		return nil, fmt.Errorf("window ends %s before it starts %s", opts.WindowEnd, opts.WindowStart)
	}
	limit := opts.MaxOccurrences
	if limit <= 0 {
		limit = defaultMaxOccurrences
	}

	overrides := make(map[string][]vevent)
	for _, ev := range events {
		if ev.recurrence != nil {
			overrides[ev.uid] = append(overrides[ev.uid], ev)
		}
	}

	var out []Occurrence
	for _, ev := range events {
		if ev.recurrence != nil {
			continue
		}
		if ev.rrule == "" {
			out = append(out, occurrence(ev, ev.uid, ev.start, ev.end))
			continue
		}
		occ, truncated, err := expandRecurring(ev, overrides[ev.uid], opts, limit)
		if err != nil {
			logger.Warn("skipping recurring vevent", "uid", ev.uid, "rrule", ev.rrule, "err", err)
			continue
		}
		if truncated {
			logger.Warn("recurrence truncated", "uid", ev.uid, "cap", limit)
		}
		out = append(out, occ...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func expandRecurring(ev vevent, overrides []vevent, opts Options, limit int) ([]Occurrence, bool, error) {
	r, err := rrule.StrToRRule(ev.rrule)
	if err != nil {
		return nil, false, err
	}
	r.DTStart(ev.start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.exdates {
		set.ExDate(ex.In(ev.start.Location()))
	}

	loc := ev.start.Location()
	starts := set.Between(opts.WindowStart.In(loc), opts.WindowEnd.In(loc), true)
	truncated := len(starts) > limit
	if truncated {
		starts = starts[:limit]
	}

	dur := ev.end.Sub(ev.start)
	out := make([]Occurrence, 0, len(starts))
	for _, s := range starts {
		base, start, end := ev, s, s.Add(dur)
		if o, ok := findOverride(overrides, s); ok {
			base, start, end = o, o.start, o.end
		}
		id := fmt.Sprintf("%s@%d", ev.uid, s.Unix())
		out = append(out, occurrence(base, id, start, end))
	}
	return out, truncated, nil
}

func findOverride(overrides []vevent, start time.Time) (vevent, bool) {
	for _, o := range overrides {
		if o.recurrence.Equal(start) {
			return o, true
		}
	}
	return vevent{}, false
}

func occurrence(ev vevent, id string, start, end time.Time) Occurrence {
	return Occurrence{
		ID:     id,
		UID:    ev.uid,
		Title:  ev.summary,
		Start:  start.UTC(),
		End:    end.UTC(),
		AllDay: ev.allDay,
	}
}
