package main

import (
	"fmt"
	"io"
	"time"

	"github.com/haorendashu/catindex/src/types"
)

var whenLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"}

// parseWhen accepts a date or an RFC 3339 time. Times without a zone are UTC.
func parseWhen(s string) (time.Time, error) {
	for _, layout := range whenLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD or RFC 3339", s)
}

// resolve maps IDs to catalog events. Unknown IDs, which Check reports,
// get a placeholder so they stay visible.
func resolve(a *app, ids []string) []*types.Event {
	out := make([]*types.Event, 0, len(ids))
	for _, id := range ids {
		ev, ok := a.cat.LookupEvent(id)
		if !ok {
			ev = &types.Event{ID: id, Title: "(not in catalog)"}
		}
		out = append(out, ev)
	}
	return out
}

func printEvents(w io.Writer, evs []*types.Event) {
	for _, ev := range evs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ev.ID, formatTime(ev.Start), formatTime(ev.End), ev.Title)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
