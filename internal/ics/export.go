// Package ics renders the local event store as an iCalendar document, so the
// locally cached calendar can be handed to anything that speaks ICS.
package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"calsyncd/internal/model"
)

// Export serializes the given events as a VCALENDAR. Tombstoned records are
// omitted; override instances carry RECURRENCE-ID so consumers reattach them
// to their series.
func Export(events []model.CalendarEvent, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//calsyncd//local calendar//EN")

	for i := range events {
		ev := &events[i]
		if ev.IsDeleted {
			continue
		}

		uid := ev.RemoteID
		if uid == "" {
			uid = ev.LocalID
		}

		ve := cal.AddEvent(uid)
		ve.SetDtStampTime(now.UTC())
		ve.SetSummary(ev.Summary)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if ev.Location != "" {
			ve.SetLocation(ev.Location)
		}

		if ev.AllDay {
			ve.SetAllDayStartAt(ev.StartUTC)
			if !ev.EndUTC.IsZero() {
				ve.SetAllDayEndAt(ev.EndUTC)
			}
		} else {
			ve.SetStartAt(ev.StartUTC)
			if !ev.EndUTC.IsZero() {
				ve.SetEndAt(ev.EndUTC)
			}
		}

		if ev.RecurrenceRule != "" {
			ve.AddRrule(ev.RecurrenceRule)
		}
		if ev.IsOverrideInstance() && !ev.OriginalStartUTC.IsZero() {
			ve.SetProperty(ical.ComponentPropertyRecurrenceId,
				ev.OriginalStartUTC.UTC().Format("20060102T150405Z"))
		}
	}

	return cal.Serialize()
}
