package remote

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"calsyncd/internal/model"
)

const dateOnly = "2006-01-02"

// pullPageSize keeps pull pages small enough that a dropped connection loses
// little work; the engine pages until no next-page token is returned.
const pullPageSize = 250

// Google implements Service against the Google Calendar v3 API.
type Google struct {
	svc *calendar.Service
}

// NewGoogle builds a Google Calendar client from an OAuth2 token source.
func NewGoogle(ctx context.Context, ts oauth2.TokenSource) (*Google, error) {
	svc, err := calendar.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return &Google{svc: svc}, nil
}

// FetchSnapshot returns the remote's view of an event, or (nil, nil) when the
// remote no longer has it (404/410).
func (g *Google) FetchSnapshot(ctx context.Context, calendarID, remoteID string) (*Snapshot, error) {
	gev, err := g.svc.Events.Get(calendarID, remoteID).Context(ctx).Do()
	if err != nil {
		if isGone(err) {
			return nil, nil
		}
		return nil, classifyGoogle("fetch", err)
	}
	snap, err := snapshotFromGoogle(gev)
	if err != nil {
		return nil, NewError(KindPermanent, "fetch", err)
	}
	return snap, nil
}

// PushChange applies one outbound mutation to the remote calendar.
func (g *Google) PushChange(ctx context.Context, calendarID string, op model.Operation, ev *model.CalendarEvent, payload model.Payload) (PushResult, error) {
	switch op {
	case model.OpCreate:
		gev := eventToGoogle(ev)
		created, err := g.svc.Events.Insert(calendarID, gev).Context(ctx).Do()
		if err != nil {
			return PushResult{}, classifyGoogle("push", err)
		}
		return resultFromGoogle(created)

	case model.OpPatch:
		gev := &calendar.Event{}
		applyFields(gev, payload.Fields)
		patched, err := g.svc.Events.Patch(calendarID, ev.RemoteID, gev).Context(ctx).Do()
		if err != nil {
			return PushResult{}, classifyGoogle("push", err)
		}
		return resultFromGoogle(patched)

	case model.OpDelete:
		if err := g.svc.Events.Delete(calendarID, payload.RemoteID).Context(ctx).Do(); err != nil {
			// The remote already lacking the event is the desired outcome.
			if isGone(err) {
				return PushResult{RemoteID: payload.RemoteID}, nil
			}
			return PushResult{}, classifyGoogle("push", err)
		}
		return PushResult{RemoteID: payload.RemoteID}, nil

	case model.OpRecurThis, model.OpRecurAll:
		gev := eventToGoogle(ev)
		applyFields(gev, payload.Fields)
		updated, err := g.svc.Events.Update(calendarID, ev.RemoteID, gev).Context(ctx).Do()
		if err != nil {
			return PushResult{}, classifyGoogle("push", err)
		}
		return resultFromGoogle(updated)

	case model.OpRecurFuture:
		// The worker has already derived the truncated rule and placed it in
		// the field set; only the master's recurrence is patched so the past
		// portion of the series is otherwise untouched.
		rule, ok := payload.Fields["recurrenceRule"]
		if !ok {
			return PushResult{}, NewError(KindPermanent, "push", errors.New("RECUR_FUTURE payload missing truncated rule"))
		}
		gev := &calendar.Event{Recurrence: []string{"RRULE:" + rule}}
		patched, err := g.svc.Events.Patch(calendarID, ev.RemoteID, gev).Context(ctx).Do()
		if err != nil {
			return PushResult{}, classifyGoogle("push", err)
		}
		return resultFromGoogle(patched)

	default:
		return PushResult{}, NewError(KindPermanent, "push", fmt.Errorf("unknown operation %q", op))
	}
}

// PullChanges lists one page of remote changes. A delta pull whose token the
// remote has expired returns ErrSyncTokenExpired.
func (g *Google) PullChanges(ctx context.Context, req PullRequest) (PullPage, error) {
	call := g.svc.Events.List(req.CalendarID).
		ShowDeleted(true).
		SingleEvents(false).
		MaxResults(pullPageSize).
		Context(ctx)

	if req.SyncToken != "" {
		call = call.SyncToken(req.SyncToken)
	} else {
		if !req.WindowStart.IsZero() {
			call = call.TimeMin(req.WindowStart.UTC().Format(time.RFC3339))
		}
		if !req.WindowEnd.IsZero() {
			call = call.TimeMax(req.WindowEnd.UTC().Format(time.RFC3339))
		}
	}
	if req.PageToken != "" {
		call = call.PageToken(req.PageToken)
	}

	list, err := call.Do()
	if err != nil {
		// 410 GONE on a delta pull is the canonical resync-required signal.
		if req.SyncToken != "" && isGone(err) {
			return PullPage{}, ErrSyncTokenExpired
		}
		return PullPage{}, classifyGoogle("pull", err)
	}

	page := PullPage{
		NextPageToken: list.NextPageToken,
		NextSyncToken: list.NextSyncToken,
	}
	for _, item := range list.Items {
		snap, err := snapshotFromGoogle(item)
		if err != nil {
			return PullPage{}, NewError(KindPermanent, "pull", err)
		}
		page.Events = append(page.Events, *snap)
	}
	return page, nil
}

// ListCalendars enumerates the account's calendars.
func (g *Google) ListCalendars(ctx context.Context) ([]CalendarInfo, error) {
	var out []CalendarInfo
	pageToken := ""
	for {
		call := g.svc.CalendarList.List().Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		list, err := call.Do()
		if err != nil {
			return nil, classifyGoogle("calendars", err)
		}
		for _, item := range list.Items {
			out = append(out, CalendarInfo{
				ID:      item.Id,
				Summary: item.Summary,
				Primary: item.Primary,
			})
		}
		if list.NextPageToken == "" {
			return out, nil
		}
		pageToken = list.NextPageToken
	}
}

// classifyGoogle maps a Google API failure onto the retry taxonomy.
//
//   - 429, or 403 with a rate-limit reason: RATE_LIMITED
//   - 401, 403, 404, 410: PERMANENT
//   - everything else (5xx, transport): TRANSIENT
func classifyGoogle(op string, err error) *Error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == 429 || isRateLimitReason(gerr):
			return NewError(KindRateLimited, op, err)
		case gerr.Code == 401 || gerr.Code == 403 || gerr.Code == 404 || gerr.Code == 410:
			return NewError(KindPermanent, op, err)
		default:
			return NewError(KindTransient, op, err)
		}
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return NewError(KindTransient, op, err)
	}
	return NewError(KindTransient, op, err)
}

func isRateLimitReason(gerr *googleapi.Error) bool {
	if gerr.Code != 403 {
		return false
	}
	for _, e := range gerr.Errors {
		switch e.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
			return true
		}
	}
	return false
}

func isGone(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == 404 || gerr.Code == 410
	}
	return false
}

func snapshotFromGoogle(gev *calendar.Event) (*Snapshot, error) {
	snap := &Snapshot{
		RemoteID:         gev.Id,
		Summary:          gev.Summary,
		Description:      gev.Description,
		Location:         gev.Location,
		RecurringEventID: gev.RecurringEventId,
		Deleted:          gev.Status == "cancelled",
	}

	if gev.Updated != "" {
		t, err := time.Parse(time.RFC3339, gev.Updated)
		if err != nil {
			return nil, fmt.Errorf("parse updated time %q: %w", gev.Updated, err)
		}
		snap.UpdatedAt = t.UTC()
	}

	var err error
	if snap.StartUTC, snap.AllDay, err = timeFromGoogle(gev.Start); err != nil {
		return nil, err
	}
	if snap.EndUTC, _, err = timeFromGoogle(gev.End); err != nil {
		return nil, err
	}
	if gev.OriginalStartTime != nil {
		if snap.OriginalStartUTC, _, err = timeFromGoogle(gev.OriginalStartTime); err != nil {
			return nil, err
		}
	}

	for _, line := range gev.Recurrence {
		if rule, ok := strings.CutPrefix(line, "RRULE:"); ok {
			snap.RecurrenceRule = rule
			break
		}
	}
	return snap, nil
}

func timeFromGoogle(edt *calendar.EventDateTime) (time.Time, bool, error) {
	if edt == nil {
		return time.Time{}, false, nil
	}
	if edt.Date != "" {
		t, err := time.Parse(dateOnly, edt.Date)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("parse all-day date %q: %w", edt.Date, err)
		}
		return t.UTC(), true, nil
	}
	if edt.DateTime == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339, edt.DateTime)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse event time %q: %w", edt.DateTime, err)
	}
	return t.UTC(), false, nil
}

func timeToGoogle(t time.Time, allDay bool) *calendar.EventDateTime {
	if t.IsZero() {
		return nil
	}
	if allDay {
		return &calendar.EventDateTime{Date: t.UTC().Format(dateOnly)}
	}
	return &calendar.EventDateTime{DateTime: t.UTC().Format(time.RFC3339)}
}

func eventToGoogle(ev *model.CalendarEvent) *calendar.Event {
	gev := &calendar.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       timeToGoogle(ev.StartUTC, ev.AllDay),
		End:         timeToGoogle(ev.EndUTC, ev.AllDay),
	}
	if ev.RecurrenceRule != "" {
		gev.Recurrence = []string{"RRULE:" + ev.RecurrenceRule}
	}
	if ev.RecurringEventID != "" {
		gev.RecurringEventId = ev.RecurringEventID
		gev.OriginalStartTime = timeToGoogle(ev.OriginalStartUTC, ev.AllDay)
	}
	return gev
}

// applyFields folds a PATCH field set into a Google event. Unknown keys are
// ignored so payloads written by newer versions don't break older workers.
func applyFields(gev *calendar.Event, fields map[string]string) {
	for key, value := range fields {
		switch key {
		case "summary":
			gev.Summary = value
		case "description":
			gev.Description = value
		case "location":
			gev.Location = value
		case "start":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				gev.Start = timeToGoogle(t, false)
			}
		case "end":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				gev.End = timeToGoogle(t, false)
			}
		case "recurrenceRule":
			gev.Recurrence = []string{"RRULE:" + value}
		}
	}
}

func resultFromGoogle(gev *calendar.Event) (PushResult, error) {
	res := PushResult{RemoteID: gev.Id}
	if gev.Updated != "" {
		t, err := time.Parse(time.RFC3339, gev.Updated)
		if err != nil {
			return res, NewError(KindPermanent, "push", fmt.Errorf("parse updated time %q: %w", gev.Updated, err))
		}
		res.RemoteUpdatedAt = t.UTC()
	}
	return res, nil
}
