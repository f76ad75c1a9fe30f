// Package caldav talks to the remote reminder store over CalDAV. Each
// reminder lives as a single VEVENT object whose path is derived from a
// deterministic UID, which makes every push and delete idempotent.
package caldav

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"github.com/islamwell/rcoket-reminder-fork-sub001/internal/domain"
)

const (
	// Apple iCloud CalDAV endpoint
	DefaultiCloudURL = "https://caldav.icloud.com"

	propReminderID  = "X-REMINDER-ID"
	propUserID      = "X-REMINDER-USER"
	propFrequency   = "X-REMINDER-FREQUENCY"
	propTimeOfDay   = "X-REMINDER-TIME"
	propStatus      = "X-REMINDER-STATUS"
	propCompletions = "X-REMINDER-COMPLETIONS"
	propRepeatLimit = "X-REMINDER-LIMIT"
	propNotify      = "X-REMINDER-NOTIFY"
	propAudioRef    = "X-REMINDER-AUDIO"
)

// Client is a CalDAV client for the remote reminder store.
type Client struct {
	baseURL    string
	username   string
	password   string
	calendarID string // specific calendar collection to use
	client     *caldav.Client
	timeout    time.Duration
}

// NewClient creates a new CalDAV client.
func NewClient(baseURL, username, password string) *Client {
	if baseURL == "" {
		baseURL = DefaultiCloudURL
	}
	return &Client{
		baseURL:  baseURL,
		username: username,
		password: password,
		timeout:  30 * time.Second,
	}
}

// IsConfigured returns true if the client has credentials.
func (c *Client) IsConfigured() bool {
	return c.username != "" && c.password != ""
}

// SetCalendarID sets the calendar collection to use.
func (c *Client) SetCalendarID(id string) {
	c.calendarID = id
}

// SetPassword replaces the credential, e.g. after a session refresh.
func (c *Client) SetPassword(password string) {
	c.password = password
	c.client = nil
}

func (c *Client) connect() (*caldav.Client, error) {
	if c.client != nil {
		return c.client, nil
	}

	httpClient := &http.Client{
		Transport: &basicAuthTransport{
			username: c.username,
			password: c.password,
		},
		Timeout: c.timeout,
	}

	client, err := caldav.NewClient(httpClient, c.baseURL)
	if err != nil {
		return nil, domain.NewError(domain.KindNetwork, "caldav connect", err)
	}

	c.client = client
	return client, nil
}

// basicAuthTransport adds Basic Auth to HTTP requests.
type basicAuthTransport struct {
	username string
	password string
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.username, t.password)
	return http.DefaultTransport.RoundTrip(req)
}

// DiscoverCalendars returns all calendar collections for the user.
func (c *Client) DiscoverCalendars(ctx context.Context) ([]Calendar, error) {
	client, err := c.connect()
	if err != nil {
		return nil, err
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, classify("find principal", err)
	}

	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, classify("find home set", err)
	}

	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, classify("find calendars", err)
	}

	var result []Calendar
	for _, cal := range cals {
		result = append(result, Calendar{
			ID:          cal.Path,
			DisplayName: cal.Name,
			URL:         cal.Path,
		})
	}
	return result, nil
}

// PutReminder creates or replaces the remote object. CalDAV PUT replaces, so
// replaying the same intent twice converges to the same remote state.
func (c *Client) PutReminder(ctx context.Context, calendarPath string, rr *RemoteReminder) error {
	client, err := c.connect()
	if err != nil {
		return err
	}

	calendarPath = c.resolvePath(calendarPath)
	if calendarPath == "" {
		return domain.Errorf(domain.KindValidation, "calendar path not specified")
	}
	if rr.UID == "" {
		return domain.Errorf(domain.KindValidation, "remote reminder has no UID")
	}

	cal := reminderToICS(rr)
	if _, err := client.PutCalendarObject(ctx, objectPath(calendarPath, rr.UID), cal); err != nil {
		return classify("put reminder", err)
	}
	return nil
}

// DeleteReminder removes the remote object by UID. A missing object counts as
// success: the delete intent has already converged.
func (c *Client) DeleteReminder(ctx context.Context, calendarPath, uid string) error {
	client, err := c.connect()
	if err != nil {
		return err
	}

	calendarPath = c.resolvePath(calendarPath)
	if err := client.RemoveAll(ctx, objectPath(calendarPath, uid)); err != nil {
		cerr := classify("delete reminder", err)
		if domain.KindOf(cerr) == domain.KindNotFound {
			return nil
		}
		return cerr
	}
	return nil
}

// ListReminders fetches every reminder object in the collection.
func (c *Client) ListReminders(ctx context.Context, calendarPath string) ([]RemoteReminder, error) {
	client, err := c.connect()
	if err != nil {
		return nil, err
	}

	calendarPath = c.resolvePath(calendarPath)
	if calendarPath == "" {
		return nil, domain.Errorf(domain.KindValidation, "calendar path not specified")
	}

	query := &caldav.CalendarQuery{
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{
				{Name: "VEVENT"},
			},
		},
	}

	objects, err := client.QueryCalendar(ctx, calendarPath, query)
	if err != nil {
		return nil, classify("query calendar", err)
	}

	var out []RemoteReminder
	for _, obj := range objects {
		rr, err := parseCalendarObject(&obj)
		if err != nil {
			continue // skip objects not written by us
		}
		out = append(out, rr)
	}
	return out, nil
}

func (c *Client) resolvePath(calendarPath string) string {
	if calendarPath == "" {
		return c.calendarID
	}
	return calendarPath
}

func objectPath(calendarPath, uid string) string {
	if !strings.HasSuffix(calendarPath, "/") {
		calendarPath += "/"
	}
	return calendarPath + uid + ".ics"
}

// classify maps transport failures onto the engine's error taxonomy.
func classify(op string, err error) error {
	var httpErr *webdav.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.Code == http.StatusUnauthorized || httpErr.Code == http.StatusForbidden:
			return domain.NewError(domain.KindAuthentication, op, err)
		case httpErr.Code == http.StatusNotFound || httpErr.Code == http.StatusGone:
			return domain.NewError(domain.KindNotFound, op, err)
		case httpErr.Code == http.StatusConflict || httpErr.Code == http.StatusPreconditionFailed:
			return domain.NewError(domain.KindConflict, op, err)
		case httpErr.Code == http.StatusRequestTimeout:
			return domain.NewError(domain.KindTimeout, op, err)
		case httpErr.Code >= 500:
			return domain.NewError(domain.KindServer, op, err)
		case httpErr.Code >= 400:
			return domain.NewError(domain.KindValidation, op, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewError(domain.KindTimeout, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return domain.NewError(domain.KindTimeout, op, err)
		}
		return domain.NewError(domain.KindNetwork, op, err)
	}
	return domain.NewError(domain.KindNetwork, op, err)
}

// parseCalendarObject parses a CalDAV object back into a RemoteReminder.
func parseCalendarObject(obj *caldav.CalendarObject) (RemoteReminder, error) {
	rr := RemoteReminder{}

	if obj.Data == nil {
		return rr, fmt.Errorf("no data in calendar object")
	}

	for _, comp := range obj.Data.Children {
		if comp.Name != ical.CompEvent {
			continue
		}

		if prop := comp.Props.Get(ical.PropUID); prop != nil {
			rr.UID = prop.Value
		}
		if prop := comp.Props.Get(ical.PropSummary); prop != nil {
			rr.Title = prop.Value
		}
		if prop := comp.Props.Get(ical.PropDescription); prop != nil {
			rr.Description = prop.Value
		}
		if prop := comp.Props.Get(ical.PropCategories); prop != nil {
			rr.Category = prop.Value
		}
		if prop := comp.Props.Get(ical.PropDateTimeStart); prop != nil {
			if t, err := prop.DateTime(time.UTC); err == nil {
				rr.Start = t
			}
		}
		if prop := comp.Props.Get(ical.PropRecurrenceRule); prop != nil {
			rr.RRule = prop.Value
		}
		if prop := comp.Props.Get(ical.PropLastModified); prop != nil {
			if t, err := prop.DateTime(time.UTC); err == nil {
				rr.UpdatedAt = t
			}
		}

		if prop := comp.Props.Get(propReminderID); prop != nil {
			rr.ReminderID, _ = strconv.ParseInt(prop.Value, 10, 64)
		}
		if prop := comp.Props.Get(propUserID); prop != nil {
			rr.UserID, _ = strconv.ParseInt(prop.Value, 10, 64)
		}
		if prop := comp.Props.Get(propFrequency); prop != nil {
			rr.Frequency = prop.Value
		}
		if prop := comp.Props.Get(propTimeOfDay); prop != nil {
			rr.TimeOfDay = prop.Value
		}
		if prop := comp.Props.Get(propStatus); prop != nil {
			rr.Status = prop.Value
		}
		if prop := comp.Props.Get(propCompletions); prop != nil {
			rr.Completions, _ = strconv.Atoi(prop.Value)
		}
		if prop := comp.Props.Get(propRepeatLimit); prop != nil {
			rr.RepeatLimit, _ = strconv.Atoi(prop.Value)
		}
		if prop := comp.Props.Get(propNotify); prop != nil {
			rr.Notify = prop.Value == "1"
		}
		if prop := comp.Props.Get(propAudioRef); prop != nil {
			rr.AudioRef = prop.Value
		}

		break // only process first VEVENT
	}

	if rr.ReminderID == 0 {
		return rr, fmt.Errorf("object %s was not written by the reminder engine", rr.UID)
	}
	return rr, nil
}

// reminderToICS converts a RemoteReminder to iCalendar format.
func reminderToICS(rr *RemoteReminder) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//RocketReminder//CalDAV//EN")

	vevent := ical.NewEvent()
	vevent.Props.SetText(ical.PropUID, rr.UID)
	vevent.Props.SetText(ical.PropSummary, rr.Title)
	if rr.Description != "" {
		vevent.Props.SetText(ical.PropDescription, rr.Description)
	}
	if rr.Category != "" {
		vevent.Props.SetText(ical.PropCategories, rr.Category)
	}

	if !rr.Start.IsZero() {
		// Convert to UTC explicitly - iCalendar will use Z suffix
		vevent.Props.SetDateTime(ical.PropDateTimeStart, rr.Start.UTC())
	}
	if rr.RRule != "" {
		vevent.Props.SetText(ical.PropRecurrenceRule, rr.RRule)
	}

	vevent.Props.SetText(propReminderID, strconv.FormatInt(rr.ReminderID, 10))
	vevent.Props.SetText(propUserID, strconv.FormatInt(rr.UserID, 10))
	vevent.Props.SetText(propFrequency, rr.Frequency)
	vevent.Props.SetText(propTimeOfDay, rr.TimeOfDay)
	vevent.Props.SetText(propStatus, rr.Status)
	vevent.Props.SetText(propCompletions, strconv.Itoa(rr.Completions))
	vevent.Props.SetText(propRepeatLimit, strconv.Itoa(rr.RepeatLimit))
	notify := "0"
	if rr.Notify {
		notify = "1"
	}
	vevent.Props.SetText(propNotify, notify)
	if rr.AudioRef != "" {
		vevent.Props.SetText(propAudioRef, rr.AudioRef)
	}

	vevent.Props.SetDateTime(ical.PropLastModified, rr.UpdatedAt.UTC())
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())

	cal.Children = append(cal.Children, vevent.Component)
	return cal
}
