package scheduler

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode"

	"github.com/voicedesk/voicedesk/internal/session"
)

// defaultDurationMinutes is used whenever a usable duration cannot be derived.
const defaultDurationMinutes = 30

// minDurationMinutes is the shortest bookable slot.
const minDurationMinutes = 5

// Calendar is the slice of the scheduling provider the coordinator needs.
type Calendar interface {
	ListScheduledEvents(ctx context.Context, userURI string, minStart, maxStart time.Time) ([]ScheduledEvent, error)
	CreateOneOffEventType(ctx context.Context, r OneOffEventRequest) (string, error)
}

// Coordinator checks calendar availability and provisions bookable slots for
// the configured calendar owner.
type Coordinator struct {
	calendar Calendar
	ownerURI string
}

// NewCoordinator builds a coordinator for the given owner.
func NewCoordinator(calendar Calendar, ownerURI string) *Coordinator {
	return &Coordinator{calendar: calendar, ownerURI: ownerURI}
}

// CheckAvailability reports whether [start, start+duration) is free of active
// events on the owner's calendar. Indeterminate states (missing credentials,
// unparseable request, fetch failure) are treated as unavailable.
func (co *Coordinator) CheckAvailability(ctx context.Context, date, timeOfDay, duration string) bool {
	if co.ownerURI == "" {
		log.Printf("scheduler: no calendar owner configured - treating slot as unavailable")
		return false
	}
	reqStart, err := ParseStart(date, timeOfDay)
	if err != nil {
		log.Printf("scheduler: cannot parse requested slot (%q %q): %v", date, timeOfDay, err)
		return false
	}
	reqEnd := reqStart.Add(time.Duration(ParseDurationMinutes(duration)) * time.Minute)

	dayStart := time.Date(reqStart.Year(), reqStart.Month(), reqStart.Day(), 0, 0, 0, 0, reqStart.Location())
	events, err := co.calendar.ListScheduledEvents(ctx, co.ownerURI, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		log.Printf("scheduler: availability fetch failed: %v", err)
		return false
	}
	for _, ev := range events {
		if overlaps(reqStart, reqEnd, ev.StartTime, ev.EndTime) {
			return false
		}
	}
	return true
}

// CreateBooking provisions a one-off bookable slot for the requested meeting
// and returns its public scheduling URL. Failures are recoverable; nothing is
// retried.
func (co *Coordinator) CreateBooking(ctx context.Context, details session.MeetingDetails) (string, error) {
	if _, err := time.Parse("2006-01-02", details.Date); err != nil {
		return "", fmt.Errorf("scheduler: invalid meeting date %q: %w", details.Date, err)
	}

	name := "Meeting"
	if details.Attendee != "" {
		name = "Meeting with " + details.Attendee
	}
	if details.Purpose != "" {
		name += ": " + details.Purpose
	}

	schedulingURL, err := co.calendar.CreateOneOffEventType(ctx, OneOffEventRequest{
		Name:            name,
		HostURI:         co.ownerURI,
		Date:            details.Date,
		DurationMinutes: ParseDurationMinutes(details.Duration),
		Location:        "To be confirmed",
	})
	if err != nil {
		return "", err
	}
	return schedulingURL, nil
}

// overlaps applies closed-open interval semantics: two intervals overlap when
// either start falls strictly inside the other, or one contains the other.
func overlaps(reqStart, reqEnd, evStart, evEnd time.Time) bool {
	return reqStart.Before(evEnd) && evStart.Before(reqEnd)
}

// ParseDurationMinutes normalizes a free-text duration to whole minutes.
// Absent text defaults to 30. "hour"/"hr" multiplies the leading numeral by
// 60; "min" takes the leading numeral when it is at least 5; a bare numeral
// is clamped up to 5 minutes. Anything unusable falls back to 30.
func ParseDurationMinutes(text string) int {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return defaultDurationMinutes
	}
	n, ok := leadingNumeral(t)
	switch {
	case strings.Contains(t, "hour") || strings.Contains(t, "hr"):
		if ok && n >= 1 {
			return n * 60
		}
		return defaultDurationMinutes
	case strings.Contains(t, "min"):
		if ok && n >= minDurationMinutes {
			return n
		}
		return defaultDurationMinutes
	case ok && n > 0:
		if n < minDurationMinutes {
			return minDurationMinutes
		}
		return n
	default:
		return defaultDurationMinutes
	}
}

// leadingNumeral extracts the first run of digits in s.
func leadingNumeral(s string) (int, bool) {
	start := -1
	for i, r := range s {
		if unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			return atoiSafe(s[start:i])
		}
	}
	if start >= 0 {
		return atoiSafe(s[start:])
	}
	return 0, false
}

func atoiSafe(s string) (int, bool) {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
		if n > 24*60 {
			return n, true
		}
	}
	return n, true
}

// ParseStart resolves a YYYY-MM-DD date plus a spoken time of day into the
// requested start instant. Accepted time forms: "15:04", "3:04pm", "3 pm",
// "3pm", "15".
func ParseStart(date, timeOfDay string) (time.Time, error) {
	day, err := time.Parse("2006-01-02", strings.TrimSpace(date))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", date)
	}
	hour, minute, err := parseClock(timeOfDay)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, time.UTC), nil
}

func parseClock(s string) (int, int, error) {
	t := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	if t == "" {
		return 0, 0, fmt.Errorf("missing time of day")
	}
	meridiem := ""
	if strings.HasSuffix(t, "am") || strings.HasSuffix(t, "pm") {
		meridiem = t[len(t)-2:]
		t = t[:len(t)-2]
	}
	hs, ms, found := strings.Cut(t, ":")
	hour, ok := atoiDigits(hs)
	if !ok {
		return 0, 0, fmt.Errorf("invalid time of day %q", s)
	}
	minute := 0
	if found {
		minute, ok = atoiDigits(ms)
		if !ok {
			return 0, 0, fmt.Errorf("invalid time of day %q", s)
		}
	}
	switch meridiem {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time of day out of range %q", s)
	}
	return hour, minute, nil
}

func atoiDigits(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}
