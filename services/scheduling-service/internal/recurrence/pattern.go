package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tues": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thurs": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseWeekdays accepts English day names or abbreviations and ISO numbers
// (1 = Monday ... 7 = Sunday). Duplicates collapse.
func ParseWeekdays(values []string) ([]time.Weekday, error) {
	seen := map[time.Weekday]bool{}
	var out []time.Weekday
	for _, raw := range values {
		v := strings.ToLower(strings.TrimSpace(raw))
		day, ok := weekdayNames[v]
		if !ok {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > 7 {
				return nil, fmt.Errorf("%w: unknown weekday %q", model.ErrInvalidRequest, raw)
			}
			day = time.Weekday(n % 7)
		}
		if !seen[day] {
			seen[day] = true
			out = append(out, day)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: weekday set is empty", model.ErrInvalidRequest)
	}
	return out, nil
}

// Date is a calendar day with no zone attached. The generator places it in the
// plan's location, so the same date means the same local day everywhere.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate reads an ISO "YYYY-MM-DD" date.
func ParseDate(v string) (Date, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(v))
	if err != nil {
		return Date{}, fmt.Errorf("%w: start date %q", model.ErrInvalidRequest, v)
	}
	return DateOf(t), nil
}

func (d Date) IsZero() bool { return d == Date{} }

// In returns local midnight of d in loc.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// ParseTimeOfDay reads "HH:MM" or "HH:MM:SS" into an offset from midnight.
func ParseTimeOfDay(v string) (time.Duration, error) {
	layout := "15:04"
	if strings.Count(v, ":") == 2 {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%w: time of day %q", model.ErrInvalidRequest, v)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second, nil
}

// slotOn builds the candidate interval on the calendar day (y, m, d) in loc. The wall
// clock is resolved by time.Date, so DST transitions follow the zone database.
func slotOn(y int, m time.Month, d int, tod, duration time.Duration, loc *time.Location) (time.Time, time.Time) {
	h := int(tod / time.Hour)
	mi := int(tod % time.Hour / time.Minute)
	s := int(tod % time.Minute / time.Second)
	start := time.Date(y, m, d, h, mi, s, 0, loc)
	return start, start.Add(duration)
}
