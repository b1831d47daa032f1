package admission

import "time"

// ShiftType partitions the day into admission quota windows.
type ShiftType string

const (
	Day   ShiftType = "day"
	Night ShiftType = "night"
)

const (
	dayStartHour   = 6
	nightStartHour = 22
	dateLayout     = "2006-01-02"
)

// Shift identifies one concrete shift: its type and the calendar date it belongs to.
// A night shift runs from 22:00 on Date until 06:00 the next day.
type Shift struct {
	Type ShiftType
	Date time.Time
}

// Classify maps an instant onto its shift. Times are evaluated in UTC.
func Classify(t time.Time) Shift {
	t = t.UTC()
	date := midnight(t)
	hour := t.Hour()
	switch {
	case hour >= nightStartHour:
		return Shift{Type: Night, Date: date}
	case hour < dayStartHour:
		return Shift{Type: Night, Date: date.AddDate(0, 0, -1)}
	default:
		return Shift{Type: Day, Date: date}
	}
}

// Start returns the first instant of the shift.
func (s Shift) Start() time.Time {
	if s.Type == Night {
		return s.Date.Add(nightStartHour * time.Hour)
	}
	return s.Date.Add(dayStartHour * time.Hour)
}

// End returns the first instant after the shift.
func (s Shift) End() time.Time {
	if s.Type == Night {
		return s.Date.AddDate(0, 0, 1).Add(dayStartHour * time.Hour)
	}
	return s.Date.Add(nightStartHour * time.Hour)
}

// Contains reports whether t falls inside [Start, End).
func (s Shift) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(s.Start()) && t.Before(s.End())
}

func (s Shift) String() string {
	return string(s.Type) + ":" + s.Date.Format(dateLayout)
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
