package admission

import (
	"fmt"
	"time"
)

const keyPrefix = "orders"

// TimeRange is the half-open interval [From, To).
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Window names a counter key and the creation-time ranges whose orders it counts.
type Window struct {
	Key    string
	Ranges []TimeRange
}

// KeyScheme decides how shifts map onto counter keys.
type KeyScheme interface {
	Name() string
	Key(s Shift) string
	// TTL is applied to keys on increment and on reconciliation; zero means no expiry.
	TTL() time.Duration
	// Windows lists the keys a reconciliation at now must overwrite.
	Windows(now time.Time) []Window
}

// NewKeyScheme builds the scheme named by configuration.
func NewKeyScheme(name string, ttl time.Duration) (KeyScheme, error) {
	switch name {
	case "", "shift":
		return ShiftScheme{ttl: ttl}, nil
	case "flat":
		return FlatScheme{}, nil
	default:
		return nil, fmt.Errorf("unsupported admission key scheme: %s", name)
	}
}

// ShiftScheme partitions keys by shift date: orders:<type>:<yyyy-MM-dd>.
// Keys of past shifts simply stop being written, so no rollover job is needed.
type ShiftScheme struct {
	ttl time.Duration
}

func (ShiftScheme) Name() string { return "shift" }

func (ShiftScheme) Key(s Shift) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, s.Type, s.Date.Format(dateLayout))
}

func (s ShiftScheme) TTL() time.Duration { return s.ttl }

// Windows covers every shift overlapping the current calendar day:
// last night (which ends at 06:00 today), today's day shift and tonight.
func (s ShiftScheme) Windows(now time.Time) []Window {
	today := midnight(now.UTC())
	shifts := []Shift{
		{Type: Night, Date: today.AddDate(0, 0, -1)},
		{Type: Day, Date: today},
		{Type: Night, Date: today},
	}
	out := make([]Window, 0, len(shifts))
	for _, sh := range shifts {
		out = append(out, Window{
			Key:    s.Key(sh),
			Ranges: []TimeRange{{From: sh.Start(), To: sh.End()}},
		})
	}
	return out
}

// FlatScheme keeps two permanent keys, orders:day and orders:night, and
// recounts them over the current calendar day only.
type FlatScheme struct{}

func (FlatScheme) Name() string { return "flat" }

func (FlatScheme) Key(s Shift) string {
	return fmt.Sprintf("%s:%s", keyPrefix, s.Type)
}

func (FlatScheme) TTL() time.Duration { return 0 }

func (f FlatScheme) Windows(now time.Time) []Window {
	today := midnight(now.UTC())
	dayStart := today.Add(dayStartHour * time.Hour)
	nightStart := today.Add(nightStartHour * time.Hour)
	tomorrow := today.AddDate(0, 0, 1)

	return []Window{
		{
			Key:    f.Key(Shift{Type: Day}),
			Ranges: []TimeRange{{From: dayStart, To: nightStart}},
		},
		{
			Key: f.Key(Shift{Type: Night}),
			Ranges: []TimeRange{
				{From: today, To: dayStart},
				{From: nightStart, To: tomorrow},
			},
		},
	}
}
