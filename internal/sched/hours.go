package sched

import (
	"time"

	"github.com/yanun0323/errors"
)

// MarketHours is the exchange trading window in its local timezone.
// An empty Open/Close pair means always-open (24/7 venues, tests).
type MarketHours struct {
	Open  string `json:"open"`  // "15:04"
	Close string `json:"close"` // "15:04"
	// Weekends enables Saturday/Sunday trading when true.
	Weekends bool `json:"weekends"`
}

func (h MarketHours) alwaysOpen() bool {
	return h.Open == "" && h.Close == ""
}

// Contains reports whether t falls inside the trading window. t must
// already be in the exchange's local timezone.
func (h MarketHours) Contains(t time.Time) bool {
	if !h.Weekends {
		switch t.Weekday() {
		case time.Saturday, time.Sunday:
			return false
		}
	}
	if h.alwaysOpen() {
		return true
	}

	open, err := minuteOfDay(h.Open)
	if err != nil {
		return false
	}
	closing, err := minuteOfDay(h.Close)
	if err != nil {
		return false
	}
	minute := t.Hour()*60 + t.Minute()
	return minute >= open && minute <= closing
}

// Validate checks the window definition itself.
func (h MarketHours) Validate() error {
	if h.alwaysOpen() {
		return nil
	}
	open, err := minuteOfDay(h.Open)
	if err != nil {
		return errors.Wrap(err, "parse market open")
	}
	closing, err := minuteOfDay(h.Close)
	if err != nil {
		return errors.Wrap(err, "parse market close")
	}
	if open >= closing {
		return errors.Errorf("market open %q is not before close %q", h.Open, h.Close)
	}
	return nil
}

func minuteOfDay(clock string) (int, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
