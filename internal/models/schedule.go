package models

import (
	"fmt"
	"time"
)

// DateLayout is the wire format of appointment dates.
const DateLayout = "2006-01-02"

const slotLayout = "03:04 PM"

// TimeSlots is the fixed daily schedule, in half-hour steps with a lunch break.
var TimeSlots = []string{
	"09:00 AM", "09:30 AM", "10:00 AM", "10:30 AM",
	"11:00 AM", "11:30 AM", "12:00 PM", "12:30 PM",
	"02:00 PM", "02:30 PM", "03:00 PM", "03:30 PM",
	"04:00 PM", "04:30 PM", "05:00 PM", "05:30 PM",
}

var slotIndex = func() map[string]int {
	m := make(map[string]int, len(TimeSlots))
	for i, s := range TimeSlots {
		m[s] = i
	}
	return m
}()

// IsValidSlot reports whether slot is part of the daily schedule.
func IsValidSlot(slot string) bool {
	_, ok := slotIndex[slot]
	return ok
}

// SlotStart returns the wall-clock start of slot on date in loc.
func SlotStart(date, slot string, loc *time.Location) (time.Time, error) {
	if !IsValidSlot(slot) {
		return time.Time{}, fmt.Errorf("unknown time slot %q", slot)
	}
	t, err := time.ParseInLocation(DateLayout+" "+slotLayout, date+" "+slot, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse slot start: %w", err)
	}
	return t, nil
}
