// Package warphase maps raw war-status strings onto the three phases
// the engine cares about and detects the transitions that raise events.
package warphase

import "strings"

type Phase string

const (
	NotInWar    Phase = "notInWar"
	Preparation Phase = "preparation"
	InWar       Phase = "inWar"
)

type Event string

const (
	EventWarStarted Event = "war_started"
	EventBattleDay  Event = "battle_day"
	EventWarEnded   Event = "war_ended"
)

// Classify maps a raw status string to a phase. Total: anything that
// is not recognizably preparation or battle day is NotInWar. The
// "notinwar" test must run before the "inwar" one, which it contains.
func Classify(raw string) Phase {
	s := strings.ToLower(raw)
	switch {
	case strings.Contains(s, "notinwar"):
		return NotInWar
	case strings.Contains(s, "preparation"):
		return Preparation
	case strings.Contains(s, "inwar"):
		return InWar
	default:
		return NotInWar
	}
}

// Transition returns the event raised by moving from prev to next,
// if any. A phase observed only momentarily between two polls produces
// no event; polling cadence bounds detection latency.
func Transition(prev, next Phase) (Event, bool) {
	if prev == next {
		return "", false
	}
	switch {
	case prev == NotInWar && next == Preparation:
		return EventWarStarted, true
	case next == InWar:
		return EventBattleDay, true
	case next == NotInWar:
		return EventWarEnded, true
	}
	return "", false
}
