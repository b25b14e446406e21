package core

import (
	"strings"
	"time"
)

// StateFlag is the PC/SC reader state bit set (SCARD_STATE_*).
type StateFlag uint32

const (
	StateUnaware     StateFlag = 0x0000
	StateIgnore      StateFlag = 0x0001
	StateChanged     StateFlag = 0x0002
	StateUnknown     StateFlag = 0x0004
	StateUnavailable StateFlag = 0x0008
	StateEmpty       StateFlag = 0x0010
	StatePresent     StateFlag = 0x0020
	StateAtrmatch    StateFlag = 0x0040
	StateExclusive   StateFlag = 0x0080
	StateInuse       StateFlag = 0x0100
	StateMute        StateFlag = 0x0200
	StateUnpowered   StateFlag = 0x0400

	// The upper 16 bits carry the reader's event counter.
	stateFlagMask StateFlag = 0xFFFF
)

// PresenceState is the card presence of a reader as seen by the monitor.
type PresenceState int

const (
	PresenceUnknown PresenceState = iota
	PresenceEmpty
	PresencePresent
	PresenceUnavailable
	PresenceMute
	PresenceInUse
	PresenceExclusive
	PresenceUnpowered
)

var presenceNames = map[PresenceState]string{
	PresenceUnknown:     "unknown",
	PresenceEmpty:       "empty",
	PresencePresent:     "present",
	PresenceUnavailable: "unavailable",
	PresenceMute:        "mute",
	PresenceInUse:       "in_use",
	PresenceExclusive:   "exclusive",
	PresenceUnpowered:   "unpowered",
}

func (s PresenceState) String() string {
	if name, ok := presenceNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText renders the state by name in JSON payloads.
func (s PresenceState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// PresenceFromFlags reduces an event state to a single presence value.
// A card that is present but mute, unpowered, or held by a connection
// maps to that qualifier, so only a plain "present" reading is Present.
func PresenceFromFlags(f StateFlag) PresenceState {
	f &= stateFlagMask
	switch {
	case f&StateUnavailable != 0:
		return PresenceUnavailable
	case f&StateUnknown != 0:
		return PresenceUnknown
	case f&StateEmpty != 0:
		return PresenceEmpty
	case f&StatePresent != 0:
		switch {
		case f&StateMute != 0:
			return PresenceMute
		case f&StateUnpowered != 0:
			return PresenceUnpowered
		case f&StateExclusive != 0:
			return PresenceExclusive
		case f&StateInuse != 0:
			return PresenceInUse
		}
		return PresencePresent
	}
	return PresenceUnknown
}

func (f StateFlag) String() string {
	names := []struct {
		flag StateFlag
		name string
	}{
		{StateIgnore, "ignore"},
		{StateChanged, "changed"},
		{StateUnknown, "unknown"},
		{StateUnavailable, "unavailable"},
		{StateEmpty, "empty"},
		{StatePresent, "present"},
		{StateAtrmatch, "atrmatch"},
		{StateExclusive, "exclusive"},
		{StateInuse, "inuse"},
		{StateMute, "mute"},
		{StateUnpowered, "unpowered"},
	}
	var parts []string
	for _, n := range names {
		if f&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "unaware"
	}
	return strings.Join(parts, "|")
}

// StatusEvent is one presence transition on the monitored reader.
type StatusEvent struct {
	Reader   string        `json:"reader"`
	Previous PresenceState `json:"previous"`
	Current  PresenceState `json:"current"`
	At       time.Time     `json:"timestamp"`
}

// ShouldIdentify reports whether ev is a card arriving in an empty reader.
// Every other transition is informational only.
func ShouldIdentify(ev StatusEvent) bool {
	return ev.Previous == PresenceEmpty && ev.Current == PresencePresent
}
