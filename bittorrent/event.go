package bittorrent

import (
	"errors"
	"strings"
)

// ErrUnknownEvent is returned when NewEvent fails to match a string to an
// Event.
var ErrUnknownEvent = errors.New("unknown event")

var stringToEvent = map[string]Event{
	"":          None,
	"none":      None,
	"started":   Started,
	"stopped":   Stopped,
	"completed": Completed,
}

// NewEvent returns the proper Event given a string as provided in an HTTP
// announce's "event" query parameter.
func NewEvent(eventStr string) (Event, error) {
	if e, ok := stringToEvent[strings.ToLower(eventStr)]; ok {
		return e, nil
	}

	return None, ErrUnknownEvent
}
