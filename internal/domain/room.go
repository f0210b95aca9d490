package domain

import "fmt"

type RoomID string

// Role is the part this client asks for when joining a room.
type Role string

const (
	RoleHost     Role = "host"
	RoleAttendee Role = "attendee"
)

// ServeMode is the server's media-serving policy, fixed for the lifetime
// of a connection.
type ServeMode string

const (
	// ServeModeOpen: produce immediately after joining a room.
	ServeModeOpen ServeMode = "open"
	// ServeModePull: receive only, the ready signal is suppressed.
	ServeModePull ServeMode = "pull"
	// ServeModeInvite: produce only when the server asks for sources.
	ServeModeInvite ServeMode = "invite"
)

func ParseServeMode(s string) (ServeMode, error) {
	switch m := ServeMode(s); m {
	case ServeModeOpen, ServeModePull, ServeModeInvite:
		return m, nil
	}
	return "", fmt.Errorf("unknown serve mode %q", s)
}
