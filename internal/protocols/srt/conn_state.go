package srt

import "fmt"

// ConnState is the state of a connection.
type ConnState int32

// connection states.
const (
	ConnStateInit ConnState = iota
	ConnStateOpened
	ConnStateListening
	ConnStateConnecting
	ConnStateConnected
	ConnStateBroken
	ConnStateClosing
	ConnStateClosed
	ConnStateNonExistent
)

// String implements fmt.Stringer.
func (s ConnState) String() string {
	switch s {
	case ConnStateInit:
		return "init"
	case ConnStateOpened:
		return "opened"
	case ConnStateListening:
		return "listening"
	case ConnStateConnecting:
		return "connecting"
	case ConnStateConnected:
		return "connected"
	case ConnStateBroken:
		return "broken"
	case ConnStateClosing:
		return "closing"
	case ConnStateClosed:
		return "closed"
	case ConnStateNonExistent:
		return "nonexistent"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// terminal states stop the poll loop.
func (s ConnState) terminal() bool {
	return s == ConnStateClosed || s == ConnStateNonExistent
}

// Role is the role of a socket.
type Role int

// roles.
const (
	RoleCaller Role = iota
	RoleListener
)

// String implements fmt.Stringer.
func (r Role) String() string {
	if r == RoleListener {
		return "listener"
	}
	return "caller"
}
