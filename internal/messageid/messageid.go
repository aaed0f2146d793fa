package messageid

import (
	"fmt"
	"math"
)

// ID is the position of a message in the history of one chat.
//
// Server-assigned identifiers occupy the high bits (serverID << ServerShift).
// The low bits tag messages that only exist on this client.
type ID int64

const (
	ServerShift = 20

	typeYetUnsent = 1
	typeLocal     = 2
	shortTypeMask = 3
	scheduledMask = 4
	fullTypeMask  = 7
)

// Invalid is the zero identifier. It is never stored in an index.
const Invalid ID = 0

// FromServer converts a server-side message number into an ID.
func FromServer(serverID int32) ID {
	return ID(int64(serverID) << ServerShift)
}

// Max is the greatest valid identifier.
func Max() ID {
	return FromServer(math.MaxInt32)
}

func (id ID) Valid() bool {
	if id <= 0 || id > Max() {
		return false
	}
	if id&scheduledMask != 0 {
		return false
	}
	switch id & shortTypeMask {
	case 0, typeYetUnsent, typeLocal:
		return true
	default:
		return false
	}
}

// IsScheduled reports whether id belongs to the reserved scheduled subrange.
func (id ID) IsScheduled() bool {
	return id > 0 && id&scheduledMask != 0
}

func (id ID) IsServer() bool {
	return id.Valid() && id&fullTypeMask == 0
}

func (id ID) IsLocal() bool {
	return id.Valid() && id&shortTypeMask == typeLocal
}

func (id ID) IsYetUnsent() bool {
	return id.Valid() && id&shortTypeMask == typeYetUnsent
}

// ServerID returns the server-side number, or 0 for client-only identifiers.
func (id ID) ServerID() int32 {
	if !id.IsServer() {
		return 0
	}
	return int32(id >> ServerShift)
}

func (id ID) String() string {
	switch {
	case id == Invalid:
		return "message invalid"
	case id.IsScheduled():
		return fmt.Sprintf("scheduled message %d", int64(id))
	case id.IsServer():
		return fmt.Sprintf("message %d", id.ServerID())
	case id.IsLocal():
		return fmt.Sprintf("local message %d", int64(id))
	case id.IsYetUnsent():
		return fmt.Sprintf("yet unsent message %d", int64(id))
	default:
		return fmt.Sprintf("bad message %d", int64(id))
	}
}
