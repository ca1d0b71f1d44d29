// Package room derives the shared conversation room for a pair of participants.
package room

import (
	"fmt"
	"strconv"
	"strings"

	"chatthread/internal/constants"
)

// ID returns the room identifier shared by both participants. It is
// symmetric: ID(a, b) == ID(b, a).
func ID(myID, friendID int) string {
	if myID < friendID {
		return fmt.Sprintf("%d_%d", myID, friendID)
	}
	return fmt.Sprintf("%d_%d", friendID, myID)
}

// Path returns the backend path under which a room's messages live.
func Path(roomID string) string {
	return constants.ChatAppPath + "/" + constants.ChatRoomsPath + "/" + roomID
}

// ParseParticipantID parses a participant ID as entered on the identity
// screen. Absent, unparseable or negative input yields 0.
func ParseParticipantID(s string) int {
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || id < 0 {
		return 0
	}
	return id
}
