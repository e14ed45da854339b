package netstate

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	"emberd/internal/ids"
)

// fallbackNickname derives a deterministic collision nickname for user by
// hashing its id, so every node that collides the same user lands on the
// same fallback without coordination (§4.4 nick binding conflict).
func fallbackNickname(user ids.ObjectId) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("nick-collision:%d", uint64(user))))
	return "Guest-" + hex.EncodeToString(sum[:])[:8]
}

// fallbackChannelName derives a deterministic rename target for a channel
// losing a NewChannel name collision (§4.4 channel name conflict).
func fallbackChannelName(channel ids.ObjectId) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("channel-collision:%d", uint64(channel))))
	return "#collision-" + hex.EncodeToString(sum[:])[:8]
}

// timestampUserLess implements the "(timestamp, user_id) lexicographic,
// lower wins" tie-break for concurrent nick-binding events (§4.4).
func timestampUserLess(tsA int64, userA ids.ObjectId, tsB int64, userB ids.ObjectId) bool {
	if tsA != tsB {
		return tsA < tsB
	}
	return userA < userB
}
