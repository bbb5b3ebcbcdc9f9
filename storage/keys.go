package storage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Key layout. Message keys embed a 19-digit zero-padded timestamp so a
// prefix scan yields chronological order lexicographically; the UUID tail
// disambiguates two messages landing on the same nanosecond. "idx:"
// prefixes secondary indexes, kept out of primary prefix scans.
const (
	conversationPrefix = "conv:"
	messagePrefix      = "msg:"
	messageIndexPrefix = "idx:msg:"
	statusPrefix       = "status:"
)

func conversationKey(conversationID string) []byte {
	return []byte(conversationPrefix + conversationID)
}

func messageKey(conversationID string, at time.Time, id uuid.UUID) []byte {
	return []byte(fmt.Sprintf("%s%s:%019d:%s", messagePrefix, conversationID, at.UnixNano(), id))
}

func messageIndexKey(id uuid.UUID) []byte {
	return []byte(messageIndexPrefix + id.String())
}

func statusKey(messageID uuid.UUID, userID string) []byte {
	return []byte(statusPrefix + messageID.String() + ":" + userID)
}

func statusScanPrefix(messageID uuid.UUID) []byte {
	return []byte(statusPrefix + messageID.String() + ":")
}

func messageScanPrefix(conversationID string) []byte {
	return []byte(messagePrefix + conversationID + ":")
}
