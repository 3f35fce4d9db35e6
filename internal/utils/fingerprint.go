package utils

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
)

// Fingerprint derives the durable primary key for a message. It hashes the
// Message-ID header when one exists; otherwise it falls back to the UID
// qualified by the UIDVALIDITY it was observed under, which stays stable
// across repeated passes over the same mailbox generation.
func Fingerprint(messageID string, uid uint32, uidValidity uint32) string {
	messageID = strings.Trim(strings.TrimSpace(messageID), "<>")
	if messageID != "" {
		sum := md5.Sum([]byte(messageID))
		return hex.EncodeToString(sum[:])
	}
	sum := md5.Sum([]byte(fmt.Sprintf("%d@%d", uid, uidValidity)))
	return hex.EncodeToString(sum[:])
}
