// Package conversation derives private conversation identifiers from user pairs.
package conversation

import (
	"strconv"
	"strings"
)

// Separator joins the two sorted participant keys. Keys are decimal user ids,
// which never contain it.
const Separator = "_"

// ID returns the order-independent conversation key for two participants.
func ID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + Separator + b
}

// ForUsers is ID over stable user ids.
func ForUsers(a, b int64) string {
	return ID(strconv.FormatInt(a, 10), strconv.FormatInt(b, 10))
}

// Participants splits a conversation key back into its two sorted keys.
func Participants(id string) (string, string, bool) {
	a, b, ok := strings.Cut(id, Separator)
	if !ok || a == "" || b == "" || strings.Contains(b, Separator) {
		return "", "", false
	}
	return a, b, true
}

// Involves reports whether userID is one of the two participants of id.
func Involves(id string, userID int64) bool {
	a, b, ok := Participants(id)
	if !ok {
		return false
	}
	key := strconv.FormatInt(userID, 10)
	return a == key || b == key
}
