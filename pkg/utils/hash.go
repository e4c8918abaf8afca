package utils

import (
	"crypto/md5"
	"fmt"
	"strings"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// Fingerprint hashes an ordered list of fields. Fields are separated by a unit
// separator so that ("ab", "c") and ("a", "bc") hash differently.
func Fingerprint(fields ...string) string {
	return HashString(strings.Join(fields, "\x1f"))
}

// ShortID returns the first n characters of id, or id itself when shorter.
func ShortID(id string, n int) string {
	if len(id) <= n {
		return id
	}
	return id[:n]
}
