// Package ids generates stable, unguessable entity keys.
package ids

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// crockfordBase32 is the Crockford base32 alphabet (excludes I, L, O, U).
const crockfordBase32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

const keyLength = 10 // 50 bits of entropy

func generate(prefix string) (string, error) {
	b := make([]byte, keyLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate %s key: %w", prefix, err)
	}
	var sb strings.Builder
	sb.WriteString(prefix)
	for _, v := range b {
		sb.WriteByte(crockfordBase32[int(v)%len(crockfordBase32)])
	}
	return sb.String(), nil
}

// NewProfileKey returns a profile key of the form "p_" followed by 10 random
// Crockford base32 characters.
func NewProfileKey() (string, error) {
	return generate("p_")
}

// NewUserKey returns a user key of the form "u_" followed by 10 random
// Crockford base32 characters.
func NewUserKey() (string, error) {
	return generate("u_")
}

// NewSourceKey returns a source key of the form "src_" followed by 10 random
// Crockford base32 characters.
func NewSourceKey() (string, error) {
	return generate("src_")
}
