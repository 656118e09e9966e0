package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// GeneratePrivateKey returns a fresh per-user private key: 32 random
// bytes, hex-encoded. Generated once at registration and never rotated.
func GeneratePrivateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// ConversationKey derives the symmetric key for a pair of users. The two
// usernames are sorted so both sides derive the same key regardless of
// who is sender and who is recipient.
func (c *Cipher) ConversationKey(userA, userB string) string {
	users := []string{userA, userB}
	sort.Strings(users)

	sum := sha256.Sum256([]byte(strings.Join(users, "_") + c.secret))
	return hex.EncodeToString(sum[:])
}
