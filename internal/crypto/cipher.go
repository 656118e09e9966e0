package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

// Sentinel values returned by Decrypt. These are fixed strings the rest
// of the system recognizes: history rendering replaces any of them with a
// sender-attributed placeholder rather than showing them as message text.
const (
	InvalidMessage       = "[Invalid Message]"
	DecryptionFailed     = "[Decryption Failed]"
	EncryptedPlaceholder = "[Encrypted Message]"
)

// Cipher encrypts and decrypts message content at rest. Key selection:
// when both sender and recipient are known the deterministic conversation
// key is used, otherwise the caller's private key concatenated with the
// process-wide secret. Room messages pass "room_<name>" as the recipient.
type Cipher struct {
	secret string
}

func NewCipher(secret string) *Cipher {
	return &Cipher{secret: secret}
}

// Encrypt returns the base64-encoded ciphertext for plaintext. It fails
// open: if anything goes wrong the plaintext is returned unchanged. That
// is a known weakness of the protocol, kept on purpose.
func (c *Cipher) Encrypt(plaintext, privateKey, sender, recipient string) string {
	key := c.selectKey(privateKey, sender, recipient)

	aead, err := newAEAD(key)
	if err != nil {
		return plaintext
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return plaintext
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed)
}

// Decrypt reverses Encrypt. It never returns an error: failures resolve
// to one of the sentinel strings. The conversation key is tried first
// when sender and recipient are given, then the private key. The first
// attempt yielding non-empty plaintext wins.
func (c *Cipher) Decrypt(ciphertext, privateKey, sender, recipient string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = EncryptedPlaceholder
		}
	}()

	if ciphertext == "" {
		return InvalidMessage
	}

	var plain string
	if sender != "" && recipient != "" {
		plain = c.open(ciphertext, c.ConversationKey(sender, recipient))
	}
	if plain == "" {
		plain = c.open(ciphertext, privateKey+c.secret)
	}
	if plain == "" {
		return DecryptionFailed
	}
	return plain
}

// IsSentinel reports whether s is one of the Decrypt failure values.
func IsSentinel(s string) bool {
	return s == InvalidMessage || s == DecryptionFailed || s == EncryptedPlaceholder
}

func (c *Cipher) selectKey(privateKey, sender, recipient string) string {
	if sender != "" && recipient != "" {
		return c.ConversationKey(sender, recipient)
	}
	return privateKey + c.secret
}

func (c *Cipher) open(ciphertext, key string) string {
	aead, err := newAEAD(key)
	if err != nil {
		return ""
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil || len(raw) < aead.NonceSize() {
		return ""
	}

	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return ""
	}
	return string(plain)
}

// newAEAD builds an AES-256-GCM instance from an arbitrary key string by
// hashing it down to 32 bytes.
func newAEAD(key string) (cipher.AEAD, error) {
	sum := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
