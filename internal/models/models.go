package models

import "time"

type User struct {
	ID         int       `json:"id"`
	Username   string    `json:"username"`
	Password   string    `json:"-"`
	PrivateKey string    `json:"-"`
	LastActive time.Time `json:"last_active"`
}

// FriendRequest is a directed pending relation. Resolving it (accept or
// reject) removes it; accepting also creates the symmetric friend edge.
type FriendRequest struct {
	From      string    `json:"from"`
	To        string    `json:"-"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

type Room struct {
	Name      string    `json:"name"`
	Creator   string    `json:"creator"`
	CreatedAt time.Time `json:"-"`
}

// RoomMessage is immutable once written: no edit or delete for rooms.
type RoomMessage struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Room      string    `json:"room"`
	Content   string    `json:"content"`   // ciphertext (storage only)
	Plaintext string    `json:"plaintext"` // preferred read path
	Encrypted bool      `json:"encrypted"`
	Timestamp time.Time `json:"timestamp"`
}

// DirectMessage is mutable exactly once, via soft delete: content and
// plaintext are overwritten with a deletion marker while id, sender,
// recipient and timestamp survive for ordering.
type DirectMessage struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Content   string    `json:"content"`
	Plaintext string    `json:"plaintext"`
	Encrypted bool      `json:"encrypted"`
	Read      bool      `json:"read"`
	Timestamp time.Time `json:"timestamp"`
}
