package store

import (
	"errors"
	"time"

	"github.com/pliu/confab/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when a unique constraint is violated.
	ErrDuplicate = errors.New("record already exists")
)

type Store interface {
	// Identity operations
	CreateUser(user *models.User) error
	GetUserByUsername(username string) (*models.User, error)
	SearchUsers(query string) ([]string, error)
	TouchLastActive(username string, at time.Time) error
	ActiveUsernames(since time.Time) ([]string, error)

	// Friend graph operations
	Friends(username string) ([]string, error)
	FriendRequests(username string) ([]models.FriendRequest, error)
	HasFriendRequest(from, to string) (bool, error)
	AreFriends(a, b string) (bool, error)
	InsertFriendRequest(from, to string, at time.Time) error
	// AcceptFriendRequest removes the pending request and creates both
	// sides of the friend edge in a single transaction.
	AcceptFriendRequest(from, to string) error
	DeleteFriendRequest(from, to string) error

	// Message operations
	InsertRoomMessage(m *models.RoomMessage) error
	RoomHistory(room string, limit int) ([]models.RoomMessage, error)
	InsertDirectMessage(m *models.DirectMessage) error
	GetDirectMessage(id string) (*models.DirectMessage, error)
	MarkDirectMessageDeleted(id, marker string) error
	Conversation(userA, userB string, limit int) ([]models.DirectMessage, error)

	// Room operations
	CreateRoom(room *models.Room) error
	GetRoom(name string) (*models.Room, error)
	Rooms() ([]models.Room, error)
}
