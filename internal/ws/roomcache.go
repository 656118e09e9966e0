package ws

import (
	"sync"

	"github.com/pliu/confab/internal/models"
)

// DefaultRooms are bootstrapped at startup and always exist, with or
// without a database.
func DefaultRooms() []models.Room {
	return []models.Room{
		{Name: "global", Creator: "Anonymous"},
		{Name: "chess", Creator: "Anonymous"},
	}
}

// RoomCache is the in-memory room list. It shadows the database when one
// is reachable and is the sole source of truth in degraded mode.
type RoomCache struct {
	mu    sync.RWMutex
	rooms []models.Room
}

func NewRoomCache(seed []models.Room) *RoomCache {
	return &RoomCache{rooms: append([]models.Room(nil), seed...)}
}

func (rc *RoomCache) Contains(name string) bool {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	for _, r := range rc.rooms {
		if r.Name == name {
			return true
		}
	}
	return false
}

// Add appends the room unless it is already present.
func (rc *RoomCache) Add(room models.Room) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	for _, r := range rc.rooms {
		if r.Name == room.Name {
			return
		}
	}
	rc.rooms = append(rc.rooms, room)
}

// Replace swaps the cached list, keeping any cached room the new list is
// missing. Used to sync from the database.
func (rc *RoomCache) Replace(rooms []models.Room) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	merged := append([]models.Room(nil), rooms...)
	for _, old := range rc.rooms {
		found := false
		for _, r := range merged {
			if r.Name == old.Name {
				found = true
				break
			}
		}
		if !found {
			merged = append(merged, old)
		}
	}
	rc.rooms = merged
}

func (rc *RoomCache) List() []models.Room {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return append([]models.Room(nil), rc.rooms...)
}
