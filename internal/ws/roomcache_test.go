package ws

import (
	"testing"

	"github.com/pliu/confab/internal/models"
)

func TestRoomCache(t *testing.T) {
	rc := NewRoomCache(DefaultRooms())

	if !rc.Contains("global") || !rc.Contains("chess") {
		t.Error("Expected default rooms to be present")
	}

	rc.Add(models.Room{Name: "go", Creator: "alice"})
	if !rc.Contains("go") {
		t.Error("Expected added room to be present")
	}

	// Adding twice does not duplicate
	rc.Add(models.Room{Name: "go", Creator: "bob"})
	if len(rc.List()) != 3 {
		t.Errorf("Expected 3 rooms, got %d", len(rc.List()))
	}
}

func TestRoomCacheReplaceKeepsCacheOnlyRooms(t *testing.T) {
	rc := NewRoomCache(DefaultRooms())
	rc.Add(models.Room{Name: "ephemeral", Creator: "alice"})

	// Sync from a database that never saw the cache-only room
	rc.Replace([]models.Room{
		{Name: "global", Creator: "Anonymous"},
		{Name: "chess", Creator: "Anonymous"},
	})

	if !rc.Contains("ephemeral") {
		t.Error("Replace should keep rooms the database is missing")
	}
}
