package sqlstore

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/pliu/confab/internal/models"
	"github.com/pliu/confab/internal/store"
)

func insertTestDM(t *testing.T, id, sender, recipient, plaintext string, at time.Time) {
	t.Helper()
	err := testStore.InsertDirectMessage(&models.DirectMessage{
		ID:        id,
		Sender:    sender,
		Recipient: recipient,
		Content:   "ciphertext-" + id,
		Plaintext: plaintext,
		Encrypted: true,
		Timestamp: at,
	})
	if err != nil {
		t.Fatalf("InsertDirectMessage failed: %v", err)
	}
}

func TestConversationOrderingAndLimit(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		sender, recipient := "alice", "bob"
		if i%2 == 1 {
			sender, recipient = "bob", "alice"
		}
		insertTestDM(t, fmt.Sprintf("msg-%d", i), sender, recipient, fmt.Sprintf("text %d", i), base.Add(time.Duration(i)*time.Minute))
	}

	// Unrelated conversation must not leak in
	insertTestDM(t, "other", "alice", "carol", "hi carol", base)

	messages, err := testStore.Conversation("alice", "bob", 3)
	if err != nil {
		t.Fatalf("Conversation failed: %v", err)
	}

	if len(messages) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(messages))
	}

	// Most recent three, oldest first
	want := []string{"msg-2", "msg-3", "msg-4"}
	for i, m := range messages {
		if m.ID != want[i] {
			t.Errorf("Position %d: expected %s, got %s", i, want[i], m.ID)
		}
	}
}

func TestMarkDirectMessageDeleted(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	insertTestDM(t, "msg-1", "alice", "bob", "hello", at)

	if err := testStore.MarkDirectMessageDeleted("msg-1", "[Message deleted]"); err != nil {
		t.Fatalf("MarkDirectMessageDeleted failed: %v", err)
	}

	m, err := testStore.GetDirectMessage("msg-1")
	if err != nil {
		t.Fatalf("GetDirectMessage failed: %v", err)
	}

	if m.Content != "[Message deleted]" || m.Plaintext != "[Message deleted]" {
		t.Errorf("Expected content overwritten with marker, got %q / %q", m.Content, m.Plaintext)
	}
	if m.Sender != "alice" || m.Recipient != "bob" || !m.Timestamp.Equal(at) {
		t.Error("Soft delete must preserve sender, recipient and timestamp")
	}

	err = testStore.MarkDirectMessageDeleted("unknown", "[Message deleted]")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestRoomHistoryNewestFirst(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		err := testStore.InsertRoomMessage(&models.RoomMessage{
			ID:        fmt.Sprintf("room-msg-%d", i),
			Sender:    "alice",
			Room:      "global",
			Content:   "ciphertext",
			Plaintext: fmt.Sprintf("line %d", i),
			Encrypted: true,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("InsertRoomMessage failed: %v", err)
		}
	}

	messages, err := testStore.RoomHistory("global", 3)
	if err != nil {
		t.Fatalf("RoomHistory failed: %v", err)
	}

	if len(messages) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(messages))
	}
	if messages[0].ID != "room-msg-3" {
		t.Errorf("Expected newest message first, got %s", messages[0].ID)
	}
}
