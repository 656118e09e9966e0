package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pliu/confab/internal/chat"
	"github.com/pliu/confab/internal/crypto"
	"github.com/pliu/confab/internal/friends"
	"github.com/pliu/confab/internal/store"
	"github.com/pliu/confab/internal/store/sqlstore"
)

const eventWait = 3 * time.Second

func newTestServer(t *testing.T, st store.Store) *httptest.Server {
	t.Helper()

	cipher := crypto.NewCipher("test-secret")
	server := NewServer(
		st,
		chat.NewService(st, cipher, zerolog.Nop()),
		friends.New(st),
		NewRoomCache(DefaultRooms()),
		zerolog.Nop(),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", server.ServeWS)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func newPersistentServer(t *testing.T) *httptest.Server {
	t.Helper()
	st, err := sqlstore.New("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	return newTestServer(t, st)
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, name string, payload any) {
	t.Helper()
	data, err := newEvent(name, payload)
	if err != nil {
		t.Fatalf("Failed to encode event %s: %v", name, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("Failed to send event %s: %v", name, err)
	}
}

// waitFor reads events until one with the given name arrives.
func waitFor(t *testing.T, conn *websocket.Conn, name string) json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(eventWait))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Waiting for event %s: %v", name, err)
		}
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("Malformed event while waiting for %s: %v", name, err)
		}
		if ev.Name == name {
			return ev.Data
		}
	}
}

// waitForChatLine reads updateChat events until one matches.
func waitForChatLine(t *testing.T, conn *websocket.Conn, sender, substr string) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(eventWait))
	for {
		data := waitFor(t, conn, "updateChat")
		var line chatLine
		if err := json.Unmarshal(data, &line); err != nil {
			t.Fatalf("Malformed chat line: %v", err)
		}
		if line.Sender == sender && strings.Contains(line.Text, substr) {
			return
		}
	}
}

func registerAndLogin(t *testing.T, conn *websocket.Conn, username string) {
	t.Helper()
	sendEvent(t, conn, "register", credentials{Username: username, Password: "password123"})
	waitFor(t, conn, "registerSuccess")

	sendEvent(t, conn, "login", credentials{Username: username, Password: "password123"})
	waitFor(t, conn, "loginSuccess")
	// Drain the login burst; updateRooms is the last event of the flow.
	waitFor(t, conn, "updateRooms")
}

func TestRegisterDuplicateUsername(t *testing.T) {
	ts := newPersistentServer(t)
	conn := dialWS(t, ts)

	sendEvent(t, conn, "register", credentials{Username: "alice", Password: "pw"})
	waitFor(t, conn, "registerSuccess")

	sendEvent(t, conn, "register", credentials{Username: "alice", Password: "pw"})
	data := waitFor(t, conn, "registerError")

	var msg string
	json.Unmarshal(data, &msg)
	if !strings.Contains(msg, "already exists") {
		t.Errorf("Expected duplicate-username error, got %q", msg)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	ts := newPersistentServer(t)
	conn := dialWS(t, ts)

	sendEvent(t, conn, "register", credentials{Username: "alice", Password: "right"})
	waitFor(t, conn, "registerSuccess")

	sendEvent(t, conn, "login", credentials{Username: "alice", Password: "wrong"})
	waitFor(t, conn, "loginError")

	sendEvent(t, conn, "login", credentials{Username: "nobody", Password: "pw"})
	waitFor(t, conn, "loginError")
}

func TestDirectMessageScenario(t *testing.T) {
	ts := newPersistentServer(t)

	alice := dialWS(t, ts)
	bob := dialWS(t, ts)
	registerAndLogin(t, alice, "alice")
	registerAndLogin(t, bob, "bob")

	// alice requests, bob accepts
	sendEvent(t, alice, "sendFriendRequest", "bob")
	waitForChatLine(t, alice, "INFO", "Friend request sent to bob")

	data := waitFor(t, bob, "updateFriendRequests")
	var requests []map[string]any
	json.Unmarshal(data, &requests)
	if len(requests) != 1 || requests[0]["from"] != "alice" {
		t.Fatalf("Expected a pending request from alice, got %v", requests)
	}

	sendEvent(t, bob, "respondToFriendRequest", friendResponse{From: "alice", Response: "accept"})
	waitForChatLine(t, bob, "INFO", "now friends with alice")

	// alice is told and her friend list refreshes
	waitForChatLine(t, alice, "INFO", "accepted your friend request")
	friendData := waitFor(t, alice, "updateFriends")
	var friendList []string
	json.Unmarshal(friendData, &friendList)
	if len(friendList) != 1 || friendList[0] != "bob" {
		t.Fatalf("Expected alice's friends to be [bob], got %v", friendList)
	}

	// alice messages bob while he is online
	sendEvent(t, alice, "sendPrivateMessage", privateMessageRequest{Recipient: "bob", Message: "hello"})

	pmData := waitFor(t, bob, "privateMessage")
	var pm privateMessageEvent
	json.Unmarshal(pmData, &pm)
	if pm.Sender != "alice" || pm.Message != "hello" {
		t.Fatalf("Expected live message 'hello' from alice, got %+v", pm)
	}
	if pm.ID == nil {
		t.Error("Expected a persisted message id on live delivery")
	}

	sentData := waitFor(t, alice, "messageSent")
	var receipt messageSentEvent
	json.Unmarshal(sentData, &receipt)
	if receipt.ID == nil {
		t.Error("Expected delivery receipt to carry the persisted id")
	}

	// history shows the single message
	sendEvent(t, alice, "getChatHistory", "bob")
	histData := waitFor(t, alice, "chatHistory")
	var hist chatHistoryEvent
	json.Unmarshal(histData, &hist)
	if len(hist.Messages) != 1 || hist.Messages[0].Content != "hello" || hist.Messages[0].Sender != "alice" {
		t.Fatalf("Expected history with one 'hello' from alice, got %+v", hist.Messages)
	}
}

func TestDirectMessageRequiresFriendship(t *testing.T) {
	ts := newPersistentServer(t)

	alice := dialWS(t, ts)
	carol := dialWS(t, ts)
	registerAndLogin(t, alice, "alice")
	registerAndLogin(t, carol, "carol")

	sendEvent(t, carol, "sendPrivateMessage", privateMessageRequest{Recipient: "alice", Message: "hi"})
	waitForChatLine(t, carol, "ERROR", "only send messages to friends")

	// No record was persisted
	sendEvent(t, carol, "getChatHistory", "alice")
	histData := waitFor(t, carol, "chatHistory")
	var hist chatHistoryEvent
	json.Unmarshal(histData, &hist)
	if len(hist.Messages) != 0 {
		t.Errorf("Expected empty history, got %d messages", len(hist.Messages))
	}
}

func TestDeleteMessageScenario(t *testing.T) {
	ts := newPersistentServer(t)

	alice := dialWS(t, ts)
	bob := dialWS(t, ts)
	registerAndLogin(t, alice, "alice")
	registerAndLogin(t, bob, "bob")

	sendEvent(t, alice, "sendFriendRequest", "bob")
	waitFor(t, bob, "updateFriendRequests")
	sendEvent(t, bob, "respondToFriendRequest", friendResponse{From: "alice", Response: "accept"})
	waitForChatLine(t, alice, "INFO", "accepted your friend request")

	sendEvent(t, alice, "sendPrivateMessage", privateMessageRequest{Recipient: "bob", Message: "oops"})
	sentData := waitFor(t, alice, "messageSent")
	var receipt messageSentEvent
	json.Unmarshal(sentData, &receipt)
	if receipt.ID == nil {
		t.Fatal("Expected a persisted id")
	}

	// bob cannot delete alice's message
	sendEvent(t, bob, "deleteMessage", deleteRequest{MessageID: *receipt.ID, Recipient: "alice"})
	waitFor(t, bob, "deleteError")

	// alice can; both sides are notified
	sendEvent(t, alice, "deleteMessage", deleteRequest{MessageID: *receipt.ID, Recipient: "bob"})

	delData := waitFor(t, alice, "messageDeleted")
	var del messageDeletedEvent
	json.Unmarshal(delData, &del)
	if del.MessageID != *receipt.ID || !del.Success {
		t.Errorf("Unexpected messageDeleted payload: %+v", del)
	}

	waitFor(t, bob, "messageDeleted")

	// history now shows the deletion marker under the same id
	sendEvent(t, alice, "getChatHistory", "bob")
	histData := waitFor(t, alice, "chatHistory")
	var hist chatHistoryEvent
	json.Unmarshal(histData, &hist)
	if len(hist.Messages) != 1 || hist.Messages[0].Content != chat.DeletedMarker {
		t.Fatalf("Expected deletion marker in history, got %+v", hist.Messages)
	}
	if hist.Messages[0].ID != *receipt.ID {
		t.Error("Soft delete must preserve the message id")
	}
}

func TestRoomBroadcast(t *testing.T) {
	ts := newPersistentServer(t)

	alice := dialWS(t, ts)
	bob := dialWS(t, ts)
	registerAndLogin(t, alice, "alice")
	registerAndLogin(t, bob, "bob")

	// Both are in global after login
	sendEvent(t, alice, "sendMessage", "hello room")
	waitForChatLine(t, bob, "alice", "hello room")
	// The sender sees their own message too
	waitForChatLine(t, alice, "alice", "hello room")
}

func TestChangeRoomReplaysHistory(t *testing.T) {
	ts := newPersistentServer(t)

	alice := dialWS(t, ts)
	registerAndLogin(t, alice, "alice")

	sendEvent(t, alice, "sendMessage", "global chatter")
	waitForChatLine(t, alice, "alice", "global chatter")

	sendEvent(t, alice, "updateRooms", "chess")
	waitForChatLine(t, alice, "INFO", "You have joined chess room")

	// Back to global: the earlier message is replayed
	sendEvent(t, alice, "updateRooms", "global")
	waitForChatLine(t, alice, "INFO", "You have joined global room")
	waitForChatLine(t, alice, "alice", "global chatter")
}

func TestUnauthenticatedOperationsRejected(t *testing.T) {
	ts := newPersistentServer(t)
	conn := dialWS(t, ts)

	sendEvent(t, conn, "sendMessage", "hello")
	sendEvent(t, conn, "sendFriendRequest", "bob")
	waitForChatLine(t, conn, "ERROR", "You must be logged in")
}

func TestDegradedMode(t *testing.T) {
	ts := newTestServer(t, nil)

	mallory := dialWS(t, ts)
	trent := dialWS(t, ts)

	// Quick-join is the only way in without a database
	sendEvent(t, mallory, "createUser", "mallory")
	waitFor(t, mallory, "setPrivateKey")
	waitFor(t, mallory, "updateRooms")

	sendEvent(t, trent, "createUser", "trent")
	waitFor(t, trent, "setPrivateKey")
	waitFor(t, trent, "updateRooms")

	// Password login is unavailable
	other := dialWS(t, ts)
	sendEvent(t, other, "login", credentials{Username: "mallory", Password: "pw"})
	waitFor(t, other, "loginError")

	// Room creation works via the in-memory cache and is broadcast
	sendEvent(t, mallory, "createRoom", "test")
	for _, conn := range []*websocket.Conn{mallory, trent} {
		data := waitFor(t, conn, "updateRooms")
		var list roomListEvent
		json.Unmarshal(data, &list)
		found := false
		for _, r := range list.Rooms {
			if r.Name == "test" {
				found = true
			}
		}
		if !found {
			t.Error("Expected room 'test' in the broadcast room list")
		}
	}

	// Room chat stays live, just ephemeral
	sendEvent(t, mallory, "sendMessage", "anyone here?")
	waitForChatLine(t, trent, "mallory", "anyone here?")

	// Friend-gated operations fail explicitly
	sendEvent(t, mallory, "sendFriendRequest", "trent")
	waitForChatLine(t, mallory, "ERROR", "Database connection not available")

	sendEvent(t, mallory, "sendPrivateMessage", privateMessageRequest{Recipient: "trent", Message: "psst"})
	waitForChatLine(t, mallory, "ERROR", "Database connection not available")
}
