package ws

import (
	"encoding/json"

	"github.com/pliu/confab/internal/chat"
	"github.com/pliu/confab/internal/models"
)

// Event is the wire envelope, both directions: an event name plus a
// structured payload.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Inbound payloads.

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type friendResponse struct {
	From     string `json:"from"`
	Response string `json:"response"` // "accept" or "reject"
}

type privateMessageRequest struct {
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
}

type deleteRequest struct {
	MessageID string `json:"messageId"`
	Recipient string `json:"recipient"`
}

// Outbound payloads.

type loginSuccess struct {
	Username   string `json:"username"`
	PrivateKey string `json:"privateKey"`
}

// chatLine carries both room broadcasts and system notices: sender is a
// username, "INFO", or "ERROR".
type chatLine struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

type privateMessageEvent struct {
	Sender  string  `json:"sender"`
	Message string  `json:"message"`
	ID      *string `json:"id"`
}

type messageSentEvent struct {
	Recipient string  `json:"recipient"`
	Message   string  `json:"message"`
	Timestamp int64   `json:"timestamp"`
	ID        *string `json:"id"`
}

type messageDeletedEvent struct {
	MessageID string `json:"messageId"`
	Sender    string `json:"sender,omitempty"`
	Success   bool   `json:"success"`
}

type deleteErrorEvent struct {
	Message string `json:"message"`
}

type chatHistoryEvent struct {
	Messages []chat.Message `json:"messages"`
}

type roomListEvent struct {
	Rooms   []models.Room `json:"rooms"`
	Current *string       `json:"current"`
}

func newEvent(name string, payload any) ([]byte, error) {
	ev := Event{Name: name}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		ev.Data = data
	}
	return json.Marshal(ev)
}

// idOrNull maps the empty id produced in degraded mode to JSON null.
func idOrNull(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
