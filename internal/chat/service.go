// Package chat owns message persistence: encrypt-then-store on write,
// mirror-or-decrypt on read, soft delete, and the degraded mode used when
// the persistence layer is unreachable.
package chat

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pliu/confab/internal/crypto"
	"github.com/pliu/confab/internal/models"
	"github.com/pliu/confab/internal/store"
)

// DeletedMarker replaces both ciphertext and mirror on soft delete.
const DeletedMarker = "[Message deleted]"

const (
	// ConversationLimit caps a direct-message history fetch.
	ConversationLimit = 50
	// RoomHistoryLimit caps the replay sent on joining a room.
	RoomHistoryLimit = 20
)

var (
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
	ErrNotFound               = errors.New("message not found")
	ErrForbidden              = errors.New("not the sender of this message")
)

// Message is a conversation entry prepared for display: content is the
// plaintext mirror, the decrypted text, or a sender-attributed
// placeholder when neither is usable.
type Message struct {
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	ID        string    `json:"id"`
}

// Service wraps the store with the encryption pipeline. A nil store puts
// the service in degraded mode: writes become no-ops, reads come back
// empty, and soft delete fails with ErrPersistenceUnavailable.
type Service struct {
	store  store.Store
	cipher *crypto.Cipher
	logger zerolog.Logger
}

func NewService(s store.Store, cipher *crypto.Cipher, logger zerolog.Logger) *Service {
	return &Service{store: s, cipher: cipher, logger: logger}
}

// Available reports whether the persistence layer is reachable.
func (s *Service) Available() bool {
	return s.store != nil
}

// RoomKey is the pseudo-recipient used to scope room message encryption.
func RoomKey(room string) string {
	return "room_" + room
}

// AppendRoomMessage encrypts and persists a room message. In degraded
// mode it returns the message unpersisted (the broadcast still happens,
// the history is simply ephemeral).
func (s *Service) AppendRoomMessage(sender, room, text, privateKey string) (*models.RoomMessage, error) {
	m := &models.RoomMessage{
		Sender:    sender,
		Room:      room,
		Content:   s.cipher.Encrypt(text, privateKey, sender, RoomKey(room)),
		Plaintext: text,
		Encrypted: true,
		Timestamp: time.Now().UTC(),
	}

	if s.store == nil {
		return m, nil
	}

	m.ID = uuid.NewString()
	if err := s.store.InsertRoomMessage(m); err != nil {
		return nil, err
	}
	return m, nil
}

// AppendDirectMessage encrypts with the conversation key and persists.
// In degraded mode the returned message has an empty ID, which callers
// surface as a null delivery-receipt id.
func (s *Service) AppendDirectMessage(sender, recipient, text, privateKey string) (*models.DirectMessage, error) {
	m := &models.DirectMessage{
		Sender:    sender,
		Recipient: recipient,
		Content:   s.cipher.Encrypt(text, privateKey, sender, recipient),
		Plaintext: text,
		Encrypted: true,
		Timestamp: time.Now().UTC(),
	}

	if s.store == nil {
		return m, nil
	}

	m.ID = uuid.NewString()
	if err := s.store.InsertDirectMessage(m); err != nil {
		return nil, err
	}
	return m, nil
}

// SoftDelete overwrites a direct message's content and mirror with the
// deletion marker. Only the original sender may delete.
func (s *Service) SoftDelete(id, requester string) (*models.DirectMessage, error) {
	if s.store == nil {
		return nil, ErrPersistenceUnavailable
	}

	m, err := s.store.GetDirectMessage(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if m.Sender != requester {
		return nil, ErrForbidden
	}

	if err := s.store.MarkDirectMessageDeleted(id, DeletedMarker); err != nil {
		return nil, err
	}
	m.Content = DeletedMarker
	m.Plaintext = DeletedMarker
	return m, nil
}

// Conversation returns the direct-message history between viewer and
// other, most recent ConversationLimit entries, oldest first. The stored
// plaintext mirror is preferred; decryption is only attempted for legacy
// records without one, and any sentinel result becomes a placeholder.
func (s *Service) Conversation(viewer, other, viewerKey string) ([]Message, error) {
	if s.store == nil {
		return nil, nil
	}

	records, err := s.store.Conversation(viewer, other, ConversationLimit)
	if err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(records))
	for _, m := range records {
		messages = append(messages, Message{
			Sender:    m.Sender,
			Content:   s.renderDirect(&m, viewerKey),
			Timestamp: m.Timestamp,
			ID:        m.ID,
		})
	}
	return messages, nil
}

// RoomHistory returns the replay for a room, oldest first. The store
// hands back newest-first; the reversal happens here.
func (s *Service) RoomHistory(room, viewerKey string) ([]Message, error) {
	if s.store == nil {
		return nil, nil
	}

	records, err := s.store.RoomHistory(room, RoomHistoryLimit)
	if err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		m := records[i]
		messages = append(messages, Message{
			Sender:    m.Sender,
			Content:   s.renderRoom(&m, viewerKey),
			Timestamp: m.Timestamp,
			ID:        m.ID,
		})
	}
	return messages, nil
}

func (s *Service) renderDirect(m *models.DirectMessage, viewerKey string) string {
	if m.Plaintext != "" {
		return m.Plaintext
	}
	if !m.Encrypted {
		return m.Content
	}

	content := s.cipher.Decrypt(m.Content, viewerKey, m.Sender, m.Recipient)
	if content == "" || crypto.IsSentinel(content) {
		s.logger.Debug().Str("id", m.ID).Msg("direct message undecryptable, using placeholder")
		return placeholder(m.Sender)
	}
	return content
}

func (s *Service) renderRoom(m *models.RoomMessage, viewerKey string) string {
	if m.Plaintext != "" {
		return m.Plaintext
	}
	if !m.Encrypted {
		return m.Content
	}

	content := s.cipher.Decrypt(m.Content, viewerKey, m.Sender, RoomKey(m.Room))
	if content == "" || crypto.IsSentinel(content) {
		s.logger.Debug().Str("id", m.ID).Msg("room message undecryptable, using placeholder")
		return placeholder(m.Sender)
	}
	return content
}

func placeholder(sender string) string {
	return fmt.Sprintf("[Message from %s]", sender)
}
