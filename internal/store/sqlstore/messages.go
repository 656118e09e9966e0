package sqlstore

import (
	"database/sql"
	"errors"
	"time"

	"github.com/pliu/confab/internal/models"
	"github.com/pliu/confab/internal/store"
)

func (s *SQLStore) InsertRoomMessage(m *models.RoomMessage) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	query := s.rebind("INSERT INTO room_messages (id, sender, room, content, plaintext, encrypted, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)")
	_, err := s.db.Exec(query, m.ID, m.Sender, m.Room, m.Content, m.Plaintext, m.Encrypted, m.Timestamp)
	return err
}

// RoomHistory returns the most recent messages for a room, newest first.
// Callers that display chronologically must reverse.
func (s *SQLStore) RoomHistory(room string, limit int) ([]models.RoomMessage, error) {
	query := s.rebind(`
		SELECT id, sender, room, content, plaintext, encrypted, timestamp
		FROM room_messages
		WHERE room = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`)
	rows, err := s.db.Query(query, room, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.RoomMessage
	for rows.Next() {
		var m models.RoomMessage
		if err := rows.Scan(&m.ID, &m.Sender, &m.Room, &m.Content, &m.Plaintext, &m.Encrypted, &m.Timestamp); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *SQLStore) InsertDirectMessage(m *models.DirectMessage) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	query := s.rebind("INSERT INTO direct_messages (id, sender, recipient, content, plaintext, encrypted, read, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?)")
	_, err := s.db.Exec(query, m.ID, m.Sender, m.Recipient, m.Content, m.Plaintext, m.Encrypted, m.Read, m.Timestamp)
	return err
}

func (s *SQLStore) GetDirectMessage(id string) (*models.DirectMessage, error) {
	var m models.DirectMessage
	query := s.rebind("SELECT id, sender, recipient, content, plaintext, encrypted, read, timestamp FROM direct_messages WHERE id = ?")

	err := s.db.QueryRow(query, id).Scan(&m.ID, &m.Sender, &m.Recipient, &m.Content, &m.Plaintext, &m.Encrypted, &m.Read, &m.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// MarkDirectMessageDeleted overwrites content and plaintext with the
// deletion marker. The record itself stays: id, sender, recipient and
// timestamp are preserved.
func (s *SQLStore) MarkDirectMessageDeleted(id, marker string) error {
	query := s.rebind("UPDATE direct_messages SET content = ?, plaintext = ? WHERE id = ?")
	result, err := s.db.Exec(query, marker, marker, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Conversation returns the most recent messages exchanged between two
// users in either direction, oldest first.
func (s *SQLStore) Conversation(userA, userB string, limit int) ([]models.DirectMessage, error) {
	query := s.rebind(`
		SELECT id, sender, recipient, content, plaintext, encrypted, read, timestamp FROM (
			SELECT id, sender, recipient, content, plaintext, encrypted, read, timestamp
			FROM direct_messages
			WHERE (sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?)
			ORDER BY timestamp DESC
			LIMIT ?
		) recent
		ORDER BY timestamp ASC
	`)
	rows, err := s.db.Query(query, userA, userB, userB, userA, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.DirectMessage
	for rows.Next() {
		var m models.DirectMessage
		if err := rows.Scan(&m.ID, &m.Sender, &m.Recipient, &m.Content, &m.Plaintext, &m.Encrypted, &m.Read, &m.Timestamp); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
