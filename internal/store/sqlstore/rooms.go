package sqlstore

import (
	"database/sql"
	"errors"
	"time"

	"github.com/pliu/confab/internal/models"
	"github.com/pliu/confab/internal/store"
)

func (s *SQLStore) CreateRoom(room *models.Room) error {
	var exists bool
	query := s.rebind("SELECT EXISTS(SELECT 1 FROM rooms WHERE name = ?)")
	if err := s.db.QueryRow(query, room.Name).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return store.ErrDuplicate
	}

	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}

	query = s.rebind("INSERT INTO rooms (name, creator, created_at) VALUES (?, ?, ?)")
	_, err := s.db.Exec(query, room.Name, room.Creator, room.CreatedAt)
	return err
}

func (s *SQLStore) GetRoom(name string) (*models.Room, error) {
	var room models.Room
	query := s.rebind("SELECT name, creator, created_at FROM rooms WHERE name = ?")

	err := s.db.QueryRow(query, name).Scan(&room.Name, &room.Creator, &room.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *SQLStore) Rooms() ([]models.Room, error) {
	rows, err := s.db.Query("SELECT name, creator, created_at FROM rooms ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		var room models.Room
		if err := rows.Scan(&room.Name, &room.Creator, &room.CreatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}
