package sqlstore

import (
	"database/sql"
	"errors"
	"time"

	"github.com/pliu/confab/internal/models"
	"github.com/pliu/confab/internal/store"
)

func (s *SQLStore) CreateUser(user *models.User) error {
	var exists bool
	query := s.rebind("SELECT EXISTS(SELECT 1 FROM users WHERE username = ?)")
	if err := s.db.QueryRow(query, user.Username).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return store.ErrDuplicate
	}

	if user.LastActive.IsZero() {
		user.LastActive = time.Now().UTC()
	}

	query = s.rebind("INSERT INTO users (username, password, private_key, last_active) VALUES (?, ?, ?, ?)")
	_, err := s.db.Exec(query, user.Username, user.Password, user.PrivateKey, user.LastActive)
	return err
}

func (s *SQLStore) GetUserByUsername(username string) (*models.User, error) {
	var user models.User
	query := s.rebind("SELECT id, username, password, private_key, last_active FROM users WHERE username = ?")

	err := s.db.QueryRow(query, username).Scan(&user.ID, &user.Username, &user.Password, &user.PrivateKey, &user.LastActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SearchUsers returns usernames containing the query, case-insensitive.
func (s *SQLStore) SearchUsers(queryStr string) ([]string, error) {
	query := s.rebind("SELECT username FROM users WHERE LOWER(username) LIKE LOWER(?) ORDER BY username")
	rows, err := s.db.Query(query, "%"+queryStr+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var usernames []string
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, err
		}
		usernames = append(usernames, username)
	}
	return usernames, rows.Err()
}

func (s *SQLStore) TouchLastActive(username string, at time.Time) error {
	query := s.rebind("UPDATE users SET last_active = ? WHERE username = ?")
	_, err := s.db.Exec(query, at, username)
	return err
}

func (s *SQLStore) ActiveUsernames(since time.Time) ([]string, error) {
	query := s.rebind("SELECT username FROM users WHERE last_active >= ? ORDER BY username")
	rows, err := s.db.Query(query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var usernames []string
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, err
		}
		usernames = append(usernames, username)
	}
	return usernames, rows.Err()
}
