package sqlstore

import (
	"time"

	"github.com/pliu/confab/internal/models"
	"github.com/pliu/confab/internal/store"
)

func (s *SQLStore) Friends(username string) ([]string, error) {
	query := s.rebind("SELECT friend FROM friends WHERE username = ? ORDER BY friend")
	rows, err := s.db.Query(query, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var friends []string
	for rows.Next() {
		var friend string
		if err := rows.Scan(&friend); err != nil {
			return nil, err
		}
		friends = append(friends, friend)
	}
	return friends, rows.Err()
}

// FriendRequests returns the pending requests addressed to username.
func (s *SQLStore) FriendRequests(username string) ([]models.FriendRequest, error) {
	query := s.rebind("SELECT from_user, to_user, status, created_at FROM friend_requests WHERE to_user = ? ORDER BY created_at")
	rows, err := s.db.Query(query, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []models.FriendRequest
	for rows.Next() {
		var req models.FriendRequest
		if err := rows.Scan(&req.From, &req.To, &req.Status, &req.CreatedAt); err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

func (s *SQLStore) HasFriendRequest(from, to string) (bool, error) {
	var exists bool
	query := s.rebind("SELECT EXISTS(SELECT 1 FROM friend_requests WHERE from_user = ? AND to_user = ?)")
	err := s.db.QueryRow(query, from, to).Scan(&exists)
	return exists, err
}

func (s *SQLStore) AreFriends(a, b string) (bool, error) {
	var exists bool
	query := s.rebind("SELECT EXISTS(SELECT 1 FROM friends WHERE username = ? AND friend = ?)")
	err := s.db.QueryRow(query, a, b).Scan(&exists)
	return exists, err
}

func (s *SQLStore) InsertFriendRequest(from, to string, at time.Time) error {
	query := s.rebind("INSERT INTO friend_requests (from_user, to_user, status, created_at) VALUES (?, ?, 'pending', ?)")
	_, err := s.db.Exec(query, from, to, at)
	return err
}

// AcceptFriendRequest removes the pending request and creates both sides
// of the friendship. All three writes commit together so concurrent
// readers never observe a one-sided friendship.
func (s *SQLStore) AcceptFriendRequest(from, to string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := s.rebind("DELETE FROM friend_requests WHERE from_user = ? AND to_user = ?")
	result, err := tx.Exec(query, from, to)
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

	query = s.rebind("INSERT INTO friends (username, friend) VALUES (?, ?)")
	if _, err := tx.Exec(query, from, to); err != nil {
		return err
	}
	if _, err := tx.Exec(query, to, from); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLStore) DeleteFriendRequest(from, to string) error {
	query := s.rebind("DELETE FROM friend_requests WHERE from_user = ? AND to_user = ?")
	result, err := s.db.Exec(query, from, to)
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
