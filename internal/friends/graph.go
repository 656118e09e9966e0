// Package friends implements the friend-graph state machine: pending
// requests, accept/reject transitions, and the authorization gate that
// direct messaging consults.
package friends

import (
	"errors"
	"time"

	"github.com/pliu/confab/internal/models"
	"github.com/pliu/confab/internal/store"
)

var (
	ErrAlreadyFriends   = errors.New("already friends")
	ErrDuplicateRequest = errors.New("friend request already pending")
	ErrUnknownRecipient = errors.New("recipient does not exist")
	ErrNoSuchRequest    = errors.New("no pending friend request")
	ErrNotFriends       = errors.New("users are not friends")
)

type Graph struct {
	store store.Store
}

func New(s store.Store) *Graph {
	return &Graph{store: s}
}

// SendRequest creates a pending request from -> to. At most one request
// may be outstanding per pair, in either direction, and no request may
// coexist with an existing friendship.
func (g *Graph) SendRequest(from, to string) error {
	if _, err := g.store.GetUserByUsername(to); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUnknownRecipient
		}
		return err
	}

	friends, err := g.store.AreFriends(from, to)
	if err != nil {
		return err
	}
	if friends {
		return ErrAlreadyFriends
	}

	for _, pair := range [][2]string{{from, to}, {to, from}} {
		pending, err := g.store.HasFriendRequest(pair[0], pair[1])
		if err != nil {
			return err
		}
		if pending {
			return ErrDuplicateRequest
		}
	}

	return g.store.InsertFriendRequest(from, to, time.Now().UTC())
}

// Respond resolves the pending request from -> to. Accepting removes the
// request and creates the symmetric friend edge atomically; rejecting
// removes the request only.
func (g *Graph) Respond(to, from string, accept bool) error {
	pending, err := g.store.HasFriendRequest(from, to)
	if err != nil {
		return err
	}
	if !pending {
		return ErrNoSuchRequest
	}

	if accept {
		err = g.store.AcceptFriendRequest(from, to)
	} else {
		err = g.store.DeleteFriendRequest(from, to)
	}
	if errors.Is(err, store.ErrNotFound) {
		return ErrNoSuchRequest
	}
	return err
}

// AreFriends is the authorization gate for direct messaging.
func (g *Graph) AreFriends(a, b string) (bool, error) {
	return g.store.AreFriends(a, b)
}

func (g *Graph) Friends(username string) ([]string, error) {
	return g.store.Friends(username)
}

func (g *Graph) PendingRequests(username string) ([]models.FriendRequest, error) {
	return g.store.FriendRequests(username)
}
