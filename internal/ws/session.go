package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/pliu/confab/internal/chat"
	"github.com/pliu/confab/internal/crypto"
	"github.com/pliu/confab/internal/friends"
	"github.com/pliu/confab/internal/models"
	"github.com/pliu/confab/internal/store"
)

const (
	defaultRoom = "global"

	// presenceWindow is the trailing window a persisted last-active
	// timestamp must fall into to count as online.
	presenceWindow = time.Hour

	persistenceUnavailableMsg = "Database connection not available"
)

// Server wires the hub, friend graph, conversation service and store
// behind the per-connection event protocol. A nil store means degraded
// mode: room chat stays live and ephemeral, friend-gated operations fail.
type Server struct {
	hub     *Hub
	store   store.Store
	chat    *chat.Service
	friends *friends.Graph
	rooms   *RoomCache
	logger  zerolog.Logger

	upgrader websocket.Upgrader
}

func NewServer(s store.Store, chatSvc *chat.Service, graph *friends.Graph, rooms *RoomCache, logger zerolog.Logger) *Server {
	return &Server{
		hub:     NewHub(),
		store:   s,
		chat:    chatSvc,
		friends: graph,
		rooms:   rooms,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Hub exposes the presence registry, mainly for tests.
func (s *Server) Hub() *Hub {
	return s.hub
}

// ServeWS upgrades an HTTP request and starts the connection pumps.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := newClient(s, conn)
	s.hub.Add(c)
	s.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("new connection")

	go c.writePump()
	go c.readPump()
}

// handleEvent dispatches one inbound event. Every operation is trapped:
// a failure becomes an error event on this connection and never takes
// down the process or other sessions.
func (s *Server) handleEvent(c *Client, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Str("event", ev.Name).Msg("recovered from handler panic")
			c.emit("updateChat", chatLine{Sender: "ERROR", Text: "Internal error. Please try again."})
		}
	}()

	switch ev.Name {
	case "register":
		s.handleRegister(c, ev.Data)
	case "login":
		s.handleLogin(c, ev.Data)
	case "createUser":
		s.handleCreateUser(c, ev.Data)
	case "logout":
		s.handleLogout(c)
	case "searchUsers":
		s.handleSearchUsers(c, ev.Data)
	case "sendFriendRequest":
		s.handleSendFriendRequest(c, ev.Data)
	case "respondToFriendRequest":
		s.handleRespondToFriendRequest(c, ev.Data)
	case "sendPrivateMessage":
		s.handleSendPrivateMessage(c, ev.Data)
	case "getChatHistory":
		s.handleGetChatHistory(c, ev.Data)
	case "deleteMessage":
		s.handleDeleteMessage(c, ev.Data)
	case "sendMessage":
		s.handleSendRoomMessage(c, ev.Data)
	case "createRoom":
		s.handleCreateRoom(c, ev.Data)
	case "updateRooms":
		s.handleChangeRoom(c, ev.Data)
	default:
		c.logger.Debug().Str("event", ev.Name).Msg("unknown event")
	}
}

func (s *Server) handleRegister(c *Client, data json.RawMessage) {
	var creds credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		c.emit("registerError", "Invalid registration payload")
		return
	}

	if s.store == nil {
		c.emit("registerError", persistenceUnavailableMsg)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		c.emit("registerError", "Registration failed. Please try again.")
		return
	}

	privateKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		c.emit("registerError", "Registration failed. Please try again.")
		return
	}

	err = s.store.CreateUser(&models.User{
		Username:   creds.Username,
		Password:   string(hash),
		PrivateKey: privateKey,
	})
	if errors.Is(err, store.ErrDuplicate) {
		c.emit("registerError", "Username already exists")
		return
	}
	if err != nil {
		c.logger.Error().Err(err).Msg("register failed")
		c.emit("registerError", "Registration failed. Please try again.")
		return
	}

	s.logger.Info().Str("username", creds.Username).Msg("user registered")
	c.emit("registerSuccess", nil)
}

func (s *Server) handleLogin(c *Client, data json.RawMessage) {
	var creds credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		c.emit("loginError", "Invalid login payload")
		return
	}

	if s.store == nil {
		c.emit("loginError", persistenceUnavailableMsg)
		return
	}

	user, err := s.store.GetUserByUsername(creds.Username)
	if errors.Is(err, store.ErrNotFound) {
		c.emit("loginError", "Invalid username or password")
		return
	}
	if err != nil {
		c.logger.Error().Err(err).Msg("login lookup failed")
		c.emit("loginError", "Login failed. Please try again.")
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(creds.Password)) != nil {
		c.emit("loginError", "Invalid username or password")
		return
	}

	if err := s.store.TouchLastActive(user.Username, time.Now().UTC()); err != nil {
		c.logger.Warn().Err(err).Msg("failed to update last active")
	}

	c.beginSession(user.Username, user.PrivateKey, defaultRoom)
	s.hub.Register(user.Username, c)

	s.logger.Info().Str("username", user.Username).Msg("user logged in")

	c.emit("loginSuccess", loginSuccess{Username: user.Username, PrivateKey: user.PrivateKey})
	c.emit("updateChat", chatLine{Sender: "INFO", Text: "Welcome back! You have joined global room"})

	s.pushFriendLists(c, user.Username)
	c.emit("updateUsers", s.activeUsers())
	s.emitRoomList(c)
}

// handleCreateUser is the passwordless quick-join path. It is also the
// only way in while persistence is down: the session gets a temporary
// private key and room chat works ephemerally.
func (s *Server) handleCreateUser(c *Client, data json.RawMessage) {
	var username string
	if err := json.Unmarshal(data, &username); err != nil || username == "" {
		c.emit("updateChat", chatLine{Sender: "ERROR", Text: "Error creating user. Please try again."})
		return
	}

	privateKey, err := s.lookupOrCreateGuest(username)
	if err != nil {
		c.logger.Warn().Err(err).Msg("guest persistence failed, issuing temporary key")
		privateKey, err = crypto.GeneratePrivateKey()
		if err != nil {
			c.emit("updateChat", chatLine{Sender: "ERROR", Text: "Error creating user. Please try again."})
			return
		}
	}

	c.beginSession(username, privateKey, defaultRoom)
	s.hub.Register(username, c)

	s.logger.Info().Str("username", username).Msg("user joined")

	c.emit("setPrivateKey", privateKey)
	c.emit("updateChat", chatLine{Sender: "INFO", Text: "You have joined global room"})
	if notice, err := newEvent("updateChat", chatLine{Sender: "INFO", Text: username + " has joined global room"}); err == nil {
		s.hub.BroadcastRoom(defaultRoom, notice, c)
	}

	c.emit("updateUsers", s.activeUsers())
	s.emitRoomList(c)
}

// lookupOrCreateGuest returns the persisted private key for username,
// creating the account with a default credential if it does not exist.
func (s *Server) lookupOrCreateGuest(username string) (string, error) {
	if s.store == nil {
		return crypto.GeneratePrivateKey()
	}

	user, err := s.store.GetUserByUsername(username)
	if err == nil {
		if err := s.store.TouchLastActive(username, time.Now().UTC()); err != nil {
			s.logger.Warn().Err(err).Msg("failed to update last active")
		}
		return user.PrivateKey, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("defaultPassword"), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	privateKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		return "", err
	}

	err = s.store.CreateUser(&models.User{
		Username:   username,
		Password:   string(hash),
		PrivateKey: privateKey,
	})
	if err != nil {
		return "", err
	}
	return privateKey, nil
}

// handleLogout ends the session. A no-op on an unauthenticated session.
func (s *Server) handleLogout(c *Client) {
	username, _, ok := c.identity()
	if !ok {
		return
	}

	if s.store != nil {
		if err := s.store.TouchLastActive(username, time.Now().UTC()); err != nil {
			c.logger.Warn().Err(err).Msg("failed to update last active")
		}
	}

	s.hub.Unregister(username, c)
	c.endSession()

	s.logger.Info().Str("username", username).Msg("user logged out")
	s.broadcastPresence()
}

// handleDisconnect runs when the read loop exits, whether the peer closed
// cleanly or the connection dropped mid-operation.
func (s *Server) handleDisconnect(c *Client) {
	username, _, ok := c.identity()
	s.hub.Remove(c)
	if !ok {
		return
	}

	if s.store != nil {
		if err := s.store.TouchLastActive(username, time.Now().UTC()); err != nil {
			c.logger.Warn().Err(err).Msg("failed to update last active")
		}
	}

	s.logger.Info().Str("username", username).Msg("user disconnected")

	s.broadcastPresence()
	if data, err := newEvent("updateChat", chatLine{Sender: "INFO", Text: username + " has disconnected"}); err == nil {
		s.hub.BroadcastExcept(data, c)
	}
}

func (s *Server) handleSearchUsers(c *Client, data json.RawMessage) {
	if !s.requireAuth(c) {
		return
	}

	var query string
	if err := json.Unmarshal(data, &query); err != nil {
		c.emit("searchResults", []string{})
		return
	}

	if s.store == nil {
		c.emit("searchResults", []string{})
		return
	}

	usernames, err := s.store.SearchUsers(query)
	if err != nil {
		c.logger.Error().Err(err).Msg("user search failed")
		c.emit("searchResults", []string{})
		return
	}
	if usernames == nil {
		usernames = []string{}
	}
	c.emit("searchResults", usernames)
}

func (s *Server) handleSendFriendRequest(c *Client, data json.RawMessage) {
	username, _, ok := c.identity()
	if !ok {
		s.notLoggedIn(c)
		return
	}

	var recipient string
	if err := json.Unmarshal(data, &recipient); err != nil || recipient == "" {
		c.emit("updateChat", chatLine{Sender: "ERROR", Text: "Invalid friend request"})
		return
	}

	if s.store == nil {
		c.emit("updateChat", chatLine{Sender: "ERROR", Text: persistenceUnavailableMsg})
		return
	}

	switch err := s.friends.SendRequest(username, recipient); {
	case errors.Is(err, friends.ErrUnknownRecipient):
		c.emit("updateChat", chatLine{Sender: "ERROR", Text: "User not found"})
	case errors.Is(err, friends.ErrAlreadyFriends):
		c.emit("updateChat", chatLine{Sender: "ERROR", Text: "You are already friends with this user"})
	case errors.Is(err, friends.ErrDuplicateRequest):
		c.emit("updateChat", chatLine{Sender: "ERROR", Text: "Friend request already sent"})
	case err != nil:
		c.logger.Error().Err(err).Msg("friend request failed")
		c.emit("updateChat", chatLine{Sender: "ERROR", Text: "Failed to send friend request"})
	default:
		c.emit("updateChat", chatLine{Sender: "INFO", Text: "Friend request sent to " + recipient})
		if other, online := s.hub.Lookup(recipient); online {
			s.pushFriendLists(other, recipient)
			other.emit("updateChat", chatLine{Sender: "INFO", Text: username + " sent you a friend request"})
		}
	}
}

func (s *Server) handleRespondToFriendRequest(c *Client, data json.RawMessage) {
	username, _, ok := c.identity()
	if !ok {
		s.notLoggedIn(c)
		return
	}

	var resp friendResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		c.emit("updateChat", chatLine{Sender: "ERROR", Text: "Invalid response payload"})
		return
	}

	if s.store == nil {
		c.emit("updateChat", chatLine{Sender: "ERROR", Text: persistenceUnavailableMsg})
		return
	}

	accept := resp.Response == "accept"
	switch err := s.friends.Respond(username, resp.From, accept); {
	case errors.Is(err, friends.ErrNoSuchRequest):
		c.emit("updateChat", chatLine{Sender: "ERROR", Text: "No pending friend request from " + resp.From})
	case err != nil:
		c.logger.Error().Err(err).Msg("friend response failed")
		c.emit("updateChat", chatLine{Sender: "ERROR", Text: "Failed to process friend request"})
	case accept:
		c.emit("updateChat", chatLine{Sender: "INFO", Text: "You are now friends with " + resp.From})
		s.pushFriendLists(c, username)
		if other, online := s.hub.Lookup(resp.From); online {
			other.emit("updateChat", chatLine{Sender: "INFO", Text: username + " accepted your friend request"})
			s.pushFriendLists(other, resp.From)
		}
	default:
		c.emit("updateChat", chatLine{Sender: "INFO", Text: "Friend request from " + resp.From + " rejected"})
		s.pushFriendLists(c, username)
	}
}

func (s *Server) handleSendPrivateMessage(c *Client, data json.RawMessage) {
	username, privateKey, ok := c.identity()
	if !ok {
		s.notLoggedIn(c)
		return
	}

	var req privateMessageRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Recipient == "" {
		c.emit("updateChat", chatLine{Sender: "ERROR", Text: "Invalid message payload"})
		return
	}

	// Friend-gated messaging needs the friend graph; without persistence
	// there is none, so direct messaging is disabled in degraded mode.
	if s.store == nil {
		c.emit("updateChat", chatLine{Sender: "ERROR", Text: persistenceUnavailableMsg})
		return
	}

	allowed, err := s.friends.AreFriends(username, req.Recipient)
	if err != nil {
		c.logger.Error().Err(err).Msg("friend check failed")
		c.emit("updateChat", chatLine{Sender: "ERROR", Text: "Failed to send message"})
		return
	}
	if !allowed {
		c.emit("updateChat", chatLine{Sender: "ERROR", Text: "You can only send messages to friends"})
		return
	}

	saved, err := s.chat.AppendDirectMessage(username, req.Recipient, req.Message, privateKey)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to persist private message")
		c.emit("updateChat", chatLine{Sender: "ERROR", Text: "Failed to send message"})
		return
	}

	// Deliver live when the recipient is online; otherwise the persisted
	// record is picked up from history later.
	if other, online := s.hub.Lookup(req.Recipient); online {
		other.emit("privateMessage", privateMessageEvent{
			Sender:  username,
			Message: req.Message,
			ID:      idOrNull(saved.ID),
		})
	}

	c.emit("messageSent", messageSentEvent{
		Recipient: req.Recipient,
		Message:   req.Message,
		Timestamp: saved.Timestamp.UnixMilli(),
		ID:        idOrNull(saved.ID),
	})
}

func (s *Server) handleGetChatHistory(c *Client, data json.RawMessage) {
	username, privateKey, ok := c.identity()
	if !ok {
		s.notLoggedIn(c)
		return
	}

	var other string
	if err := json.Unmarshal(data, &other); err != nil {
		c.emit("chatHistory", chatHistoryEvent{Messages: []chat.Message{}})
		return
	}

	messages, err := s.chat.Conversation(username, other, privateKey)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to load chat history")
		messages = nil
	}
	if messages == nil {
		messages = []chat.Message{}
	}
	c.emit("chatHistory", chatHistoryEvent{Messages: messages})
}

func (s *Server) handleDeleteMessage(c *Client, data json.RawMessage) {
	username, _, ok := c.identity()
	if !ok {
		c.emit("deleteError", deleteErrorEvent{Message: "You must be logged in to delete messages"})
		return
	}

	var req deleteRequest
	if err := json.Unmarshal(data, &req); err != nil || req.MessageID == "" {
		c.emit("deleteError", deleteErrorEvent{Message: "Invalid delete payload"})
		return
	}

	switch _, err := s.chat.SoftDelete(req.MessageID, username); {
	case errors.Is(err, chat.ErrPersistenceUnavailable):
		c.emit("deleteError", deleteErrorEvent{Message: persistenceUnavailableMsg})
	case errors.Is(err, chat.ErrNotFound):
		c.emit("deleteError", deleteErrorEvent{Message: "Message not found"})
	case errors.Is(err, chat.ErrForbidden):
		c.emit("deleteError", deleteErrorEvent{Message: "You can only delete your own messages"})
	case err != nil:
		c.logger.Error().Err(err).Msg("delete failed")
		c.emit("deleteError", deleteErrorEvent{Message: "Failed to delete message"})
	default:
		s.logger.Info().Str("id", req.MessageID).Str("username", username).Msg("message deleted")
		c.emit("messageDeleted", messageDeletedEvent{MessageID: req.MessageID, Success: true})
		if other, online := s.hub.Lookup(req.Recipient); online {
			other.emit("messageDeleted", messageDeletedEvent{MessageID: req.MessageID, Sender: username, Success: true})
		}
	}
}

func (s *Server) handleSendRoomMessage(c *Client, data json.RawMessage) {
	username, privateKey, ok := c.identity()
	if !ok {
		s.notLoggedIn(c)
		return
	}

	var text string
	if err := json.Unmarshal(data, &text); err != nil || text == "" {
		return
	}

	room := c.currentRoom()
	if _, err := s.chat.AppendRoomMessage(username, room, text, privateKey); err != nil {
		// Storage failure degrades to ephemeral delivery; the broadcast
		// still goes out.
		c.logger.Error().Err(err).Msg("failed to persist room message")
	}

	// Only the plaintext is broadcast; ciphertext is for storage.
	if data, err := newEvent("updateChat", chatLine{Sender: username, Text: text}); err == nil {
		s.hub.BroadcastRoom(room, data, nil)
	}
}

func (s *Server) handleCreateRoom(c *Client, data json.RawMessage) {
	username, _, ok := c.identity()
	if !ok {
		s.notLoggedIn(c)
		return
	}

	var name string
	if err := json.Unmarshal(data, &name); err != nil || name == "" {
		return
	}

	if s.rooms.Contains(name) {
		c.emit("updateChat", chatLine{Sender: "ERROR", Text: "Room " + name + " already exists."})
		return
	}

	room := models.Room{Name: name, Creator: username, CreatedAt: time.Now().UTC()}

	if s.store != nil {
		err := s.store.CreateRoom(&room)
		if errors.Is(err, store.ErrDuplicate) {
			c.emit("updateChat", chatLine{Sender: "ERROR", Text: "Room " + name + " already exists."})
			return
		}
		if err != nil {
			c.logger.Error().Err(err).Msg("failed to persist room")
			// Keep going: the room lives in the cache.
		}
	}

	s.rooms.Add(room)
	s.logger.Info().Str("room", name).Str("creator", username).Msg("room created")

	if data, err := newEvent("updateRooms", roomListEvent{Rooms: s.roomList(), Current: nil}); err == nil {
		s.hub.Broadcast(data)
	}
}

func (s *Server) handleChangeRoom(c *Client, data json.RawMessage) {
	username, privateKey, ok := c.identity()
	if !ok {
		s.notLoggedIn(c)
		return
	}

	var room string
	if err := json.Unmarshal(data, &room); err != nil || room == "" {
		return
	}

	prior := c.currentRoom()
	if notice, err := newEvent("updateChat", chatLine{Sender: "INFO", Text: username + " left room"}); err == nil {
		s.hub.BroadcastRoom(prior, notice, c)
	}

	c.setRoom(room)

	c.emit("updateChat", chatLine{Sender: "INFO", Text: "You have joined " + room + " room"})
	if notice, err := newEvent("updateChat", chatLine{Sender: "INFO", Text: username + " has joined " + room + " room"}); err == nil {
		s.hub.BroadcastRoom(room, notice, c)
	}

	// Replay recent history to the joining user, oldest first.
	history, err := s.chat.RoomHistory(room, privateKey)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to load room history")
		return
	}
	for _, m := range history {
		c.emit("updateChat", chatLine{Sender: m.Sender, Text: m.Content})
	}
}

// requireAuth emits the standard not-logged-in error unless the session
// is authenticated.
func (s *Server) requireAuth(c *Client) bool {
	if _, _, ok := c.identity(); !ok {
		s.notLoggedIn(c)
		return false
	}
	return true
}

func (s *Server) notLoggedIn(c *Client) {
	c.emit("updateChat", chatLine{Sender: "ERROR", Text: "You must be logged in"})
}

// pushFriendLists refreshes a client's friend and pending-request views.
func (s *Server) pushFriendLists(c *Client, username string) {
	if s.store == nil {
		return
	}

	friendList, err := s.friends.Friends(username)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to load friends")
	} else {
		if friendList == nil {
			friendList = []string{}
		}
		c.emit("updateFriends", friendList)
	}

	requests, err := s.friends.PendingRequests(username)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to load friend requests")
	} else {
		if requests == nil {
			requests = []models.FriendRequest{}
		}
		c.emit("updateFriendRequests", requests)
	}
}

// activeUsers builds the presence view: the persisted last-active window
// when the database is reachable, the live registry otherwise.
func (s *Server) activeUsers() map[string]string {
	userList := make(map[string]string)
	if s.store != nil {
		usernames, err := s.store.ActiveUsernames(time.Now().UTC().Add(-presenceWindow))
		if err == nil {
			for _, u := range usernames {
				userList[u] = u
			}
			return userList
		}
		s.logger.Warn().Err(err).Msg("presence query failed, falling back to registry")
	}
	for _, u := range s.hub.ActiveUsers() {
		userList[u] = u
	}
	return userList
}

func (s *Server) broadcastPresence() {
	if data, err := newEvent("updateUsers", s.activeUsers()); err == nil {
		s.hub.Broadcast(data)
	}
}

func (s *Server) roomList() []models.Room {
	if s.store != nil {
		rooms, err := s.store.Rooms()
		if err == nil {
			s.rooms.Replace(rooms)
			return s.rooms.List()
		}
		s.logger.Warn().Err(err).Msg("room query failed, using cache")
	}
	return s.rooms.List()
}

// emitRoomList sends the room list to one client with its current room.
func (s *Server) emitRoomList(c *Client) {
	current := c.currentRoom()
	if current == "" {
		current = defaultRoom
	}
	c.emit("updateRooms", roomListEvent{Rooms: s.roomList(), Current: &current})
}
