package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pelusa-v/pelusa-broker/internal/audit"
	"github.com/pelusa-v/pelusa-broker/internal/config"
	"github.com/pelusa-v/pelusa-broker/internal/log"
)

// PresenceMirror receives every presence snapshot the broker broadcasts.
type PresenceMirror interface {
	PublishPresence(ctx context.Context, users []User) error
}

type nopMirror struct{}

func (nopMirror) PublishPresence(context.Context, []User) error { return nil }

type inbound struct {
	client *Client
	intent Intent
	err    error
}

// ChatManager owns every store and is the only writer to them. Run drains
// the register, unregister and inbound channels one at a time; Dispatch is
// the synchronous path the loop uses for each intent.
type ChatManager struct {
	mu sync.RWMutex

	clients  map[string]*Client // id -> client
	registry *Registry
	rooms    *RoomDirectory
	typing   *TypingTracker
	threads  *ThreadStore

	cfg    config.BrokerConfig
	logger zerolog.Logger

	mirror   PresenceMirror
	mirrorCh chan []User

	registerChan   chan *Client
	unregisterChan chan *Client
	inboundChan    chan inbound
	done           chan struct{}
}

// NewManager builds a manager for cfg.Rooms. A nil mirror disables mirroring.
func NewManager(cfg config.BrokerConfig, logger zerolog.Logger, mirror PresenceMirror) *ChatManager {
	if mirror == nil {
		mirror = nopMirror{}
	}
	return &ChatManager{
		clients:        map[string]*Client{},
		registry:       NewRegistry(),
		rooms:          NewRoomDirectory(cfg.Rooms),
		typing:         NewTypingTracker(),
		threads:        NewThreadStore(),
		cfg:            cfg,
		logger:         logger.With().Str("component", "chat_manager").Logger(),
		mirror:         mirror,
		mirrorCh:       make(chan []User, 16),
		registerChan:   make(chan *Client),
		unregisterChan: make(chan *Client),
		inboundChan:    make(chan inbound, 64),
		done:           make(chan struct{}),
	}
}

// Run processes events until ctx is cancelled, then closes every client.
func (m *ChatManager) Run(ctx context.Context) {
	defer close(m.done)
	go m.runMirror(ctx)

	m.logger.Info().Strs("rooms", m.rooms.Names()).Msg("chat manager started")
	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			m.logger.Info().Msg("chat manager stopped")
			return

		case c := <-m.registerChan:
			m.Connect(c)

		case c := <-m.unregisterChan:
			m.Disconnect(c)

		case in := <-m.inboundChan:
			if in.err != nil {
				m.Reject(in.client.ID, "", in.err)
				continue
			}
			// failures are logged and sent back to the client as rejected
			m.Dispatch(in.client.ID, in.intent)
		}
	}
}

// Done is closed once Run has returned.
func (m *ChatManager) Done() <-chan struct{} {
	return m.done
}

func (m *ChatManager) Register(c *Client) {
	select {
	case m.registerChan <- c:
	case <-m.done:
	}
}

func (m *ChatManager) Unregister(c *Client) {
	select {
	case m.unregisterChan <- c:
	case <-m.done:
	}
}

// Submit queues an intent (or the error decoding it) for the loop.
func (m *ChatManager) Submit(c *Client, intent Intent, err error) {
	select {
	case m.inboundChan <- inbound{client: c, intent: intent, err: err}:
	case <-m.done:
	}
}

// Connect adds a live connection. It is not in any room until it joins.
func (m *ChatManager) Connect(c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clients[c.ID] = c
	m.logger.Info().Str(log.FieldConnID, c.ID).Int("connections", len(m.clients)).Msg("client connected")
}

// Disconnect removes the connection and its user, then tells the former
// room and everyone else. Calling it twice for the same client is a no-op.
func (m *ChatManager) Disconnect(c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.clients[c.ID]; !ok || cur != c {
		return
	}
	delete(m.clients, c.ID)
	close(c.Send)

	_, hadTyping := m.typing.Stop(c.ID)
	u, joined := m.registry.Leave(c.ID)
	m.logger.Info().Str(log.FieldConnID, c.ID).Str(log.FieldUsername, u.Username).
		Str(log.FieldRoom, u.Room).Int("connections", len(m.clients)).Msg("client disconnected")
	if !joined {
		return
	}

	members := m.registry.MembersOf(u.Room)
	m.deliverUsers(Event{Type: EventUserLeft, Payload: UserLeftPayload{
		Username: u.Username, Room: u.Room, Users: members,
	}}, members)
	if hadTyping {
		m.sendTyping(u.Room, "")
	}
	m.broadcastPresence()
	audit.LogWithDetail(m.logger, audit.ActionDisconnect, c.ID, u.Username, u.Room, "user left")
}

func (m *ChatManager) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, c := range m.clients {
		delete(m.clients, id)
		close(c.Send)
		m.typing.Stop(id)
		m.registry.Leave(id)
	}
}

// Dispatch applies one intent from connID. The returned error is also
// reported to the connection as a rejected event when rejection is on.
func (m *ChatManager) Dispatch(connID string, intent Intent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.dispatch(connID, intent)
	if err != nil {
		err = fmt.Errorf("%s: %w", intent.Kind(), err)
		m.reject(connID, intent.Kind(), err)
	}
	return err
}

// Reject reports a failed intent to connID.
func (m *ChatManager) Reject(connID, intentType string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reject(connID, intentType, err)
}

func (m *ChatManager) reject(connID, intentType string, err error) {
	code := ErrorCode(err)
	m.logger.Debug().Err(err).Str(log.FieldConnID, connID).Str(log.FieldIntent, intentType).
		Str("code", code).Msg("intent rejected")

	var username string
	if u, ok := m.registry.Lookup(connID); ok {
		username = u.Username
	}
	if intentType == "" {
		audit.Log(m.logger, audit.ActionRejected, connID, username, "undecodable frame rejected")
	} else {
		audit.LogWithDetail(m.logger, audit.ActionRejected, connID, username, intentType+": "+code, "intent rejected")
	}
	if !m.cfg.RejectInvalid {
		return
	}
	m.deliver(Event{Type: EventRejected, Payload: RejectedPayload{
		Intent: intentType, Code: code, Message: rejectMessage(err),
	}}, connID)
}

// rejectMessage is the innermost error text, without the wrapping context.
func rejectMessage(err error) string {
	for {
		inner := errors.Unwrap(err)
		if inner == nil {
			return err.Error()
		}
		err = inner
	}
}

func (m *ChatManager) dispatch(connID string, intent Intent) error {
	if _, ok := m.clients[connID]; !ok {
		return ErrUnknownConnection
	}

	switch in := intent.(type) {
	case JoinIntent:
		return m.join(connID, in)
	case SendMessageIntent:
		return m.sendMessage(connID, in)
	case TypingStartIntent:
		return m.setTyping(connID, true)
	case TypingStopIntent:
		return m.setTyping(connID, false)
	case SendPrivateMessageIntent:
		return m.sendPrivate(connID, in)
	case ReactToMessageIntent:
		return m.react(connID, in)
	case ChangeRoomIntent:
		return m.changeRoom(connID, in)
	case MarkPrivateReadIntent:
		return m.markRead(connID, in)
	case PingIntent:
		m.deliver(Event{Type: EventPong}, connID)
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnknownIntent, intent)
	}
}

func (m *ChatManager) join(connID string, in JoinIntent) error {
	username := strings.TrimSpace(in.Username)
	if err := ValidateUsername(username); err != nil {
		return err
	}

	name := in.Room
	if strings.TrimSpace(name) == "" {
		name = m.cfg.DefaultRoom()
	}
	room, ok := m.rooms.Resolve(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRoom, name)
	}

	if m.cfg.UniqueUsernames {
		if other, ok := m.registry.LookupByUsername(username); ok && other.ConnID != connID {
			return ErrUsernameTaken
		}
	}

	avatar := strings.TrimSpace(in.Avatar)
	if avatar == "" {
		avatar = username
	}

	prev, rejoin := m.registry.Lookup(connID)
	_, hadTyping := m.typing.Stop(connID)
	user := m.registry.Join(connID, username, room, avatar)

	if rejoin && prev.Room != room {
		left := m.registry.MembersOf(prev.Room)
		m.deliverUsers(Event{Type: EventUserLeft, Payload: UserLeftPayload{
			Username: prev.Username, Room: prev.Room, Users: left,
		}}, left)
	}
	if hadTyping {
		m.sendTyping(prev.Room, connID)
	}

	m.enterRoom(user)
	m.broadcastPresence()
	audit.LogWithDetail(m.logger, audit.ActionJoin, connID, username, room, "user joined")
	return nil
}

// enterRoom announces user to its room peers and sends the user the room state.
func (m *ChatManager) enterRoom(user User) {
	members := m.registry.MembersOf(user.Room)
	m.deliverUsers(Event{Type: EventUserJoined, Payload: UserJoinedPayload{
		User: user, Users: members,
	}}, peers(members, user.ConnID))
	m.sendSnapshot(user)
}

func (m *ChatManager) sendSnapshot(user User) {
	m.deliver(Event{Type: EventRoomSnapshot, Payload: RoomSnapshotPayload{
		Room:     user.Room,
		Users:    m.registry.MembersOf(user.Room),
		Messages: m.rooms.Recent(user.Room, m.cfg.HistoryLimit),
	}}, user.ConnID)
}

func (m *ChatManager) sendMessage(connID string, in SendMessageIntent) error {
	user, ok := m.registry.Lookup(connID)
	if !ok {
		return ErrUnknownConnection
	}
	if err := ValidateText(strings.TrimSpace(in.Text)); err != nil {
		return err
	}

	msg, err := m.rooms.Append(user.Room, user, in.Text)
	if err != nil {
		return err
	}
	m.typing.Stop(connID)

	m.deliverUsers(Event{Type: EventMessageReceived, Payload: msg}, m.registry.MembersOf(user.Room))
	m.sendTyping(user.Room, connID)
	audit.LogWithDetail(m.logger, audit.ActionSendMessage, connID, user.Username, user.Room, "room message")
	return nil
}

func (m *ChatManager) setTyping(connID string, typing bool) error {
	user, ok := m.registry.Lookup(connID)
	if !ok {
		return ErrUnknownConnection
	}
	if typing {
		m.typing.Start(connID, user.Room)
	} else {
		m.typing.Stop(connID)
	}
	m.sendTyping(user.Room, connID)
	return nil
}

// sendTyping pushes the current typing list of room to its members,
// skipping exclude.
func (m *ChatManager) sendTyping(room, exclude string) {
	m.deliverUsers(Event{Type: EventTypingUpdated, Payload: TypingPayload{
		Room: room, Usernames: m.typing.UsernamesFor(room, m.registry),
	}}, peers(m.registry.MembersOf(room), exclude))
}

func (m *ChatManager) sendPrivate(connID string, in SendPrivateMessageIntent) error {
	from, ok := m.registry.Lookup(connID)
	if !ok {
		return ErrUnknownConnection
	}
	if err := ValidateText(strings.TrimSpace(in.Text)); err != nil {
		return err
	}
	to, ok := m.registry.LookupByUsername(strings.TrimSpace(in.ToUsername))
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPeer, in.ToUsername)
	}

	pm := m.threads.Send(from, to, in.Text)
	m.logger.Debug().Str(log.FieldConnID, connID).Str(log.FieldPeer, to.Username).Msg("private message stored")
	recv := Event{Type: EventPrivateMessageReceived, Payload: pm}
	if from.ConnID == to.ConnID {
		m.deliver(recv, from.ConnID)
	} else {
		m.deliver(recv, from.ConnID, to.ConnID)
	}
	m.deliver(Event{Type: EventPrivateMessageNotification, Payload: PrivateNotificationPayload{
		From: from.Username, Message: pm.Text,
	}}, to.ConnID)

	audit.LogWithDetail(m.logger, audit.ActionPrivateMessage, connID, from.Username, to.Username, "private message")
	return nil
}

func (m *ChatManager) react(connID string, in ReactToMessageIntent) error {
	user, ok := m.registry.Lookup(connID)
	if !ok {
		return ErrUnknownConnection
	}
	if err := ValidateReaction(in.Reaction); err != nil {
		return err
	}

	name := in.Room
	if strings.TrimSpace(name) == "" {
		name = user.Room
	}
	room, ok := m.rooms.Resolve(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRoom, name)
	}

	reactions, err := m.rooms.ApplyReaction(room, in.MessageID, user.Username, in.Reaction)
	if err != nil {
		return err
	}
	m.deliverUsers(Event{Type: EventReactionsUpdated, Payload: ReactionsPayload{
		MessageID: in.MessageID, Room: room, Reactions: reactions,
	}}, m.registry.MembersOf(room))

	m.logger.Debug().Str(log.FieldConnID, connID).Str(log.FieldMessageID, in.MessageID).
		Str("reaction", in.Reaction).Msg("reaction applied")
	audit.LogWithDetail(m.logger, audit.ActionReact, connID, user.Username, in.MessageID, "reaction")
	return nil
}

func (m *ChatManager) changeRoom(connID string, in ChangeRoomIntent) error {
	prev, ok := m.registry.Lookup(connID)
	if !ok {
		return ErrUnknownConnection
	}
	room, ok := m.rooms.Resolve(in.Room)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRoom, in.Room)
	}
	if room == prev.Room {
		m.sendSnapshot(prev)
		return nil
	}

	_, hadTyping := m.typing.Stop(connID)
	user, err := m.registry.ChangeRoom(connID, room)
	if err != nil {
		return err
	}

	left := m.registry.MembersOf(prev.Room)
	m.deliverUsers(Event{Type: EventUserLeft, Payload: UserLeftPayload{
		Username: prev.Username, Room: prev.Room, Users: left,
	}}, left)
	if hadTyping {
		m.sendTyping(prev.Room, connID)
	}
	m.enterRoom(user)

	audit.LogWithDetail(m.logger, audit.ActionChangeRoom, connID, user.Username, prev.Room+" -> "+room, "room changed")
	return nil
}

func (m *ChatManager) markRead(connID string, in MarkPrivateReadIntent) error {
	viewer, ok := m.registry.Lookup(connID)
	if !ok {
		return ErrUnknownConnection
	}
	n := m.threads.MarkRead(viewer.Username, strings.TrimSpace(in.PeerUsername))
	if n > 0 {
		audit.LogWithDetail(m.logger, audit.ActionMarkRead, connID, viewer.Username, in.PeerUsername, "private messages read")
	}
	return nil
}

// broadcastPresence sends the full online list to every connection and
// hands it to the mirror.
func (m *ChatManager) broadcastPresence() {
	users := m.registry.All()
	ev := Event{Type: EventPresenceUpdated, Payload: PresencePayload{Users: users}}
	ids := make([]string, 0, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
	}
	m.deliver(ev, ids...)

	select {
	case m.mirrorCh <- users:
	default:
		m.logger.Warn().Msg("presence mirror backlog full, snapshot dropped")
	}
}

func (m *ChatManager) runMirror(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case users := <-m.mirrorCh:
			if err := m.mirror.PublishPresence(ctx, users); err != nil {
				m.logger.Warn().Err(err).Msg("presence mirror publish failed")
			}
		}
	}
}

func (m *ChatManager) deliverUsers(ev Event, users []User) {
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ConnID)
	}
	m.deliver(ev, ids...)
}

// deliver encodes ev once and offers it to each connection without
// blocking. A full send buffer drops the event for that connection only.
func (m *ChatManager) deliver(ev Event, connIDs ...string) {
	if len(connIDs) == 0 {
		return
	}
	data, err := ev.encode()
	if err != nil {
		m.logger.Error().Err(err).Str("event", ev.Type).Msg("encode event")
		return
	}
	for _, id := range connIDs {
		c, ok := m.clients[id]
		if !ok {
			continue
		}
		select {
		case c.Send <- data:
		default:
			m.logger.Warn().Str(log.FieldConnID, id).Str("event", ev.Type).Msg("send buffer full, event dropped")
		}
	}
}

func peers(members []User, exclude string) []User {
	out := make([]User, 0, len(members))
	for _, u := range members {
		if u.ConnID != exclude {
			out = append(out, u)
		}
	}
	return out
}

// RoomInfo is the /api/rooms view of one room.
type RoomInfo struct {
	Name     string `json:"name"`
	Members  int    `json:"members"`
	Messages int    `json:"messages"`
}

func (m *ChatManager) ListRooms() []RoomInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := m.rooms.Names()
	out := make([]RoomInfo, 0, len(names))
	for _, n := range names {
		out = append(out, RoomInfo{
			Name:     n,
			Members:  len(m.registry.MembersOf(n)),
			Messages: m.rooms.Count(n),
		})
	}
	return out
}

// ListClients returns the joined users, limited to room when it is set.
func (m *ChatManager) ListClients(room string) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if strings.TrimSpace(room) == "" {
		return m.registry.All(), nil
	}
	r, ok := m.rooms.Resolve(room)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRoom, room)
	}
	return m.registry.MembersOf(r), nil
}

// Inbox returns username's private thread previews.
func (m *ChatManager) Inbox(username string) []ThreadPreview {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.threads.Inbox(strings.TrimSpace(username))
}

// ConnectionCount counts live connections, joined or not.
func (m *ChatManager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}
