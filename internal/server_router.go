package internal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const rateLimitNotice = "You're sending messages too quickly. Please wait a moment and try again."

// Outbound is one event addressed to a set of connection ids.
type Outbound struct {
	To    []string
	Event string
	Data  any
}

type handlerFunc func(router *Router, conn Connection, data json.RawMessage) ([]Outbound, error)

// RouterDeps are the collaborators a Router works against. Nil fields get
// fresh in-memory defaults, except Sink which is required.
type RouterDeps struct {
	Registry  *Registry
	Directory *Directory
	Presence  *PresenceTracker
	Limiter   *RateLimiter
	Sink      Sink
	Metrics   *Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

// Router turns inbound events into registry/directory mutations plus the
// outbound events they imply, then hands those to the Sink. Events from one
// connection are expected to arrive from a single goroutine, which keeps
// per-connection ordering.
type Router struct {
	registry  *Registry
	directory *Directory
	presence  *PresenceTracker
	limiter   *RateLimiter
	sink      Sink
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
	handlers  map[string]handlerFunc

	// held across a presence change and its broadcasts so room_list
	// snapshots reach every client in mutation order
	sequence sync.Mutex
}

func NewRouter(deps RouterDeps) *Router {
	router := &Router{
		registry:  deps.Registry,
		directory: deps.Directory,
		presence:  deps.Presence,
		limiter:   deps.Limiter,
		sink:      deps.Sink,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		now:       deps.Now,
	}
	if router.registry == nil {
		router.registry = NewRegistry()
	}
	if router.directory == nil {
		router.directory = NewDirectory()
	}
	if router.presence == nil {
		router.presence = NewPresenceTracker()
	}
	if router.metrics == nil {
		router.metrics = NewMetrics()
	}
	if router.logger == nil {
		router.logger = slog.Default()
	}
	if router.now == nil {
		router.now = time.Now
	}
	router.handlers = map[string]handlerFunc{
		EventJoinRoom:     (*Router).handleJoinRoom,
		EventSendMessage:  (*Router).handleSendMessage,
		EventTyping:       (*Router).handleTyping,
		EventStopTyping:   (*Router).handleStopTyping,
		EventRequestRooms: (*Router).handleRequestRooms,
		EventWhoIsHere:    (*Router).handleWhoIsHere,
	}
	return router
}

func (router *Router) Registry() *Registry {
	return router.registry
}

func (router *Router) Directory() *Directory {
	return router.directory
}

// Connect registers a new transport session.
func (router *Router) Connect(id string) Connection {
	conn := router.registry.Register(id)
	router.metrics.IncConn()
	router.logger.Info("connection opened", "conn", id)
	return conn
}

// Handle dispatches one inbound event. Events for unknown or already
// disconnected ids return ErrUnknownConnection and have no effect.
func (router *Router) Handle(id string, envelope Envelope) error {
	handler, ok := router.handlers[envelope.Event]
	if !ok {
		router.metrics.IncEvent("unknown")
		return fmt.Errorf("%w: %q", ErrUnknownEvent, envelope.Event)
	}
	router.metrics.IncEvent(envelope.Event)

	if envelope.Event == EventJoinRoom {
		router.sequence.Lock()
		defer router.sequence.Unlock()
	}
	conn, ok := router.registry.Lookup(id)
	if !ok {
		return ErrUnknownConnection
	}
	outbound, err := handler(router, conn, envelope.Data)
	if err != nil {
		return err
	}
	router.deliver(outbound)
	return nil
}

// Disconnect is the terminal transition for a connection: it leaves its room,
// is unregistered, and the remaining clients are told.
func (router *Router) Disconnect(id string) error {
	router.sequence.Lock()
	defer router.sequence.Unlock()

	conn, ok := router.registry.Lookup(id)
	if !ok {
		return ErrUnknownConnection
	}
	room, left := router.directory.Leave(id)
	router.registry.Unregister(id)
	router.limiter.Forget(id)
	router.metrics.DecConn()
	router.metrics.SetRooms(router.directory.Len())

	var outbound []Outbound
	if left {
		outbound = append(outbound,
			router.toRoom(room, "", EventUserLeft, PresencePayload{Username: conn.Username, Room: room}),
			router.roomUsers(room),
		)
	}
	if conn.Joined {
		outbound = append(outbound, router.goOffline(conn.Username)...)
	}
	outbound = append(outbound, router.roomList())
	router.deliver(outbound)

	router.logger.Info("connection closed", "conn", id, "username", conn.Username, "room", room)
	return nil
}

func (router *Router) handleJoinRoom(conn Connection, data json.RawMessage) ([]Outbound, error) {
	payload, err := decodeJoinRoom(data)
	if err != nil {
		return nil, err
	}
	updated, err := router.registry.SetIdentity(conn.ID, payload.Username, payload.Room)
	if err != nil {
		return nil, err
	}
	previous, moved := router.directory.Join(payload.Room, updated)
	router.metrics.SetRooms(router.directory.Len())

	var outbound []Outbound
	if moved {
		// the old room hears about the departure before the new room hears
		// about the arrival
		outbound = append(outbound,
			router.toRoom(previous, "", EventUserLeft, PresencePayload{Username: conn.Username, Room: previous}),
			router.roomUsers(previous),
		)
	}
	outbound = append(outbound,
		router.toRoom(updated.Room, "", EventUserJoined, PresencePayload{Username: updated.Username, Room: updated.Room}),
		router.roomUsers(updated.Room),
	)
	if !conn.Joined || conn.Username != updated.Username {
		if conn.Joined {
			outbound = append(outbound, router.goOffline(conn.Username)...)
		}
		outbound = append(outbound, router.goOnline(updated.Username)...)
	}
	outbound = append(outbound, router.roomList())

	router.logger.Info("joined room", "conn", conn.ID, "username", updated.Username, "room", updated.Room, "previous", previous)
	return outbound, nil
}

// Membership of the sender is not checked: the message goes to whoever is in
// the room the client named. With a limiter configured, fan-out is no longer
// unconditional: an over-limit message is dropped and only the sender hears a
// system notice. A router built without a limiter relays every message.
func (router *Router) handleSendMessage(conn Connection, data json.RawMessage) ([]Outbound, error) {
	var message ChatMessage
	if err := decodePayload(EventSendMessage, data, &message); err != nil {
		return nil, err
	}
	if !router.limiter.Allow(conn.ID) {
		router.metrics.IncRateLimited()
		notice := ChatMessage{
			Room:    message.Room,
			Author:  systemAuthor,
			Message: rateLimitNotice,
			Time:    router.now().Format("15:04"),
		}
		return []Outbound{{To: []string{conn.ID}, Event: EventReceiveMessage, Data: notice}}, nil
	}
	router.metrics.IncRelayed()
	return []Outbound{router.toRoom(message.Room, "", EventReceiveMessage, data)}, nil
}

func (router *Router) handleTyping(conn Connection, data json.RawMessage) ([]Outbound, error) {
	var typing TypingPayload
	if err := decodePayload(EventTyping, data, &typing); err != nil {
		return nil, err
	}
	return []Outbound{router.toRoom(typing.Room, conn.ID, EventDisplayTyping, typing)}, nil
}

func (router *Router) handleStopTyping(conn Connection, data json.RawMessage) ([]Outbound, error) {
	var typing TypingPayload
	if err := decodePayload(EventStopTyping, data, &typing); err != nil {
		return nil, err
	}
	return []Outbound{router.toRoom(typing.Room, conn.ID, EventHideTyping, typing)}, nil
}

func (router *Router) handleRequestRooms(conn Connection, _ json.RawMessage) ([]Outbound, error) {
	return []Outbound{{To: []string{conn.ID}, Event: EventRoomList, Data: router.directory.ListRooms()}}, nil
}

// who_is_here without a room falls back to the requester's own room.
func (router *Router) handleWhoIsHere(conn Connection, data json.RawMessage) ([]Outbound, error) {
	room := conn.Room
	if len(data) > 0 {
		var query WhoIsHerePayload
		if err := decodePayload(EventWhoIsHere, data, &query); err != nil {
			return nil, err
		}
		room = query.Room
	}
	return []Outbound{{To: []string{conn.ID}, Event: EventRoomUsers, Data: router.directory.Usernames(room)}}, nil
}

func (router *Router) goOnline(username string) []Outbound {
	if username == "" {
		return nil
	}
	if router.presence.Increment(username) != 1 {
		return nil
	}
	return []Outbound{router.toAll(EventUserStatus, UserStatusPayload{Username: username, Status: StatusOnline})}
}

func (router *Router) goOffline(username string) []Outbound {
	if username == "" {
		return nil
	}
	if router.presence.Decrement(username) != 0 {
		return nil
	}
	return []Outbound{router.toAll(EventUserStatus, UserStatusPayload{Username: username, Status: StatusOffline})}
}

// toRoom addresses every current member of room except the exclude id.
func (router *Router) toRoom(room, exclude, event string, data any) Outbound {
	members := router.directory.MembersOf(room)
	ids := make([]string, 0, len(members))
	for _, member := range members {
		if member.ID == exclude {
			continue
		}
		ids = append(ids, member.ID)
	}
	return Outbound{To: ids, Event: event, Data: data}
}

func (router *Router) toAll(event string, data any) Outbound {
	return Outbound{To: router.registry.IDs(), Event: event, Data: data}
}

func (router *Router) roomUsers(room string) Outbound {
	return router.toRoom(room, "", EventRoomUsers, router.directory.Usernames(room))
}

func (router *Router) roomList() Outbound {
	return router.toAll(EventRoomList, router.directory.ListRooms())
}

func (router *Router) deliver(outbound []Outbound) {
	for _, out := range outbound {
		if len(out.To) == 0 {
			continue
		}
		frame, err := EncodeEnvelope(out.Event, out.Data)
		if err != nil {
			router.logger.Error("encode outbound event", "event", out.Event, "error", err)
			continue
		}
		if len(out.To) == 1 {
			router.sink.Send(out.To[0], frame)
			continue
		}
		router.sink.Broadcast(out.To, frame)
	}
}
