package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

type delivery struct {
	to       string
	envelope Envelope
}

// recordingSink captures every frame per connection id.
type recordingSink struct {
	mu         sync.Mutex
	deliveries []delivery
}

func (s *recordingSink) Broadcast(ids []string, frame []byte) {
	for _, id := range ids {
		s.Send(id, frame)
	}
}

func (s *recordingSink) Send(id string, frame []byte) {
	envelope, err := DecodeEnvelope(frame)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	s.deliveries = append(s.deliveries, delivery{to: id, envelope: envelope})
	s.mu.Unlock()
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	s.deliveries = nil
	s.mu.Unlock()
}

// received returns the envelopes delivered to id, optionally filtered by event.
func (s *recordingSink) received(id, event string) []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Envelope
	for _, d := range s.deliveries {
		if d.to == id && (event == "" || d.envelope.Event == event) {
			out = append(out, d.envelope)
		}
	}
	return out
}

func newTestRouter(t *testing.T, limiter *RateLimiter) (*Router, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	router := NewRouter(RouterDeps{
		Sink:    sink,
		Limiter: limiter,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:     func() time.Time { return time.Date(2024, 3, 1, 9, 5, 0, 0, time.UTC) },
	})
	return router, sink
}

func mustHandle(t *testing.T, router *Router, id, event string, payload any) {
	t.Helper()
	frame, err := EncodeEnvelope(event, payload)
	if err != nil {
		t.Fatalf("encode %s: %v", event, err)
	}
	envelope, err := DecodeEnvelope(frame)
	if err != nil {
		t.Fatalf("decode %s: %v", event, err)
	}
	if err := router.Handle(id, envelope); err != nil {
		t.Fatalf("Handle(%s, %s): %v", id, event, err)
	}
}

func joinLobby(t *testing.T, router *Router) {
	t.Helper()
	router.Connect("A")
	router.Connect("B")
	mustHandle(t, router, "A", EventJoinRoom, JoinRoomPayload{Room: "lobby", Username: "alice"})
	mustHandle(t, router, "B", EventJoinRoom, JoinRoomPayload{Room: "lobby", Username: "bob"})
}

func TestRouterJoinListsRoom(t *testing.T) {
	router, sink := newTestRouter(t, nil)
	joinLobby(t, router)

	want := []RoomSummary{{RoomID: "lobby", UserCount: 2, Users: []string{"alice", "bob"}}}
	if got := router.Directory().ListRooms(); !reflect.DeepEqual(got, want) {
		t.Fatalf("ListRooms = %+v, want %+v", got, want)
	}

	// A was already in the lobby when bob arrived
	joined := sink.received("A", EventUserJoined)
	if len(joined) != 2 {
		t.Fatalf("A saw %d user_joined events, want 2", len(joined))
	}
	var presence PresencePayload
	if err := json.Unmarshal(joined[1].Data, &presence); err != nil {
		t.Fatal(err)
	}
	if presence != (PresencePayload{Username: "bob", Room: "lobby"}) {
		t.Fatalf("user_joined = %+v", presence)
	}

	lists := sink.received("A", EventRoomList)
	var rooms []RoomSummary
	if err := json.Unmarshal(lists[len(lists)-1].Data, &rooms); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(rooms, want) {
		t.Fatalf("last room_list = %+v", rooms)
	}

	users := sink.received("B", EventRoomUsers)
	var roster []string
	if err := json.Unmarshal(users[len(users)-1].Data, &roster); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(roster, []string{"alice", "bob"}) {
		t.Fatalf("room_users = %v", roster)
	}
}

func TestRouterMessageFanOutStaysInRoom(t *testing.T) {
	router, sink := newTestRouter(t, nil)
	joinLobby(t, router)
	router.Connect("C")
	mustHandle(t, router, "C", EventJoinRoom, JoinRoomPayload{Room: "other", Username: "carol"})
	sink.reset()

	raw := json.RawMessage(`{"room":"lobby","author":"alice","message":"hi","time":"09:05","extra":true}`)
	if err := router.Handle("A", Envelope{Event: EventSendMessage, Data: raw}); err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"A", "B"} {
		got := sink.received(id, EventReceiveMessage)
		if len(got) != 1 {
			t.Fatalf("%s received %d messages", id, len(got))
		}
		if string(got[0].Data) != string(raw) {
			t.Fatalf("%s payload = %s, want %s", id, got[0].Data, raw)
		}
	}
	if got := sink.received("C", ""); len(got) != 0 {
		t.Fatalf("member of another room received %+v", got)
	}
}

func TestRouterDisconnectNotifiesRoom(t *testing.T) {
	router, sink := newTestRouter(t, nil)
	joinLobby(t, router)
	sink.reset()

	if err := router.Disconnect("A"); err != nil {
		t.Fatal(err)
	}

	left := sink.received("B", EventUserLeft)
	if len(left) != 1 {
		t.Fatalf("B saw %d user_left events", len(left))
	}
	var presence PresencePayload
	if err := json.Unmarshal(left[0].Data, &presence); err != nil {
		t.Fatal(err)
	}
	if presence != (PresencePayload{Username: "alice", Room: "lobby"}) {
		t.Fatalf("user_left = %+v", presence)
	}

	want := []RoomSummary{{RoomID: "lobby", UserCount: 1, Users: []string{"bob"}}}
	if got := router.Directory().ListRooms(); !reflect.DeepEqual(got, want) {
		t.Fatalf("ListRooms = %+v", got)
	}
	if got := sink.received("A", ""); len(got) != 0 {
		t.Fatalf("disconnected connection received %+v", got)
	}
	if _, ok := router.Registry().Lookup("A"); ok {
		t.Fatal("A still registered")
	}

	statuses := sink.received("B", EventUserStatus)
	if len(statuses) != 1 {
		t.Fatalf("B saw %d user_status events", len(statuses))
	}
	var status UserStatusPayload
	_ = json.Unmarshal(statuses[0].Data, &status)
	if status != (UserStatusPayload{Username: "alice", Status: StatusOffline}) {
		t.Fatalf("user_status = %+v", status)
	}
}

func TestRouterRoomSwitch(t *testing.T) {
	router, sink := newTestRouter(t, nil)
	router.Connect("A")
	router.Connect("W")
	mustHandle(t, router, "W", EventJoinRoom, JoinRoomPayload{Room: "x", Username: "walt"})
	mustHandle(t, router, "A", EventJoinRoom, JoinRoomPayload{Room: "x", Username: "alice"})
	sink.reset()

	mustHandle(t, router, "A", EventJoinRoom, JoinRoomPayload{Room: "y", Username: "alice"})

	directory := router.Directory()
	if users := directory.Usernames("x"); !reflect.DeepEqual(users, []string{"walt"}) {
		t.Fatalf("room x = %v", users)
	}
	members := directory.MembersOf("y")
	if len(members) != 1 || members[0].ID != "A" {
		t.Fatalf("room y = %+v", members)
	}
	if left := sink.received("W", EventUserLeft); len(left) != 1 {
		t.Fatalf("old room saw %d user_left events", len(left))
	}
	// a room switch keeps the user online
	if statuses := sink.received("W", EventUserStatus); len(statuses) != 0 {
		t.Fatalf("unexpected user_status: %+v", statuses)
	}

	router.Disconnect("W")
	if directory.Exists("x") {
		t.Fatal("room x should be gone")
	}
	rooms := directory.ListRooms()
	if len(rooms) != 1 || rooms[0].RoomID != "y" {
		t.Fatalf("ListRooms = %+v", rooms)
	}
}

// indexOf returns the position of the first delivery of event to id, or -1.
func (s *recordingSink) indexOf(id, event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for idx, d := range s.deliveries {
		if d.to == id && d.envelope.Event == event {
			return idx
		}
	}
	return -1
}

func TestRouterRoomSwitchEventOrder(t *testing.T) {
	router, sink := newTestRouter(t, nil)
	for _, id := range []string{"A", "W", "Y"} {
		router.Connect(id)
	}
	mustHandle(t, router, "W", EventJoinRoom, JoinRoomPayload{Room: "x", Username: "walt"})
	mustHandle(t, router, "Y", EventJoinRoom, JoinRoomPayload{Room: "y", Username: "yuri"})
	mustHandle(t, router, "A", EventJoinRoom, JoinRoomPayload{Room: "x", Username: "alice"})
	sink.reset()

	mustHandle(t, router, "A", EventJoinRoom, JoinRoomPayload{Room: "y", Username: "alice"})

	left := sink.indexOf("W", EventUserLeft)
	joined := sink.indexOf("Y", EventUserJoined)
	if left < 0 || joined < 0 {
		t.Fatalf("missing events: user_left at %d, user_joined at %d", left, joined)
	}
	if left > joined {
		t.Fatalf("old room heard user_left at %d after new room heard user_joined at %d", left, joined)
	}
	for _, id := range []string{"A", "W", "Y"} {
		list := sink.indexOf(id, EventRoomList)
		if list < 0 {
			t.Fatalf("%s got no room_list", id)
		}
		if list < joined {
			t.Fatalf("%s got room_list at %d before user_joined at %d", id, list, joined)
		}
	}
	if got := sink.received("Y", EventUserLeft); len(got) != 0 {
		t.Fatalf("new room saw user_left: %+v", got)
	}
	if got := sink.received("W", EventUserJoined); len(got) != 0 {
		t.Fatalf("old room saw user_joined: %+v", got)
	}
}

func TestRouterRoomListReachesIdleConnections(t *testing.T) {
	router, sink := newTestRouter(t, nil)
	router.Connect("Z")
	router.Connect("A")
	router.Connect("B")

	mustHandle(t, router, "A", EventJoinRoom, JoinRoomPayload{Room: "lobby", Username: "alice"})
	if got := sink.received("Z", EventRoomList); len(got) != 1 {
		t.Fatalf("idle connection got %d room_list events after one join", len(got))
	}
	mustHandle(t, router, "B", EventJoinRoom, JoinRoomPayload{Room: "side", Username: "bob"})
	if got := sink.received("Z", EventRoomList); len(got) != 2 {
		t.Fatalf("idle connection got %d room_list events after two joins", len(got))
	}
	if err := router.Disconnect("A"); err != nil {
		t.Fatal(err)
	}
	lists := sink.received("Z", EventRoomList)
	if len(lists) != 3 {
		t.Fatalf("idle connection got %d room_list events after a disconnect", len(lists))
	}
	var rooms []RoomSummary
	if err := json.Unmarshal(lists[2].Data, &rooms); err != nil {
		t.Fatal(err)
	}
	want := []RoomSummary{{RoomID: "side", UserCount: 1, Users: []string{"bob"}}}
	if !reflect.DeepEqual(rooms, want) {
		t.Fatalf("room_list after disconnect = %+v", rooms)
	}
	// the idle connection is in no room, so it hears nothing room scoped
	if got := sink.received("Z", EventUserJoined); len(got) != 0 {
		t.Fatalf("idle connection got user_joined: %+v", got)
	}
}

// roomListFrames returns the room_list payloads delivered to id, in order.
func (s *recordingSink) roomListFrames(id string) []string {
	var frames []string
	for _, envelope := range s.received(id, EventRoomList) {
		frames = append(frames, string(envelope.Data))
	}
	return frames
}

func isSubsequence(sub, seq []string) bool {
	next := 0
	for _, frame := range seq {
		if next < len(sub) && sub[next] == frame {
			next++
		}
	}
	return next == len(sub)
}

func TestRouterRoomListOrderUnderConcurrency(t *testing.T) {
	router, sink := newTestRouter(t, nil)
	router.Connect("watch-1")
	router.Connect("watch-2")

	const workers = 20
	const rounds = 20
	rooms := []string{"a", "b", "c"}
	var wg sync.WaitGroup
	for worker := 0; worker < workers; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			id := fmt.Sprintf("w%02d", worker)
			router.Connect(id)
			for round := 0; round < rounds; round++ {
				data, _ := json.Marshal(JoinRoomPayload{Room: rooms[(worker+round)%len(rooms)], Username: id})
				_ = router.Handle(id, Envelope{Event: EventJoinRoom, Data: data})
				typing, _ := json.Marshal(TypingPayload{Room: rooms[round%len(rooms)], Username: id})
				_ = router.Handle(id, Envelope{Event: EventTyping, Data: typing})
			}
			_ = router.Disconnect(id)
		}(worker)
	}
	wg.Wait()

	first := sink.roomListFrames("watch-1")
	second := sink.roomListFrames("watch-2")
	if want := workers*rounds + workers; len(first) != want {
		t.Fatalf("watcher saw %d room_list snapshots, want %d", len(first), want)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("watchers observed room_list snapshots in different orders")
	}
	if last := first[len(first)-1]; last != "[]" {
		t.Fatalf("final snapshot = %s, want []", last)
	}
	for worker := 0; worker < workers; worker++ {
		id := fmt.Sprintf("w%02d", worker)
		if !isSubsequence(sink.roomListFrames(id), first) {
			t.Fatalf("%s saw room_list snapshots out of global order", id)
		}
	}
	if router.Directory().Len() != 0 || router.Registry().Len() != 2 {
		t.Fatalf("rooms = %d, connections = %d", router.Directory().Len(), router.Registry().Len())
	}
}

func TestRouterTypingExcludesSender(t *testing.T) {
	router, sink := newTestRouter(t, nil)
	joinLobby(t, router)
	sink.reset()

	mustHandle(t, router, "A", EventTyping, TypingPayload{Room: "lobby", Username: "alice"})
	mustHandle(t, router, "A", EventStopTyping, TypingPayload{Room: "lobby", Username: "alice"})

	if got := sink.received("A", ""); len(got) != 0 {
		t.Fatalf("sender received its own typing events: %+v", got)
	}
	if got := sink.received("B", EventDisplayTyping); len(got) != 1 {
		t.Fatalf("B display_typing = %d", len(got))
	}
	if got := sink.received("B", EventHideTyping); len(got) != 1 {
		t.Fatalf("B hide_typing = %d", len(got))
	}
}

func TestRouterRateLimitsSender(t *testing.T) {
	router, sink := newTestRouter(t, NewRateLimiter(rate.Every(time.Hour), 2))
	joinLobby(t, router)
	sink.reset()

	message := ChatMessage{Room: "lobby", Author: "alice", Message: "spam", Time: "09:05"}
	for i := 0; i < 3; i++ {
		mustHandle(t, router, "A", EventSendMessage, message)
	}

	if got := sink.received("B", EventReceiveMessage); len(got) != 2 {
		t.Fatalf("B received %d messages, want 2", len(got))
	}
	got := sink.received("A", EventReceiveMessage)
	if len(got) != 3 {
		t.Fatalf("A received %d messages, want 3", len(got))
	}
	var notice ChatMessage
	if err := json.Unmarshal(got[2].Data, &notice); err != nil {
		t.Fatal(err)
	}
	if notice.Author != systemAuthor || notice.Time != "09:05" || notice.Message != rateLimitNotice {
		t.Fatalf("notice = %+v", notice)
	}
}

func TestRouterWithoutLimiterRelaysEveryMessage(t *testing.T) {
	router, sink := newTestRouter(t, nil)
	joinLobby(t, router)
	sink.reset()

	message := ChatMessage{Room: "lobby", Author: "alice", Message: "burst", Time: "09:05"}
	for i := 0; i < 20; i++ {
		mustHandle(t, router, "A", EventSendMessage, message)
	}
	if got := sink.received("B", EventReceiveMessage); len(got) != 20 {
		t.Fatalf("B received %d messages, want 20", len(got))
	}
}

func TestRouterUnknownConnectionIsIgnored(t *testing.T) {
	router, sink := newTestRouter(t, nil)
	joinLobby(t, router)
	sink.reset()

	err := router.Handle("ghost", Envelope{Event: EventJoinRoom, Data: json.RawMessage(`{"room":"lobby","username":"ghost"}`)})
	if !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("expected ErrUnknownConnection, got %v", err)
	}
	if err := router.Disconnect("ghost"); !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("expected ErrUnknownConnection, got %v", err)
	}
	if len(sink.received("A", "")) != 0 || len(sink.received("B", "")) != 0 {
		t.Fatal("unknown connection produced events")
	}
	if users := router.Directory().Usernames("lobby"); len(users) != 2 {
		t.Fatalf("lobby = %v", users)
	}
}

func TestRouterUnknownEvent(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	router.Connect("A")
	if err := router.Handle("A", Envelope{Event: "dance"}); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
}

func TestRouterRequestRoomsAndWhoIsHere(t *testing.T) {
	router, sink := newTestRouter(t, nil)
	joinLobby(t, router)
	router.Connect("C")
	sink.reset()

	mustHandle(t, router, "C", EventRequestRooms, nil)
	lists := sink.received("C", EventRoomList)
	if len(lists) != 1 {
		t.Fatalf("room_list replies = %d", len(lists))
	}
	if len(sink.received("A", EventRoomList)) != 0 {
		t.Fatal("request_rooms reply leaked to other connections")
	}

	mustHandle(t, router, "C", EventWhoIsHere, WhoIsHerePayload{Room: "lobby"})
	replies := sink.received("C", EventRoomUsers)
	var users []string
	if err := json.Unmarshal(replies[0].Data, &users); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(users, []string{"alice", "bob"}) {
		t.Fatalf("who_is_here = %v", users)
	}

	// no room falls back to the requester's own room
	mustHandle(t, router, "A", EventWhoIsHere, nil)
	if got := sink.received("A", EventRoomUsers); len(got) != 1 {
		t.Fatalf("A room_users = %d", len(got))
	}
}

func TestRouterJoinAcceptsBareRoomString(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	router.Connect("A")
	if err := router.Handle("A", Envelope{Event: EventJoinRoom, Data: json.RawMessage(`"lobby"`)}); err != nil {
		t.Fatal(err)
	}
	conn, _ := router.Registry().Lookup("A")
	if conn.Room != "lobby" || conn.Username != "" || !conn.Joined {
		t.Fatalf("connection = %+v", conn)
	}
	if !router.Directory().Exists("lobby") {
		t.Fatal("lobby should exist")
	}
}

func TestRouterMalformedPayload(t *testing.T) {
	router, sink := newTestRouter(t, nil)
	joinLobby(t, router)
	sink.reset()

	err := router.Handle("A", Envelope{Event: EventSendMessage, Data: json.RawMessage(`[1,2]`)})
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
	if len(sink.received("B", "")) != 0 {
		t.Fatal("malformed payload was relayed")
	}
}

func TestRouterPresenceAcrossTabs(t *testing.T) {
	router, sink := newTestRouter(t, nil)
	router.Connect("A1")
	router.Connect("A2")
	router.Connect("B")
	mustHandle(t, router, "B", EventJoinRoom, JoinRoomPayload{Room: "lobby", Username: "bob"})
	sink.reset()
	mustHandle(t, router, "A1", EventJoinRoom, JoinRoomPayload{Room: "lobby", Username: "alice"})
	mustHandle(t, router, "A2", EventJoinRoom, JoinRoomPayload{Room: "side", Username: "alice"})

	if got := sink.received("B", EventUserStatus); len(got) != 1 {
		t.Fatalf("second tab should not announce online again, got %d", len(got))
	}
	sink.reset()
	router.Disconnect("A1")
	if got := sink.received("B", EventUserStatus); len(got) != 0 {
		t.Fatal("alice still has a tab open")
	}
	router.Disconnect("A2")
	if got := sink.received("B", EventUserStatus); len(got) != 1 {
		t.Fatalf("expected offline status, got %d", len(got))
	}
}
