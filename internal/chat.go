package internal

import (
	"encoding/json"
	"fmt"
)

// inbound event names (client -> server)
const (
	EventJoinRoom     = "join_room"
	EventSendMessage  = "send_message"
	EventTyping       = "typing"
	EventStopTyping   = "stop_typing"
	EventRequestRooms = "request_rooms"
	EventWhoIsHere    = "who_is_here"
)

// outbound event names (server -> client)
const (
	EventReceiveMessage = "receive_message"
	EventRoomList       = "room_list"
	EventUserJoined     = "user_joined"
	EventUserLeft       = "user_left"
	EventDisplayTyping  = "display_typing"
	EventHideTyping     = "hide_typing"
	EventRoomUsers      = "room_users"
	EventUserStatus     = "user_status"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"

	systemAuthor = "system"
)

// Envelope is the json frame both sides exchange over the websocket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinRoomPayload struct {
	Room     string `json:"room"`
	Username string `json:"username"`
}

// ChatMessage is the send_message / receive_message payload.
type ChatMessage struct {
	Room    string `json:"room"`
	Author  string `json:"author"`
	Message string `json:"message"`
	Time    string `json:"time"`
}

// TypingPayload is used by typing, stop_typing, display_typing and hide_typing.
type TypingPayload struct {
	Room     string `json:"room"`
	Username string `json:"username"`
}

// PresencePayload is the body of user_joined and user_left.
type PresencePayload struct {
	Username string `json:"username"`
	Room     string `json:"room"`
}

type WhoIsHerePayload struct {
	Room string `json:"room"`
}

type UserStatusPayload struct {
	Username string `json:"username"`
	Status   string `json:"status"`
}

// RoomSummary is derived from the directory and never stored.
type RoomSummary struct {
	RoomID    string   `json:"roomId"`
	UserCount int      `json:"userCount"`
	Users     []string `json:"users"`
}

// EncodeEnvelope renders an outbound frame. A nil payload omits the data field.
func EncodeEnvelope(event string, payload any) ([]byte, error) {
	envelope := Envelope{Event: event}
	if payload != nil {
		switch typed := payload.(type) {
		case json.RawMessage:
			envelope.Data = typed
		default:
			data, err := json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("encode %s payload: %w", event, err)
			}
			envelope.Data = data
		}
	}
	return json.Marshal(envelope)
}

// DecodeEnvelope parses an inbound frame.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if envelope.Event == "" {
		return Envelope{}, fmt.Errorf("%w: missing event name", ErrMalformedFrame)
	}
	return envelope, nil
}

// decodeJoinRoom accepts either {room, username} or a bare room string.
func decodeJoinRoom(data json.RawMessage) (JoinRoomPayload, error) {
	var payload JoinRoomPayload
	if err := json.Unmarshal(data, &payload); err == nil {
		return payload, nil
	}
	var room string
	if err := json.Unmarshal(data, &room); err != nil {
		return JoinRoomPayload{}, fmt.Errorf("%w: join_room: %v", ErrMalformedPayload, err)
	}
	return JoinRoomPayload{Room: room}, nil
}

func decodePayload(event string, data json.RawMessage, out any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: %s: missing data", ErrMalformedPayload, event)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, event, err)
	}
	return nil
}
