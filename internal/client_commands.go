package internal

import (
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

var errNotConnected = errors.New("websocket not connected")

// async results fed back into Update
type (
	connectedMsg     struct{ conn *websocket.Conn }
	envelopeMsg      Envelope
	readFailedMsg    struct{ err error }
	connectFailedMsg struct{ err error }
	sendFailedMsg    struct{ err error }
	reconnectMsg     struct{}
	clearBannerMsg   struct{ seq int }
	existsMsg        struct {
		key    string
		exists bool
		err    error
	}
)

func (model *TUIModel) scheduleReconnect() tea.Cmd {
	const retryDelay = 2 * time.Second
	return tea.Tick(retryDelay, func(time.Time) tea.Msg {
		return reconnectMsg{}
	})
}

// banners disappear after a couple of seconds unless replaced
func (model *TUIModel) scheduleBannerClear() tea.Cmd {
	model.bannerSeq++
	seq := model.bannerSeq
	return tea.Tick(2*time.Second, func(time.Time) tea.Msg {
		return clearBannerMsg{seq: seq}
	})
}

// websocket dial
func (model *TUIModel) connectCmd() tea.Cmd {
	serverURL := model.serverJoinURL
	return func() tea.Msg {
		if _, err := url.Parse(serverURL); err != nil {
			return connectFailedMsg{err: err}
		}
		conn, _, err := websocket.DefaultDialer.Dial(serverURL, http.Header{})
		if err != nil {
			return connectFailedMsg{err: err}
		}
		return connectedMsg{conn: conn}
	}
}

// HTTP GET against /exists so we can tell the user they are first in a room
func (model *TUIModel) existsCmd(key string) tea.Cmd {
	serverURL := model.serverJoinURL
	return func() tea.Msg {
		urlStr, err := buildExistsURL(serverURL, key)
		if err != nil {
			return existsMsg{key: key, err: err}
		}
		client := &http.Client{Timeout: 3 * time.Second}
		resp, err := client.Get(urlStr)
		if err != nil {
			return existsMsg{key: key, err: err}
		}
		_ = resp.Body.Close()
		return existsMsg{key: key, exists: resp.StatusCode == http.StatusOK}
	}
}

// one read at a time; Update asks for the next frame after handling this one
func readOnceCmd(conn *websocket.Conn) tea.Cmd {
	return func() tea.Msg {
		if conn == nil {
			return readFailedMsg{err: errNotConnected}
		}
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return readFailedMsg{err: err}
			}
			if messageType != websocket.TextMessage {
				continue
			}
			envelope, err := DecodeEnvelope(payload)
			if err != nil {
				continue
			}
			return envelopeMsg(envelope)
		}
	}
}

// emit sends one event. It is a no-op while disconnected.
func (model *TUIModel) emit(event string, payload any) tea.Cmd {
	conn := model.websocketConn
	if conn == nil || !model.isConnected {
		return nil
	}
	mutex := model.writeMutex
	return func() tea.Msg {
		frame, err := EncodeEnvelope(event, payload)
		if err != nil {
			return sendFailedMsg{err: err}
		}
		mutex.Lock()
		err = conn.WriteMessage(websocket.TextMessage, frame)
		mutex.Unlock()
		if err != nil {
			return sendFailedMsg{err: err}
		}
		return nil
	}
}

// the server answers a join with room_users, so no who_is_here is needed here
func (model *TUIModel) joinCmd() tea.Cmd {
	return model.emit(EventJoinRoom, JoinRoomPayload{Room: model.roomKey, Username: model.username})
}

func (model *TUIModel) closeConn(reason string) {
	if model.websocketConn == nil {
		return
	}
	model.writeMutex.Lock()
	_ = model.websocketConn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
	model.writeMutex.Unlock()
	_ = model.websocketConn.Close()
	model.websocketConn = nil
	model.isConnected = false
}

// entry for bubbletea
func RunClient(serverJoinURL, roomKey, username string) error {
	program := tea.NewProgram(NewTUIModel(serverJoinURL, roomKey, username))
	_, err := program.Run()
	return err
}

// quick exists check for a room with http://localhost:3001/exists?room=ROOM_ID
func buildExistsURL(wsBase string, roomKey string) (string, error) {
	parsed, err := url.Parse(wsBase)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "ws":
		parsed.Scheme = "http"
	case "wss":
		parsed.Scheme = "https"
	default:
		return "", fmt.Errorf("invalid scheme for websocket: %s", parsed.Scheme)
	}
	parsed.Path = "/exists"
	q := url.Values{}
	q.Set("room", roomKey)
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

// make shareable room code using base32
func generateSecureKey(length int) string {
	if length < 8 {
		length = 8
	}
	byteLen := (length * 5) / 8
	if (length*5)%8 != 0 {
		byteLen++
	}
	b := make([]byte, byteLen)
	_, _ = rand.Read(b)
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b)
	if len(enc) >= length {
		return enc[:length]
	}
	return enc
}

func clockTime(now time.Time) string {
	return now.Format("15:04")
}
