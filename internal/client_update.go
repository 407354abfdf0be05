package internal

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func (model *TUIModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typedMessage := message.(type) {
	case tea.KeyMsg:
		// Any mode should respect Ctrl+C or Esc so the user can bail out quickly.
		if typedMessage.Type == tea.KeyCtrlC || typedMessage.Type == tea.KeyEsc {
			model.closeConn("")
			return model, tea.Quit
		}
		switch model.mode {
		case modeNamePrompt:
			return model.updateNamePrompt(typedMessage)
		case modeRoomPrompt:
			return model.updateRoomPrompt(typedMessage)
		default:
			return model.updateChat(typedMessage)
		}

	case connectedMsg:
		model.websocketConn = typedMessage.conn
		model.isConnected = true
		model.connectionError = nil
		return model, tea.Batch(model.joinCmd(), readOnceCmd(typedMessage.conn))

	case envelopeMsg:
		cmd := model.applyEnvelope(Envelope(typedMessage))
		return model, tea.Batch(cmd, readOnceCmd(model.websocketConn))

	case readFailedMsg:
		model.isConnected = false
		model.websocketConn = nil
		model.connectionError = typedMessage.err
		model.roster = nil
		model.typingText = ""
		return model, model.scheduleReconnect()

	case sendFailedMsg:
		model.connectionError = typedMessage.err
		return model, nil

	case connectFailedMsg:
		model.connectionError = typedMessage.err
		if model.mode == modeChat {
			return model, model.scheduleReconnect()
		}
		return model, nil

	case reconnectMsg:
		if model.mode == modeChat && !model.isConnected {
			return model, model.connectCmd()
		}
		return model, nil

	case clearBannerMsg:
		if typedMessage.seq == model.bannerSeq {
			model.statusBanner = ""
		}
		return model, nil

	case existsMsg:
		if typedMessage.err != nil {
			model.addNotice(fmt.Sprintf("Could not check room: %v", typedMessage.err))
		} else if !typedMessage.exists {
			model.addNotice(fmt.Sprintf("Room %s is empty. You'll be the first one there.", typedMessage.key))
		}
		return model, nil
	}
	return model, nil
}

func (model *TUIModel) updateNamePrompt(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Type != tea.KeyEnter {
		var cmd tea.Cmd
		model.textInput, cmd = model.textInput.Update(key)
		return model, cmd
	}
	trimmed := strings.TrimSpace(model.textInput.Value())
	if trimmed == "" {
		model.addNotice("Display name cannot be empty.")
		return model, nil
	}
	model.username = trimmed
	if model.roomKey != "" {
		model.enterChat()
		return model, model.connectCmd()
	}
	model.enterRoomPrompt()
	return model, nil
}

func (model *TUIModel) updateRoomPrompt(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Type != tea.KeyEnter {
		var cmd tea.Cmd
		model.textInput, cmd = model.textInput.Update(key)
		return model, cmd
	}
	trimmed := strings.TrimSpace(model.textInput.Value())
	if trimmed == "" {
		model.addNotice("Room id cannot be empty.")
		return model, nil
	}
	if strings.EqualFold(trimmed, "/new") {
		trimmed = generateSecureKey(12)
		model.addNotice("Created room " + trimmed + ". Share the id so others can join.")
	}
	model.roomKey = trimmed
	model.enterChat()
	return model, tea.Batch(model.existsCmd(trimmed), model.connectCmd())
}

func (model *TUIModel) updateChat(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Type == tea.KeyEnter {
		trimmed := strings.TrimSpace(model.textInput.Value())
		if strings.HasPrefix(trimmed, "/") {
			return model.runCommand(trimmed)
		}
		if trimmed == "" || !model.isConnected {
			return model, nil
		}
		chat := ChatMessage{Room: model.roomKey, Author: model.username, Message: trimmed, Time: clockTime(time.Now())}
		model.textInput.SetValue("")
		model.typingSent = false
		return model, tea.Sequence(
			model.emit(EventSendMessage, chat),
			model.emit(EventStopTyping, TypingPayload{Room: model.roomKey, Username: model.username}),
		)
	}

	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return model, tea.Batch(cmd, model.typingCmd())
}

// typingCmd emits typing on the first keystroke and stop_typing once the
// input is cleared, instead of once per key.
func (model *TUIModel) typingCmd() tea.Cmd {
	value := strings.TrimSpace(model.textInput.Value())
	if strings.HasPrefix(value, "/") {
		value = ""
	}
	typing := TypingPayload{Room: model.roomKey, Username: model.username}
	switch {
	case value != "" && !model.typingSent:
		model.typingSent = true
		return model.emit(EventTyping, typing)
	case value == "" && model.typingSent:
		model.typingSent = false
		return model.emit(EventStopTyping, typing)
	}
	return nil
}

func (model *TUIModel) runCommand(line string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(line)
	model.textInput.SetValue("")
	switch strings.ToLower(fields[0]) {
	case "/quit", "/exit":
		model.closeConn("client quit")
		return model, tea.Quit
	case "/rooms":
		model.showRooms = !model.showRooms
		if model.showRooms {
			return model, model.emit(EventRequestRooms, nil)
		}
		return model, nil
	case "/who":
		return model, model.emit(EventWhoIsHere, WhoIsHerePayload{Room: model.roomKey})
	case "/join":
		if len(fields) < 2 {
			model.addSystemEntry("usage: /join <room>", clockTime(time.Now()))
			return model, nil
		}
		stop := model.emit(EventStopTyping, TypingPayload{Room: model.roomKey, Username: model.username})
		model.typingSent = false
		model.roomKey = strings.Join(fields[1:], " ")
		model.roster = nil
		model.typingText = ""
		model.entries = model.entries[:0]
		return model, tea.Sequence(stop, model.joinCmd())
	}
	model.addSystemEntry("unknown command "+fields[0], clockTime(time.Now()))
	return model, nil
}

// applyEnvelope folds one server event into the model.
func (model *TUIModel) applyEnvelope(envelope Envelope) tea.Cmd {
	switch envelope.Event {
	case EventReceiveMessage:
		var chat ChatMessage
		if json.Unmarshal(envelope.Data, &chat) != nil {
			return nil
		}
		model.entries = append(model.entries, logEntry{
			Author: chat.Author,
			Text:   chat.Message,
			Time:   chat.Time,
			System: chat.Author == systemAuthor,
		})
	case EventRoomUsers:
		var users []string
		if json.Unmarshal(envelope.Data, &users) == nil {
			model.roster = users
		}
	case EventRoomList:
		var rooms []RoomSummary
		if json.Unmarshal(envelope.Data, &rooms) == nil {
			model.rooms = rooms
		}
	case EventDisplayTyping:
		var typing TypingPayload
		if json.Unmarshal(envelope.Data, &typing) == nil && typing.Username != model.username {
			model.typingText = typing.Username + " is typing..."
		}
	case EventHideTyping:
		model.typingText = ""
	case EventUserJoined, EventUserLeft:
		var presence PresencePayload
		if json.Unmarshal(envelope.Data, &presence) != nil || presence.Room != model.roomKey {
			return nil
		}
		verb := "joined"
		if envelope.Event == EventUserLeft {
			verb = "left"
		}
		model.addSystemEntry(fmt.Sprintf("%s %s the room", presence.Username, verb), clockTime(time.Now()))
	case EventUserStatus:
		var status UserStatusPayload
		if json.Unmarshal(envelope.Data, &status) != nil {
			return nil
		}
		model.statusBanner = fmt.Sprintf("%s is %s", status.Username, status.Status)
		return model.scheduleBannerClear()
	}
	return nil
}
