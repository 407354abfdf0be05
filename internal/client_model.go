package internal

import (
	"os"
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

// tui model struct for all the components and modes
type TUIModel struct {
	textInput       textinput.Model
	entries         []logEntry
	notices         []string
	serverJoinURL   string
	roomKey         string
	username        string
	websocketConn   *websocket.Conn
	writeMutex      *sync.Mutex
	isConnected     bool
	connectionError error
	mode            appMode

	roster       []string
	rooms        []RoomSummary
	showRooms    bool
	typingText   string
	statusBanner string
	bannerSeq    int
	typingSent   bool
}

// one rendered line of the chat log
type logEntry struct {
	Author string
	Text   string
	Time   string
	System bool
}

type appMode int

const (
	modeNamePrompt appMode = iota
	modeRoomPrompt
	modeChat
)

func NewTUIModel(serverJoinURL, roomKey, username string) *TUIModel {
	input := textinput.New()
	input.CharLimit = 0
	input.Focus()

	model := &TUIModel{
		textInput:     input,
		entries:       make([]logEntry, 0, 64),
		serverJoinURL: serverJoinURL,
		roomKey:       roomKey,
		username:      username,
		writeMutex:    &sync.Mutex{},
	}
	switch {
	case username == "":
		model.enterNamePrompt()
	case roomKey == "":
		model.enterRoomPrompt()
	default:
		model.enterChat()
	}
	return model
}

// init user
func defaultUsername() string {
	if user := os.Getenv("ROOMRELAY_USER"); user != "" {
		return user
	}
	return os.Getenv("USER")
}

func (model *TUIModel) Init() tea.Cmd {
	if model.mode == modeChat {
		return model.connectCmd()
	}
	return textinput.Blink
}

func (model *TUIModel) enterNamePrompt() {
	model.mode = modeNamePrompt
	model.textInput.SetValue(defaultUsername())
	model.textInput.Placeholder = "Enter display name…"
	model.textInput.Prompt = "name> "
}

func (model *TUIModel) enterRoomPrompt() {
	model.mode = modeRoomPrompt
	model.textInput.SetValue("")
	model.textInput.Placeholder = "Enter room id, or /new for a fresh one…"
	model.textInput.Prompt = "room> "
}

func (model *TUIModel) enterChat() {
	model.mode = modeChat
	model.textInput.SetValue("")
	model.textInput.Placeholder = "Type a message…"
	model.textInput.Prompt = "> "
}

func (model *TUIModel) addNotice(text string) {
	model.notices = append(model.notices, text)
}

func (model *TUIModel) addSystemEntry(text, at string) {
	model.entries = append(model.entries, logEntry{Author: systemAuthor, Text: text, Time: at, System: true})
}
