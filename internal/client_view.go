package internal

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// pre styled colors, all from lipgloss
var (
	appTitleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	menuHintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	noticeBoxStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("95")).Padding(1, 2).MarginTop(1)
	chatHeaderStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).MarginTop(1)
	connectedStyle     = statusStyle.Copy().Foreground(lipgloss.Color("42")).Bold(true)
	connectingStyle    = statusStyle.Copy().Foreground(lipgloss.Color("178")).Italic(true)
	errorStyle         = statusStyle.Copy().Foreground(lipgloss.Color("196")).Bold(true)
	messageBodyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("253"))
	messageBoxStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(1, 2).MarginTop(1)
	rosterBoxStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(1, 2).MarginTop(1).MarginRight(1)
	inputBoxStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	timestampStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	usernameStyle      = lipgloss.NewStyle().Bold(true)
	activeUserStyle    = usernameStyle.Copy().Foreground(lipgloss.Color("213"))
	systemMessageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	bannerStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("110")).Italic(true)
	dividerStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("237")).Render(" ┃ ")
	userColorPalette   = []lipgloss.Color{
		lipgloss.Color("45"),
		lipgloss.Color("81"),
		lipgloss.Color("141"),
		lipgloss.Color("98"),
		lipgloss.Color("63"),
		lipgloss.Color("135"),
		lipgloss.Color("32"),
	}
)

func (model *TUIModel) View() string {
	switch model.mode {
	case modeNamePrompt:
		return model.renderPrompt("Join a chat", "Pick the display name others will see.")
	case modeRoomPrompt:
		return model.renderPrompt("Join a chat", "Enter a room id. Rooms exist while someone is in them.")
	default:
		return model.renderChatView()
	}
}

func (model *TUIModel) renderPrompt(title, hint string) string {
	viewSections := []string{appTitleStyle.Render(title), menuHintStyle.Render(hint)}
	if notices := model.renderNotices(); notices != "" {
		viewSections = append(viewSections, notices)
	}
	viewSections = append(viewSections, inputBoxStyle.Render(model.textInput.View()))
	return lipgloss.JoinVertical(lipgloss.Left, viewSections...)
}

func (model *TUIModel) renderChatView() string {
	headerSegments := []string{
		"RoomRelay",
		fmt.Sprintf("Room %s", model.roomKey),
		fmt.Sprintf("User %s", model.username),
		fmt.Sprintf("Server %s", model.serverJoinURL),
	}
	header := chatHeaderStyle.Render(strings.Join(headerSegments, dividerStyle))

	var statusLine string
	switch {
	case model.isConnected:
		statusLine = connectedStyle.Render("Connected")
	case model.connectionError != nil:
		statusLine = errorStyle.Render("Connection error: " + model.connectionError.Error() + " (retrying)")
	default:
		statusLine = connectingStyle.Render("Connecting…")
	}

	var messageLines []string
	for _, entry := range model.entries {
		messageLines = append(messageLines, model.renderEntry(entry))
	}
	if len(messageLines) == 0 {
		messageLines = append(messageLines, systemMessageStyle.Render("No messages yet. Say hi and start the conversation."))
	}
	messagesView := messageBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, messageLines...))
	body := lipgloss.JoinHorizontal(lipgloss.Top, model.renderRoster(), messagesView)

	sections := []string{header, statusLine}
	if notices := model.renderNotices(); notices != "" {
		sections = append(sections, notices)
	}
	sections = append(sections, body)
	if model.showRooms {
		sections = append(sections, model.renderRooms())
	}
	if model.typingText != "" {
		sections = append(sections, bannerStyle.Render(model.typingText))
	}
	if model.statusBanner != "" {
		sections = append(sections, bannerStyle.Render(model.statusBanner))
	}
	sections = append(sections,
		inputBoxStyle.Render(model.textInput.View()),
		menuHintStyle.Render("/rooms list rooms • /join <room> switch • /who refresh roster • /quit or Esc exit"),
	)
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model *TUIModel) renderRoster() string {
	lines := []string{usernameStyle.Render(fmt.Sprintf("Online (%d)", len(model.roster)))}
	for _, name := range model.roster {
		lines = append(lines, presenceDot()+" "+name)
	}
	return rosterBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (model *TUIModel) renderRooms() string {
	if len(model.rooms) == 0 {
		return noticeBoxStyle.Render(systemMessageStyle.Render("No rooms are occupied right now."))
	}
	lines := make([]string, 0, len(model.rooms))
	for _, room := range model.rooms {
		marker := "  "
		if room.RoomID == model.roomKey {
			marker = "➤ "
		}
		lines = append(lines, fmt.Sprintf("%s%s (%d): %s", marker, room.RoomID, room.UserCount, strings.Join(room.Users, ", ")))
	}
	return noticeBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (model *TUIModel) renderNotices() string {
	if len(model.notices) == 0 {
		return ""
	}
	notices := make([]string, 0, len(model.notices))
	for _, notice := range model.notices {
		notices = append(notices, systemMessageStyle.Render(notice))
	}
	return noticeBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, notices...))
}

// renderEntry renders a single log line: timestamp, colored sender, and an
// indented body so multi-line messages stay legible.
func (model *TUIModel) renderEntry(entry logEntry) string {
	timestamp := timestampStyle.Render(fmt.Sprintf("[%s]", entry.Time))
	if entry.System {
		return lipgloss.JoinHorizontal(lipgloss.Left, timestamp, " ", systemMessageStyle.Render(entry.Text))
	}

	nameStyle := usernameStyle.Copy().Foreground(colorForUser(entry.Author))
	if entry.Author == model.username {
		nameStyle = activeUserStyle
	}
	bodyText := messageBodyStyle.Render(strings.ReplaceAll(entry.Text, "\n", "\n   "))
	return lipgloss.JoinHorizontal(lipgloss.Left, timestamp, " ", nameStyle.Render(entry.Author), ": ", bodyText)
}

func presenceDot() string {
	return lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("●")
}

// color for users
func colorForUser(name string) lipgloss.Color {
	if name == "" {
		return userColorPalette[0]
	}
	var sum int
	for _, r := range name {
		sum += int(r)
	}
	return userColorPalette[sum%len(userColorPalette)]
}
