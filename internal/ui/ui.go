package ui

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"

	"github.com/desertthunder/pihome/internal/agent"
	"github.com/desertthunder/pihome/internal/events"
	"github.com/desertthunder/pihome/internal/models"
	"github.com/desertthunder/pihome/internal/services"
)

const (
	historyLimit = 100
	inputHeight  = 3
	chromeHeight = 8
)

// Backend is the data the TUI reads and writes.
type Backend interface {
	ListChats(ctx context.Context, familyID string) ([]*models.ChatSummary, error)
	CreateChat(ctx context.Context, familyID string) (*models.Chat, error)
	History(ctx context.Context, chatID string) (*models.Chat, []*models.Message, error) // oldest first
	Send(ctx context.Context, chatID, userID, content string) (*agent.Exchange, error)
	// MessageFeed streams messages added to chatID until stop is called. A nil channel means no feed.
	MessageFeed(chatID string) (feed <-chan *models.Message, stop func())
}

// ServiceBackend implements [Backend] over the chat service and the chat agent. Events, when set,
// feeds the open conversation with messages stored by anyone in the family.
type ServiceBackend struct {
	Chats     *services.ChatService
	ChatAgent *agent.ChatAgent
	Events    events.Subscriber
	Logger    *log.Logger
}

func (b ServiceBackend) ListChats(ctx context.Context, familyID string) ([]*models.ChatSummary, error) {
	return b.Chats.GetAllChatsWithFamilyID(ctx, familyID, historyLimit, 0)
}

func (b ServiceBackend) CreateChat(ctx context.Context, familyID string) (*models.Chat, error) {
	return b.Chats.CreateChat(ctx, familyID)
}

func (b ServiceBackend) History(ctx context.Context, chatID string) (*models.Chat, []*models.Message, error) {
	chat, err := b.Chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}
	messages, err := b.Chats.GetChatMessages(ctx, chatID, historyLimit, 0)
	if err != nil {
		return nil, nil, err
	}
	slices.Reverse(messages)
	return chat, messages, nil
}

func (b ServiceBackend) Send(ctx context.Context, chatID, userID, content string) (*agent.Exchange, error) {
	return b.ChatAgent.Send(ctx, chatID, userID, content)
}

func (b ServiceBackend) MessageFeed(chatID string) (<-chan *models.Message, func()) {
	if b.Events == nil {
		return nil, func() {}
	}

	in, cancel := b.Events.Subscribe(events.MessageAddedTopic(chatID))
	out := make(chan *models.Message)
	done := make(chan struct{})

	go func() {
		defer close(out)
		for ev := range in {
			msg, err := events.Payload[*models.Message](ev)
			if err != nil {
				if b.Logger != nil {
					b.Logger.Warn("dropping undecodable message event", "chat", chatID, "error", err)
				}
				continue
			}
			select {
			case out <- msg:
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			close(done)
			cancel()
		})
	}
}

// ViewState is the screen currently shown.
type ViewState int

const (
	ChatListView ViewState = iota
	ConversationView
)

// Model is the TUI state.
type Model struct {
	ctx      context.Context
	backend  Backend
	familyID string
	userID   string
	senders  map[string]string

	view     ViewState
	width    int
	height   int
	chatList list.Model
	chat     *models.Chat
	messages []*models.Message
	feed     <-chan *models.Message
	unwatch  func()
	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model
	waiting  bool
	err      error
	help     help.Model
	keys     keyMap
}

// NewModel starts on the family's chat list. senders maps user ids to display names.
func NewModel(ctx context.Context, backend Backend, familyID, userID string, senders map[string]string) *Model {
	input := textarea.New()
	input.Placeholder = "Ask the assistant…"
	input.ShowLineNumbers = false
	input.CharLimit = 2000
	input.SetHeight(inputHeight)
	input.KeyMap.InsertNewline.SetEnabled(false)

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	chatList := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	chatList.Title = "Chats"

	if senders == nil {
		senders = map[string]string{}
	}

	return &Model{
		ctx:      ctx,
		backend:  backend,
		familyID: familyID,
		userID:   userID,
		senders:  senders,
		view:     ChatListView,
		chatList: chatList,
		viewport: viewport.New(0, 0),
		input:    input,
		spinner:  spin,
		help:     help.New(),
		keys:     newKeyMap(),
	}
}

func (m *Model) Init() tea.Cmd {
	return m.loadChats()
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.quit) {
			return m, tea.Quit
		}
		if m.view == ConversationView {
			return m.handleConversationKeys(msg)
		}
		return m.handleListKeys(msg)

	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case Msg:
		return m.handleMsg(msg)
	}

	return m.updateActive(msg)
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgChatsLoaded:
		data := msg.data.(chatsLoaded)
		m.err = data.err
		if data.err != nil {
			return m, nil
		}
		items := make([]list.Item, len(data.chats))
		for i, c := range data.chats {
			items[i] = chatItem{summary: c}
		}
		return m, m.chatList.SetItems(items)

	case MsgChatCreated:
		data := msg.data.(chatCreated)
		m.err = data.err
		if data.err != nil {
			return m, nil
		}
		return m, m.loadHistory(data.chat.ID)

	case MsgHistoryLoaded:
		data := msg.data.(historyLoaded)
		m.err = data.err
		if data.err != nil {
			return m, nil
		}
		m.chat = data.chat
		m.messages = data.messages
		m.view = ConversationView
		m.refreshTranscript()
		m.watch(data.chat.ID)
		return m, tea.Batch(m.input.Focus(), m.waitForMessage())

	case MsgReplyReceived:
		data := msg.data.(replyReceived)
		m.waiting = false
		m.err = data.err
		if data.err != nil {
			return m, nil
		}
		m.addMessages(data.exchange.Message, data.exchange.Reply)
		return m, nil

	case MsgMessageAdded:
		data := msg.data.(messageAdded)
		if m.chat == nil || data.chatID != m.chat.ID {
			return m, nil
		}
		m.addMessages(data.message)
		return m, m.waitForMessage()
	}
	return m, nil
}

// addMessages appends messages not already in the transcript. A message can arrive both from the
// feed and from the sender's own exchange.
func (m *Model) addMessages(messages ...*models.Message) {
	for _, msg := range messages {
		if msg == nil || slices.ContainsFunc(m.messages, func(e *models.Message) bool { return e.ID == msg.ID }) {
			continue
		}
		m.messages = append(m.messages, msg)
	}
	m.refreshTranscript()
}

func (m *Model) watch(chatID string) {
	m.stopWatching()
	m.feed, m.unwatch = m.backend.MessageFeed(chatID)
}

func (m *Model) stopWatching() {
	if m.unwatch != nil {
		m.unwatch()
	}
	m.feed, m.unwatch = nil, nil
}

// waitForMessage reads one message from the open conversation's feed.
func (m *Model) waitForMessage() tea.Cmd {
	feed := m.feed
	if feed == nil || m.chat == nil {
		return nil
	}
	chatID := m.chat.ID
	return func() tea.Msg {
		msg, ok := <-feed
		if !ok {
			return nil
		}
		return messageAddedMsg(chatID, msg)
	}
}

func (m *Model) handleListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.chatList.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.chatList, cmd = m.chatList.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.open):
		if item, ok := m.chatList.SelectedItem().(chatItem); ok {
			return m, m.loadHistory(item.summary.ID)
		}
		return m, nil
	case key.Matches(msg, m.keys.newChat):
		return m, m.createChat()
	case msg.String() == "q":
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.chatList, cmd = m.chatList.Update(msg)
	return m, cmd
}

func (m *Model) handleConversationKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.back):
		if m.waiting {
			return m, nil
		}
		m.view = ChatListView
		m.stopWatching()
		m.chat = nil
		m.messages = nil
		m.err = nil
		m.input.Blur()
		return m, m.loadChats()

	case key.Matches(msg, m.keys.send):
		content := strings.TrimSpace(m.input.Value())
		if content == "" || m.waiting {
			return m, nil
		}
		m.input.Reset()
		m.waiting = true
		m.err = nil
		return m, tea.Batch(m.spinner.Tick, m.send(content))

	case key.Matches(msg, m.keys.scroll):
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) updateActive(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.view {
	case ChatListView:
		m.chatList, cmd = m.chatList.Update(msg)
	case ConversationView:
		var vpCmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		m.viewport, vpCmd = m.viewport.Update(msg)
		cmd = tea.Batch(cmd, vpCmd)
	}
	return m, cmd
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	m.chatList.SetSize(width-4, height-4)
	m.input.SetWidth(width - 4)
	m.viewport.Width = width - 4
	m.viewport.Height = max(height-inputHeight-chromeHeight, 3)
	m.help.Width = width
	m.refreshTranscript()
}

func (m *Model) loadChats() tea.Cmd {
	return func() tea.Msg {
		chats, err := m.backend.ListChats(m.ctx, m.familyID)
		return chatsLoadedMsg(chats, err)
	}
}

func (m *Model) createChat() tea.Cmd {
	return func() tea.Msg {
		chat, err := m.backend.CreateChat(m.ctx, m.familyID)
		return chatCreatedMsg(chat, err)
	}
}

func (m *Model) loadHistory(chatID string) tea.Cmd {
	return func() tea.Msg {
		chat, messages, err := m.backend.History(m.ctx, chatID)
		return historyLoadedMsg(chat, messages, err)
	}
}

func (m *Model) send(content string) tea.Cmd {
	chatID := m.chat.ID
	return func() tea.Msg {
		exchange, err := m.backend.Send(m.ctx, chatID, m.userID, content)
		return replyReceivedMsg(exchange, err)
	}
}

func (m *Model) senderName(id string) string {
	switch {
	case id == models.AssistantSenderID:
		return "Assistant"
	case id == m.userID:
		return "You"
	case m.senders[id] != "":
		return m.senders[id]
	default:
		return id
	}
}

// renderTranscript formats messages for the viewport, wrapped to width.
func (m *Model) renderTranscript() string {
	if len(m.messages) == 0 {
		return styles.help.Render("No messages yet. Say hello!")
	}

	wrap := lipgloss.NewStyle()
	if m.viewport.Width > 0 {
		wrap = wrap.Width(m.viewport.Width)
	}

	var b strings.Builder
	for i, msg := range m.messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		name := m.senderName(msg.SenderID)
		label := styles.user.Render(name)
		if msg.SenderID == models.AssistantSenderID {
			label = styles.assistant.Render(name)
		}
		fmt.Fprintf(&b, "%s %s\n", label, styles.help.Render(msg.CreatedAt.Local().Format("15:04")))
		b.WriteString(wrap.Render(msg.Content))
	}
	return b.String()
}

func (m *Model) refreshTranscript() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m *Model) View() string {
	switch m.view {
	case ConversationView:
		return m.renderConversation()
	default:
		return m.renderChatList()
	}
}

func (m *Model) renderChatList() string {
	parts := []string{m.chatList.View()}
	if m.err != nil {
		parts = append(parts, styles.err.Render(fmt.Sprintf("Error: %v", m.err)))
	}
	parts = append(parts, m.help.ShortHelpView(m.keys.listHelp()))
	return strings.Join(parts, "\n\n")
}

func (m *Model) renderConversation() string {
	title := styles.title.Render(m.chat.Name)

	status := ""
	switch {
	case m.waiting:
		status = m.spinner.View() + " Thinking…"
	case m.err != nil:
		status = styles.err.Render(fmt.Sprintf("Error: %v", m.err))
	}

	return strings.Join([]string{
		title,
		styles.border.Render(m.viewport.View()),
		status,
		m.input.View(),
		m.help.ShortHelpView(m.keys.chatHelp()),
	}, "\n")
}

// Run starts the TUI on the terminal's alternate screen.
func Run(ctx context.Context, backend Backend, familyID, userID string, senders map[string]string) error {
	model := NewModel(ctx, backend, familyID, userID, senders)
	defer model.stopWatching()

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
