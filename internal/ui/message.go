package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/pihome/internal/agent"
	"github.com/desertthunder/pihome/internal/models"
)

// MsgKind enumerates the TUI's own messages.
type MsgKind int

// Msg is the TUI's message union.
type Msg struct {
	kind MsgKind
	data any
}

var _ tea.Msg = Msg{}

const (
	MsgChatsLoaded MsgKind = iota
	MsgChatCreated
	MsgHistoryLoaded
	MsgReplyReceived
	MsgMessageAdded
)

type chatsLoaded struct {
	chats []*models.ChatSummary
	err   error
}

type chatCreated struct {
	chat *models.Chat
	err  error
}

type historyLoaded struct {
	chat     *models.Chat
	messages []*models.Message
	err      error
}

type replyReceived struct {
	exchange *agent.Exchange
	err      error
}

type messageAdded struct {
	chatID  string
	message *models.Message
}

func chatsLoadedMsg(chats []*models.ChatSummary, err error) Msg {
	return Msg{kind: MsgChatsLoaded, data: chatsLoaded{chats, err}}
}

func chatCreatedMsg(chat *models.Chat, err error) Msg {
	return Msg{kind: MsgChatCreated, data: chatCreated{chat, err}}
}

func historyLoadedMsg(chat *models.Chat, messages []*models.Message, err error) Msg {
	return Msg{kind: MsgHistoryLoaded, data: historyLoaded{chat, messages, err}}
}

func replyReceivedMsg(exchange *agent.Exchange, err error) Msg {
	return Msg{kind: MsgReplyReceived, data: replyReceived{exchange, err}}
}

func messageAddedMsg(chatID string, message *models.Message) Msg {
	return Msg{kind: MsgMessageAdded, data: messageAdded{chatID, message}}
}
