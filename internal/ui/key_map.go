package ui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	up      key.Binding
	down    key.Binding
	open    key.Binding
	newChat key.Binding
	send    key.Binding
	back    key.Binding
	scroll  key.Binding
	quit    key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		open:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "open")),
		newChat: key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "new chat")),
		send:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
		back:    key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "chats")),
		scroll:  key.NewBinding(key.WithKeys("pgup", "pgdown"), key.WithHelp("pgup/pgdn", "scroll")),
		quit:    key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
	}
}

func (k keyMap) listHelp() []key.Binding {
	return []key.Binding{k.up, k.down, k.open, k.newChat, k.quit}
}

func (k keyMap) chatHelp() []key.Binding {
	return []key.Binding{k.send, k.scroll, k.back, k.quit}
}
