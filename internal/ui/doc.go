// Package ui is the interactive chat client for a family member, built on bubbletea.
//
// The [Model] has two views:
//  1. [ChatListView] : the family's chats, newest first; enter opens one, n starts a new one
//  2. [ConversationView] : the transcript in a scrollable viewport above a textarea
//
// Sending stores the message and waits for the assistant with a spinner. All data access goes through a
// [Backend], normally [ServiceBackend] over the chat service and the chat agent.
package ui
