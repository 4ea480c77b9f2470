package models

import (
	"fmt"
	"regexp"
	"time"

	"github.com/desertthunder/pihome/internal/shared"
)

// DefaultChatName is the name given to new chats.
const DefaultChatName = "New Chat"

// AssistantSenderID is the sender id recorded on messages written by the agent.
const AssistantSenderID = "assistant"

// Chat is a conversation thread belonging to a family.
type Chat struct {
	Record          `bson:",inline"`
	Name            string `json:"name" bson:"name"`
	FamilyID        string `json:"familyId" bson:"familyId"`
	LatestMessageID string `json:"-" bson:"latestMessageId,omitempty"`
}

// NewChat creates a [Chat] named [DefaultChatName].
func NewChat(familyID string) *Chat {
	c := &Chat{Name: DefaultChatName, FamilyID: familyID}
	c.Stamp(time.Now())
	return c
}

func (c *Chat) Validate() error {
	if c.FamilyID == "" {
		return fmt.Errorf("%w: chat family is required", shared.ErrInvalidInput)
	}
	if c.Name == "" {
		return fmt.Errorf("%w: chat name is required", shared.ErrInvalidInput)
	}
	return nil
}

// ChatSummary is a chat along with its most recent message, if any.
type ChatSummary struct {
	*Chat
	LatestMessage *Message `json:"latestMessage"`
}

// Message is one entry in a chat. SenderID is a user id, a device id or [AssistantSenderID].
type Message struct {
	Record   `bson:",inline"`
	ChatID   string `json:"chatId" bson:"chatId"`
	SenderID string `json:"senderId" bson:"senderId"`
	Content  string `json:"content" bson:"content"`
}

// NewMessage creates a [Message] stamped now.
func NewMessage(chatID, senderID, content string) *Message {
	m := &Message{ChatID: chatID, SenderID: senderID, Content: content}
	m.Stamp(time.Now())
	return m
}

// FromAssistant reports whether the agent wrote the message.
func (m *Message) FromAssistant() bool { return m.SenderID == AssistantSenderID }

func (m *Message) Validate() error {
	if m.ChatID == "" || m.SenderID == "" {
		return fmt.Errorf("%w: message chat and sender are required", shared.ErrInvalidInput)
	}
	if m.Content == "" {
		return fmt.Errorf("%w: message content is required", shared.ErrInvalidInput)
	}
	return nil
}

// Note is a piece of text saved by a family member, tagged with the #hashtags in its content.
type Note struct {
	Record     `bson:",inline"`
	Content    string   `json:"content" bson:"content"`
	Tags       []string `json:"tags" bson:"tags"`
	Category   string   `json:"category,omitempty" bson:"category,omitempty"`
	UserID     string   `json:"userId" bson:"userId"`
	UserName   string   `json:"userName" bson:"userName"`
	FamilyID   string   `json:"familyId" bson:"familyId"`
	FamilyName string   `json:"familyName" bson:"familyName"`
	IsPrivate  bool     `json:"isPrivate" bson:"isPrivate"`
}

var tagPattern = regexp.MustCompile(`#(\w+)`)

// ExtractTags returns the words following each '#' in content, in order of appearance.
func ExtractTags(content string) []string {
	matches := tagPattern.FindAllStringSubmatch(content, -1)
	tags := make([]string, 0, len(matches))
	for _, m := range matches {
		tags = append(tags, m[1])
	}
	return tags
}

// VisibleTo reports whether userID may read the note.
func (n *Note) VisibleTo(userID string) bool {
	return !n.IsPrivate || n.UserID == userID
}

func (n *Note) Validate() error {
	if n.Content == "" {
		return fmt.Errorf("%w: note content is required", shared.ErrInvalidInput)
	}
	if n.UserID == "" || n.FamilyID == "" {
		return fmt.Errorf("%w: note user and family are required", shared.ErrInvalidInput)
	}
	return nil
}
