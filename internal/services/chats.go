package services

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/pihome/internal/events"
	"github.com/desertthunder/pihome/internal/models"
	"github.com/desertthunder/pihome/internal/shared"
)

const (
	// DefaultMessagePageSize is used when no message limit is given.
	DefaultMessagePageSize = 20
	maxChatListing         = 1000
)

// ChatService stores conversations and announces their changes.
type ChatService struct {
	stores *Stores
	events *notifier
	logger *log.Logger
}

// NewChatService creates a [ChatService].
func NewChatService(stores *Stores, publisher events.Publisher, logger *log.Logger) *ChatService {
	logger = orDiscard(logger)
	return &ChatService{stores: stores, events: newNotifier(publisher, logger), logger: logger}
}

// CreateChat opens a chat named [models.DefaultChatName] for a family.
func (s *ChatService) CreateChat(ctx context.Context, familyID string) (*models.Chat, error) {
	if _, err := s.stores.Families.Get(ctx, familyID); err != nil {
		return nil, err
	}

	chat := models.NewChat(familyID)
	if err := s.stores.Chats.CreateChat(ctx, chat); err != nil {
		return nil, err
	}

	s.events.publish(ctx, events.ChatCreated, chat)
	return chat, nil
}

// AddMessage appends a message and makes it the chat's latest.
func (s *ChatService) AddMessage(ctx context.Context, chatID, senderID, content string) (*models.Message, error) {
	msg := models.NewMessage(chatID, senderID, content)
	if err := s.stores.Chats.AddMessage(ctx, msg); err != nil {
		return nil, err
	}

	s.events.publish(ctx, events.MessageAddedTopic(chatID), msg)
	return msg, nil
}

func (s *ChatService) GetChat(ctx context.Context, chatID string) (*models.Chat, error) {
	return s.stores.Chats.GetChat(ctx, chatID)
}

// GetChatMessages pages through a chat's messages, newest first.
func (s *ChatService) GetChatMessages(ctx context.Context, chatID string, limit, skip int) ([]*models.Message, error) {
	if _, err := s.stores.Chats.GetChat(ctx, chatID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultMessagePageSize
	}
	return s.stores.Chats.ListMessages(ctx, chatID, limit, skip)
}

// GetChats lists every chat, most recently active first.
func (s *ChatService) GetChats(ctx context.Context) ([]*models.ChatSummary, error) {
	chats, err := s.stores.Chats.ListChats(ctx, "", maxChatListing, 0)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, chats)
}

// GetAllChatsWithFamilyID lists a family's chats with their latest message.
func (s *ChatService) GetAllChatsWithFamilyID(ctx context.Context, familyID string, limit, skip int) ([]*models.ChatSummary, error) {
	chats, err := s.stores.Chats.ListChats(ctx, familyID, limit, skip)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, chats)
}

func (s *ChatService) summarize(ctx context.Context, chats []*models.Chat) ([]*models.ChatSummary, error) {
	summaries := make([]*models.ChatSummary, 0, len(chats))
	for _, chat := range chats {
		summary := &models.ChatSummary{Chat: chat}
		if chat.LatestMessageID != "" {
			msg, err := s.stores.Chats.GetMessage(ctx, chat.LatestMessageID)
			switch {
			case err == nil:
				summary.LatestMessage = msg
			case !errors.Is(err, shared.ErrNotFound):
				return nil, err
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (s *ChatService) RenameChat(ctx context.Context, chatID, name string) (*models.Chat, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, shared.BadRequest("Chat name is required")
	}

	chat, err := s.stores.Chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}

	chat.Name = name
	if err := s.stores.Chats.UpdateChat(ctx, chat); err != nil {
		return nil, err
	}
	return chat, nil
}

// DeleteChat removes a chat with its messages.
func (s *ChatService) DeleteChat(ctx context.Context, chatID string) error {
	chat, err := s.stores.Chats.GetChat(ctx, chatID)
	if err != nil {
		return err
	}

	if err := s.stores.Chats.DeleteChat(ctx, chat.ID); err != nil {
		return err
	}

	s.events.publish(ctx, events.ChatDeleted, chat)
	return nil
}
