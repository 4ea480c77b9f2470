package agent

import (
	"context"
	"errors"
	"io"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/pihome/internal/models"
	"github.com/desertthunder/pihome/internal/services"
)

// ChatAgent runs the agent inside stored chats: both sides of every exchange are saved as chat
// messages, and each save publishes a message added event.
type ChatAgent struct {
	agent    *Agent
	chats    *services.ChatService
	families *services.FamiliesService
	logger   *log.Logger
}

func NewChatAgent(agent *Agent, chats *services.ChatService, families *services.FamiliesService, logger *log.Logger) *ChatAgent {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &ChatAgent{agent: agent, chats: chats, families: families, logger: logger}
}

// Exchange is a stored user message and the assistant's stored reply.
type Exchange struct {
	Message *models.Message `json:"message"`
	Reply   *models.Message `json:"reply"`
	Usage   Usage           `json:"usage"`
}

// Send stores content from userID, asks the agent with the family's chat model and stores the answer.
//
// Once the user message is stored an agent failure is answered with the apology reply, so a chat
// never ends on an unanswered message.
func (c *ChatAgent) Send(ctx context.Context, chatID, userID, content string) (*Exchange, error) {
	chat, err := c.chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}

	chatModel, err := c.families.GetFamilyChatModel(ctx, chat.FamilyID)
	if err != nil {
		return nil, err
	}

	message, err := c.chats.AddMessage(ctx, chat.ID, userID, content)
	if err != nil {
		return nil, err
	}

	reply, err := c.agent.ProcessMessage(ctx, Request{
		Input:    content,
		FamilyID: chat.FamilyID,
		UserID:   userID,
		ChatID:   chat.ID,
		Model:    chatModel.Key,
	})
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	case err != nil:
		c.logger.Error("agent failed", "chat", chat.ID, "model", chatModel.Key, "error", err)
		reply = Reply{Content: modelErrorReply}
	}

	answer, err := c.chats.AddMessage(ctx, chat.ID, models.AssistantSenderID, reply.Content)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("chat exchange stored", "chat", chat.ID, "model", chatModel.Key, "cached", reply.Cached)
	return &Exchange{Message: message, Reply: answer, Usage: reply.Usage}, nil
}
