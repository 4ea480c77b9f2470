package services

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/pihome/internal/models"
	"github.com/desertthunder/pihome/internal/shared"
)

// DefaultChatModels is the catalog installed by [ChatModelsService.SeedChatModels].
var DefaultChatModels = []models.ChatModel{
	{Key: "openai/gpt-4o", Name: "GPT-4o", MaxTokens: 8192, Price: 0.00003},
	{Key: "openai/gpt-4o-mini", Name: "GPT-4o Mini", MaxTokens: 4096, Price: 0.000015},
	{Key: "gemini-1.5-flash", Name: "Gemini 1.5 Flash", MaxTokens: 32768, Price: 0.00002},
}

// ChatModelsService exposes the LLM catalog.
type ChatModelsService struct {
	stores *Stores
	logger *log.Logger
}

// NewChatModelsService creates a [ChatModelsService].
func NewChatModelsService(stores *Stores, logger *log.Logger) *ChatModelsService {
	return &ChatModelsService{stores: stores, logger: orDiscard(logger)}
}

func (s *ChatModelsService) ListChatModels(ctx context.Context) ([]*models.ChatModel, error) {
	return s.stores.ChatModels.List(ctx, nil)
}

func (s *ChatModelsService) GetChatModel(ctx context.Context, id string) (*models.ChatModel, error) {
	return s.stores.ChatModels.Get(ctx, id)
}

func (s *ChatModelsService) GetChatModelByKey(ctx context.Context, key string) (*models.ChatModel, error) {
	return s.stores.ChatModels.GetByKey(ctx, key)
}

// SeedChatModels inserts the models of [DefaultChatModels] that are missing and reports how many
// were added.
func (s *ChatModelsService) SeedChatModels(ctx context.Context) (int, error) {
	added := 0
	for _, m := range DefaultChatModels {
		_, err := s.stores.ChatModels.GetByKey(ctx, m.Key)
		if err == nil {
			continue
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return added, err
		}

		seed := m
		if err := s.stores.ChatModels.Create(ctx, &seed); err != nil {
			return added, err
		}
		s.logger.Debug("chat model seeded", "key", seed.Key)
		added++
	}
	return added, nil
}
