package services

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/pihome/internal/models"
	"github.com/desertthunder/pihome/internal/shared"
)

const (
	// DefaultChatModelKey is attached to new families and used when a family has none.
	DefaultChatModelKey = "openai/gpt-4o"
	// DefaultDeviceGroupName names the group every family starts with.
	DefaultDeviceGroupName = "Default"
)

// FamiliesService manages families, their membership and invite codes.
type FamiliesService struct {
	stores *Stores
	logger *log.Logger
}

// NewFamiliesService creates a [FamiliesService].
func NewFamiliesService(stores *Stores, logger *log.Logger) *FamiliesService {
	return &FamiliesService{stores: stores, logger: orDiscard(logger)}
}

// FamilyUpdate carries the fields to change. Empty fields are left as they are.
type FamilyUpdate struct {
	Name         string
	ChatModelKey string
}

// CreateFamily creates a family owned by userID along with its default device group.
func (s *FamiliesService) CreateFamily(ctx context.Context, userID, name string) (*models.Family, error) {
	user, err := s.stores.Users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.InFamily() {
		return nil, shared.BadRequest("User already belongs to a family")
	}

	chatModel, err := s.stores.ChatModels.GetByKey(ctx, DefaultChatModelKey)
	if err != nil {
		return nil, err
	}

	family := models.NewFamily(name, user.ID)
	family.ChatModelID = chatModel.ID
	if err := s.stores.Families.Create(ctx, family); err != nil {
		return nil, err
	}

	user.FamilyID = family.ID
	if err := s.stores.Users.Update(ctx, user); err != nil {
		return nil, err
	}

	group := models.NewDeviceGroup(family.ID, DefaultDeviceGroupName, true)
	if err := s.stores.DeviceGroups.Create(ctx, group); err != nil {
		return nil, err
	}

	s.logger.Info("family created", "family", family.ID, "owner", user.ID)
	return family, nil
}

func (s *FamiliesService) GetFamily(ctx context.Context, familyID string) (*models.Family, error) {
	return s.stores.Families.Get(ctx, familyID)
}

func (s *FamiliesService) ListFamilyUsers(ctx context.Context, familyID string) ([]*models.User, error) {
	if _, err := s.stores.Families.Get(ctx, familyID); err != nil {
		return nil, err
	}
	return s.stores.Users.ListByFamily(ctx, familyID)
}

func (s *FamiliesService) ListFamilyDeviceGroups(ctx context.Context, familyID string) ([]*models.DeviceGroup, error) {
	if _, err := s.stores.Families.Get(ctx, familyID); err != nil {
		return nil, err
	}
	return s.stores.DeviceGroups.ListByFamily(ctx, familyID)
}

func (s *FamiliesService) ListFamilyDevices(ctx context.Context, familyID string) ([]*models.Device, error) {
	if _, err := s.stores.Families.Get(ctx, familyID); err != nil {
		return nil, err
	}
	return s.stores.Devices.ListByFamily(ctx, familyID)
}

func (s *FamiliesService) GetFamilySpotifyConnection(ctx context.Context, familyID string) (*models.SpotifyConnection, error) {
	if _, err := s.stores.Families.Get(ctx, familyID); err != nil {
		return nil, err
	}
	return s.stores.SpotifyConnections.GetByFamily(ctx, familyID)
}

// UpdateFamily renames a family or switches its chat model.
func (s *FamiliesService) UpdateFamily(ctx context.Context, familyID string, update FamilyUpdate) (*models.Family, error) {
	family, err := s.stores.Families.Get(ctx, familyID)
	if err != nil {
		return nil, err
	}

	if name := strings.TrimSpace(update.Name); name != "" {
		family.Name = name
	}
	if key := strings.TrimSpace(update.ChatModelKey); key != "" {
		chatModel, err := s.stores.ChatModels.GetByKey(ctx, key)
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.BadRequest("Unknown chat model: " + key)
		}
		if err != nil {
			return nil, err
		}
		family.ChatModelID = chatModel.ID
	}

	if err := s.stores.Families.Update(ctx, family); err != nil {
		return nil, err
	}
	return family, nil
}

// DeleteFamily removes a family. Members are detached; devices, groups, chats, notes and the
// Spotify connection go with it. Chats and notes are deleted through their stores since they may
// live outside the relational database.
func (s *FamiliesService) DeleteFamily(ctx context.Context, familyID string) error {
	if _, err := s.stores.Families.Get(ctx, familyID); err != nil {
		return err
	}

	chats, err := s.stores.Chats.DeleteByFamily(ctx, familyID)
	if err != nil {
		return err
	}
	notes, err := s.stores.Notes.DeleteByFamily(ctx, familyID)
	if err != nil {
		return err
	}

	if err := s.stores.Families.Delete(ctx, familyID); err != nil {
		return err
	}
	s.logger.Info("family deleted", "family", familyID, "chats", chats, "notes", notes)
	return nil
}

// CreateFamilyInviteCode issues a fresh 8 character code, replacing any previous one.
func (s *FamiliesService) CreateFamilyInviteCode(ctx context.Context, familyID string) (string, error) {
	family, err := s.stores.Families.Get(ctx, familyID)
	if err != nil {
		return "", err
	}

	code, err := shared.GenerateSecret(4)
	if err != nil {
		return "", err
	}

	family.InviteCode = code
	if err := s.stores.Families.Update(ctx, family); err != nil {
		return "", err
	}
	return code, nil
}

func (s *FamiliesService) DeleteFamilyInviteCode(ctx context.Context, familyID string) error {
	family, err := s.stores.Families.Get(ctx, familyID)
	if err != nil {
		return err
	}
	if family.InviteCode == "" {
		return shared.BadRequest("Family has no invite code")
	}

	family.InviteCode = ""
	return s.stores.Families.Update(ctx, family)
}

// TransferFamilyOwnership hands the family to another member.
func (s *FamiliesService) TransferFamilyOwnership(ctx context.Context, familyID, newOwnerID string) (*models.Family, error) {
	family, err := s.stores.Families.Get(ctx, familyID)
	if err != nil {
		return nil, err
	}

	newOwner, err := s.stores.Users.Get(ctx, newOwnerID)
	if err != nil {
		return nil, err
	}
	if newOwner.FamilyID != family.ID {
		return nil, shared.BadRequest("New owner is not a member of the family")
	}

	family.OwnerID = newOwner.ID
	if err := s.stores.Families.Update(ctx, family); err != nil {
		return nil, err
	}

	s.logger.Info("family ownership transferred", "family", family.ID, "owner", newOwner.ID)
	return family, nil
}

// GetFamilyChatModel returns the family's chat model, falling back to [DefaultChatModelKey].
func (s *FamiliesService) GetFamilyChatModel(ctx context.Context, familyID string) (*models.ChatModel, error) {
	family, err := s.stores.Families.Get(ctx, familyID)
	if err != nil {
		return nil, err
	}

	if family.ChatModelID != "" {
		chatModel, err := s.stores.ChatModels.Get(ctx, family.ChatModelID)
		if err == nil {
			return chatModel, nil
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
	}
	return s.stores.ChatModels.GetByKey(ctx, DefaultChatModelKey)
}
