package services

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/pihome/internal/models"
	"github.com/desertthunder/pihome/internal/shared"
)

// UsersService manages accounts and family membership.
type UsersService struct {
	stores *Stores
	logger *log.Logger
}

// NewUsersService creates a [UsersService].
func NewUsersService(stores *Stores, logger *log.Logger) *UsersService {
	return &UsersService{stores: stores, logger: orDiscard(logger)}
}

// UserUpdate carries the fields to change. Empty fields are left as they are.
type UserUpdate struct {
	Name     string
	Email    string
	Password string
}

// CreateUser registers a user. The password is stored as a bcrypt hash; an empty password leaves
// the account unable to log in.
func (s *UsersService) CreateUser(ctx context.Context, email, name, password string) (*models.User, error) {
	if err := s.ensureEmailFree(ctx, email); err != nil {
		return nil, err
	}

	user := models.NewUser(email, name)
	if password != "" {
		hash, err := shared.HashSecret(password)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = hash
	}

	if err := s.stores.Users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user created", "user", user.ID, "email", user.Email)
	return user, nil
}

func (s *UsersService) ensureEmailFree(ctx context.Context, email string) error {
	_, err := s.stores.Users.GetByEmail(ctx, strings.TrimSpace(email))
	switch {
	case err == nil:
		return shared.BadRequest("Email already in use")
	case errors.Is(err, shared.ErrNotFound):
		return nil
	default:
		return err
	}
}

func (s *UsersService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return s.stores.Users.Get(ctx, userID)
}

func (s *UsersService) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.stores.Users.GetByEmail(ctx, email)
}

// GetUserFamily returns the family the user belongs to.
func (s *UsersService) GetUserFamily(ctx context.Context, userID string) (*models.Family, error) {
	user, err := s.stores.Users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.InFamily() {
		return nil, shared.BadRequest("User is not in a family")
	}
	return s.stores.Families.Get(ctx, user.FamilyID)
}

// UpdateUser changes name, email or password.
func (s *UsersService) UpdateUser(ctx context.Context, userID string, update UserUpdate) (*models.User, error) {
	user, err := s.stores.Users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if name := strings.TrimSpace(update.Name); name != "" {
		user.Name = name
	}
	if email := strings.TrimSpace(update.Email); email != "" && email != user.Email {
		if err := s.ensureEmailFree(ctx, email); err != nil {
			return nil, err
		}
		user.Email = email
	}
	if update.Password != "" {
		hash, err := shared.HashSecret(update.Password)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = hash
	}

	if err := s.stores.Users.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// DeleteUser removes a user who owns no family.
func (s *UsersService) DeleteUser(ctx context.Context, userID string) error {
	if _, err := s.stores.Users.Get(ctx, userID); err != nil {
		return err
	}

	owned, err := s.stores.Families.List(ctx, map[string]any{"owner_id": userID})
	if err != nil {
		return err
	}
	if len(owned) > 0 {
		return shared.BadRequest("User owns a family")
	}

	if err := s.stores.Users.Delete(ctx, userID); err != nil {
		return err
	}
	s.logger.Info("user deleted", "user", userID)
	return nil
}

// JoinFamily adds the user to the family advertising code.
func (s *UsersService) JoinFamily(ctx context.Context, userID, code string) (*models.Family, error) {
	user, err := s.stores.Users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.InFamily() {
		return nil, shared.BadRequest("User already belongs to a family")
	}

	family, err := s.stores.Families.GetByInviteCode(ctx, strings.TrimSpace(code))
	if errors.Is(err, shared.ErrNotFound) {
		return nil, shared.BadRequest("Invalid invite code")
	}
	if err != nil {
		return nil, err
	}

	user.FamilyID = family.ID
	if err := s.stores.Users.Update(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user joined family", "user", user.ID, "family", family.ID)
	return family, nil
}

// LeaveFamily detaches a member. The owner must transfer ownership first.
func (s *UsersService) LeaveFamily(ctx context.Context, userID string) error {
	user, err := s.stores.Users.Get(ctx, userID)
	if err != nil {
		return err
	}
	if !user.InFamily() {
		return shared.BadRequest("User is not in a family")
	}

	family, err := s.stores.Families.Get(ctx, user.FamilyID)
	if err != nil {
		return err
	}
	if family.OwnerID == user.ID {
		return shared.BadRequest("Family owner cannot leave the family")
	}

	user.FamilyID = ""
	if err := s.stores.Users.Update(ctx, user); err != nil {
		return err
	}

	s.logger.Info("user left family", "user", user.ID, "family", family.ID)
	return nil
}

// Authenticate checks an email and password pair.
func (s *UsersService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.stores.Users.GetByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, shared.ErrNotFound) {
		return nil, shared.Unauthorized("Invalid credentials")
	}
	if err != nil {
		return nil, err
	}

	if user.PasswordHash == "" || !shared.CompareSecret(user.PasswordHash, password) {
		return nil, shared.Unauthorized("Invalid credentials")
	}
	return user, nil
}
