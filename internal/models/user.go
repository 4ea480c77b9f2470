package models

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/desertthunder/pihome/internal/shared"
)

// User is an account that may belong to at most one family.
type User struct {
	Record
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	PasswordHash string     `json:"-"`
	FamilyID     string     `json:"familyId,omitempty"`
	DeletedAt    *time.Time `json:"-"`
}

// NewUser creates a [User] with timestamps set to now.
func NewUser(email, name string) *User {
	u := &User{Email: strings.TrimSpace(email), Name: strings.TrimSpace(name)}
	u.Stamp(time.Now())
	return u
}

// InFamily reports whether the user belongs to a family.
func (u *User) InFamily() bool { return u.FamilyID != "" }

func (u *User) Validate() error {
	if u.Email == "" {
		return fmt.Errorf("%w: email is required", shared.ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(u.Email); err != nil {
		return fmt.Errorf("%w: invalid email %q", shared.ErrInvalidInput, u.Email)
	}
	if u.Name == "" {
		return fmt.Errorf("%w: name is required", shared.ErrInvalidInput)
	}
	return nil
}

// Family is a household. Exactly one member owns it.
type Family struct {
	Record
	Name        string `json:"name"`
	OwnerID     string `json:"ownerId"`
	InviteCode  string `json:"inviteCode,omitempty"`
	ChatModelID string `json:"chatModelId,omitempty"`
}

// NewFamily creates a [Family] owned by ownerID.
func NewFamily(name, ownerID string) *Family {
	f := &Family{Name: strings.TrimSpace(name), OwnerID: ownerID}
	f.Stamp(time.Now())
	return f
}

func (f *Family) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("%w: family name is required", shared.ErrInvalidInput)
	}
	if f.OwnerID == "" {
		return fmt.Errorf("%w: family owner is required", shared.ErrInvalidInput)
	}
	return nil
}

// ChatModel is an LLM available to families, keyed by its provider model name.
type ChatModel struct {
	Record
	Key       string  `json:"key"`
	Name      string  `json:"name"`
	MaxTokens int     `json:"maxTokens"`
	Price     float64 `json:"price"`
}

func (m *ChatModel) Validate() error {
	if m.Key == "" || m.Name == "" {
		return fmt.Errorf("%w: chat model key and name are required", shared.ErrInvalidInput)
	}
	if m.MaxTokens <= 0 {
		return fmt.Errorf("%w: chat model max tokens must be positive", shared.ErrInvalidInput)
	}
	return nil
}

// SpotifyConnection stores a family's Spotify tokens and the device playback targets.
type SpotifyConnection struct {
	Record
	FamilyID        string    `json:"familyId"`
	AccessToken     string    `json:"-"`
	RefreshToken    string    `json:"-"`
	TokenExpiry     time.Time `json:"tokenExpiry"`
	SpotifyDeviceID string    `json:"spotifyDeviceId"`
}

func (c *SpotifyConnection) Validate() error {
	if c.FamilyID == "" {
		return fmt.Errorf("%w: spotify connection family is required", shared.ErrInvalidInput)
	}
	if c.AccessToken == "" {
		return fmt.Errorf("%w: spotify access token is required", shared.ErrInvalidInput)
	}
	return nil
}
