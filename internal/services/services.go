package services

import (
	"context"
	"database/sql"
	"io"

	"github.com/charmbracelet/log"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/desertthunder/pihome/internal/events"
	"github.com/desertthunder/pihome/internal/models"
	"github.com/desertthunder/pihome/internal/repositories"
)

// ChatStore persists chats and their messages.
type ChatStore interface {
	CreateChat(ctx context.Context, chat *models.Chat) error
	GetChat(ctx context.Context, id string) (*models.Chat, error)
	UpdateChat(ctx context.Context, chat *models.Chat) error
	DeleteChat(ctx context.Context, id string) error
	ListChats(ctx context.Context, familyID string, limit, skip int) ([]*models.Chat, error)
	AddMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ListMessages(ctx context.Context, chatID string, limit, skip int) ([]*models.Message, error)
	DeleteByFamily(ctx context.Context, familyID string) (int, error)
}

// NoteStore persists family notes.
type NoteStore interface {
	Create(ctx context.Context, note *models.Note) error
	Get(ctx context.Context, id string) (*models.Note, error)
	Delete(ctx context.Context, id string) error
	ListVisible(ctx context.Context, familyID, userID string, limit int) ([]*models.Note, error)
	Search(ctx context.Context, familyID, userID, query string, limit int) ([]*models.Note, error)
	DeleteByFamily(ctx context.Context, familyID string) (int, error)
}

var (
	_ ChatStore = (*repositories.ChatRepository)(nil)
	_ ChatStore = (*repositories.MongoChatStore)(nil)
	_ NoteStore = (*repositories.NoteRepository)(nil)
	_ NoteStore = (*repositories.MongoNoteStore)(nil)
)

// Stores bundles the persistence the services run over.
type Stores struct {
	Users              *repositories.UserRepository
	Families           *repositories.FamilyRepository
	Devices            *repositories.DeviceRepository
	DeviceGroups       *repositories.DeviceGroupRepository
	ChatModels         *repositories.ChatModelRepository
	SpotifyConnections *repositories.SpotifyConnectionRepository
	Chats              ChatStore
	Notes              NoteStore
}

// NewSQLiteStores keeps everything, chats and notes included, in db.
func NewSQLiteStores(db *sql.DB) *Stores {
	return &Stores{
		Users:              repositories.NewUserRepository(db),
		Families:           repositories.NewFamilyRepository(db),
		Devices:            repositories.NewDeviceRepository(db),
		DeviceGroups:       repositories.NewDeviceGroupRepository(db),
		ChatModels:         repositories.NewChatModelRepository(db),
		SpotifyConnections: repositories.NewSpotifyConnectionRepository(db),
		Chats:              repositories.NewChatRepository(db),
		Notes:              repositories.NewNoteRepository(db),
	}
}

// WithMongo moves chats, messages and notes to the document store.
func (s *Stores) WithMongo(db *mongo.Database) *Stores {
	s.Chats = repositories.NewMongoChatStore(db)
	s.Notes = repositories.NewMongoNoteStore(db)
	return s
}

// SpotifyFactory builds an unauthenticated Spotify client from the configured app credentials.
type SpotifyFactory func() (*SpotifyService, error)

// Services is the full set of domain services.
type Services struct {
	Users              *UsersService
	Families           *FamiliesService
	Devices            *DevicesService
	DeviceGroups       *DeviceGroupsService
	DeviceStatus       *DeviceStatusService
	Chats              *ChatService
	ChatModels         *ChatModelsService
	Notes              *NotesService
	SpotifyConnections *SpotifyConnectionsService
}

// New wires every service over stores. A nil publisher discards events.
func New(stores *Stores, publisher events.Publisher, spotify SpotifyFactory, logger *log.Logger) *Services {
	return &Services{
		Users:              NewUsersService(stores, logger),
		Families:           NewFamiliesService(stores, logger),
		Devices:            NewDevicesService(stores, publisher, logger),
		DeviceGroups:       NewDeviceGroupsService(stores, logger),
		DeviceStatus:       NewDeviceStatusService(stores, publisher, logger),
		Chats:              NewChatService(stores, publisher, logger),
		ChatModels:         NewChatModelsService(stores, logger),
		Notes:              NewNotesService(stores, logger),
		SpotifyConnections: NewSpotifyConnectionsService(stores, spotify, logger),
	}
}

// notifier publishes events on behalf of a service. Publish failures are logged, never returned:
// the state change they describe has already been committed.
type notifier struct {
	publisher events.Publisher
	logger    *log.Logger
}

func newNotifier(publisher events.Publisher, logger *log.Logger) *notifier {
	if publisher == nil {
		publisher = events.Discard
	}
	return &notifier{publisher: publisher, logger: orDiscard(logger)}
}

func (n *notifier) publish(ctx context.Context, topic string, payload any) {
	if err := n.publisher.Publish(ctx, topic, payload); err != nil {
		n.logger.Warn("failed to publish event", "topic", topic, "error", err)
	}
}

func orDiscard(logger *log.Logger) *log.Logger {
	if logger == nil {
		return log.New(io.Discard)
	}
	return logger
}
