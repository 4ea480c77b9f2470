package repositories

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/desertthunder/pihome/internal/models"
	"github.com/desertthunder/pihome/internal/shared"
)

// Mongo collection names.
const (
	ChatsCollection    = "chats"
	MessagesCollection = "chat_messages"
	NotesCollection    = "notes"
)

// ConnectMongo dials uri and verifies the connection with a ping.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	return client, nil
}

// MongoChatStore keeps chats and messages in Mongo. It has the same surface as [ChatRepository].
type MongoChatStore struct {
	chats    *mongo.Collection
	messages *mongo.Collection
}

// NewMongoChatStore creates a [MongoChatStore] over db.
func NewMongoChatStore(db *mongo.Database) *MongoChatStore {
	return &MongoChatStore{
		chats:    db.Collection(ChatsCollection),
		messages: db.Collection(MessagesCollection),
	}
}

func (s *MongoChatStore) CreateChat(ctx context.Context, chat *models.Chat) error {
	if err := chat.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if chat.ID == "" {
		chat.ID = shared.GenerateID()
	}
	chat.Stamp(time.Now())

	if _, err := s.chats.InsertOne(ctx, chat); err != nil {
		return fmt.Errorf("failed to insert chat: %w", err)
	}
	return nil
}

func (s *MongoChatStore) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	var chat models.Chat
	if err := s.chats.FindOne(ctx, bson.M{"_id": id}).Decode(&chat); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errChatNotFound
		}
		return nil, fmt.Errorf("failed to query chat: %w", err)
	}
	return &chat, nil
}

func (s *MongoChatStore) UpdateChat(ctx context.Context, chat *models.Chat) error {
	if err := chat.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	chat.Stamp(time.Now())

	update := bson.M{"$set": bson.M{
		"name":            chat.Name,
		"latestMessageId": chat.LatestMessageID,
		"updatedAt":       chat.UpdatedAt,
	}}

	result, err := s.chats.UpdateByID(ctx, chat.ID, update)
	if err != nil {
		return fmt.Errorf("failed to update chat: %w", err)
	}
	if result.MatchedCount == 0 {
		return errChatNotFound
	}
	return nil
}

// DeleteChat removes a chat and its messages.
func (s *MongoChatStore) DeleteChat(ctx context.Context, id string) error {
	result, err := s.chats.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	if result.DeletedCount == 0 {
		return errChatNotFound
	}

	if _, err := s.messages.DeleteMany(ctx, bson.M{"chatId": id}); err != nil {
		return fmt.Errorf("failed to delete chat messages: %w", err)
	}
	return nil
}

// DeleteByFamily removes a family's chats and their messages.
func (s *MongoChatStore) DeleteByFamily(ctx context.Context, familyID string) (int, error) {
	ids, err := s.chats.Distinct(ctx, "_id", bson.M{"familyId": familyID})
	if err != nil {
		return 0, fmt.Errorf("failed to list family chats: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if _, err := s.messages.DeleteMany(ctx, bson.M{"chatId": bson.M{"$in": ids}}); err != nil {
		return 0, fmt.Errorf("failed to delete chat messages: %w", err)
	}

	result, err := s.chats.DeleteMany(ctx, bson.M{"familyId": familyID})
	if err != nil {
		return 0, fmt.Errorf("failed to delete family chats: %w", err)
	}
	return int(result.DeletedCount), nil
}

func (s *MongoChatStore) ListChats(ctx context.Context, familyID string, limit, skip int) ([]*models.Chat, error) {
	limit, skip = paginate(limit, skip)

	filter := bson.M{}
	if familyID != "" {
		filter["familyId"] = familyID
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "updatedAt", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(skip))

	cursor, err := s.chats.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}

	var chats []*models.Chat
	if err := cursor.All(ctx, &chats); err != nil {
		return nil, fmt.Errorf("failed to decode chats: %w", err)
	}
	return chats, nil
}

// AddMessage points the chat at msg, then stores msg.
func (s *MongoChatStore) AddMessage(ctx context.Context, msg *models.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if msg.ID == "" {
		msg.ID = shared.GenerateID()
	}
	msg.Stamp(time.Now())

	update := bson.M{"$set": bson.M{"latestMessageId": msg.ID, "updatedAt": msg.CreatedAt}}
	result, err := s.chats.UpdateByID(ctx, msg.ChatID, update)
	if err != nil {
		return fmt.Errorf("failed to update chat: %w", err)
	}
	if result.MatchedCount == 0 {
		return errChatNotFound
	}

	if _, err := s.messages.InsertOne(ctx, msg); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *MongoChatStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var msg models.Message
	if err := s.messages.FindOne(ctx, bson.M{"_id": id}).Decode(&msg); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errMessageNotFound
		}
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	return &msg, nil
}

func (s *MongoChatStore) ListMessages(ctx context.Context, chatID string, limit, skip int) ([]*models.Message, error) {
	limit, skip = paginate(limit, skip)

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(skip))

	cursor, err := s.messages.Find(ctx, bson.M{"chatId": chatID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	var messages []*models.Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return messages, nil
}

// MongoNoteStore keeps notes in Mongo. It has the same surface as [NoteRepository].
type MongoNoteStore struct {
	notes *mongo.Collection
}

// NewMongoNoteStore creates a [MongoNoteStore] over db.
func NewMongoNoteStore(db *mongo.Database) *MongoNoteStore {
	return &MongoNoteStore{notes: db.Collection(NotesCollection)}
}

func (s *MongoNoteStore) Create(ctx context.Context, note *models.Note) error {
	if err := note.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if note.ID == "" {
		note.ID = shared.GenerateID()
	}
	if note.Tags == nil {
		note.Tags = []string{}
	}
	note.Stamp(time.Now())

	if _, err := s.notes.InsertOne(ctx, note); err != nil {
		return fmt.Errorf("failed to insert note: %w", err)
	}
	return nil
}

func (s *MongoNoteStore) Get(ctx context.Context, id string) (*models.Note, error) {
	var note models.Note
	if err := s.notes.FindOne(ctx, bson.M{"_id": id}).Decode(&note); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errNoteNotFound
		}
		return nil, fmt.Errorf("failed to query note: %w", err)
	}
	return &note, nil
}

func (s *MongoNoteStore) Delete(ctx context.Context, id string) error {
	result, err := s.notes.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}
	if result.DeletedCount == 0 {
		return errNoteNotFound
	}
	return nil
}

func (s *MongoNoteStore) DeleteByFamily(ctx context.Context, familyID string) (int, error) {
	result, err := s.notes.DeleteMany(ctx, bson.M{"familyId": familyID})
	if err != nil {
		return 0, fmt.Errorf("failed to delete family notes: %w", err)
	}
	return int(result.DeletedCount), nil
}

func (s *MongoNoteStore) ListVisible(ctx context.Context, familyID, userID string, limit int) ([]*models.Note, error) {
	limit, _ = paginate(limit, 0)
	return s.find(ctx, visibleNotesFilter(familyID, userID), limit)
}

func (s *MongoNoteStore) Search(ctx context.Context, familyID, userID, query string, limit int) ([]*models.Note, error) {
	if limit <= 0 {
		limit = DefaultNoteSearchLimit
	}
	return s.find(ctx, noteSearchFilter(familyID, userID, query), limit)
}

func (s *MongoNoteStore) find(ctx context.Context, filter bson.M, limit int) ([]*models.Note, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.notes.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}

	var notes []*models.Note
	if err := cursor.All(ctx, &notes); err != nil {
		return nil, fmt.Errorf("failed to decode notes: %w", err)
	}
	return notes, nil
}

func visibleNotesFilter(familyID, userID string) bson.M {
	return bson.M{
		"familyId": familyID,
		"$or": bson.A{
			bson.M{"isPrivate": false},
			bson.M{"userId": userID},
		},
	}
}

// noteSearchFilter matches visible notes whose content contains query (case-insensitive)
// or whose tags include the lowercased query.
func noteSearchFilter(familyID, userID, query string) bson.M {
	filter := visibleNotesFilter(familyID, userID)
	filter["$and"] = bson.A{
		bson.M{"$or": bson.A{
			bson.M{"content": bson.M{"$regex": regexp.QuoteMeta(query), "$options": "i"}},
			bson.M{"tags": strings.ToLower(query)},
		}},
	}
	return filter
}
