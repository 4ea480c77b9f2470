package repositories

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/desertthunder/pihome/internal/models"
	"github.com/desertthunder/pihome/internal/shared"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// seedFamily creates an owner and a family with the owner as its first member.
func seedFamily(t *testing.T, db *sql.DB) (*models.User, *models.Family) {
	t.Helper()
	ctx := context.Background()

	owner := models.NewUser("owner@example.com", "Owner")
	if err := NewUserRepository(db).Create(ctx, owner); err != nil {
		t.Fatalf("failed to create owner: %v", err)
	}

	family := models.NewFamily("The Smiths", owner.ID)
	if err := NewFamilyRepository(db).Create(ctx, family); err != nil {
		t.Fatalf("failed to create family: %v", err)
	}

	owner.FamilyID = family.ID
	if err := NewUserRepository(db).Update(ctx, owner); err != nil {
		t.Fatalf("failed to attach owner: %v", err)
	}
	return owner, family
}

func TestUserRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Create", func(t *testing.T) {
		repo := NewUserRepository(setupTestDB(t))
		user := models.NewUser("test@example.com", "Test User")

		if err := repo.Create(ctx, user); err != nil {
			t.Fatalf("failed to create user: %v", err)
		}

		if user.ID == "" {
			t.Error("user ID should be set after creation")
		}
	})

	t.Run("Get", func(t *testing.T) {
		repo := NewUserRepository(setupTestDB(t))
		user := models.NewUser("test@example.com", "Test User")
		if err := repo.Create(ctx, user); err != nil {
			t.Fatalf("failed to create user: %v", err)
		}

		retrieved, err := repo.Get(ctx, user.ID)
		if err != nil {
			t.Fatalf("failed to get user: %v", err)
		}

		if retrieved.Email != user.Email {
			t.Errorf("expected email %s, got %s", user.Email, retrieved.Email)
		}
		if retrieved.InFamily() {
			t.Error("new user should not be in a family")
		}
	})

	t.Run("GetByEmail", func(t *testing.T) {
		repo := NewUserRepository(setupTestDB(t))
		user := models.NewUser("find@example.com", "Finder")
		if err := repo.Create(ctx, user); err != nil {
			t.Fatalf("failed to create user: %v", err)
		}

		found, err := repo.GetByEmail(ctx, "find@example.com")
		if err != nil {
			t.Fatalf("failed to get user by email: %v", err)
		}
		if found.ID != user.ID {
			t.Errorf("expected ID %s, got %s", user.ID, found.ID)
		}
	})

	t.Run("Update", func(t *testing.T) {
		repo := NewUserRepository(setupTestDB(t))
		user := models.NewUser("test@example.com", "Test User")
		if err := repo.Create(ctx, user); err != nil {
			t.Fatalf("failed to create user: %v", err)
		}

		user.Name = "Renamed"
		user.PasswordHash = "hash"
		if err := repo.Update(ctx, user); err != nil {
			t.Fatalf("failed to update user: %v", err)
		}

		updated, _ := repo.Get(ctx, user.ID)
		if updated.Name != "Renamed" {
			t.Errorf("expected name Renamed, got %s", updated.Name)
		}
		if updated.PasswordHash != "hash" {
			t.Errorf("expected password hash to persist, got %q", updated.PasswordHash)
		}
	})

	t.Run("Delete is soft and frees the email", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewUserRepository(db)
		user := models.NewUser("gone@example.com", "Gone")
		if err := repo.Create(ctx, user); err != nil {
			t.Fatalf("failed to create user: %v", err)
		}

		if err := repo.Delete(ctx, user.ID); err != nil {
			t.Fatalf("failed to delete user: %v", err)
		}

		if _, err := repo.Get(ctx, user.ID); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected not found after delete, got %v", err)
		}

		var count int
		if err := db.QueryRow(`SELECT COUNT(*) FROM users WHERE id = ?`, user.ID).Scan(&count); err != nil {
			t.Fatalf("failed to count users: %v", err)
		}
		if count != 1 {
			t.Errorf("expected soft-deleted row to remain, got %d rows", count)
		}

		again := models.NewUser("gone@example.com", "Back")
		if err := repo.Create(ctx, again); err != nil {
			t.Errorf("expected email to be reusable after soft delete, got %v", err)
		}
	})

	t.Run("ListByFamily", func(t *testing.T) {
		db := setupTestDB(t)
		owner, family := seedFamily(t, db)
		repo := NewUserRepository(db)

		loner := models.NewUser("loner@example.com", "Loner")
		if err := repo.Create(ctx, loner); err != nil {
			t.Fatalf("failed to create user: %v", err)
		}

		members, err := repo.ListByFamily(ctx, family.ID)
		if err != nil {
			t.Fatalf("failed to list members: %v", err)
		}
		if len(members) != 1 || members[0].ID != owner.ID {
			t.Errorf("expected only the owner, got %d members", len(members))
		}

		all, _ := repo.List(ctx, nil)
		if len(all) != 2 {
			t.Errorf("expected 2 users, got %d", len(all))
		}
	})
}

func TestFamilyRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Create and Get", func(t *testing.T) {
		db := setupTestDB(t)
		owner, family := seedFamily(t, db)

		retrieved, err := NewFamilyRepository(db).Get(ctx, family.ID)
		if err != nil {
			t.Fatalf("failed to get family: %v", err)
		}
		if retrieved.OwnerID != owner.ID {
			t.Errorf("expected owner %s, got %s", owner.ID, retrieved.OwnerID)
		}
		if retrieved.InviteCode != "" {
			t.Errorf("expected no invite code, got %q", retrieved.InviteCode)
		}
	})

	t.Run("GetByInviteCode", func(t *testing.T) {
		db := setupTestDB(t)
		_, family := seedFamily(t, db)
		repo := NewFamilyRepository(db)

		family.InviteCode = "abcd1234"
		if err := repo.Update(ctx, family); err != nil {
			t.Fatalf("failed to update family: %v", err)
		}

		found, err := repo.GetByInviteCode(ctx, "abcd1234")
		if err != nil {
			t.Fatalf("failed to get by invite code: %v", err)
		}
		if found.ID != family.ID {
			t.Errorf("expected family %s, got %s", family.ID, found.ID)
		}

		if _, err := repo.GetByInviteCode(ctx, "nope"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})

	t.Run("Delete cascades and detaches members", func(t *testing.T) {
		db := setupTestDB(t)
		owner, family := seedFamily(t, db)

		group := models.NewDeviceGroup(family.ID, "Default", true)
		if err := NewDeviceGroupRepository(db).Create(ctx, group); err != nil {
			t.Fatalf("failed to create group: %v", err)
		}
		device := models.NewDevice(family.ID, "Kitchen", "kitchen-pi")
		device.ClientSecretHash = "hash"
		device.DeviceGroupID = group.ID
		if err := NewDeviceRepository(db).Create(ctx, device); err != nil {
			t.Fatalf("failed to create device: %v", err)
		}

		if err := NewFamilyRepository(db).Delete(ctx, family.ID); err != nil {
			t.Fatalf("failed to delete family: %v", err)
		}

		if _, err := NewDeviceRepository(db).Get(ctx, device.ID); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected device to be removed, got %v", err)
		}
		if _, err := NewDeviceGroupRepository(db).Get(ctx, group.ID); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected group to be removed, got %v", err)
		}

		user, err := NewUserRepository(db).Get(ctx, owner.ID)
		if err != nil {
			t.Fatalf("failed to get owner: %v", err)
		}
		if user.InFamily() {
			t.Errorf("expected owner to be detached, still in %s", user.FamilyID)
		}
	})
}

func TestDeviceRepository(t *testing.T) {
	ctx := context.Background()

	newDevice := func(t *testing.T, repo *DeviceRepository, familyID, name string) *models.Device {
		t.Helper()
		d := models.NewDevice(familyID, name, name+"-client")
		d.ClientSecretHash = "hash"
		if err := repo.Create(ctx, d); err != nil {
			t.Fatalf("failed to create device %s: %v", name, err)
		}
		return d
	}

	t.Run("Create and GetByClientID", func(t *testing.T) {
		db := setupTestDB(t)
		_, family := seedFamily(t, db)
		repo := NewDeviceRepository(db)

		d := newDevice(t, repo, family.ID, "kitchen")

		found, err := repo.GetByClientID(ctx, "kitchen-client")
		if err != nil {
			t.Fatalf("failed to get by client id: %v", err)
		}
		if found.ID != d.ID {
			t.Errorf("expected device %s, got %s", d.ID, found.ID)
		}
		if !found.IsOn || found.IsMuted || found.VolumePercent != 100 {
			t.Errorf("unexpected defaults: on=%v muted=%v volume=%d", found.IsOn, found.IsMuted, found.VolumePercent)
		}
		if found.LastHeartbeatAt != nil {
			t.Error("expected no heartbeat yet")
		}
	})

	t.Run("Update persists heartbeat", func(t *testing.T) {
		db := setupTestDB(t)
		_, family := seedFamily(t, db)
		repo := NewDeviceRepository(db)
		d := newDevice(t, repo, family.ID, "den")

		beat := time.Now().UTC().Truncate(time.Second)
		d.LastHeartbeatAt = &beat
		d.VolumePercent = 40
		if err := repo.Update(ctx, d); err != nil {
			t.Fatalf("failed to update device: %v", err)
		}

		got, _ := repo.Get(ctx, d.ID)
		if got.LastHeartbeatAt == nil || !got.LastHeartbeatAt.Equal(beat) {
			t.Errorf("expected heartbeat %v, got %v", beat, got.LastHeartbeatAt)
		}
		if got.VolumePercent != 40 {
			t.Errorf("expected volume 40, got %d", got.VolumePercent)
		}
	})

	t.Run("Group membership", func(t *testing.T) {
		db := setupTestDB(t)
		_, family := seedFamily(t, db)
		repo := NewDeviceRepository(db)
		group := models.NewDeviceGroup(family.ID, "Downstairs", false)
		if err := NewDeviceGroupRepository(db).Create(ctx, group); err != nil {
			t.Fatalf("failed to create group: %v", err)
		}

		a := newDevice(t, repo, family.ID, "a")
		b := newDevice(t, repo, family.ID, "b")
		newDevice(t, repo, family.ID, "c")

		if err := repo.SetGroup(ctx, group.ID, a.ID, b.ID); err != nil {
			t.Fatalf("failed to set group: %v", err)
		}

		members, _ := repo.ListByGroup(ctx, group.ID)
		if len(members) != 2 {
			t.Errorf("expected 2 members, got %d", len(members))
		}

		loose, _ := repo.ListNotInGroup(ctx, family.ID)
		if len(loose) != 1 || loose[0].Name != "c" {
			t.Errorf("expected only c outside groups, got %d devices", len(loose))
		}

		if err := NewDeviceGroupRepository(db).Delete(ctx, group.ID); err != nil {
			t.Fatalf("failed to delete group: %v", err)
		}
		loose, _ = repo.ListNotInGroup(ctx, family.ID)
		if len(loose) != 3 {
			t.Errorf("expected all devices stand-alone after group delete, got %d", len(loose))
		}
	})

	t.Run("ListStale", func(t *testing.T) {
		db := setupTestDB(t)
		_, family := seedFamily(t, db)
		repo := NewDeviceRepository(db)

		now := time.Now().UTC()
		old, recent := now.Add(-2*time.Minute), now.Add(-10*time.Second)

		stale := newDevice(t, repo, family.ID, "stale")
		stale.LastHeartbeatAt = &old
		fresh := newDevice(t, repo, family.ID, "fresh")
		fresh.LastHeartbeatAt = &recent
		offline := newDevice(t, repo, family.ID, "offline")
		offline.LastHeartbeatAt = &old
		offline.IsOn = false
		newDevice(t, repo, family.ID, "never")

		for _, d := range []*models.Device{stale, fresh, offline} {
			if err := repo.Update(ctx, d); err != nil {
				t.Fatalf("failed to update %s: %v", d.Name, err)
			}
		}

		got, err := repo.ListStale(ctx, now.Add(-time.Minute))
		if err != nil {
			t.Fatalf("failed to list stale devices: %v", err)
		}
		if len(got) != 1 || got[0].ID != stale.ID {
			t.Errorf("expected only the stale device, got %d", len(got))
		}
	})
}

func TestSpotifyConnectionRepository(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	_, family := seedFamily(t, db)
	repo := NewSpotifyConnectionRepository(db)

	conn := &models.SpotifyConnection{
		FamilyID:     family.ID,
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenExpiry:  time.Now().Add(time.Hour).UTC().Truncate(time.Second),
	}
	if err := repo.Create(ctx, conn); err != nil {
		t.Fatalf("failed to create connection: %v", err)
	}

	t.Run("GetByFamily", func(t *testing.T) {
		got, err := repo.GetByFamily(ctx, family.ID)
		if err != nil {
			t.Fatalf("failed to get connection: %v", err)
		}
		if got.RefreshToken != "refresh" {
			t.Errorf("expected refresh token to persist, got %q", got.RefreshToken)
		}
		if !got.TokenExpiry.Equal(conn.TokenExpiry) {
			t.Errorf("expected expiry %v, got %v", conn.TokenExpiry, got.TokenExpiry)
		}
	})

	t.Run("List missing device", func(t *testing.T) {
		missing, _ := repo.List(ctx, map[string]any{"missing_device": true})
		if len(missing) != 1 {
			t.Fatalf("expected 1 connection without device, got %d", len(missing))
		}

		conn.SpotifyDeviceID = "spotify-device"
		if err := repo.Update(ctx, conn); err != nil {
			t.Fatalf("failed to update connection: %v", err)
		}

		missing, _ = repo.List(ctx, map[string]any{"missing_device": true})
		if len(missing) != 0 {
			t.Errorf("expected no connections without device, got %d", len(missing))
		}
	})

	t.Run("One per family", func(t *testing.T) {
		dup := &models.SpotifyConnection{FamilyID: family.ID, AccessToken: "other"}
		if err := repo.Create(ctx, dup); err == nil {
			t.Error("expected unique constraint error for second connection")
		}
	})
}

func TestChatModelRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewChatModelRepository(setupTestDB(t))

	m := &models.ChatModel{Key: "openai/gpt-4o", Name: "GPT-4o", MaxTokens: 8192, Price: 0.00003}
	if err := repo.Create(ctx, m); err != nil {
		t.Fatalf("failed to create chat model: %v", err)
	}

	got, err := repo.GetByKey(ctx, "openai/gpt-4o")
	if err != nil {
		t.Fatalf("failed to get chat model by key: %v", err)
	}
	if got.MaxTokens != 8192 || got.Price != 0.00003 {
		t.Errorf("unexpected model %+v", got)
	}

	if _, err := repo.GetByKey(ctx, "missing"); !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestChatRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("AddMessage updates latest message", func(t *testing.T) {
		db := setupTestDB(t)
		_, family := seedFamily(t, db)
		repo := NewChatRepository(db)

		chat := models.NewChat(family.ID)
		if err := repo.CreateChat(ctx, chat); err != nil {
			t.Fatalf("failed to create chat: %v", err)
		}

		msg := models.NewMessage(chat.ID, "user-1", "hello")
		if err := repo.AddMessage(ctx, msg); err != nil {
			t.Fatalf("failed to add message: %v", err)
		}

		got, _ := repo.GetChat(ctx, chat.ID)
		if got.LatestMessageID != msg.ID {
			t.Errorf("expected latest message %s, got %s", msg.ID, got.LatestMessageID)
		}

		stored, err := repo.GetMessage(ctx, msg.ID)
		if err != nil {
			t.Fatalf("failed to get message: %v", err)
		}
		if stored.Content != "hello" {
			t.Errorf("expected content hello, got %s", stored.Content)
		}
	})

	t.Run("AddMessage to missing chat", func(t *testing.T) {
		repo := NewChatRepository(setupTestDB(t))
		err := repo.AddMessage(ctx, models.NewMessage("missing", "user-1", "hi"))
		if !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})

	t.Run("ListMessages newest first with paging", func(t *testing.T) {
		db := setupTestDB(t)
		_, family := seedFamily(t, db)
		repo := NewChatRepository(db)
		chat := models.NewChat(family.ID)
		if err := repo.CreateChat(ctx, chat); err != nil {
			t.Fatalf("failed to create chat: %v", err)
		}

		for _, content := range []string{"one", "two", "three"} {
			if err := repo.AddMessage(ctx, models.NewMessage(chat.ID, "user-1", content)); err != nil {
				t.Fatalf("failed to add message: %v", err)
			}
		}

		page, err := repo.ListMessages(ctx, chat.ID, 2, 0)
		if err != nil {
			t.Fatalf("failed to list messages: %v", err)
		}
		if len(page) != 2 || page[0].Content != "three" || page[1].Content != "two" {
			t.Errorf("unexpected first page: %v", contents(page))
		}

		page, _ = repo.ListMessages(ctx, chat.ID, 2, 2)
		if len(page) != 1 || page[0].Content != "one" {
			t.Errorf("unexpected second page: %v", contents(page))
		}
	})

	t.Run("ListChats by family and delete", func(t *testing.T) {
		db := setupTestDB(t)
		_, family := seedFamily(t, db)
		repo := NewChatRepository(db)

		first := models.NewChat(family.ID)
		second := models.NewChat(family.ID)
		for _, c := range []*models.Chat{first, second} {
			if err := repo.CreateChat(ctx, c); err != nil {
				t.Fatalf("failed to create chat: %v", err)
			}
		}

		chats, _ := repo.ListChats(ctx, family.ID, 10, 0)
		if len(chats) != 2 {
			t.Fatalf("expected 2 chats, got %d", len(chats))
		}

		if err := repo.DeleteChat(ctx, first.ID); err != nil {
			t.Fatalf("failed to delete chat: %v", err)
		}
		chats, _ = repo.ListChats(ctx, "", 10, 0)
		if len(chats) != 1 || chats[0].ID != second.ID {
			t.Errorf("expected only the second chat to remain")
		}
	})

	t.Run("DeleteByFamily", func(t *testing.T) {
		db := setupTestDB(t)
		_, family := seedFamily(t, db)
		repo := NewChatRepository(db)

		for range 2 {
			chat := models.NewChat(family.ID)
			if err := repo.CreateChat(ctx, chat); err != nil {
				t.Fatalf("failed to create chat: %v", err)
			}
			if err := repo.AddMessage(ctx, models.NewMessage(chat.ID, "user-1", "hi")); err != nil {
				t.Fatalf("failed to add message: %v", err)
			}
		}

		n, err := repo.DeleteByFamily(ctx, family.ID)
		if err != nil {
			t.Fatalf("failed to delete family chats: %v", err)
		}
		if n != 2 {
			t.Errorf("expected 2 chats deleted, got %d", n)
		}

		chats, _ := repo.ListChats(ctx, family.ID, 10, 0)
		if len(chats) != 0 {
			t.Errorf("expected no chats left, got %d", len(chats))
		}

		if n, _ := repo.DeleteByFamily(ctx, family.ID); n != 0 {
			t.Errorf("expected nothing left to delete, got %d", n)
		}
	})
}

func TestNoteRepository(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	owner, family := seedFamily(t, db)
	repo := NewNoteRepository(db)

	save := func(userID, content string, private bool) *models.Note {
		t.Helper()
		n := &models.Note{
			Content:    content,
			Tags:       models.ExtractTags(content),
			UserID:     userID,
			UserName:   "someone",
			FamilyID:   family.ID,
			FamilyName: family.Name,
			IsPrivate:  private,
		}
		if err := repo.Create(ctx, n); err != nil {
			t.Fatalf("failed to create note: %v", err)
		}
		return n
	}

	save(owner.ID, "Buy milk #groceries", false)
	save(owner.ID, "Dentist on Friday #health", true)
	save("other-user", "Secret gift ideas #groceries", true)
	save("other-user", "Call grandma", false)

	t.Run("Tags round trip", func(t *testing.T) {
		notes, _ := repo.ListVisible(ctx, family.ID, owner.ID, 10)
		for _, n := range notes {
			if n.Tags == nil {
				t.Errorf("expected non-nil tags for %q", n.Content)
			}
		}
	})

	t.Run("Visibility", func(t *testing.T) {
		notes, _ := repo.ListVisible(ctx, family.ID, owner.ID, 10)
		if len(notes) != 3 {
			t.Errorf("expected 3 visible notes for owner, got %d", len(notes))
		}
		if notes[0].Content != "Call grandma" {
			t.Errorf("expected newest first, got %q", notes[0].Content)
		}
	})

	tc := []struct {
		name   string
		userID string
		query  string
		want   int
	}{
		{name: "content match case-insensitive", userID: owner.ID, query: "MILK", want: 1},
		{name: "tag match", userID: owner.ID, query: "Groceries", want: 1},
		{name: "other user's private tag visible to them", userID: "other-user", query: "groceries", want: 2},
		{name: "private note hidden", userID: "other-user", query: "dentist", want: 0},
		{name: "no match", userID: owner.ID, query: "zebra", want: 0},
	}

	for _, tt := range tc {
		t.Run("Search "+tt.name, func(t *testing.T) {
			got, err := repo.Search(ctx, family.ID, tt.userID, tt.query, 0)
			if err != nil {
				t.Fatalf("failed to search notes: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("expected %d notes, got %d", tt.want, len(got))
			}
		})
	}

	t.Run("Search limit", func(t *testing.T) {
		for i := 0; i < 7; i++ {
			save(owner.ID, "reminder #todo", false)
		}
		got, _ := repo.Search(ctx, family.ID, owner.ID, "todo", 0)
		if len(got) != DefaultNoteSearchLimit {
			t.Errorf("expected %d notes, got %d", DefaultNoteSearchLimit, len(got))
		}
	})

	t.Run("DeleteByFamily", func(t *testing.T) {
		n, err := repo.DeleteByFamily(ctx, family.ID)
		if err != nil {
			t.Fatalf("failed to delete family notes: %v", err)
		}
		if n != 11 {
			t.Errorf("expected 11 notes deleted, got %d", n)
		}
		if notes, _ := repo.ListVisible(ctx, family.ID, owner.ID, 20); len(notes) != 0 {
			t.Errorf("expected no notes left, got %d", len(notes))
		}
	})
}

func TestNextSequence(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := NextSequence(ctx, db, "notes")
		if err != nil {
			t.Fatalf("failed to get sequence: %v", err)
		}
		if got != want {
			t.Errorf("expected sequence %d, got %d", want, got)
		}
	}
}

func contents(msgs []*models.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}
