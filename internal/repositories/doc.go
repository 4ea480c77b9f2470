// Package repositories implements persistence for all pihome entities.
//
// The SQLite repositories handle CRUD operations with atomic sequence generation for stable ordering.
// Users are soft deleted via deleted_at timestamps and excluded from queries by default; every other entity is
// removed outright, with foreign keys cascading family deletion to devices, groups, chats and notes.
//
// Key Implementations:
//   - [UserRepository] : accounts with email lookups and family membership
//   - [FamilyRepository] : households with invite code lookups
//   - [DeviceRepository] : speakers with client id lookups, group membership and heartbeat staleness queries
//   - [DeviceGroupRepository] : device clusters per family
//   - [SpotifyConnectionRepository] : per-family Spotify tokens
//   - [ChatModelRepository] : the LLM catalog
//   - [ChatRepository] : chats and messages, newest first
//   - [NoteRepository] : agent notes with visibility-aware search
//
// Chats, messages and notes may instead live in MongoDB through [MongoChatStore] and [MongoNoteStore].
//
// Sequence numbers provide stable ordering independent of UUIDs and creation timestamps.
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
