// Package models defines domain entities and persistence interfaces for the pihome smart-home backend.
//
// The package contains two categories of types:
//
// 1. Persistent Entities: database-backed records with full lifecycle management
//   - [User] : accounts that may belong to one [Family]
//   - [Family] : a household grouping users and devices, owned by one user
//   - [Device] : a smart speaker registered to a family
//   - [DeviceGroup] : a named cluster of devices sharing mute state
//   - [SpotifyConnection] : the family's Spotify OAuth tokens and playback device
//   - [ChatModel] : an LLM the family can chat with
//   - [Chat], [Message] : conversation threads and their messages
//   - [Note] : notes saved by the agent, optionally private to their author
//
// 2. Status Views: read-only projections published when device state changes
//   - [DeviceStatus], [DeviceGroupStatus], [OverviewDeviceStatus]
//
// All persistent entities embed [Record] and implement [Model].
// The Repository[T] interface defines standard CRUD operations for database access.
package models
