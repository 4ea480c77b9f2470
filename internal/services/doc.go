// Package services implements the household domain on top of the repositories: users and families,
// devices and device groups, their live status, chats, notes and the family Spotify link.
//
// # Stores
//
// [Stores] bundles the repositories. Relational data always lives in SQLite; chats and notes go to
// MongoDB when [Stores.WithMongo] is applied, otherwise they share the SQLite database.
//
// # Events
//
// Services that change visible state publish to an [events.Publisher]. A failed publish is logged
// and never fails the operation. Device changes fan out through [DeviceStatusService.PublishAffectedStatusUpdates]:
//   - deviceStatusUpdated on every change
//   - deviceGroupStatusUpdated when the device belongs to a group
//   - overviewDeviceStatusUpdated for stand-alone devices, or when the change cascades to the group
//
// # Sound server
//
// Each family with at least one device has exactly one sound server. The first registered device takes
// the role and, when it is deleted, the oldest remaining device inherits it.
//
// # Spotify
//
// [SpotifyService] is a rate-limited Web API client over [oauth2]. Tokens refresh automatically;
// [SpotifyConnectionsService.ClientFor] writes refreshed tokens back to the family connection.
//
// # Errors
//
// Domain failures use the classes of the shared package so the HTTP layer can map them:
//   - [shared.ErrNotFound] : missing entity, or an entity of another family
//   - [shared.ErrBadRequest] : rule violations such as a taken email
//   - [shared.ErrUnauthorized] : bad credentials
//   - [shared.ErrAPIRequest] : Spotify answered with a non-2xx status, see [SpotifyAPIError]
package services
