// Package events carries device status and chat notifications from the services to whoever listens.
//
// [Bus] is the in-process fan-out; the chat TUI follows the open conversation through it.
// [NATSPublisher] forwards the same events to a NATS server on subjects prefixed with "pihome." and
// [NATSSubscriber] reads them back in any process. [Fanout] publishes to the bus and NATS at once.
//
// # Topics
//
//   - [DeviceStatusUpdated]: a device changed; payload [models.DeviceStatus]
//   - [DeviceGroupStatusUpdated]: a group changed; payload [models.DeviceGroupStatus]
//   - [OverviewDeviceStatusUpdated]: the family overview changed; payload [models.OverviewDeviceStatus]
//   - [ChatCreated], [ChatDeleted]: payload [models.Chat]
//   - [MessageAddedTopic]: per-chat; payload [models.Message]
package events
