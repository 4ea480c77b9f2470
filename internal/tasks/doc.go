// Package tasks runs pihome's background and long-running work.
//
// # Scheduled jobs
//
// [Scheduler] wraps a cron runner with second-level specs. Every [Job] reports how many records it changed:
//
//   - [HeartbeatSweeper] turns devices off when their heartbeat goes stale
//   - [SpotifyDeviceSync] resolves a playback device for Spotify connections that had none when created
//
// Overlapping runs of the same job are skipped, and a panicking job is logged and recovered.
//
// # Exports
//
// [ChatExporter] writes transcripts with the formatter package. [ChatExporter.BulkExport] exports a whole
// family through a rate-limited worker pool and leaves an export_manifest.json next to the files.
//
// Progress is reported as [ProgressUpdate] values on an optional channel. Sends never block.
package tasks
