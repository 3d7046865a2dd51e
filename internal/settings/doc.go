// Package settings persists murmur's selected transcription model and the
// history of transcription, alignment and encode jobs in SQLite.
//
// The database lives at config.SettingsDBPath(). Schema changes ship as
// numbered files under migrations/ and are applied in order on Open.
package settings
