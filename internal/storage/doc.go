// Package storage persists publish metadata.
//
// It supports:
//   - An audit log with one record per authorized trigger (no message content)
//   - Re-trigger suppression state, so a restart does not forget recent publishes
package storage
