// Package storage persists the audit trail and roster snapshots behind a
// small Store interface with file and sqlite drivers.
package storage
