package storage

import (
	"context"
	"time"

	"github.com/theapemachine/indexpilot/audit"
)

/*
Archive defines the interface for long-term retention of mutation log
entries outside the hot audit store. Dashboards and case studies read from
here; the engine only ever appends.
*/
type Archive interface {
	// SaveEntry archives a terminal mutation log entry
	SaveEntry(ctx context.Context, entry *audit.MutationLogEntry) error

	// GetEntry retrieves an archived entry by ID
	GetEntry(ctx context.Context, id string, tenantID ...string) (*audit.MutationLogEntry, error)

	// ListEntries lists all archived entries, newest first
	ListEntries(ctx context.Context) ([]*audit.MutationLogEntry, error)

	// ListEntriesByTenant lists archived entries for a specific tenant
	ListEntriesByTenant(ctx context.Context, tenantID string) ([]*audit.MutationLogEntry, error)

	// DeleteOldEntries removes entries older than the retention period and
	// returns how many were deleted
	DeleteOldEntries(ctx context.Context, retention time.Duration) (int, error)
}
