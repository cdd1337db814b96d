package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/theapemachine/indexpilot/audit"
	"github.com/theapemachine/indexpilot/logger"
)

/*
FileArchive implements the Archive interface using the local filesystem.
It stores mutation log entries as JSON files under one directory per tenant.
*/
type FileArchive struct {
	basePath string
	mu       sync.RWMutex
}

/*
NewFileArchive creates a new file archive instance.
It initializes the archive directory if it doesn't exist.
*/
func NewFileArchive(basePath string) (*FileArchive, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	return &FileArchive{
		basePath: basePath,
	}, nil
}

/*
SaveEntry archives a mutation log entry to a file.
It generates a unique ID and timestamp if not provided.
*/
func (fa *FileArchive) SaveEntry(ctx context.Context, entry *audit.MutationLogEntry) error {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	tenantDir := filepath.Join(fa.basePath, entry.Decision.Candidate.TenantID)
	if err := os.MkdirAll(tenantDir, 0755); err != nil {
		return fmt.Errorf("failed to create tenant directory: %w", err)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal mutation log entry: %w", err)
	}

	filePath := filepath.Join(tenantDir, entry.ID+".json")
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write mutation log entry: %w", err)
	}

	logger.Debug("Archived mutation log entry",
		"id", entry.ID,
		"tenant", entry.Decision.Candidate.TenantID,
		"outcome", entry.Outcome)

	return nil
}

/*
GetEntry retrieves an archived entry by ID, optionally narrowed to a tenant.
*/
func (fa *FileArchive) GetEntry(ctx context.Context, id string, tenantID ...string) (*audit.MutationLogEntry, error) {
	fa.mu.RLock()
	defer fa.mu.RUnlock()

	if len(tenantID) > 0 && tenantID[0] != "" {
		filePath := filepath.Join(fa.basePath, tenantID[0], id+".json")
		return fa.readEntryFromFile(filePath)
	}

	// Search in all tenant directories
	dirs, err := os.ReadDir(fa.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	for _, dir := range dirs {
		if dir.IsDir() {
			filePath := filepath.Join(fa.basePath, dir.Name(), id+".json")
			if entry, err := fa.readEntryFromFile(filePath); err == nil {
				return entry, nil
			}
		}
	}

	return nil, fmt.Errorf("archived entry not found: %s", id)
}

// Helper function to read an entry from a file
func (fa *FileArchive) readEntryFromFile(filePath string) (*audit.MutationLogEntry, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read entry file: %w", err)
	}

	var entry audit.MutationLogEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}

	return &entry, nil
}

/*
ListEntries lists all archived entries across all tenants sorted by
creation time (newest first).
*/
func (fa *FileArchive) ListEntries(ctx context.Context) ([]*audit.MutationLogEntry, error) {
	fa.mu.RLock()
	defer fa.mu.RUnlock()

	var entries []*audit.MutationLogEntry

	tenantDirs, err := os.ReadDir(fa.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	for _, tenantDir := range tenantDirs {
		if !tenantDir.IsDir() {
			continue
		}

		dirEntries, err := fa.listTenantDir(filepath.Join(fa.basePath, tenantDir.Name()))
		if err != nil {
			// Skip directories we can't read
			continue
		}
		entries = append(entries, dirEntries...)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})

	if len(entries) == 0 {
		return []*audit.MutationLogEntry{}, nil
	}

	return entries, nil
}

/*
ListEntriesByTenant lists all archived entries for a specific tenant,
newest first.
*/
func (fa *FileArchive) ListEntriesByTenant(ctx context.Context, tenantID string) ([]*audit.MutationLogEntry, error) {
	fa.mu.RLock()
	defer fa.mu.RUnlock()

	entries, err := fa.listTenantDir(filepath.Join(fa.basePath, tenantID))
	if err != nil {
		if os.IsNotExist(err) {
			return []*audit.MutationLogEntry{}, nil
		}
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})

	if len(entries) == 0 {
		return []*audit.MutationLogEntry{}, nil
	}

	return entries, nil
}

func (fa *FileArchive) listTenantDir(dirPath string) ([]*audit.MutationLogEntry, error) {
	files, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, err
	}

	var entries []*audit.MutationLogEntry
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}

		entry, err := fa.readEntryFromFile(filepath.Join(dirPath, file.Name()))
		if err != nil {
			// Skip files we can't read
			continue
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

/*
DeleteOldEntries removes archived entries older than the retention period.
*/
func (fa *FileArchive) DeleteOldEntries(ctx context.Context, retention time.Duration) (int, error) {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	cutoff := time.Now().Add(-retention)
	deleted := 0

	tenantDirs, err := os.ReadDir(fa.basePath)
	if err != nil {
		return 0, fmt.Errorf("failed to read archive directory: %w", err)
	}

	for _, tenantDir := range tenantDirs {
		if !tenantDir.IsDir() {
			continue
		}

		dirPath := filepath.Join(fa.basePath, tenantDir.Name())
		files, err := os.ReadDir(dirPath)
		if err != nil {
			continue
		}

		for _, file := range files {
			if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
				continue
			}

			filePath := filepath.Join(dirPath, file.Name())
			entry, err := fa.readEntryFromFile(filePath)
			if err != nil {
				continue
			}

			if entry.CreatedAt.Before(cutoff) {
				if err := os.Remove(filePath); err != nil {
					return deleted, fmt.Errorf("failed to delete archived entry: %w", err)
				}
				deleted++
			}
		}
	}

	logger.Info("Deleted old archived entries", "count", deleted)
	return deleted, nil
}
