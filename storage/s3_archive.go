package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/theapemachine/indexpilot/audit"
	"github.com/theapemachine/indexpilot/logger"
)

const (
	// DefaultEntriesPrefix is the default prefix for archived entries in S3
	DefaultEntriesPrefix = "mutation-log/"
)

// S3ArchiveError defines custom errors for S3Archive
type S3ArchiveError struct {
	Message string
	Err     error
}

// Error returns the error message
func (e *S3ArchiveError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// S3ArchiveOption defines options for the S3Archive
type S3ArchiveOption func(*S3Archive)

// WithBucket sets the S3 bucket name
func WithBucket(bucket string) S3ArchiveOption {
	return func(s *S3Archive) {
		s.bucket = bucket
	}
}

// WithPrefix sets the S3 object prefix
func WithPrefix(prefix string) S3ArchiveOption {
	return func(s *S3Archive) {
		s.prefix = prefix
	}
}

// WithRegion sets the AWS region
func WithRegion(region string) S3ArchiveOption {
	return func(s *S3Archive) {
		s.region = region
	}
}

// WithClient sets a custom S3 client
func WithClient(client s3ClientAPI) S3ArchiveOption {
	return func(s *S3Archive) {
		s.client = client
	}
}

// S3Archive implements the Archive interface using AWS S3
type S3Archive struct {
	bucket string
	prefix string
	region string
	client s3ClientAPI
}

// NewS3Archive creates a new S3Archive instance
func NewS3Archive(ctx context.Context, opts ...S3ArchiveOption) (*S3Archive, error) {
	archive := &S3Archive{
		prefix: DefaultEntriesPrefix,
		region: "us-east-1", // Default region
	}

	for _, opt := range opts {
		opt(archive)
	}

	if archive.bucket == "" {
		return nil, &S3ArchiveError{Message: "bucket name is required"}
	}

	if archive.client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(archive.region))
		if err != nil {
			return nil, &S3ArchiveError{Message: "failed to load AWS config", Err: err}
		}
		archive.client = s3.NewFromConfig(cfg)
	}

	// Ensure the bucket exists
	_, err := archive.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(archive.bucket),
	})
	if err != nil {
		return nil, &S3ArchiveError{Message: "failed to access S3 bucket", Err: err}
	}

	logger.Info("S3 archive initialized", "bucket", archive.bucket, "prefix", archive.prefix)
	return archive, nil
}

// getObjectKey generates the S3 object key for an entry
func (s *S3Archive) getObjectKey(entry *audit.MutationLogEntry) string {
	// Format: mutation-log/tenant-id/entry-id.json
	return filepath.Join(s.prefix, entry.Decision.Candidate.TenantID, fmt.Sprintf("%s.json", entry.ID))
}

// SaveEntry archives a mutation log entry to S3
func (s *S3Archive) SaveEntry(ctx context.Context, entry *audit.MutationLogEntry) error {
	if entry == nil {
		return &S3ArchiveError{Message: "entry cannot be nil"}
	}

	key := s.getObjectKey(entry)

	data, err := json.Marshal(entry)
	if err != nil {
		return &S3ArchiveError{Message: "failed to marshal entry to JSON", Err: err}
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return &S3ArchiveError{Message: "failed to upload entry to S3", Err: err}
	}

	logger.Debug("Archived mutation log entry to S3", "id", entry.ID, "key", key)
	return nil
}

// GetEntry retrieves an archived entry by ID
func (s *S3Archive) GetEntry(ctx context.Context, id string, tenantID ...string) (*audit.MutationLogEntry, error) {
	if id == "" {
		return nil, &S3ArchiveError{Message: "entry ID cannot be empty"}
	}

	var prefix string
	if len(tenantID) > 0 && tenantID[0] != "" {
		prefix = filepath.Join(s.prefix, tenantID[0])
	} else {
		prefix = s.prefix
	}

	resp, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return nil, &S3ArchiveError{Message: "failed to list objects in S3", Err: err}
	}

	for _, object := range resp.Contents {
		if strings.HasSuffix(*object.Key, id+".json") {
			return s.readEntry(ctx, *object.Key)
		}
	}

	return nil, &S3ArchiveError{Message: fmt.Sprintf("archived entry not found: %s", id)}
}

func (s *S3Archive) readEntry(ctx context.Context, key string) (*audit.MutationLogEntry, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, &S3ArchiveError{Message: "failed to get object from S3", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &S3ArchiveError{Message: "failed to read object body", Err: err}
	}

	var entry audit.MutationLogEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, &S3ArchiveError{Message: "failed to unmarshal entry", Err: err}
	}

	return &entry, nil
}

// ListEntries lists all archived entries, newest first
func (s *S3Archive) ListEntries(ctx context.Context) ([]*audit.MutationLogEntry, error) {
	return s.listWithPrefix(ctx, s.prefix)
}

// ListEntriesByTenant lists archived entries for a specific tenant
func (s *S3Archive) ListEntriesByTenant(ctx context.Context, tenantID string) ([]*audit.MutationLogEntry, error) {
	return s.listWithPrefix(ctx, filepath.Join(s.prefix, tenantID))
}

func (s *S3Archive) listWithPrefix(ctx context.Context, prefix string) ([]*audit.MutationLogEntry, error) {
	var entries []*audit.MutationLogEntry

	var continuationToken *string
	for {
		resp, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, &S3ArchiveError{Message: "failed to list objects in S3", Err: err}
		}

		for _, object := range resp.Contents {
			if !strings.HasSuffix(*object.Key, ".json") {
				continue
			}

			entry, err := s.readEntry(ctx, *object.Key)
			if err != nil {
				// Skip objects we can't read
				continue
			}
			entries = append(entries, entry)
		}

		if resp.IsTruncated == nil || !*resp.IsTruncated {
			break
		}
		continuationToken = resp.NextContinuationToken
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})

	if entries == nil {
		entries = []*audit.MutationLogEntry{}
	}

	return entries, nil
}

/*
DeleteOldEntries removes archived entries older than the retention period.
It is mainly useful to control S3 storage costs.
*/
func (s *S3Archive) DeleteOldEntries(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention)

	var toDelete []types.ObjectIdentifier

	var continuationToken *string
	for {
		resp, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return 0, &S3ArchiveError{Message: "failed to list objects in S3", Err: err}
		}

		for _, object := range resp.Contents {
			if object.LastModified != nil && object.LastModified.Before(cutoff) {
				toDelete = append(toDelete, types.ObjectIdentifier{Key: object.Key})
			}
		}

		if resp.IsTruncated == nil || !*resp.IsTruncated {
			break
		}
		continuationToken = resp.NextContinuationToken
	}

	if len(toDelete) == 0 {
		return 0, nil
	}

	// DeleteObjects accepts at most 1000 keys per call
	deleted := 0
	for start := 0; start < len(toDelete); start += 1000 {
		end := start + 1000
		if end > len(toDelete) {
			end = len(toDelete)
		}

		_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: toDelete[start:end]},
		})
		if err != nil {
			return deleted, &S3ArchiveError{Message: "failed to delete objects from S3", Err: err}
		}
		deleted += end - start
	}

	logger.Info("Deleted old archived entries from S3", "count", deleted)
	return deleted, nil
}
