package storage

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// mockS3Client is a mock implementation of the S3 client for testing
type mockS3Client struct {
	mock.Mock
}

func (m *mockS3Client) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.HeadBucketOutput), args.Error(1)
}

func (m *mockS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.PutObjectOutput), args.Error(1)
}

func (m *mockS3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.GetObjectOutput), args.Error(1)
}

func (m *mockS3Client) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.ListObjectsV2Output), args.Error(1)
}

func (m *mockS3Client) DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.DeleteObjectsOutput), args.Error(1)
}

// newMockS3Body wraps JSON content as a GetObject response body
func newMockS3Body(content string) *s3.GetObjectOutput {
	return &s3.GetObjectOutput{
		Body: io.NopCloser(strings.NewReader(content)),
	}
}

func newTestArchive(t *testing.T, mockClient *mockS3Client) *S3Archive {
	t.Helper()
	ctx := context.Background()

	mockClient.On("HeadBucket", ctx, &s3.HeadBucketInput{
		Bucket: aws.String("test-bucket"),
	}).Return(&s3.HeadBucketOutput{}, nil)

	archive, err := NewS3Archive(ctx, WithBucket("test-bucket"), WithClient(mockClient))
	if err != nil {
		t.Fatalf("failed to create S3 archive: %v", err)
	}
	return archive
}

func TestNewS3Archive(t *testing.T) {
	ctx := context.Background()
	mockClient := new(mockS3Client)

	// Successful initialization
	mockClient.On("HeadBucket", ctx, &s3.HeadBucketInput{
		Bucket: aws.String("test-bucket"),
	}).Return(&s3.HeadBucketOutput{}, nil)

	archive, err := NewS3Archive(ctx, WithBucket("test-bucket"), WithClient(mockClient))
	assert.NoError(t, err)
	assert.NotNil(t, archive)
	assert.Equal(t, "test-bucket", archive.bucket)
	assert.Equal(t, DefaultEntriesPrefix, archive.prefix)

	// Missing bucket name
	archive, err = NewS3Archive(ctx, WithClient(mockClient))
	assert.Error(t, err)
	assert.Nil(t, archive)
	assert.Contains(t, err.Error(), "bucket name is required")

	// Bucket does not exist
	mockClient.On("HeadBucket", ctx, &s3.HeadBucketInput{
		Bucket: aws.String("missing-bucket"),
	}).Return(nil, &types.NoSuchBucket{})

	archive, err = NewS3Archive(ctx, WithBucket("missing-bucket"), WithClient(mockClient))
	assert.Error(t, err)
	assert.Nil(t, archive)
	assert.Contains(t, err.Error(), "failed to access S3 bucket")
}

func TestS3SaveEntry(t *testing.T) {
	ctx := context.Background()
	mockClient := new(mockS3Client)
	archive := newTestArchive(t, mockClient)

	entry := archiveEntry("entry-1", "tenant-a", time.Now())

	mockClient.On("PutObject", ctx, mock.MatchedBy(func(input *s3.PutObjectInput) bool {
		return *input.Bucket == "test-bucket" &&
			*input.Key == "mutation-log/tenant-a/entry-1.json" &&
			*input.ContentType == "application/json"
	})).Return(&s3.PutObjectOutput{}, nil)

	assert.NoError(t, archive.SaveEntry(ctx, entry))
	mockClient.AssertExpectations(t)

	// Nil entries are rejected before any S3 call
	assert.Error(t, archive.SaveEntry(ctx, nil))
}

func TestS3GetEntry(t *testing.T) {
	ctx := context.Background()
	mockClient := new(mockS3Client)
	archive := newTestArchive(t, mockClient)

	entry := archiveEntry("entry-1", "tenant-a", time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC))
	data, err := json.Marshal(entry)
	assert.NoError(t, err)

	key := "mutation-log/tenant-a/entry-1.json"
	mockClient.On("ListObjectsV2", ctx, mock.MatchedBy(func(input *s3.ListObjectsV2Input) bool {
		return *input.Prefix == "mutation-log/tenant-a"
	})).Return(&s3.ListObjectsV2Output{
		Contents: []types.Object{{Key: aws.String(key)}},
	}, nil)
	mockClient.On("GetObject", ctx, &s3.GetObjectInput{
		Bucket: aws.String("test-bucket"),
		Key:    aws.String(key),
	}).Return(newMockS3Body(string(data)), nil)

	loaded, err := archive.GetEntry(ctx, "entry-1", "tenant-a")
	assert.NoError(t, err)
	assert.Equal(t, "entry-1", loaded.ID)
	assert.Equal(t, entry.Outcome, loaded.Outcome)

	// Unknown IDs should fail cleanly
	_, err = archive.GetEntry(ctx, "missing", "tenant-a")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	// Empty IDs are rejected before any S3 call
	_, err = archive.GetEntry(ctx, "")
	assert.Error(t, err)
}

func TestS3ListEntriesByTenant(t *testing.T) {
	ctx := context.Background()
	mockClient := new(mockS3Client)
	archive := newTestArchive(t, mockClient)

	older := archiveEntry("entry-1", "tenant-a", time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC))
	newer := archiveEntry("entry-2", "tenant-a", time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC))
	olderJSON, _ := json.Marshal(older)
	newerJSON, _ := json.Marshal(newer)

	mockClient.On("ListObjectsV2", ctx, mock.MatchedBy(func(input *s3.ListObjectsV2Input) bool {
		return *input.Prefix == "mutation-log/tenant-a"
	})).Return(&s3.ListObjectsV2Output{
		Contents: []types.Object{
			{Key: aws.String("mutation-log/tenant-a/entry-1.json")},
			{Key: aws.String("mutation-log/tenant-a/entry-2.json")},
			{Key: aws.String("mutation-log/tenant-a/manifest.txt")},
		},
		IsTruncated: aws.Bool(false),
	}, nil)
	mockClient.On("GetObject", ctx, &s3.GetObjectInput{
		Bucket: aws.String("test-bucket"),
		Key:    aws.String("mutation-log/tenant-a/entry-1.json"),
	}).Return(newMockS3Body(string(olderJSON)), nil)
	mockClient.On("GetObject", ctx, &s3.GetObjectInput{
		Bucket: aws.String("test-bucket"),
		Key:    aws.String("mutation-log/tenant-a/entry-2.json"),
	}).Return(newMockS3Body(string(newerJSON)), nil)

	entries, err := archive.ListEntriesByTenant(ctx, "tenant-a")
	assert.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, "entry-2", entries[0].ID, "entries should be newest first")
}

func TestS3DeleteOldEntries(t *testing.T) {
	ctx := context.Background()
	mockClient := new(mockS3Client)
	archive := newTestArchive(t, mockClient)

	old := time.Now().Add(-100 * 24 * time.Hour)
	recent := time.Now()

	mockClient.On("ListObjectsV2", ctx, mock.MatchedBy(func(input *s3.ListObjectsV2Input) bool {
		return *input.Prefix == DefaultEntriesPrefix
	})).Return(&s3.ListObjectsV2Output{
		Contents: []types.Object{
			{Key: aws.String("mutation-log/tenant-a/old.json"), LastModified: aws.Time(old)},
			{Key: aws.String("mutation-log/tenant-a/recent.json"), LastModified: aws.Time(recent)},
		},
		IsTruncated: aws.Bool(false),
	}, nil)
	mockClient.On("DeleteObjects", ctx, mock.MatchedBy(func(input *s3.DeleteObjectsInput) bool {
		return len(input.Delete.Objects) == 1 &&
			*input.Delete.Objects[0].Key == "mutation-log/tenant-a/old.json"
	})).Return(&s3.DeleteObjectsOutput{}, nil)

	deleted, err := archive.DeleteOldEntries(ctx, 90*24*time.Hour)
	assert.NoError(t, err)
	assert.Equal(t, 1, deleted)
	mockClient.AssertExpectations(t)
}

func TestS3DeleteOldEntriesNothingToDo(t *testing.T) {
	ctx := context.Background()
	mockClient := new(mockS3Client)
	archive := newTestArchive(t, mockClient)

	mockClient.On("ListObjectsV2", ctx, mock.Anything).Return(&s3.ListObjectsV2Output{
		Contents:    []types.Object{},
		IsTruncated: aws.Bool(false),
	}, nil)

	deleted, err := archive.DeleteOldEntries(ctx, 90*24*time.Hour)
	assert.NoError(t, err)
	assert.Equal(t, 0, deleted)
}
