package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/akave-ai/devlog/internal/config"
	"github.com/akave-ai/devlog/internal/model"
)

const logCountMetaKey = "log-count"

// O3Store keeps uploads in Akave O3 (S3-compatible API) under
// {prefix}/{user}/{device}/{request}.jsonl.
type O3Store struct {
	client *s3.Client
	bucket string
	prefix string
	log    zerolog.Logger
}

// NewO3Store builds an S3-compatible client for the given O3 config.
func NewO3Store(cfg *config.O3Config, logger zerolog.Logger) (*O3Store, error) {
	if cfg == nil || cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("o3 endpoint and bucket are required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	client := s3.NewFromConfig(aws.Config{
		Region:      region,
		Credentials: aws.NewCredentialsCache(creds),
	}, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "uploads"
	}
	return &O3Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
		log:    logger.With().Str("component", "o3").Logger(),
	}, nil
}

// EnsureBucket creates the bucket if it does not exist (HeadBucket fails → CreateBucket).
func (s *O3Store) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	_, createErr := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if createErr != nil {
		var apiErr smithy.APIError
		if errors.As(createErr, &apiErr) {
			switch apiErr.ErrorCode() {
			case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
				return nil
			}
		}
		return createErr
	}
	return nil
}

func (s *O3Store) key(userID, deviceID string, requestID uuid.UUID) string {
	return path.Join(s.prefix, RelativePath(userID, deviceID, requestID))
}

func (s *O3Store) Save(ctx context.Context, userID, deviceID string, requestID uuid.UUID, entries []model.LogEntry) (model.UploadMetadata, error) {
	if !ValidOwner(userID) {
		return model.UploadMetadata{}, ErrInvalidOwner
	}
	if SanitizeName(deviceID) == "" {
		return model.UploadMetadata{}, fmt.Errorf("invalid device id")
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return model.UploadMetadata{}, fmt.Errorf("serialize log entry: %w", err)
		}
	}
	key := s.key(userID, deviceID, requestID)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
		Metadata:    map[string]string{logCountMetaKey: strconv.Itoa(len(entries))},
	})
	if err != nil {
		return model.UploadMetadata{}, fmt.Errorf("put %s: %w", key, err)
	}
	s.log.Info().Str("key", key).Int("log_count", len(entries)).Msg("logs uploaded")
	return model.UploadMetadata{
		RequestID:     requestID.String(),
		DeviceID:      deviceID,
		UploadedAt:    time.Now().UTC(),
		LogCount:      len(entries),
		FileSizeBytes: int64(buf.Len()),
	}, nil
}

func (s *O3Store) Read(ctx context.Context, userID, deviceID string, requestID uuid.UUID) ([]model.LogEntry, error) {
	if !ValidOwner(userID) {
		return nil, ErrNotFound
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(userID, deviceID, requestID)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer out.Body.Close()
	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return decodeLines(raw)
}

// List walks the user's prefix. The entry count comes from object metadata,
// so each object costs one HEAD request.
func (s *O3Store) List(ctx context.Context, userID string) ([]model.UploadMetadata, error) {
	if !ValidOwner(userID) {
		return nil, ErrInvalidOwner
	}
	userPrefix := path.Join(s.prefix, userID) + "/"
	uploads := []model.UploadMetadata{}
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(userPrefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, o := range page.Contents {
			key := aws.ToString(o.Key)
			rel := strings.TrimPrefix(key, userPrefix)
			deviceID, file, ok := strings.Cut(rel, "/")
			if !ok || !strings.HasSuffix(file, ".jsonl") || strings.Contains(file, "/") {
				continue
			}
			meta := model.UploadMetadata{
				RequestID:     strings.TrimSuffix(file, ".jsonl"),
				DeviceID:      deviceID,
				FileSizeBytes: aws.ToInt64(o.Size),
			}
			if o.LastModified != nil {
				meta.UploadedAt = o.LastModified.UTC()
			}
			head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    o.Key,
			})
			if err == nil {
				meta.LogCount, _ = strconv.Atoi(head.Metadata[logCountMetaKey])
			}
			uploads = append(uploads, meta)
		}
	}
	return uploads, nil
}

// Remove deletes one upload object.
func (s *O3Store) Remove(ctx context.Context, userID, deviceID string, requestID uuid.UUID) error {
	if !ValidOwner(userID) {
		return nil
	}
	key := s.key(userID, deviceID, requestID)
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
