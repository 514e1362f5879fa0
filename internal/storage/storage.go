// Package storage persists uploaded device logs, one JSON Lines object per
// fulfilled request, grouped by owner and device.
package storage

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/akave-ai/devlog/internal/model"
)

var (
	// ErrNotFound is returned when an upload does not exist.
	ErrNotFound = errors.New("upload not found")
	// ErrInvalidOwner is returned for user ids that are not stored verbatim.
	ErrInvalidOwner = errors.New("invalid owner id")
)

// Store is the persistence contract for device uploads.
type Store interface {
	Save(ctx context.Context, userID, deviceID string, requestID uuid.UUID, entries []model.LogEntry) (model.UploadMetadata, error)
	Read(ctx context.Context, userID, deviceID string, requestID uuid.UUID) ([]model.LogEntry, error)
	List(ctx context.Context, userID string) ([]model.UploadMetadata, error)
	Remove(ctx context.Context, userID, deviceID string, requestID uuid.UUID) error
}

// SanitizeName keeps only ASCII letters, digits, '-' and '_' so a caller
// supplied identifier cannot escape its directory.
func SanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidOwner reports whether userID names its own directory. Ids that
// SanitizeName would alter are refused so two users never share uploads.
func ValidOwner(userID string) bool {
	return userID != "" && SanitizeName(userID) == userID
}

// RelativePath is the location of an upload below a store root.
func RelativePath(userID, deviceID string, requestID uuid.UUID) string {
	return path.Join(SanitizeName(userID), SanitizeName(deviceID), requestID.String()+".jsonl")
}
