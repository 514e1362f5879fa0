package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/akave-ai/devlog/internal/model"
)

// Index records upload metadata so listing does not walk the backing store.
type Index interface {
	Upsert(ctx context.Context, userID, path string, m model.UploadMetadata) error
	ListByUser(ctx context.Context, userID string) ([]model.UploadMetadata, error)
	GetByRequest(ctx context.Context, userID, requestID string) (*model.UploadMetadata, error)
	DeleteByPaths(ctx context.Context, paths []string) (int64, error)
}

// IndexedStore writes through to a Store and keeps an Index in step. An
// upload only counts as saved once both the object and its index row exist.
type IndexedStore struct {
	Store
	index Index
	log   zerolog.Logger
}

func NewIndexedStore(store Store, index Index, logger zerolog.Logger) *IndexedStore {
	return &IndexedStore{
		Store: store,
		index: index,
		log:   logger.With().Str("component", "upload_index").Logger(),
	}
}

func (s *IndexedStore) Save(ctx context.Context, userID, deviceID string, requestID uuid.UUID, entries []model.LogEntry) (model.UploadMetadata, error) {
	meta, err := s.Store.Save(ctx, userID, deviceID, requestID, entries)
	if err != nil {
		return meta, err
	}
	if err := s.index.Upsert(ctx, userID, RelativePath(userID, deviceID, requestID), meta); err != nil {
		s.log.Error().Err(err).Str("request_id", meta.RequestID).Msg("index upload")
		if rmErr := s.Store.Remove(ctx, userID, deviceID, requestID); rmErr != nil {
			s.log.Error().Err(rmErr).Str("request_id", meta.RequestID).Msg("remove unindexed upload")
		}
		return model.UploadMetadata{}, fmt.Errorf("index upload: %w", err)
	}
	return meta, nil
}

func (s *IndexedStore) List(ctx context.Context, userID string) ([]model.UploadMetadata, error) {
	if !ValidOwner(userID) {
		return nil, ErrInvalidOwner
	}
	list, err := s.index.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list upload index: %w", err)
	}
	return list, nil
}

// Locate returns the metadata of one of userID's uploads, or ErrNotFound.
func (s *IndexedStore) Locate(ctx context.Context, userID string, requestID uuid.UUID) (model.UploadMetadata, error) {
	if !ValidOwner(userID) {
		return model.UploadMetadata{}, ErrNotFound
	}
	m, err := s.index.GetByRequest(ctx, userID, requestID.String())
	if err != nil {
		return model.UploadMetadata{}, fmt.Errorf("lookup upload index: %w", err)
	}
	if m == nil {
		return model.UploadMetadata{}, ErrNotFound
	}
	return *m, nil
}

// Remove deletes the object and its index row.
func (s *IndexedStore) Remove(ctx context.Context, userID, deviceID string, requestID uuid.UUID) error {
	objErr := s.Store.Remove(ctx, userID, deviceID, requestID)
	_, idxErr := s.index.DeleteByPaths(ctx, []string{RelativePath(userID, deviceID, requestID)})
	return errors.Join(objErr, idxErr)
}

// Forget drops index rows for uploads removed from the backing store
// outside IndexedStore, such as by retention cleanup.
func (s *IndexedStore) Forget(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	n, err := s.index.DeleteByPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("prune upload index: %w", err)
	}
	s.log.Debug().Int64("rows", n).Msg("pruned upload index")
	return nil
}
