// Package logpull runs the device log pull exchange: an owner requests logs
// from a device, the device polls for the request, then uploads a batch that
// is persisted before the request is marked fulfilled.
package logpull

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/akave-ai/devlog/internal/apperr"
	"github.com/akave-ai/devlog/internal/metrics"
	"github.com/akave-ai/devlog/internal/model"
	"github.com/akave-ai/devlog/internal/request"
	"github.com/akave-ai/devlog/internal/storage"
)

// Storage persists uploaded batches.
type Storage interface {
	Save(ctx context.Context, userID, deviceID string, requestID uuid.UUID, entries []model.LogEntry) (model.UploadMetadata, error)
	Read(ctx context.Context, userID, deviceID string, requestID uuid.UUID) ([]model.LogEntry, error)
	List(ctx context.Context, userID string) ([]model.UploadMetadata, error)
	Remove(ctx context.Context, userID, deviceID string, requestID uuid.UUID) error
}

const forbiddenMsg = "this log request belongs to a different user"

// Service composes the request lifecycle with storage.
type Service struct {
	requests *request.Manager
	store    Storage
	log      zerolog.Logger

	mu       sync.Mutex
	inflight map[uuid.UUID]struct{}
}

func NewService(requests *request.Manager, store Storage, logger zerolog.Logger) *Service {
	return &Service{
		requests: requests,
		store:    store,
		log:      logger.With().Str("component", "logpull").Logger(),
		inflight: make(map[uuid.UUID]struct{}),
	}
}

// checkOwner refuses user ids that storage could not keep apart from others.
func checkOwner(userID string) error {
	if !storage.ValidOwner(userID) {
		return apperr.Unauthorized("invalid user id")
	}
	return nil
}

func validDeviceID(deviceID string) bool {
	deviceID = strings.TrimSpace(deviceID)
	return deviceID != "" && storage.SanitizeName(deviceID) != ""
}

// Create asks deviceID to upload its logs on behalf of userID.
func (s *Service) Create(userID, deviceID string) (model.LogRequest, error) {
	if err := checkOwner(userID); err != nil {
		return model.LogRequest{}, err
	}
	if !validDeviceID(deviceID) {
		return model.LogRequest{}, apperr.Validation("invalid device id")
	}
	req := s.requests.Create(userID, deviceID)
	metrics.LogRequests.WithLabelValues("create", "ok").Inc()
	s.log.Info().
		Str("user_id", userID).
		Str("device_id", deviceID).
		Str("request_id", req.ID.String()).
		Msg("log request created")
	return req, nil
}

// Poll returns the pending request for deviceID, or nil when there is none.
func (s *Service) Poll(userID, deviceID string) (*model.PollResponse, error) {
	if err := checkOwner(userID); err != nil {
		return nil, err
	}
	if !validDeviceID(deviceID) {
		return nil, apperr.Validation("invalid device id")
	}
	req, ok := s.requests.Pending(deviceID)
	if !ok {
		return nil, nil
	}
	if req.UserID != userID {
		metrics.LogRequests.WithLabelValues("poll", "forbidden").Inc()
		return nil, apperr.Forbidden(forbiddenMsg)
	}
	s.log.Info().
		Str("user_id", userID).
		Str("device_id", deviceID).
		Str("request_id", req.ID.String()).
		Msg("client polling - pending request found")
	return &model.PollResponse{
		RequestID:   req.ID.String(),
		RequestedAt: req.RequestedAt.Format(time.RFC3339),
		ExpiresAt:   req.ExpiresAt.Format(time.RFC3339),
	}, nil
}

// Cancel cancels the caller's pending request for deviceID.
func (s *Service) Cancel(userID, deviceID string) error {
	if err := checkOwner(userID); err != nil {
		return err
	}
	if !validDeviceID(deviceID) {
		return apperr.Validation("invalid device id")
	}
	req, ok := s.requests.Pending(deviceID)
	if !ok {
		return apperr.NotFound("no pending request found for this device")
	}
	if req.UserID != userID {
		return apperr.Forbidden(forbiddenMsg)
	}
	// Lost a race with expiry or an upload: the request is no longer pending.
	if err := s.requests.Cancel(deviceID); err != nil {
		return apperr.NotFound("no pending request found for this device")
	}
	metrics.LogRequests.WithLabelValues("cancel", "ok").Inc()
	return nil
}

// Upload validates up against the device's current pending request,
// persists the batch, and only then marks the request fulfilled. A failed
// save leaves the request pending so the device can retry.
func (s *Service) Upload(ctx context.Context, userID string, up model.UploadRequest) (model.UploadMetadata, error) {
	meta, err := s.upload(ctx, userID, up)
	outcome := "ok"
	if err != nil {
		outcome = string(apperr.KindOf(err))
	}
	metrics.LogRequests.WithLabelValues("upload", outcome).Inc()
	return meta, err
}

func (s *Service) upload(ctx context.Context, userID string, up model.UploadRequest) (model.UploadMetadata, error) {
	if err := checkOwner(userID); err != nil {
		return model.UploadMetadata{}, err
	}
	requestID, err := uuid.Parse(up.RequestID)
	if err != nil {
		return model.UploadMetadata{}, apperr.Validation("invalid request id format")
	}
	if !validDeviceID(up.DeviceID) {
		return model.UploadMetadata{}, apperr.Validation("invalid device id")
	}

	if err := s.check(userID, up.DeviceID, requestID); err != nil {
		return model.UploadMetadata{}, err
	}
	if !s.claim(requestID) {
		return model.UploadMetadata{}, apperr.Validation("an upload for this request is already in progress")
	}
	defer s.release(requestID)

	// Re-check under the claim: a concurrent upload may have completed
	// between the first check and the claim.
	if err := s.check(userID, up.DeviceID, requestID); err != nil {
		return model.UploadMetadata{}, err
	}

	meta, err := s.store.Save(ctx, userID, up.DeviceID, requestID, up.Logs)
	if err != nil {
		s.log.Error().Err(err).
			Str("device_id", up.DeviceID).
			Str("request_id", requestID.String()).
			Msg("save upload")
		return model.UploadMetadata{}, apperr.Storage("failed to save logs", err)
	}

	path := storage.RelativePath(userID, up.DeviceID, requestID)
	if err := s.requests.Fulfill(requestID, path); err != nil {
		s.log.Error().Err(err).
			Str("device_id", up.DeviceID).
			Str("request_id", requestID.String()).
			Msg("fulfill request after save")
		// The request is gone (expired or cancelled meanwhile); drop the
		// batch so no upload exists without a fulfilled request.
		if rmErr := s.store.Remove(ctx, userID, up.DeviceID, requestID); rmErr != nil {
			s.log.Error().Err(rmErr).Str("request_id", requestID.String()).Msg("remove orphaned upload")
		}
		return model.UploadMetadata{}, apperr.Conflict("failed to fulfill request", err)
	}

	metrics.UploadedEntries.Add(float64(len(up.Logs)))
	s.log.Info().
		Str("user_id", userID).
		Str("device_id", up.DeviceID).
		Str("request_id", requestID.String()).
		Int("log_count", len(up.Logs)).
		Int("total_count", up.TotalCount).
		Msg("logs uploaded")
	return meta, nil
}

func (s *Service) check(userID, deviceID string, requestID uuid.UUID) error {
	req, ok := s.requests.Pending(deviceID)
	if !ok {
		return apperr.NotFound("no pending request found for this device")
	}
	if req.ID != requestID {
		return apperr.Validation("request id does not match pending request")
	}
	if req.UserID != userID {
		return apperr.Forbidden(forbiddenMsg)
	}
	return nil
}

func (s *Service) claim(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[id]; busy {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Service) release(id uuid.UUID) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

// ListUploads returns the caller's persisted uploads.
func (s *Service) ListUploads(ctx context.Context, userID string) ([]model.UploadMetadata, error) {
	if err := checkOwner(userID); err != nil {
		return nil, err
	}
	list, err := s.store.List(ctx, userID)
	if err != nil {
		return nil, apperr.Storage("failed to list uploads", err)
	}
	return list, nil
}

// Locator is implemented by stores that can find an upload's device without
// listing every upload of the user.
type Locator interface {
	Locate(ctx context.Context, userID string, requestID uuid.UUID) (model.UploadMetadata, error)
}

// GetUpload returns the entries of one of the caller's uploads.
func (s *Service) GetUpload(ctx context.Context, userID, requestID string) ([]model.LogEntry, error) {
	if err := checkOwner(userID); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(requestID)
	if err != nil {
		return nil, apperr.Validation("invalid request id format")
	}
	deviceID, err := s.deviceOf(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.Read(ctx, userID, deviceID, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("upload not found")
	}
	if err != nil {
		return nil, apperr.Storage("failed to read logs", err)
	}
	return entries, nil
}

func (s *Service) deviceOf(ctx context.Context, userID string, id uuid.UUID) (string, error) {
	if loc, ok := s.store.(Locator); ok {
		meta, err := loc.Locate(ctx, userID, id)
		if errors.Is(err, storage.ErrNotFound) {
			return "", apperr.NotFound("upload not found")
		}
		if err != nil {
			return "", apperr.Storage("failed to find upload", err)
		}
		return meta.DeviceID, nil
	}
	list, err := s.ListUploads(ctx, userID)
	if err != nil {
		return "", err
	}
	for _, u := range list {
		if u.RequestID == id.String() {
			return u.DeviceID, nil
		}
	}
	return "", apperr.NotFound("upload not found")
}

// Stats reports lifecycle counts.
func (s *Service) Stats() model.RequestStats {
	return s.requests.Stats()
}

// Request returns one of the caller's tracked requests by id.
func (s *Service) Request(userID, requestID string) (model.LogRequest, error) {
	if err := checkOwner(userID); err != nil {
		return model.LogRequest{}, err
	}
	id, err := uuid.Parse(requestID)
	if err != nil {
		return model.LogRequest{}, apperr.Validation("invalid request id format")
	}
	req, ok := s.requests.Get(id)
	if !ok {
		return model.LogRequest{}, apperr.NotFound("request not found")
	}
	if req.UserID != userID {
		return model.LogRequest{}, apperr.Forbidden(forbiddenMsg)
	}
	return req, nil
}
