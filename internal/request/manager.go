// Package request tracks the per-device log request state machine.
package request

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/akave-ai/devlog/internal/model"
)

var (
	ErrNotFound         = errors.New("request not found")
	ErrAlreadyProcessed = errors.New("request already processed")
)

const (
	DefaultTTL       = 24 * time.Hour
	DefaultRetention = 7 * 24 * time.Hour
)

type Config struct {
	TTL       time.Duration // lifetime of a pending request
	Retention time.Duration // how long terminal requests are kept, measured from creation
}

func DefaultConfig() Config {
	return Config{TTL: DefaultTTL, Retention: DefaultRetention}
}

// Manager owns all log requests. One request per device is current; requests
// superseded while still pending are archived as cancelled until retention
// removes them.
type Manager struct {
	mu       sync.Mutex
	byDevice map[string]model.LogRequest
	archived map[uuid.UUID]model.LogRequest
	cfg      Config
	now      func() time.Time
	log      zerolog.Logger
}

func NewManager(cfg Config, logger zerolog.Logger) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	return &Manager{
		byDevice: make(map[string]model.LogRequest),
		archived: make(map[uuid.UUID]model.LogRequest),
		cfg:      cfg,
		now:      time.Now,
		log:      logger.With().Str("component", "requests").Logger(),
	}
}

// Create starts a fresh pending request for deviceID, replacing whatever was
// stored for that device.
func (m *Manager) Create(userID, deviceID string) model.LogRequest {
	now := m.now().UTC()
	req := model.LogRequest{
		ID:          uuid.New(),
		UserID:      userID,
		DeviceID:    deviceID,
		RequestedAt: now,
		ExpiresAt:   now.Add(m.cfg.TTL),
		Status:      model.RequestPending,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.byDevice[deviceID]; ok && old.Status == model.RequestPending {
		if old.Live(now) {
			old.Status = model.RequestCancelled
			m.log.Info().
				Str("device_id", deviceID).
				Str("old_request_id", old.ID.String()).
				Str("new_request_id", req.ID.String()).
				Msg("superseding pending request")
		} else {
			old.Status = model.RequestExpired
		}
		m.archived[old.ID] = old
	}
	m.byDevice[deviceID] = req
	return req
}

// Pending returns the live pending request for deviceID. A stored pending
// request past its expiry is marked expired here and not returned.
func (m *Manager) Pending(deviceID string) (model.LogRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.byDevice[deviceID]
	if !ok || req.Status != model.RequestPending {
		return model.LogRequest{}, false
	}
	if !req.Live(m.now()) {
		req.Status = model.RequestExpired
		m.byDevice[deviceID] = req
		m.log.Info().
			Str("device_id", deviceID).
			Str("request_id", req.ID.String()).
			Msg("request expired")
		return model.LogRequest{}, false
	}
	return req, true
}

// Get returns any tracked request by id, current or archived, with its
// effective status.
func (m *Manager) Get(id uuid.UUID) (model.LogRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var req model.LogRequest
	if deviceID, ok := m.findLocked(id); ok {
		req = m.byDevice[deviceID]
	} else if req, ok = m.archived[id]; !ok {
		return model.LogRequest{}, false
	}
	if req.Status == model.RequestPending && !req.Live(m.now()) {
		req.Status = model.RequestExpired
	}
	return req, true
}

func (m *Manager) findLocked(id uuid.UUID) (string, bool) {
	for deviceID, req := range m.byDevice {
		if req.ID == id {
			return deviceID, true
		}
	}
	return "", false
}

// Fulfill marks the pending request id as fulfilled with the stored path.
func (m *Manager) Fulfill(id uuid.UUID, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	deviceID, ok := m.findLocked(id)
	if !ok {
		if _, archived := m.archived[id]; archived {
			return ErrAlreadyProcessed
		}
		return ErrNotFound
	}
	req := m.byDevice[deviceID]
	if req.Status != model.RequestPending {
		return ErrAlreadyProcessed
	}
	now := m.now().UTC()
	if !req.Live(now) {
		req.Status = model.RequestExpired
		m.byDevice[deviceID] = req
		return ErrAlreadyProcessed
	}

	req.Status = model.RequestFulfilled
	req.FulfilledAt = &now
	req.LogFilePath = path
	m.byDevice[deviceID] = req

	m.log.Info().
		Str("device_id", deviceID).
		Str("request_id", id.String()).
		Str("path", path).
		Msg("request fulfilled")
	return nil
}

// Cancel cancels the pending request for deviceID.
func (m *Manager) Cancel(deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.byDevice[deviceID]
	if !ok {
		return ErrNotFound
	}
	if req.Status != model.RequestPending {
		return ErrAlreadyProcessed
	}
	if !req.Live(m.now()) {
		req.Status = model.RequestExpired
		m.byDevice[deviceID] = req
		return ErrAlreadyProcessed
	}
	req.Status = model.RequestCancelled
	m.byDevice[deviceID] = req

	m.log.Info().
		Str("device_id", deviceID).
		Str("request_id", req.ID.String()).
		Msg("request cancelled")
	return nil
}

// CleanupExpired marks overdue pending requests expired and removes terminal
// requests created more than Retention ago. It returns the number removed.
func (m *Manager) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-m.cfg.Retention)
	removed := 0

	for deviceID, req := range m.byDevice {
		if req.Status == model.RequestPending && !req.Live(now) {
			req.Status = model.RequestExpired
			m.byDevice[deviceID] = req
			m.log.Info().
				Str("device_id", deviceID).
				Str("request_id", req.ID.String()).
				Msg("marking request expired during cleanup")
		}
		if req.Status.Terminal() && req.RequestedAt.Before(cutoff) {
			delete(m.byDevice, deviceID)
			removed++
		}
	}
	for id, req := range m.archived {
		if req.RequestedAt.Before(cutoff) {
			delete(m.archived, id)
			removed++
		}
	}

	if removed > 0 {
		m.log.Info().Int("removed", removed).Msg("cleaned up old requests")
	}
	return removed
}

// Stats counts requests by effective status. Pending requests past their
// expiry count as expired even if no sweep has run yet.
func (m *Manager) Stats() model.RequestStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var s model.RequestStats
	count := func(req model.LogRequest) {
		s.Total++
		switch req.Status {
		case model.RequestPending:
			if req.Live(now) {
				s.Pending++
			} else {
				s.Expired++
			}
		case model.RequestFulfilled:
			s.Fulfilled++
		case model.RequestExpired:
			s.Expired++
		case model.RequestCancelled:
			s.Cancelled++
		}
	}
	for _, req := range m.byDevice {
		count(req)
	}
	for _, req := range m.archived {
		count(req)
	}
	return s
}
