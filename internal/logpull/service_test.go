package logpull

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akave-ai/devlog/internal/apperr"
	"github.com/akave-ai/devlog/internal/model"
	"github.com/akave-ai/devlog/internal/request"
	"github.com/akave-ai/devlog/internal/storage"
)

type upload struct {
	userID  string
	meta    model.UploadMetadata
	entries []model.LogEntry
}

type memStore struct {
	mu      sync.Mutex
	uploads map[string]upload
	failErr error
	onSave  func()
}

func newMemStore() *memStore {
	return &memStore{uploads: make(map[string]upload)}
}

func (m *memStore) setFail(err error) {
	m.mu.Lock()
	m.failErr = err
	m.mu.Unlock()
}

func (m *memStore) Save(_ context.Context, userID, deviceID string, requestID uuid.UUID, entries []model.LogEntry) (model.UploadMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return model.UploadMetadata{}, m.failErr
	}
	meta := model.UploadMetadata{
		RequestID:  requestID.String(),
		DeviceID:   storage.SanitizeName(deviceID),
		UploadedAt: time.Now().UTC(),
		LogCount:   len(entries),
	}
	m.uploads[storage.RelativePath(userID, deviceID, requestID)] = upload{userID: userID, meta: meta, entries: entries}
	if m.onSave != nil {
		m.onSave()
	}
	return meta, nil
}

func (m *memStore) Remove(_ context.Context, userID, deviceID string, requestID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.uploads, storage.RelativePath(userID, deviceID, requestID))
	return nil
}

func (m *memStore) Read(_ context.Context, userID, deviceID string, requestID uuid.UUID) ([]model.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.uploads[storage.RelativePath(userID, deviceID, requestID)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return u.entries, nil
}

func (m *memStore) List(_ context.Context, userID string) ([]model.UploadMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.UploadMetadata{}
	for _, u := range m.uploads {
		if u.userID == userID {
			out = append(out, u.meta)
		}
	}
	return out, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.uploads)
}

func newTestService(t *testing.T) (*Service, *memStore) {
	t.Helper()
	store := newMemStore()
	requests := request.NewManager(request.DefaultConfig(), zerolog.Nop())
	return NewService(requests, store, zerolog.Nop()), store
}

func sampleLogs(n int) []model.LogEntry {
	out := make([]model.LogEntry, n)
	for i := range out {
		out[i] = model.LogEntry{
			ID:        uuid.NewString(),
			Timestamp: time.Date(2026, 1, 15, 10, 0, i, 0, time.UTC),
			Level:     "info",
			Message:   "boot",
			DeviceID:  "dev-A",
			Source:    "app",
		}
	}
	return out
}

func TestPollUploadRoundTrip(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	r1, err := svc.Create("user-U", "dev-A")
	require.NoError(t, err)

	poll, err := svc.Poll("user-U", "dev-A")
	require.NoError(t, err)
	require.NotNil(t, poll)
	assert.Equal(t, r1.ID.String(), poll.RequestID)
	assert.Equal(t, r1.ExpiresAt.Format(time.RFC3339), poll.ExpiresAt)

	_, err = svc.Poll("user-V", "dev-A")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	meta, err := svc.Upload(ctx, "user-U", model.UploadRequest{
		RequestID:  r1.ID.String(),
		DeviceID:   "dev-A",
		Logs:       sampleLogs(3),
		TotalCount: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, meta.LogCount)
	assert.Equal(t, r1.ID.String(), meta.RequestID)

	poll, err = svc.Poll("user-U", "dev-A")
	require.NoError(t, err)
	assert.Nil(t, poll)

	got, err := svc.Request("user-U", r1.ID.String())
	require.NoError(t, err)
	assert.Equal(t, model.RequestFulfilled, got.Status)
	assert.Equal(t, "user-U/dev-A/"+r1.ID.String()+".jsonl", got.LogFilePath)
	require.NotNil(t, got.FulfilledAt)
	assert.Equal(t, 1, store.count())
}

func TestCreateRejectsEmptyDevice(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Create("user-U", "   ")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = svc.Create("user-U", "../..")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestPollWithoutRequest(t *testing.T) {
	svc, _ := newTestService(t)

	poll, err := svc.Poll("user-U", "dev-A")
	require.NoError(t, err)
	assert.Nil(t, poll)
}

func TestUploadMismatchedRequestID(t *testing.T) {
	svc, store := newTestService(t)
	_, err := svc.Create("user-U", "dev-A")
	require.NoError(t, err)

	_, err = svc.Upload(context.Background(), "user-U", model.UploadRequest{
		RequestID: uuid.NewString(),
		DeviceID:  "dev-A",
		Logs:      sampleLogs(1),
	})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Equal(t, 0, store.count())
}

func TestUploadStaleRequestIDFromAnotherDevice(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	rA, err := svc.Create("user-U", "dev-A")
	require.NoError(t, err)

	// dev-B's first request is superseded, its second one fulfilled.
	staleB, err := svc.Create("user-U", "dev-B")
	require.NoError(t, err)
	rB, err := svc.Create("user-U", "dev-B")
	require.NoError(t, err)
	_, err = svc.Upload(ctx, "user-U", model.UploadRequest{RequestID: rB.ID.String(), DeviceID: "dev-B", Logs: sampleLogs(1)})
	require.NoError(t, err)
	require.Equal(t, 1, store.count())

	for _, id := range []uuid.UUID{staleB.ID, rB.ID} {
		_, err = svc.Upload(ctx, "user-U", model.UploadRequest{
			RequestID: id.String(),
			DeviceID:  "dev-A",
			Logs:      sampleLogs(2),
		})
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	}
	assert.Equal(t, 1, store.count())

	got, err := svc.Request("user-U", rA.ID.String())
	require.NoError(t, err)
	assert.Equal(t, model.RequestPending, got.Status)
}

func TestUploadMalformedRequestID(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Upload(context.Background(), "user-U", model.UploadRequest{
		RequestID: "not-a-uuid",
		DeviceID:  "dev-A",
	})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestUploadWithoutPendingRequest(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Upload(context.Background(), "user-U", model.UploadRequest{
		RequestID: uuid.NewString(),
		DeviceID:  "dev-A",
	})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestUploadByOtherUserLeavesRequestPending(t *testing.T) {
	svc, store := newTestService(t)
	r1, err := svc.Create("user-U", "dev-A")
	require.NoError(t, err)

	_, err = svc.Upload(context.Background(), "user-V", model.UploadRequest{
		RequestID: r1.ID.String(),
		DeviceID:  "dev-A",
		Logs:      sampleLogs(2),
	})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	assert.Equal(t, 0, store.count())

	poll, err := svc.Poll("user-U", "dev-A")
	require.NoError(t, err)
	require.NotNil(t, poll)
	assert.Equal(t, r1.ID.String(), poll.RequestID)
}

func TestStorageFailureAllowsRetry(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	r1, err := svc.Create("user-U", "dev-A")
	require.NoError(t, err)

	up := model.UploadRequest{RequestID: r1.ID.String(), DeviceID: "dev-A", Logs: sampleLogs(2)}

	store.setFail(errors.New("disk full"))
	_, err = svc.Upload(ctx, "user-U", up)
	assert.Equal(t, apperr.KindStorage, apperr.KindOf(err))

	got, err := svc.Request("user-U", r1.ID.String())
	require.NoError(t, err)
	assert.Equal(t, model.RequestPending, got.Status)

	store.setFail(nil)
	_, err = svc.Upload(ctx, "user-U", up)
	require.NoError(t, err)
	assert.Equal(t, 1, store.count())
}

func TestFulfillFailureRemovesSavedBatch(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	r1, err := svc.Create("user-U", "dev-A")
	require.NoError(t, err)

	// The request stops being pending while the batch is being written.
	store.onSave = func() { _ = svc.requests.Cancel("dev-A") }

	_, err = svc.Upload(ctx, "user-U", model.UploadRequest{RequestID: r1.ID.String(), DeviceID: "dev-A", Logs: sampleLogs(2)})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, 0, store.count())

	list, err := svc.ListUploads(ctx, "user-U")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestUploadTwice(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	r1, err := svc.Create("user-U", "dev-A")
	require.NoError(t, err)
	up := model.UploadRequest{RequestID: r1.ID.String(), DeviceID: "dev-A", Logs: sampleLogs(1)}

	_, err = svc.Upload(ctx, "user-U", up)
	require.NoError(t, err)

	_, err = svc.Upload(ctx, "user-U", up)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestConcurrentUploadsFulfillOnce(t *testing.T) {
	svc, store := newTestService(t)
	r1, err := svc.Create("user-U", "dev-A")
	require.NoError(t, err)
	up := model.UploadRequest{RequestID: r1.ID.String(), DeviceID: "dev-A", Logs: sampleLogs(5)}

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	start := make(chan struct{})
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := svc.Upload(context.Background(), "user-U", up); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, store.count())
}

func TestSupersededRequestCannotBeUploaded(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	r1, err := svc.Create("user-U", "dev-A")
	require.NoError(t, err)
	r2, err := svc.Create("user-U", "dev-A")
	require.NoError(t, err)

	_, err = svc.Upload(ctx, "user-U", model.UploadRequest{RequestID: r1.ID.String(), DeviceID: "dev-A"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	got, err := svc.Request("user-U", r1.ID.String())
	require.NoError(t, err)
	assert.Equal(t, model.RequestCancelled, got.Status)

	_, err = svc.Upload(ctx, "user-U", model.UploadRequest{RequestID: r2.ID.String(), DeviceID: "dev-A"})
	require.NoError(t, err)
}

func TestCancel(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Create("user-U", "dev-A")
	require.NoError(t, err)

	err = svc.Cancel("user-V", "dev-A")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	require.NoError(t, svc.Cancel("user-U", "dev-A"))

	poll, err := svc.Poll("user-U", "dev-A")
	require.NoError(t, err)
	assert.Nil(t, poll)

	err = svc.Cancel("user-U", "dev-A")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestCancelRejectsInvalidDevice(t *testing.T) {
	svc, _ := newTestService(t)

	for _, dev := range []string{"", "   ", "../.."} {
		err := svc.Cancel("user-U", dev)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "device %q", dev)
	}
}

func TestUsersWithSimilarIDsAreIsolated(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	svc := NewService(request.NewManager(request.DefaultConfig(), zerolog.Nop()), store, zerolog.Nop())
	ctx := context.Background()

	r1, err := svc.Create("alice", "dev-A")
	require.NoError(t, err)
	_, err = svc.Upload(ctx, "alice", model.UploadRequest{RequestID: r1.ID.String(), DeviceID: "dev-A", Logs: sampleLogs(1)})
	require.NoError(t, err)

	_, err = svc.ListUploads(ctx, "al.ice")
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	_, err = svc.GetUpload(ctx, "al.ice", r1.ID.String())
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	_, err = svc.Create("al.ice", "dev-A")
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	list, err := svc.ListUploads(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestUploadsScopedToOwner(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rU, err := svc.Create("user-U", "dev-A")
	require.NoError(t, err)
	rV, err := svc.Create("user-V", "dev-B")
	require.NoError(t, err)
	_, err = svc.Upload(ctx, "user-U", model.UploadRequest{RequestID: rU.ID.String(), DeviceID: "dev-A", Logs: sampleLogs(2)})
	require.NoError(t, err)
	_, err = svc.Upload(ctx, "user-V", model.UploadRequest{RequestID: rV.ID.String(), DeviceID: "dev-B", Logs: sampleLogs(4)})
	require.NoError(t, err)

	list, err := svc.ListUploads(ctx, "user-U")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, rU.ID.String(), list[0].RequestID)

	entries, err := svc.GetUpload(ctx, "user-U", rU.ID.String())
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	_, err = svc.GetUpload(ctx, "user-U", rV.ID.String())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = svc.GetUpload(ctx, "user-U", "bogus")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestRequestLookup(t *testing.T) {
	svc, _ := newTestService(t)
	r1, err := svc.Create("user-U", "dev-A")
	require.NoError(t, err)

	_, err = svc.Request("user-V", r1.ID.String())
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = svc.Request("user-U", uuid.NewString())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	stats := svc.Stats()
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Pending)
}

type locatingStore struct {
	*memStore
	lookups int
}

func (l *locatingStore) Locate(ctx context.Context, userID string, requestID uuid.UUID) (model.UploadMetadata, error) {
	l.lookups++
	list, _ := l.List(ctx, userID)
	for _, m := range list {
		if m.RequestID == requestID.String() {
			return m, nil
		}
	}
	return model.UploadMetadata{}, storage.ErrNotFound
}

func TestGetUploadUsesLocator(t *testing.T) {
	store := &locatingStore{memStore: newMemStore()}
	svc := NewService(request.NewManager(request.DefaultConfig(), zerolog.Nop()), store, zerolog.Nop())
	ctx := context.Background()

	r1, err := svc.Create("user-U", "dev-A")
	require.NoError(t, err)
	_, err = svc.Upload(ctx, "user-U", model.UploadRequest{RequestID: r1.ID.String(), DeviceID: "dev-A", Logs: sampleLogs(1)})
	require.NoError(t, err)

	entries, err := svc.GetUpload(ctx, "user-U", r1.ID.String())
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = svc.GetUpload(ctx, "user-V", r1.ID.String())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Equal(t, 2, store.lookups)
}
