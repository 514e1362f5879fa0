package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/akave-ai/devlog/internal/model"
)

// FileStore writes uploads below a base directory:
// {base}/{user}/{device}/{request}.jsonl
type FileStore struct {
	base string
	log  zerolog.Logger
}

// NewFileStore creates base if needed.
func NewFileStore(base string, logger zerolog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	logger = logger.With().Str("component", "storage").Logger()
	logger.Info().Str("path", base).Msg("log storage initialized")
	return &FileStore{base: base, log: logger}, nil
}

func (s *FileStore) path(userID, deviceID string, requestID uuid.UUID) string {
	return filepath.Join(s.base, filepath.FromSlash(RelativePath(userID, deviceID, requestID)))
}

// Save writes entries as JSON Lines. The file is written under a temporary
// name and renamed so readers never see a partial upload.
func (s *FileStore) Save(_ context.Context, userID, deviceID string, requestID uuid.UUID, entries []model.LogEntry) (model.UploadMetadata, error) {
	if !ValidOwner(userID) {
		return model.UploadMetadata{}, ErrInvalidOwner
	}
	if SanitizeName(deviceID) == "" {
		return model.UploadMetadata{}, fmt.Errorf("invalid device id")
	}
	final := s.path(userID, deviceID, requestID)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return model.UploadMetadata{}, fmt.Errorf("create device directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(final), ".upload-*")
	if err != nil {
		return model.UploadMetadata{}, fmt.Errorf("create log file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			tmp.Close()
			return model.UploadMetadata{}, fmt.Errorf("serialize log entry: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return model.UploadMetadata{}, fmt.Errorf("write log file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return model.UploadMetadata{}, fmt.Errorf("close log file: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return model.UploadMetadata{}, fmt.Errorf("commit log file: %w", err)
	}

	info, err := os.Stat(final)
	if err != nil {
		return model.UploadMetadata{}, fmt.Errorf("stat log file: %w", err)
	}
	meta := model.UploadMetadata{
		RequestID:     requestID.String(),
		DeviceID:      deviceID,
		UploadedAt:    time.Now().UTC(),
		LogCount:      len(entries),
		FileSizeBytes: info.Size(),
	}
	s.log.Info().
		Str("user_id", userID).
		Str("device_id", deviceID).
		Str("request_id", requestID.String()).
		Int("log_count", len(entries)).
		Int64("file_size", info.Size()).
		Msg("logs saved")
	return meta, nil
}

// Read returns the entries of one upload.
func (s *FileStore) Read(_ context.Context, userID, deviceID string, requestID uuid.UUID) ([]model.LogEntry, error) {
	if !ValidOwner(userID) {
		return nil, ErrNotFound
	}
	raw, err := os.ReadFile(s.path(userID, deviceID, requestID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}
	return decodeLines(raw)
}

func decodeLines(raw []byte) ([]model.LogEntry, error) {
	entries := []model.LogEntry{}
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		var e model.LogEntry
		if err := json.Unmarshal(text, &e); err != nil {
			return nil, fmt.Errorf("parse log entry at line %d: %w", line, err)
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}

func countLines(raw []byte) int {
	n := 0
	for _, l := range bytes.Split(raw, []byte{'\n'}) {
		if len(bytes.TrimSpace(l)) > 0 {
			n++
		}
	}
	return n
}

// List returns metadata for every upload owned by userID.
func (s *FileStore) List(_ context.Context, userID string) ([]model.UploadMetadata, error) {
	if !ValidOwner(userID) {
		return nil, ErrInvalidOwner
	}
	userDir := filepath.Join(s.base, userID)
	devices, err := os.ReadDir(userDir)
	if errors.Is(err, fs.ErrNotExist) {
		return []model.UploadMetadata{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read user directory: %w", err)
	}

	uploads := []model.UploadMetadata{}
	for _, dev := range devices {
		if !dev.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(userDir, dev.Name()))
		if err != nil {
			return nil, fmt.Errorf("read device directory: %w", err)
		}
		for _, f := range files {
			name := f.Name()
			if f.IsDir() || !strings.HasSuffix(name, ".jsonl") {
				continue
			}
			full := filepath.Join(userDir, dev.Name(), name)
			info, err := f.Info()
			if err != nil {
				return nil, fmt.Errorf("read file metadata: %w", err)
			}
			raw, err := os.ReadFile(full)
			if err != nil {
				return nil, fmt.Errorf("read log file: %w", err)
			}
			uploads = append(uploads, model.UploadMetadata{
				RequestID:     strings.TrimSuffix(name, ".jsonl"),
				DeviceID:      dev.Name(),
				UploadedAt:    info.ModTime().UTC(),
				LogCount:      countLines(raw),
				FileSizeBytes: info.Size(),
			})
		}
	}
	return uploads, nil
}

// Remove deletes one upload. A missing upload is not an error.
func (s *FileStore) Remove(_ context.Context, userID, deviceID string, requestID uuid.UUID) error {
	if !ValidOwner(userID) {
		return nil
	}
	err := os.Remove(s.path(userID, deviceID, requestID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove log file: %w", err)
	}
	return nil
}

// RemoveOlderThan removes upload files last modified before now-age and
// returns their paths relative to the store root, in RelativePath form.
func (s *FileStore) RemoveOlderThan(age time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-age)
	var removed []string
	err := filepath.WalkDir(s.base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".jsonl") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) && os.Remove(p) == nil {
			rel, err := filepath.Rel(s.base, p)
			if err == nil {
				removed = append(removed, filepath.ToSlash(rel))
			}
			s.log.Debug().Str("path", p).Msg("removed old log file")
		}
		return nil
	})
	if len(removed) > 0 {
		s.log.Info().Int("removed", len(removed)).Dur("age", age).Msg("cleaned up old log files")
	}
	return removed, err
}
