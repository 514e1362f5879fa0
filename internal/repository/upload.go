package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/akave-ai/devlog/internal/model"
)

// UploadRepository indexes persisted uploads by owner.
type UploadRepository struct {
	pool *pgxpool.Pool
}

// NewUploadRepository returns an UploadRepository using the given pool.
func NewUploadRepository(pool *pgxpool.Pool) *UploadRepository {
	return &UploadRepository{pool: pool}
}

// Upsert records an upload. A re-upload for the same request replaces the row.
func (r *UploadRepository) Upsert(ctx context.Context, userID, path string, m model.UploadMetadata) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO uploads (request_id, user_id, device_id, path, uploaded_at, log_count, file_size_bytes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (request_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			device_id = EXCLUDED.device_id,
			path = EXCLUDED.path,
			uploaded_at = EXCLUDED.uploaded_at,
			log_count = EXCLUDED.log_count,
			file_size_bytes = EXCLUDED.file_size_bytes`,
		m.RequestID,
		userID,
		m.DeviceID,
		path,
		m.UploadedAt,
		m.LogCount,
		m.FileSizeBytes,
	)
	return err
}

// ListByUser returns the user's uploads, newest first.
func (r *UploadRepository) ListByUser(ctx context.Context, userID string) ([]model.UploadMetadata, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT request_id, device_id, uploaded_at, log_count, file_size_bytes
		FROM uploads
		WHERE user_id = $1
		ORDER BY uploaded_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []model.UploadMetadata{}
	for rows.Next() {
		var m model.UploadMetadata
		if err := rows.Scan(
			&m.RequestID,
			&m.DeviceID,
			&m.UploadedAt,
			&m.LogCount,
			&m.FileSizeBytes,
		); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// GetByRequest returns one upload of the user, or nil if not found.
func (r *UploadRepository) GetByRequest(ctx context.Context, userID, requestID string) (*model.UploadMetadata, error) {
	var m model.UploadMetadata
	err := r.pool.QueryRow(ctx, `
		SELECT request_id, device_id, uploaded_at, log_count, file_size_bytes
		FROM uploads WHERE user_id = $1 AND request_id = $2`, userID, requestID).Scan(
		&m.RequestID,
		&m.DeviceID,
		&m.UploadedAt,
		&m.LogCount,
		&m.FileSizeBytes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// DeleteByPaths removes the rows of uploads stored at paths.
func (r *UploadRepository) DeleteByPaths(ctx context.Context, paths []string) (int64, error) {
	if len(paths) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM uploads WHERE path = ANY($1)`, paths)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
