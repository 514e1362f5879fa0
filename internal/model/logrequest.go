package model

import (
	"time"

	"github.com/google/uuid"
)

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestFulfilled RequestStatus = "fulfilled"
	RequestExpired   RequestStatus = "expired"
	RequestCancelled RequestStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s RequestStatus) Terminal() bool {
	return s != RequestPending
}

// LogRequest asks one device to upload its local logs.
type LogRequest struct {
	ID          uuid.UUID     `json:"id"`
	UserID      string        `json:"user_id"`
	DeviceID    string        `json:"device_id"`
	RequestedAt time.Time     `json:"requested_at"`
	ExpiresAt   time.Time     `json:"expires_at"`
	Status      RequestStatus `json:"status"`
	FulfilledAt *time.Time    `json:"fulfilled_at,omitempty"`
	LogFilePath string        `json:"log_file_path,omitempty"`
}

// Live reports whether the request is pending and not yet past its expiry at now.
func (r LogRequest) Live(now time.Time) bool {
	return r.Status == RequestPending && !now.After(r.ExpiresAt)
}

// PollResponse is returned to a device polling for work.
type PollResponse struct {
	RequestID   string `json:"requestId"`
	RequestedAt string `json:"requestedAt"`
	ExpiresAt   string `json:"expiresAt"`
}

// UploadRequest is the body a device sends to fulfill a LogRequest.
type UploadRequest struct {
	RequestID     string     `json:"requestId" validate:"required"`
	DeviceID      string     `json:"deviceId" validate:"required"`
	Logs          []LogEntry `json:"logs"`
	FromTimestamp string     `json:"fromTimestamp"`
	ToTimestamp   string     `json:"toTimestamp"`
	TotalCount    int        `json:"totalCount" validate:"gte=0"`
}

// UploadMetadata describes a persisted upload.
type UploadMetadata struct {
	RequestID     string    `json:"requestId"`
	DeviceID      string    `json:"deviceId"`
	UploadedAt    time.Time `json:"uploadedAt"`
	LogCount      int       `json:"logCount"`
	FileSizeBytes int64     `json:"fileSizeBytes"`
}

// RequestStats counts tracked requests by effective status.
type RequestStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Fulfilled int `json:"fulfilled"`
	Expired   int `json:"expired"`
	Cancelled int `json:"cancelled"`
}
