package models

import "time"

// UploadStatus is the lifecycle state of a file record
type UploadStatus string

const (
	StatusInitialized UploadStatus = "initialized"
	StatusIngesting   UploadStatus = "ingesting"
	StatusCompleting  UploadStatus = "completing"
	StatusFinalized   UploadStatus = "finalized"
	StatusFailed      UploadStatus = "failed"
)

// AllStatuses lists every lifecycle status in order
var AllStatuses = []UploadStatus{
	StatusInitialized,
	StatusIngesting,
	StatusCompleting,
	StatusFinalized,
	StatusFailed,
}

// UploadMode records which ingestion path produced the chunks
type UploadMode string

const (
	ModeChunked UploadMode = "chunked"
	ModeFull    UploadMode = "full"
)

// FileRecord represents an uploaded file in the database.
// The upload ID and the file ID are the same value.
type FileRecord struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	DeclaredHash   string       `json:"declared_hash"`
	DeclaredSize   int64        `json:"declared_size"`
	ContentHint    string       `json:"content_hint,omitempty"`
	ContentType    string       `json:"content_type,omitempty"` // sniffed from the first bytes
	ExpectedChunks int          `json:"expected_chunks"`
	ChunkSetHash   string       `json:"-"` // digest the completion check verifies against
	Mode           UploadMode   `json:"mode"`
	Status         UploadStatus `json:"status"`
	Valid          bool         `json:"valid"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// ChunkRecord represents one stored chunk of an upload
type ChunkRecord struct {
	FileID    string    `json:"file_id"`
	Index     int       `json:"index"`
	Hash      string    `json:"hash"`
	Size      int64     `json:"size"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// WatermarkAssignment binds a watermark code to a (user, file) pair
type WatermarkAssignment struct {
	UserID    int64     `json:"user_id"`
	FileID    string    `json:"file_id"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrorResponse is the JSON error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the JSON response for the health check endpoint
type HealthResponse struct {
	Status             string  `json:"status"`
	UptimeSeconds      int64   `json:"uptime_seconds"`
	Database           string  `json:"database"`
	ActiveOperations   int     `json:"active_operations"`
	DiskTotalBytes     uint64  `json:"disk_total_bytes,omitempty"`
	DiskFreeBytes      uint64  `json:"disk_free_bytes,omitempty"`
	DiskUsedPercent    float64 `json:"disk_used_percent,omitempty"`
	DiskAvailableBytes uint64  `json:"disk_available_bytes,omitempty"`
}
