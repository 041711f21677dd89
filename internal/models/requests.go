package models

// UploadInitRequest represents the request to initialize an upload
type UploadInitRequest struct {
	FileSize    int64  `json:"fileSize"`
	Filename    string `json:"filename"`
	ContentHint string `json:"filecontent"`
	FileHash    string `json:"fileHash"`
	TotalChunks int    `json:"totalChunks"`
}

// UploadInitResponse represents the response after initializing an upload
type UploadInitResponse struct {
	UploadID string `json:"uploadId"`
}

// UploadChunkRequest carries one chunk; Data is read by the service
type UploadChunkRequest struct {
	UploadID  string
	Index     int
	ChunkHash string
}

// UploadChunkResponse represents the response after storing a chunk
type UploadChunkResponse struct {
	UploadID string `json:"uploadId"`
	Index    int    `json:"index"`
}

// UploadFullRequest carries a whole-file upload; Data is read by the service
type UploadFullRequest struct {
	UploadID string
	Filename string
	FileHash string
}

// UploadCompleteRequest represents the request to finalize an upload
type UploadCompleteRequest struct {
	UploadID string `json:"uploadId"`
}

// UploadResultResponse is returned by full and complete
type UploadResultResponse struct {
	FileID     string   `json:"fileId"`
	ChunkPaths []string `json:"chunksPath"`
}

// UploadStatusResponse represents the response for upload status requests
type UploadStatusResponse struct {
	UploadID       string       `json:"uploadId"`
	Filename       string       `json:"filename"`
	Status         UploadStatus `json:"status"`
	Mode           UploadMode   `json:"mode,omitempty"`
	Valid          bool         `json:"valid"`
	ExpectedChunks int          `json:"expectedChunks"`
	Received       []int        `json:"received,omitempty"`
	Missing        []int        `json:"missing,omitempty"`
}

// UploadIncompleteResponse is the error body returned when complete finds gaps
type UploadIncompleteResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	Missing    []int  `json:"missing,omitempty"`
	Unexpected []int  `json:"unexpected,omitempty"`
}
