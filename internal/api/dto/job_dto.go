package dto

type ListJobsRequest struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	TotalCount int      `json:"total_count"`
}

type JobDTO struct {
	ID        string       `json:"id"`
	Status    string       `json:"status"`
	Runtime   *int64       `json:"runtime"`
	CreatedAt string       `json:"created_at"`
	UpdatedAt string       `json:"updated_at"`
	Files     []JobFileDTO `json:"files,omitempty"`
}

type JobFileDTO struct {
	FileName      string `json:"file_name"`
	FileSize      int64  `json:"file_size"`
	FileTimestamp string `json:"file_timestamp"`
	FileType      string `json:"file_type"`
}

type SignedUploadResponse struct {
	SignedURL string `json:"signed_url"`
	S3Key     string `json:"s3_key"`
}

type CompleteUploadRequest struct {
	S3Key string `json:"s3_key" binding:"required"`
}

type DownloadLink struct {
	FileName string `json:"file_name"`
	FileType string `json:"file_type"`
	FileSize int64  `json:"file_size"`
	URL      string `json:"url"`
}

type DownloadsResponse struct {
	Links []DownloadLink `json:"links"`
}
