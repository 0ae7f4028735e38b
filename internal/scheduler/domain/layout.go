package domain

import "time"

// Fixed object layout per job in the processed-files bucket. The worker is
// handed presigned PUT URLs for exactly these keys.
const (
	ManifestFileName   = "manifest.txt"
	OutputLogFileName  = "output.log"
	ErrorLogFileName   = "error.log"
	ArchiveFileName    = "tasknode_generated_files.zip"
	OutputTailFileName = "output.tail"
	ErrorTailFileName  = "error.tail"
)

// Signed URL lifetimes.
const (
	InputDownloadExpiry  = 3 * time.Minute
	ResultUploadExpiry   = 48 * time.Hour
	ResultDownloadExpiry = 72 * time.Hour
)

func ManifestKey(jobID string) string   { return jobID + "/" + ManifestFileName }
func OutputLogKey(jobID string) string  { return jobID + "/" + OutputLogFileName }
func ErrorLogKey(jobID string) string   { return jobID + "/" + ErrorLogFileName }
func ArchiveKey(jobID string) string    { return jobID + "/" + ArchiveFileName }
func OutputTailKey(jobID string) string { return jobID + "/" + OutputTailFileName }
func ErrorTailKey(jobID string) string  { return jobID + "/" + ErrorTailFileName }
