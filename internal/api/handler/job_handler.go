package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tasknode/tasknode-be/internal/api/domain"
	"github.com/tasknode/tasknode-be/internal/api/dto"
	"github.com/tasknode/tasknode-be/internal/api/model"
)

// IdentityContextKey is the gin context key under which the identity
// middleware stores the caller's external id.
const IdentityContextKey = "external_id"

const (
	defaultPageSize = 10
	maxPageSize     = 100

	// uploadURLExpiry bounds how long a signed upload URL stays valid.
	uploadURLExpiry = 15 * time.Minute

	// downloadURLExpiry matches the retention window of processed results.
	downloadURLExpiry = 72 * time.Hour
)

// currentUser resolves the authenticated caller to a user row. On failure it
// writes the error response and returns false.
func (h *JobHandler) currentUser(c *gin.Context) (*model.User, bool) {
	externalID := c.GetString(IdentityContextKey)
	if externalID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Missing caller identity",
		})
		return nil, false
	}

	user, err := h.storage.GetUserByExternalID(c.Request.Context(), externalID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Unknown user",
			})
			return nil, false
		}
		h.logger.Error("Failed to resolve user", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to resolve user",
		})
		return nil, false
	}

	return user, true
}

// ListJobs handles GET /api/v1/jobs
// Lists the caller's jobs, newest first, with limit/offset pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.Limit <= 0 {
		req.Limit = defaultPageSize
	}
	if req.Limit > maxPageSize {
		req.Limit = maxPageSize
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	jobs, err := h.storage.ListJobsByUser(c.Request.Context(), user.ID, req.Limit, req.Offset)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	total, err := h.storage.CountJobsByUser(c.Request.Context(), user.ID)
	if err != nil {
		h.logger.Error("Failed to count jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	resp := dto.ListJobsResponse{
		Jobs:       make([]dto.JobDTO, 0, len(jobs)),
		TotalCount: total,
	}
	for i := range jobs {
		resp.Jobs = append(resp.Jobs, toJobDTO(&jobs[i], nil))
	}

	c.JSON(http.StatusOK, resp)
}

// GetJob handles GET /api/v1/jobs/:job_id
// Retrieves one of the caller's jobs together with its harvested files
func (h *JobHandler) GetJob(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Error("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.storage.GetJobByID(c.Request.Context(), jobID, user.ID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	files, err := h.storage.ListJobFiles(c.Request.Context(), job.ID)
	if err != nil {
		h.logger.Error("Failed to list job files", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, toJobDTO(job, files))
}

// GetJobByIndex handles GET /api/v1/jobs/index/:index
// Fetches the caller's n-th most recent job; index 1 is the newest
func (h *JobHandler) GetJobByIndex(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 1 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "index must be a positive integer",
		})
		return
	}

	job, err := h.storage.GetJobByIndex(c.Request.Context(), user.ID, index)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job by index", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	files, err := h.storage.ListJobFiles(c.Request.Context(), job.ID)
	if err != nil {
		h.logger.Error("Failed to list job files", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, toJobDTO(job, files))
}

// GetDownloads handles GET /api/v1/jobs/:job_id/downloads
// Returns fresh signed links for the job's non-empty result artifacts
func (h *JobHandler) GetDownloads(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.storage.GetJobByID(c.Request.Context(), jobID, user.ID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	if job.Status != domain.JobStatusCompleted && job.Status != domain.JobStatusFailed {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Job has not finished yet",
		})
		return
	}

	if job.ResponseRemoved {
		c.JSON(http.StatusGone, gin.H{
			"error": "Job results have expired",
		})
		return
	}

	files, err := h.storage.ListJobFiles(c.Request.Context(), job.ID)
	if err != nil {
		h.logger.Error("Failed to list job files", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list downloads",
		})
		return
	}

	resp := dto.DownloadsResponse{Links: make([]dto.DownloadLink, 0, len(files))}
	for _, f := range files {
		// GENERATED entries describe files inside the archive; the
		// downloadable objects are the logs and the archive itself.
		if f.FileType == "GENERATED" || f.FileSize == 0 {
			continue
		}
		url, err := h.objects.SignGetURL(f.S3Bucket, f.S3Key, downloadURLExpiry, f.FileName)
		if err != nil {
			h.logger.Error("Failed to sign download URL",
				slog.String("job_id", job.ID),
				slog.String("s3_key", f.S3Key),
				slog.String("error", err.Error()),
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list downloads",
			})
			return
		}
		resp.Links = append(resp.Links, dto.DownloadLink{
			FileName: f.FileName,
			FileType: f.FileType,
			FileSize: f.FileSize,
			URL:      url,
		})
	}

	c.JSON(http.StatusOK, resp)
}

// GetUploadURL handles GET /api/v1/jobs/upload-url
// Signs a one-off PUT URL for dropping a zipped workload
func (h *JobHandler) GetUploadURL(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	key := uuid.New().String() + ".zip"
	url, err := h.objects.SignPutURL(h.dropBucket, key, "application/zip", uploadURLExpiry, map[string]string{
		"owner-id": user.ExternalID,
	})
	if err != nil {
		h.logger.Error("Failed to sign upload URL", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to sign upload URL",
		})
		return
	}

	c.JSON(http.StatusOK, dto.SignedUploadResponse{
		SignedURL: url,
		S3Key:     key,
	})
}

// CompleteUpload handles POST /api/v1/jobs/uploads/complete
// Announces a finished workload upload so the scheduler can enqueue it
func (h *JobHandler) CompleteUpload(c *gin.Context) {
	if _, ok := h.currentUser(c); !ok {
		return
	}

	var req dto.CompleteUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	body, err := json.Marshal(gin.H{
		"bucket": h.dropBucket,
		"key":    req.S3Key,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to announce upload",
		})
		return
	}

	if err := h.rabbitClient.PublishWithRetry(c.Request.Context(), body, "application/json"); err != nil {
		h.logger.Error("Failed to publish file-drop event",
			slog.String("s3_key", req.S3Key),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to announce upload",
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"s3_key": req.S3Key,
		"status": "queued",
	})
}

func toJobDTO(job *model.Job, files []model.JobFile) dto.JobDTO {
	d := dto.JobDTO{
		ID:        job.ID,
		Status:    job.Status,
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.Format(time.RFC3339),
	}
	if job.Runtime.Valid {
		runtime := job.Runtime.Int64
		d.Runtime = &runtime
	}
	for _, f := range files {
		d.Files = append(d.Files, dto.JobFileDTO{
			FileName:      f.FileName,
			FileSize:      f.FileSize,
			FileTimestamp: f.FileTimestamp.Format(time.RFC3339),
			FileType:      f.FileType,
		})
	}
	return d
}
