package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tasknode/tasknode-be/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "tasknode-api-service",
		})
	})

	// Initialize job handler
	jobHandler := handler.NewJobHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	v1.Use(IdentityMiddleware())
	{
		jobs := v1.Group("/jobs")
		{
			// GET /api/v1/jobs - List the caller's jobs
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/upload-url - Sign a workload upload URL
			jobs.GET("/upload-url", jobHandler.GetUploadURL)

			// POST /api/v1/jobs/uploads/complete - Announce a finished upload
			jobs.POST("/uploads/complete", jobHandler.CompleteUpload)

			// GET /api/v1/jobs/index/:index - Get the n-th most recent job
			jobs.GET("/index/:index", jobHandler.GetJobByIndex)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)

			// GET /api/v1/jobs/:job_id/downloads - Fresh signed result links
			jobs.GET("/:job_id/downloads", jobHandler.GetDownloads)
		}
	}

	return r
}
