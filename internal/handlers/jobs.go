package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aistory/aistory-web/internal/clients/engine"
	"github.com/aistory/aistory-web/internal/middleware"
	"github.com/aistory/aistory-web/internal/platform/logger"
	"github.com/aistory/aistory-web/internal/services"
)

type JobsHandler struct {
	log           *logger.Logger
	jobs          services.JobService
	allowAnonRead bool
}

func NewJobsHandler(baseLog *logger.Logger, jobs services.JobService, allowAnonRead bool) *JobsHandler {
	return &JobsHandler{
		log:           baseLog.With("handler", "JobsHandler"),
		jobs:          jobs,
		allowAnonRead: allowAnonRead,
	}
}

type CreateJobRequest struct {
	Idea             string `json:"idea" binding:"required"`
	Style            string `json:"style" binding:"required,oneof=cinematic anime"`
	ImageEngine      string `json:"image_engine" binding:"omitempty,oneof=openai nano-banana"`
	LanguageEngine   string `json:"language_engine" binding:"omitempty,oneof=gpt gemini"`
	Voice            string `json:"voice" binding:"omitempty,oneof=male female"`
	SubtitlePosition string `json:"subtitle_position" binding:"omitempty,oneof=top middle bottom"`
	TestMode         bool   `json:"test_mode"`
}

// GET /api/jobs
func (h *JobsHandler) List(c *gin.Context) {
	var ownerID *uuid.UUID
	if id, ok := middleware.UserID(c); ok {
		ownerID = &id
	}
	if ownerID == nil && !h.allowAnonRead {
		RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("Unauthorized"))
		return
	}

	jobs, err := h.jobs.List(c.Request.Context(), ownerID)
	if err != nil {
		h.log.Error("failed to list jobs", "error", err)
		RespondError(c, http.StatusInternalServerError, "list_failed", errors.New("Failed to fetch jobs"))
		return
	}
	RespondOK(c, gin.H{"jobs": jobs})
}

// POST /api/jobs
func (h *JobsHandler) Create(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	var ownerID *uuid.UUID
	if id, ok := middleware.UserID(c); ok {
		ownerID = &id
	}

	resp, err := h.jobs.Create(c.Request.Context(), ownerID, engine.CreateRequest{
		Idea:             req.Idea,
		Style:            req.Style,
		ImageEngine:      req.ImageEngine,
		LanguageEngine:   req.LanguageEngine,
		Voice:            req.Voice,
		SubtitlePosition: req.SubtitlePosition,
		TestMode:         req.TestMode,
	})
	if err != nil {
		var se *engine.StatusError
		if errors.As(err, &se) {
			// pass the engine's verdict through untouched
			RespondError(c, se.Code, "engine_rejected", errors.New(se.Message))
			return
		}
		h.log.Error("failed to create job", "error", err)
		RespondError(c, http.StatusInternalServerError, "create_failed", errors.New("Failed to create job"))
		return
	}
	RespondOK(c, resp)
}

// GET /api/jobs/:id
func (h *JobsHandler) Get(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	ownerID, ok := middleware.UserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("Unauthorized"))
		return
	}

	job, err := h.jobs.GetForOwner(c.Request.Context(), jobID, ownerID)
	if errors.Is(err, services.ErrJobNotFound) {
		RespondError(c, http.StatusNotFound, "job_not_found", errors.New("Job not found"))
		return
	}
	if err != nil {
		h.log.Error("failed to fetch job", "job_id", jobID, "error", err)
		RespondError(c, http.StatusInternalServerError, "get_failed", errors.New("Failed to fetch job"))
		return
	}
	RespondOK(c, job)
}

// DELETE /api/jobs/:id
func (h *JobsHandler) Delete(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	ownerID, ok := middleware.UserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("Unauthorized"))
		return
	}

	result, err := h.jobs.Remove(c.Request.Context(), jobID, ownerID, middleware.BearerToken(c))
	if errors.Is(err, services.ErrJobNotFound) {
		RespondError(c, http.StatusNotFound, "job_not_found", errors.New("Job not found"))
		return
	}
	if err != nil {
		var se *engine.StatusError
		if errors.As(err, &se) {
			RespondError(c, se.Code, "engine_rejected", errors.New(se.Message))
			return
		}
		h.log.Error("failed to remove job", "job_id", jobID, "error", err)
		RespondError(c, http.StatusInternalServerError, "delete_failed", errors.New("Failed to delete job"))
		return
	}
	RespondOK(c, result)
}
