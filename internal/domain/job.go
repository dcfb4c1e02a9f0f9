package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCancelling JobStatus = "cancelling"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further status transitions are expected.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Active reports whether the engine may still be working on the job.
// Cancelling counts as active: the worker is draining and keeps
// emitting updates until it confirms the cancel.
func (s JobStatus) Active() bool {
	switch s {
	case JobStatusQueued, JobStatusProcessing, JobStatusCancelling:
		return true
	default:
		return false
	}
}

func (s JobStatus) Known() bool {
	switch s {
	case JobStatusPending, JobStatusQueued, JobStatusProcessing,
		JobStatusCancelling, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

type LogProgress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

type LogEntry struct {
	Timestamp      string       `json:"timestamp"`
	Step           string       `json:"step"`
	Message        string       `json:"message"`
	Level          string       `json:"level,omitempty"` // info|progress|success|error
	Progress       *LogProgress `json:"progress,omitempty"`
	ElapsedSeconds *float64     `json:"elapsed_seconds,omitempty"`
}

type TitleVariant struct {
	Style string `json:"style"` // story|clickbait|question|emotional
	Text  string `json:"text"`
}

type VideoDescriptionParts struct {
	Hook         string `json:"hook"`
	Body         string `json:"body"`
	CallToAction string `json:"call_to_action"`
}

type HashtagGroups struct {
	Trending []string `json:"trending"`
	Niche    []string `json:"niche"`
	Branded  []string `json:"branded"`
}

type ViralityAnalysis struct {
	EstimatedScore    float64  `json:"estimated_score"`
	Strengths         []string `json:"strengths"`
	HookEffectiveness string   `json:"hook_effectiveness"`
}

type VideoMetadataExtended struct {
	Title                    string                `json:"title"`
	TitleVariants            []TitleVariant        `json:"title_variants"`
	RecommendedTitleIndex    int                   `json:"recommended_title_index"`
	Description              VideoDescriptionParts `json:"description"`
	FullDescription          string                `json:"full_description"`
	Hashtags                 HashtagGroups         `json:"hashtags"`
	AllHashtags              []string              `json:"all_hashtags"`
	ThumbnailTextSuggestions []string              `json:"thumbnail_text_suggestions"`
	ViralityAnalysis         ViralityAnalysis      `json:"virality_analysis"`
}

// Job is the durable record for one video-generation request. The row is
// owned by the gateway database; the engine reports progress by updating it
// and publishing the new row on the realtime bus. JSON names are snake_case
// because the record round-trips through the REST surface verbatim.
type Job struct {
	ID      uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID *uuid.UUID `gorm:"type:uuid;index" json:"owner_id,omitempty"`

	Idea             string `gorm:"not null" json:"idea"`
	Style            string `json:"style"`                                      // cinematic|anime
	ImageEngine      string `gorm:"default:nano-banana" json:"image_engine"`    // openai|nano-banana
	LanguageEngine   string `gorm:"default:gemini" json:"language_engine"`      // gpt|gemini
	Voice            string `gorm:"default:male" json:"voice"`                  // male|female
	SubtitlePosition string `gorm:"default:bottom" json:"subtitle_position"`    // top|middle|bottom
	TestMode         bool   `gorm:"default:false" json:"test_mode"`

	Status       JobStatus                      `gorm:"type:text;not null;default:pending;index" json:"status"`
	CurrentStep  string                         `json:"current_step"`
	ErrorMessage string                         `json:"error_message"`
	Logs         datatypes.JSONSlice[LogEntry]  `json:"logs"`

	VideoURL              string                      `json:"video_url"`
	VideoTitle            string                      `json:"video_title"`
	VideoDescription      string                      `json:"video_description"`
	VideoHashtags         datatypes.JSONSlice[string] `json:"video_hashtags"`
	VideoDuration         *float64                    `json:"video_duration"`
	GenerationTime        *float64                    `json:"generation_time"`
	VideoMetadataExtended *VideoMetadataExtended      `gorm:"type:jsonb;serializer:json" json:"video_metadata_extended"`

	CreatedAt   time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null" json:"updated_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

func (Job) TableName() string { return "jobs" }
