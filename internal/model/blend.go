package model

import "time"

// GenerateRequest represents the request to blend three songs
type GenerateRequest struct {
	Songs []string `json:"songs" validate:"required,len=3,dive,required,max=200"`
}

// GenerateResponse represents the response when a blend job is accepted
type GenerateResponse struct {
	JobID   string    `json:"jobId"`
	Status  JobStatus `json:"status"`
	Message string    `json:"message"`
}

// JobStatusResponse represents the polled state of a blend job
type JobStatusResponse struct {
	JobID        string     `json:"jobId"`
	Status       JobStatus  `json:"status"`
	Progress     int        `json:"progress"`
	Songs        []string   `json:"songs"`
	CreatedAt    time.Time  `json:"createdAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	OutputFileID *string    `json:"outputFileId,omitempty"`
	Error        *string    `json:"error,omitempty"`
}

// NewJobStatusResponse projects a job for API clients
func NewJobStatusResponse(job *Job) JobStatusResponse {
	songs := []string(job.Songs)
	if songs == nil {
		songs = []string{}
	}
	return JobStatusResponse{
		JobID:        job.ID,
		Status:       job.Status,
		Progress:     job.Progress,
		Songs:        songs,
		CreatedAt:    job.CreatedAt,
		CompletedAt:  job.CompletedAt,
		OutputFileID: job.OutputFileID,
		Error:        job.Error,
	}
}

// JobListQuery holds pagination for the job listing
type JobListQuery struct {
	Limit  int `query:"limit" validate:"min=1,max=100"`
	Offset int `query:"offset" validate:"min=0"`
}

// Pagination describes a page of results
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

// JobListResponse represents a page of recent jobs
type JobListResponse struct {
	Jobs       []JobStatusResponse `json:"jobs"`
	Pagination Pagination          `json:"pagination"`
}

// CancelResponse represents the response for a cancelled job
type CancelResponse struct {
	Message string `json:"message"`
	JobID   string `json:"jobId"`
}

// SongOption is one entry of the song picker
type SongOption struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Title  string `json:"title"`
	Artist string `json:"artist"`
}

// NewSongOption projects a song for the picker, showing its base title
func NewSongOption(s Song) SongOption {
	title := s.BaseTitle
	if title == "" {
		title = ParseTitle(s.Title).Base
	}
	return SongOption{
		ID:     s.ID,
		Label:  s.Label(),
		Title:  title,
		Artist: s.Artist,
	}
}

// SongListResponse represents a list of songs
type SongListResponse struct {
	Songs []SongOption `json:"songs"`
	Total int          `json:"total"`
}

// SearchQuery holds the autocomplete parameters
type SearchQuery struct {
	Q     string `query:"q"`
	Limit int    `query:"limit" validate:"min=1,max=100"`
}
