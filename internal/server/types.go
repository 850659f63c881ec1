// Package server provides the HTTP surface of the pipeline: job
// submission and lookup, the admin endpoints, and the event ingress.
// DTOs are kept separate from domain types.
package server

import (
	"time"

	"github.com/maauso/contentcraft-pipeline/internal/job"
)

// promptPreviewLength bounds prompts in list responses.
const promptPreviewLength = 100

// SubmitJobRequest is the HTTP request body for submitting a job.
type SubmitJobRequest struct {
	Prompt     string          `json:"prompt"`
	Seconds    int             `json:"seconds"`
	Resolution string          `json:"resolution"`
	Tier       string          `json:"tier,omitempty"`
	Feature    *FeatureRequest `json:"feature,omitempty"`
}

// FeatureRequest enables optional tracks.
type FeatureRequest struct {
	Audio     bool   `json:"audio"`
	AudioTier string `json:"audioTier,omitempty"`
}

// SubmitJobResponse is the HTTP response after submitting a job.
type SubmitJobResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// PageQuery holds the pagination query parameters.
type PageQuery struct {
	Page     int `validate:"min=0"`
	PageSize int `validate:"min=0,max=1000"`
}

// JobResponse is the HTTP response for job details.
type JobResponse struct {
	JobID             string     `json:"jobId"`
	OwnerID           string     `json:"userId"`
	Prompt            string     `json:"prompt"`
	Seconds           int        `json:"seconds"`
	Resolution        string     `json:"resolution"`
	Tier              string     `json:"tier"`
	AudioEnabled      bool       `json:"audioEnabled"`
	AudioTier         string     `json:"audioTier,omitempty"`
	Status            string     `json:"status"`
	VideoStatus       string     `json:"videoStatus,omitempty"`
	AudioStatus       string     `json:"audioStatus,omitempty"`
	CombinationStatus string     `json:"combinationStatus,omitempty"`
	VideoURL          string     `json:"videoUrl,omitempty"`
	AudioURL          string     `json:"audioUrl,omitempty"`
	CombinedURL       string     `json:"combinedVideoUrl,omitempty"`
	HasSeparateTracks bool       `json:"hasSeparateTracks,omitempty"`
	Error             string     `json:"error,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
}

// ListJobsResponse is one page of jobs.
type ListJobsResponse struct {
	Jobs       []JobResponse `json:"jobs"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"pageSize"`
	TotalPages int           `json:"totalPages"`
}

// AdminJobsResponse is one page of every owner's jobs plus aggregate stats.
type AdminJobsResponse struct {
	ListJobsResponse
	Stats OverviewResponse `json:"stats"`
}

// OverviewResponse summarizes the job table.
type OverviewResponse struct {
	Total          int            `json:"total"`
	ByStatus       map[string]int `json:"byStatus"`
	ByResolution   map[string]int `json:"byResolution"`
	CreatedToday   int            `json:"createdToday"`
	DistinctOwners int            `json:"distinctUsers"`
	AvgSeconds     float64        `json:"avgDuration"`
}

// IngestResponse reports how many events were delivered.
type IngestResponse struct {
	Delivered int      `json:"delivered"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}

func toJobResponse(j *job.Job) JobResponse {
	resp := JobResponse{
		JobID:             j.ID,
		OwnerID:           j.OwnerID,
		Prompt:            j.Prompt,
		Seconds:           j.DurationSeconds,
		Resolution:        j.Resolution,
		Tier:              j.Tier,
		AudioEnabled:      j.WantsAudio,
		AudioTier:         j.AudioTier,
		Status:            string(j.Status),
		VideoStatus:       string(j.VideoStatus),
		AudioStatus:       string(j.AudioStatus),
		CombinationStatus: string(j.CombinationStatus),
		VideoURL:          j.VideoURL,
		AudioURL:          j.AudioURL,
		CombinedURL:       j.CombinedURL,
		HasSeparateTracks: j.HasSeparateTracks,
		Error:             j.ErrorMessage,
		CreatedAt:         j.CreatedAt,
		UpdatedAt:         j.UpdatedAt,
	}
	if !j.CompletedAt.IsZero() {
		t := j.CompletedAt
		resp.CompletedAt = &t
	}
	return resp
}

func toListResponse(res job.ListResult) ListJobsResponse {
	out := ListJobsResponse{
		Jobs:       make([]JobResponse, 0, len(res.Jobs)),
		Total:      res.Total,
		Page:       res.Page,
		PageSize:   res.PageSize,
		TotalPages: res.TotalPages,
	}
	for _, j := range res.Jobs {
		r := toJobResponse(j)
		r.Prompt = truncate(r.Prompt, promptPreviewLength)
		out.Jobs = append(out.Jobs, r)
	}
	return out
}

func toOverviewResponse(ov job.Overview) OverviewResponse {
	byStatus := make(map[string]int, len(ov.ByStatus))
	for s, n := range ov.ByStatus {
		byStatus[string(s)] = n
	}
	return OverviewResponse{
		Total:          ov.Total,
		ByStatus:       byStatus,
		ByResolution:   ov.ByResolution,
		CreatedToday:   ov.CreatedToday,
		DistinctOwners: ov.DistinctOwners,
		AvgSeconds:     ov.AvgSeconds,
	}
}

// truncate shortens s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
