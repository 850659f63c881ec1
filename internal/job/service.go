package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/contentcraft-pipeline/internal/tier"
)

// ErrValidation is returned when a submission is rejected.
var ErrValidation = errors.New("validation failed")

// SubmitInput contains the parameters of a new job.
type SubmitInput struct {
	OwnerID    string `validate:"required"`
	Prompt     string `validate:"required,max=1000"`
	Seconds    int    `validate:"required,min=2,max=10"`
	Resolution string `validate:"required,oneof=720p 1080p 4k"`
	Tier       string
	WantsAudio bool
	AudioTier  string
}

// ListResult is one page of jobs, newest first.
type ListResult struct {
	Jobs       []*Job
	Total      int
	Page       int
	PageSize   int
	TotalPages int
}

// Overview summarizes the jobs in the store.
type Overview struct {
	Total    int
	ByStatus map[Status]int
	// CreatedToday counts jobs created since UTC midnight.
	CreatedToday   int
	DistinctOwners int
	ByResolution   map[string]int
	// AvgSeconds is the mean requested duration.
	AvgSeconds float64
}

// Service implements the user-facing job use cases: submission, lookup,
// listing. Processing happens in the pipeline package.
type Service struct {
	store              Store
	catalog            *tier.Catalog
	validate           *validator.Validate
	allowedResolutions []string
	logger             *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithAllowedResolutions restricts the resolutions accepted at submission.
func WithAllowedResolutions(resolutions []string) ServiceOption {
	return func(s *Service) {
		if len(resolutions) > 0 {
			s.allowedResolutions = resolutions
		}
	}
}

// NewService creates a new Service.
func NewService(store Store, catalog *tier.Catalog, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if catalog == nil {
		catalog = tier.Default()
	}
	s := &Service{
		store:              store,
		catalog:            catalog,
		validate:           validator.New(),
		allowedResolutions: []string{"720p"},
		logger:             logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates the input and persists a new QUEUED job.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*Job, error) {
	in.Prompt = strings.TrimSpace(in.Prompt)
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, describe(err))
	}
	if !slices.Contains(s.allowedResolutions, in.Resolution) {
		return nil, fmt.Errorf("%w: resolution %s is not enabled (allowed: %s)",
			ErrValidation, in.Resolution, strings.Join(s.allowedResolutions, ", "))
	}

	req := Request{
		Prompt:          in.Prompt,
		DurationSeconds: in.Seconds,
		Resolution:      in.Resolution,
		Tier:            s.catalog.NormalizeVideo(in.Tier),
		WantsAudio:      in.WantsAudio,
	}
	if in.WantsAudio {
		req.AudioTier = s.catalog.NormalizeAudio(in.AudioTier)
	}
	job := New(in.OwnerID, req)

	s.logger.Info("submitting job",
		slog.String("job_id", job.ID),
		slog.String("owner_id", job.OwnerID),
		slog.String("tier", job.Tier),
		slog.Int("seconds", job.DurationSeconds),
		slog.Bool("audio", job.WantsAudio),
	)

	if err := s.store.Put(ctx, job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("save job: %w", err)
	}
	return job, nil
}

// Get retrieves a job by ID.
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	return s.store.Get(ctx, id)
}

// List returns one page of jobs ordered newest first. An empty ownerID
// lists every owner.
func (s *Service) List(ctx context.Context, ownerID string, page, pageSize int) (ListResult, error) {
	jobs, err := ScanAll(ctx, s.store, ScanFilter{OwnerID: ownerID})
	if err != nil {
		return ListResult{}, fmt.Errorf("list jobs: %w", err)
	}
	sort.SliceStable(jobs, func(a, b int) bool {
		return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
	})

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	res := ListResult{
		Total:      len(jobs),
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (len(jobs) + pageSize - 1) / pageSize,
	}
	start := (page - 1) * pageSize
	if start < len(jobs) {
		end := min(start+pageSize, len(jobs))
		res.Jobs = jobs[start:end]
	}
	return res, nil
}

// Overview counts every job by primary status, creation day and owner.
func (s *Service) Overview(ctx context.Context) (Overview, error) {
	jobs, err := ScanAll(ctx, s.store, ScanFilter{})
	if err != nil {
		return Overview{}, fmt.Errorf("overview: %w", err)
	}
	ov := Overview{
		Total: len(jobs),
		ByStatus: map[Status]int{
			StatusQueued:     0,
			StatusProcessing: 0,
			StatusCompleted:  0,
			StatusFailed:     0,
		},
	}
	ov.ByResolution = make(map[string]int)
	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	owners := make(map[string]struct{})
	totalSeconds := 0
	for _, j := range jobs {
		ov.ByStatus[j.Status]++
		if !j.CreatedAt.Before(midnight) {
			ov.CreatedToday++
		}
		owners[j.OwnerID] = struct{}{}
		if j.Resolution != "" {
			ov.ByResolution[j.Resolution]++
		}
		totalSeconds += j.DurationSeconds
	}
	ov.DistinctOwners = len(owners)
	if len(jobs) > 0 {
		ov.AvgSeconds = float64(totalSeconds) / float64(len(jobs))
	}
	return ov, nil
}

// describe turns validator errors into a short field list.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", strings.ToLower(fe.Field())))
		case "min", "max":
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", strings.ToLower(fe.Field()), fe.Tag(), fe.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", strings.ToLower(fe.Field()), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", strings.ToLower(fe.Field())))
		}
	}
	return strings.Join(msgs, "; ")
}
