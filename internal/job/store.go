package job

import (
	"context"
	"errors"
)

var (
	// ErrJobNotFound is returned when a job cannot be found by ID.
	ErrJobNotFound = errors.New("job not found")
	// ErrPreconditionFailed is returned by Store.Update when the job does
	// not satisfy the patch condition. Callers treat it as "another stage
	// already did this".
	ErrPreconditionFailed = errors.New("job: precondition failed")
)

// ScanFilter narrows a Scan. Zero fields match every job.
type ScanFilter struct {
	Status  Status
	OwnerID string
}

// Page is one batch of scan results. NextCursor is empty on the last page.
type Page struct {
	Jobs       []*Job
	NextCursor string
}

// Store defines the interface for job persistence.
// It acts as a port in the hexagonal architecture pattern.
type Store interface {
	// Get retrieves a job by its unique identifier.
	// Returns ErrJobNotFound if the job does not exist.
	Get(ctx context.Context, id string) (*Job, error)

	// Put creates or replaces a job.
	Put(ctx context.Context, job *Job) error

	// Update applies the patch if the job matches its condition, atomically.
	// Returns ErrJobNotFound if the job does not exist and
	// ErrPreconditionFailed if the condition does not hold.
	Update(ctx context.Context, id string, patch Patch) error

	// Scan returns up to limit jobs matching the filter, ordered by ID,
	// starting after cursor. The limit applies after filtering.
	Scan(ctx context.Context, filter ScanFilter, limit int, cursor string) (Page, error)
}

const scanAllPageSize = 100

// ScanAll pages through the store and returns every job matching the filter.
func ScanAll(ctx context.Context, s Store, filter ScanFilter) ([]*Job, error) {
	var (
		all    []*Job
		cursor string
	)
	for {
		page, err := s.Scan(ctx, filter, scanAllPageSize, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Jobs...)
		if page.NextCursor == "" {
			return all, nil
		}
		cursor = page.NextCursor
	}
}
