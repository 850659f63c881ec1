// Package id provides unique identifier generation for jobs.
package id

import "github.com/google/uuid"

// Generate creates a new unique job ID.
// Format: a random (version 4) UUID in canonical form.
// Example: 3f1c9a4e-8b2d-4c6f-9e1a-2b7d5c8f0a13
func Generate() string {
	return uuid.NewString()
}
