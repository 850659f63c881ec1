// Package store provides persistent implementations of job.Store:
// SQLite for single-node deployments, PostgreSQL for shared ones and
// DynamoDB for the serverless deployment.
package store

import (
	"strconv"
	"strings"
	"time"

	"github.com/maauso/contentcraft-pipeline/internal/job"
)

// placeholder renders the n-th (1-based) bind parameter of a dialect.
type placeholder func(n int) string

func questionMark(int) string { return "?" }

func dollar(n int) string { return "$" + strconv.Itoa(n) }

var jobColumns = []string{
	"id", "owner_id", "prompt", "duration_seconds", "resolution", "tier",
	"wants_audio", "audio_tier", "status", "video_status", "audio_status",
	"combination_status", "video_url", "audio_url", "combined_url",
	"has_separate_tracks", "error_message", "created_at", "updated_at", "completed_at",
}

var selectColumns = strings.Join(jobColumns, ", ")

// rowScanner is satisfied by *sql.Row, *sql.Rows, pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*job.Job, error) {
	var (
		j                                               job.Job
		status, videoStatus, audioStatus, combineStatus string
		created, updated, completed                     int64
	)
	err := row.Scan(
		&j.ID, &j.OwnerID, &j.Prompt, &j.DurationSeconds, &j.Resolution, &j.Tier,
		&j.WantsAudio, &j.AudioTier, &status, &videoStatus, &audioStatus,
		&combineStatus, &j.VideoURL, &j.AudioURL, &j.CombinedURL,
		&j.HasSeparateTracks, &j.ErrorMessage, &created, &updated, &completed,
	)
	if err != nil {
		return nil, err
	}
	j.Status = job.Status(status)
	j.VideoStatus = job.TrackStatus(videoStatus)
	j.AudioStatus = job.TrackStatus(audioStatus)
	j.CombinationStatus = job.CombinationStatus(combineStatus)
	j.CreatedAt = fromMillis(created)
	j.UpdatedAt = fromMillis(updated)
	j.CompletedAt = fromMillis(completed)
	return &j, nil
}

func jobArgs(j *job.Job) []any {
	return []any{
		j.ID, j.OwnerID, j.Prompt, j.DurationSeconds, j.Resolution, j.Tier,
		j.WantsAudio, j.AudioTier, string(j.Status), string(j.VideoStatus), string(j.AudioStatus),
		string(j.CombinationStatus), j.VideoURL, j.AudioURL, j.CombinedURL,
		j.HasSeparateTracks, j.ErrorMessage, toMillis(j.CreatedAt), toMillis(j.UpdatedAt), toMillis(j.CompletedAt),
	}
}

// Zero times are stored as 0.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// upsertStatement inserts a job or replaces every column of an existing one.
func upsertStatement(ph placeholder) string {
	marks := make([]string, len(jobColumns))
	updates := make([]string, 0, len(jobColumns)-1)
	for i, col := range jobColumns {
		marks[i] = ph(i + 1)
		if col != "id" {
			updates = append(updates, col+" = excluded."+col)
		}
	}
	return "INSERT INTO jobs (" + selectColumns + ") VALUES (" + strings.Join(marks, ", ") +
		") ON CONFLICT (id) DO UPDATE SET " + strings.Join(updates, ", ")
}

// updateStatement renders p as a single UPDATE whose WHERE clause carries
// the patch condition, so zero affected rows means the job is missing or
// the condition failed.
func updateStatement(id string, p job.Patch, now time.Time, ph placeholder) (string, []any) {
	var (
		sets  []string
		where []string
		args  []any
	)
	bind := func(v any) string {
		args = append(args, v)
		return ph(len(args))
	}
	set := func(col string, v any) {
		sets = append(sets, col+" = "+bind(v))
	}

	set("updated_at", now.UnixMilli())
	if p.Status != nil {
		set("status", string(*p.Status))
	}
	if p.VideoStatus != nil {
		set("video_status", string(*p.VideoStatus))
	}
	if p.AudioStatus != nil {
		set("audio_status", string(*p.AudioStatus))
	}
	if p.CombinationStatus != nil {
		set("combination_status", string(*p.CombinationStatus))
	}
	if p.VideoURL != nil {
		set("video_url", *p.VideoURL)
	}
	if p.AudioURL != nil {
		set("audio_url", *p.AudioURL)
	}
	if p.CombinedURL != nil {
		set("combined_url", *p.CombinedURL)
	}
	if p.HasSeparateTracks != nil {
		set("has_separate_tracks", *p.HasSeparateTracks)
	}
	if p.ErrorMessage != nil {
		set("error_message", *p.ErrorMessage)
	}
	if p.CompletedAt != nil {
		set("completed_at", toMillis(*p.CompletedAt))
	}

	where = append(where, "id = "+bind(id))
	in := func(col string, values []string) {
		if len(values) == 0 {
			return
		}
		marks := make([]string, len(values))
		for i, v := range values {
			marks[i] = bind(v)
		}
		where = append(where, col+" IN ("+strings.Join(marks, ", ")+")")
	}
	in("status", stringsOf(p.When.Status))
	in("video_status", stringsOf(p.When.VideoStatus))
	in("audio_status", stringsOf(p.When.AudioStatus))
	in("combination_status", stringsOf(p.When.CombinationStatus))
	if !p.When.UpdatedBefore.IsZero() {
		where = append(where, "updated_at < "+bind(toMillis(p.When.UpdatedBefore)))
	}

	return "UPDATE jobs SET " + strings.Join(sets, ", ") + " WHERE " + strings.Join(where, " AND "), args
}

// scanStatement selects one page of jobs ordered by id. It asks for one
// row more than limit so the caller can tell whether another page exists.
func scanStatement(filter job.ScanFilter, limit int, cursor string, ph placeholder) (string, []any) {
	args := []any{cursor}
	query := "SELECT " + selectColumns + " FROM jobs WHERE id > " + ph(1)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += " AND status = " + ph(len(args))
	}
	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		query += " AND owner_id = " + ph(len(args))
	}
	query += " ORDER BY id"
	if limit > 0 {
		args = append(args, limit+1)
		query += " LIMIT " + ph(len(args))
	}
	return query, args
}

// pageOf trims the extra row fetched by scanStatement into a cursor.
func pageOf(jobs []*job.Job, limit int) job.Page {
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
		return job.Page{Jobs: jobs, NextCursor: jobs[limit-1].ID}
	}
	return job.Page{Jobs: jobs}
}

func stringsOf[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}
