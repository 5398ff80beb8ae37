package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SubmitSummary is one row of ListSubmits's result.
type SubmitSummary struct {
	UUID              string
	SubmitTime        time.Time
	RequestedImage    string
	RequestedPackage  string
	RequestedVersion  string
}

// JobSummary is one job row nested under a SubmitDetail.
type JobSummary struct {
	UUID           string
	PackageName    string
	PackageVersion string
	Endpoint       string
	Image          string
	Status         string
}

// SubmitDetail is a submit together with every job it produced, the
// result of GetSubmit.
type SubmitDetail struct {
	SubmitSummary
	Jobs []JobSummary
}

// ReleaseSummary is one row of ListReleases's result.
type ReleaseSummary struct {
	ArtifactPath string
	ReleaseDate  time.Time
	StoreName    string
}

// ListSubmitsFilter narrows ListSubmits. Zero-value fields are not
// applied as filters; a zero Limit means unlimited.
type ListSubmitsFilter struct {
	Commit  string
	Image   string
	Package string
	Since   time.Time
	Until   time.Time
	Limit   int
}

// ListSubmits returns submits matching filter, most recent first.
func (s *Store) ListSubmits(ctx context.Context, filter ListSubmitsFilter) ([]SubmitSummary, error) {
	query := `
		SELECT s.uuid, s.submit_time, i.name, p.name, p.version
		FROM submits s
		JOIN images i ON i.id = s.requested_image_id
		JOIN packages p ON p.id = s.requested_package_id
		LEFT JOIN githashes g ON g.id = s.repo_hash_id
		WHERE 1=1
	`
	var args []any
	if filter.Commit != "" {
		args = append(args, filter.Commit)
		query += fmt.Sprintf(" AND g.hash = $%d", len(args))
	}
	if filter.Image != "" {
		args = append(args, filter.Image)
		query += fmt.Sprintf(" AND i.name = $%d", len(args))
	}
	if filter.Package != "" {
		args = append(args, filter.Package)
		query += fmt.Sprintf(" AND p.name = $%d", len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		query += fmt.Sprintf(" AND s.submit_time >= $%d", len(args))
	}
	if !filter.Until.IsZero() {
		args = append(args, filter.Until)
		query += fmt.Sprintf(" AND s.submit_time <= $%d", len(args))
	}
	query += " ORDER BY s.submit_time DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &DbError{Op: "list_submits", Err: err}
	}
	defer rows.Close()

	var out []SubmitSummary
	for rows.Next() {
		var sm SubmitSummary
		if err := rows.Scan(&sm.UUID, &sm.SubmitTime, &sm.RequestedImage, &sm.RequestedPackage, &sm.RequestedVersion); err != nil {
			return nil, &DbError{Op: "list_submits", Err: err}
		}
		out = append(out, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, &DbError{Op: "list_submits", Err: err}
	}
	return out, nil
}

// GetSubmit fetches one submit by id, along with every job recorded
// under it. Returns ErrNotFound if no submit has that uuid.
func (s *Store) GetSubmit(ctx context.Context, id uuid.UUID) (*SubmitDetail, error) {
	var detail SubmitDetail
	err := s.db.QueryRowContext(ctx, `
		SELECT s.uuid, s.submit_time, i.name, p.name, p.version
		FROM submits s
		JOIN images i ON i.id = s.requested_image_id
		JOIN packages p ON p.id = s.requested_package_id
		WHERE s.uuid = $1
	`, id.String()).Scan(&detail.UUID, &detail.SubmitTime, &detail.RequestedImage, &detail.RequestedPackage, &detail.RequestedVersion)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, &DbError{Op: "get_submit", Err: err}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT j.uuid, p.name, p.version, COALESCE(e.name, ''), COALESCE(i.name, ''), j.status
		FROM jobs j
		JOIN submits s ON s.id = j.submit_id
		JOIN packages p ON p.id = j.package_id
		LEFT JOIN endpoints e ON e.id = j.endpoint_id
		LEFT JOIN images i ON i.id = j.image_id
		WHERE s.uuid = $1
		ORDER BY j.id
	`, id.String())
	if err != nil {
		return nil, &DbError{Op: "get_submit", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var js JobSummary
		if err := rows.Scan(&js.UUID, &js.PackageName, &js.PackageVersion, &js.Endpoint, &js.Image, &js.Status); err != nil {
			return nil, &DbError{Op: "get_submit", Err: err}
		}
		detail.Jobs = append(detail.Jobs, js)
	}
	if err := rows.Err(); err != nil {
		return nil, &DbError{Op: "get_submit", Err: err}
	}
	return &detail, nil
}

// GetJobLog fetches a single job's full, accumulated log text.
func (s *Store) GetJobLog(ctx context.Context, jobID uuid.UUID) (string, error) {
	var logText string
	err := s.db.QueryRowContext(ctx, `SELECT log_text FROM jobs WHERE uuid = $1`, jobID.String()).Scan(&logText)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", &DbError{Op: "get_job_log", Err: err}
	}
	return logText, nil
}

// ListJobsFilter narrows ListJobs across every submit.
type ListJobsFilter struct {
	Package  string
	Endpoint string
	Image    string
	Since    time.Time
	Until    time.Time
	Limit    int
}

// JobRow is one job row of ListJobs's result, identifying the submit
// it belongs to alongside the fields JobSummary already carries.
type JobRow struct {
	JobSummary
	SubmitUUID string
}

// ListJobs returns jobs matching filter across every submit, most
// recently created first, for the "db jobs" subcommand.
func (s *Store) ListJobs(ctx context.Context, filter ListJobsFilter) ([]JobRow, error) {
	query := `
		SELECT j.uuid, p.name, p.version, COALESCE(e.name, ''), COALESCE(i.name, ''), j.status, sub.uuid
		FROM jobs j
		JOIN submits sub ON sub.id = j.submit_id
		JOIN packages p ON p.id = j.package_id
		LEFT JOIN endpoints e ON e.id = j.endpoint_id
		LEFT JOIN images i ON i.id = j.image_id
		WHERE 1=1
	`
	var args []any
	if filter.Package != "" {
		args = append(args, filter.Package)
		query += fmt.Sprintf(" AND p.name = $%d", len(args))
	}
	if filter.Endpoint != "" {
		args = append(args, filter.Endpoint)
		query += fmt.Sprintf(" AND e.name = $%d", len(args))
	}
	if filter.Image != "" {
		args = append(args, filter.Image)
		query += fmt.Sprintf(" AND i.name = $%d", len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		query += fmt.Sprintf(" AND sub.submit_time >= $%d", len(args))
	}
	if !filter.Until.IsZero() {
		args = append(args, filter.Until)
		query += fmt.Sprintf(" AND sub.submit_time <= $%d", len(args))
	}
	query += " ORDER BY j.id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &DbError{Op: "list_jobs", Err: err}
	}
	defer rows.Close()

	var out []JobRow
	for rows.Next() {
		var jr JobRow
		if err := rows.Scan(&jr.UUID, &jr.PackageName, &jr.PackageVersion, &jr.Endpoint, &jr.Image, &jr.Status, &jr.SubmitUUID); err != nil {
			return nil, &DbError{Op: "list_jobs", Err: err}
		}
		out = append(out, jr)
	}
	if err := rows.Err(); err != nil {
		return nil, &DbError{Op: "list_jobs", Err: err}
	}
	return out, nil
}

// ListReleasesFilter narrows ListReleases. Package is matched against
// the released artifact's path by prefix, since artifacts are keyed by
// filename rather than by a package foreign key.
type ListReleasesFilter struct {
	Package string
	Store   string
	Since   time.Time
	Until   time.Time
	Limit   int
}

// ListReleases returns releases matching filter, most recent first.
func (s *Store) ListReleases(ctx context.Context, filter ListReleasesFilter) ([]ReleaseSummary, error) {
	query := `
		SELECT a.path, r.release_date, rs.store_name
		FROM releases r
		JOIN artifacts a ON a.id = r.artifact_id
		JOIN release_stores rs ON rs.id = r.release_store_id
		WHERE 1=1
	`
	var args []any
	if filter.Package != "" {
		args = append(args, filter.Package+"-%")
		query += fmt.Sprintf(" AND a.path LIKE $%d", len(args))
	}
	if filter.Store != "" {
		args = append(args, filter.Store)
		query += fmt.Sprintf(" AND rs.store_name = $%d", len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		query += fmt.Sprintf(" AND r.release_date >= $%d", len(args))
	}
	if !filter.Until.IsZero() {
		args = append(args, filter.Until)
		query += fmt.Sprintf(" AND r.release_date <= $%d", len(args))
	}
	query += " ORDER BY r.release_date DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &DbError{Op: "list_releases", Err: err}
	}
	defer rows.Close()

	var out []ReleaseSummary
	for rows.Next() {
		var rel ReleaseSummary
		if err := rows.Scan(&rel.ArtifactPath, &rel.ReleaseDate, &rel.StoreName); err != nil {
			return nil, &DbError{Op: "list_releases", Err: err}
		}
		out = append(out, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, &DbError{Op: "list_releases", Err: err}
	}
	return out, nil
}
