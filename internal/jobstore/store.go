package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"caravan/internal/config"
)

// Store manages ingestion persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the ingestion database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.DatabasePath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// CreateJob inserts a new pending job for a subject. At most one job per
// subject may be active; a second concurrent run is rejected with
// ErrSubjectActive.
func (s *Store) CreateJob(ctx context.Context, subjectID, phase string) (*Job, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, errors.New("subject id is required")
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	id := uuid.NewString()

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (id, subject_id, status, current_phase, version, created_at, updated_at)
         VALUES (?, ?, ?, ?, 1, ?, ?)`,
		id,
		subjectID,
		JobPending,
		phase,
		timestamp,
		timestamp,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrSubjectActive, subjectID)
		}
		return nil, fmt.Errorf("insert job: %w", err)
	}

	return s.GetJob(ctx, id)
}

// GetJob fetches a job by identifier. Missing jobs return (nil, nil).
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ActiveJobForSubject returns the pending or processing job for a subject, if any.
func (s *Store) ActiveJobForSubject(ctx context.Context, subjectID string) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE subject_id = ? AND status IN (?, ?) ORDER BY created_at LIMIT 1`,
		subjectID,
		JobPending,
		JobProcessing,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active job for subject: %w", err)
	}
	return job, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.UpdatedAt = time.Now().UTC()

	history, err := marshalSnapshots(job.PreviousVersions)
	if err != nil {
		return fmt.Errorf("encode version history: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET subject_id = ?, status = ?, current_phase = ?, version = ?, previous_versions = ?,
             total_items = ?, processed = ?, skipped = ?, failed = ?,
             error_message = ?, error_phase = ?, updated_at = ?
         WHERE id = ?`,
		job.SubjectID,
		job.Status,
		job.CurrentPhase,
		job.Version,
		nullableString(history),
		job.TotalItems,
		job.Processed,
		job.Skipped,
		job.Failed,
		nullableString(job.ErrorMessage),
		nullableString(job.ErrorPhase),
		job.UpdatedAt.Format(time.RFC3339Nano),
		job.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrSubjectActive, job.SubjectID)
		}
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// ListJobs returns jobs filtered by status set (or all jobs when no status is provided).
func (s *Store) ListJobs(ctx context.Context, statuses ...JobStatus) ([]*Job, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Health aggregates job state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return HealthSummary{}, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	health := HealthSummary{}
	for rows.Next() {
		var status JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return HealthSummary{}, err
		}
		health.Total += count
		switch status {
		case JobPending:
			health.Pending += count
		case JobProcessing:
			health.Processing += count
		case JobCompleted:
			health.Completed += count
		case JobFailed:
			health.Failed += count
		}
	}
	return health, rows.Err()
}

const jobColumns = "id, subject_id, status, current_phase, version, previous_versions, total_items, processed, skipped, failed, error_message, error_phase, created_at, updated_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id           string
		subjectID    string
		statusStr    string
		currentPhase string
		version      int
		history      sql.NullString
		totalItems   int
		processed    int
		skipped      int
		failed       int
		errorMessage sql.NullString
		errorPhase   sql.NullString
		createdRaw   string
		updatedRaw   string
	)

	if err := scanner.Scan(
		&id,
		&subjectID,
		&statusStr,
		&currentPhase,
		&version,
		&history,
		&totalItems,
		&processed,
		&skipped,
		&failed,
		&errorMessage,
		&errorPhase,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:           id,
		SubjectID:    subjectID,
		Status:       JobStatus(statusStr),
		CurrentPhase: currentPhase,
		Version:      version,
		TotalItems:   totalItems,
		Processed:    processed,
		Skipped:      skipped,
		Failed:       failed,
		ErrorMessage: errorMessage.String,
		ErrorPhase:   errorPhase.String,
	}

	if history.Valid && history.String != "" {
		if err := json.Unmarshal([]byte(history.String), &job.PreviousVersions); err != nil {
			return nil, fmt.Errorf("decode version history: %w", err)
		}
	}

	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}

func marshalSnapshots(snapshots []VersionSnapshot) (string, error) {
	if len(snapshots) == 0 {
		return "", nil
	}
	encoded, err := json.Marshal(snapshots)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
