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
)

// LookupArtifact finds an artifact by its dedup key. Missing artifacts return
// (nil, nil).
func (s *Store) LookupArtifact(ctx context.Context, dedupKey string) (*Artifact, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE dedup_key = ?`,
		dedupKey,
	)
	artifact, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup artifact: %w", err)
	}
	return artifact, nil
}

// CreateArtifact stores an artifact under its dedup key. Exactly one writer
// wins per key: when another writer got there first the stored artifact is
// returned with created=false and the caller's record is discarded.
func (s *Store) CreateArtifact(ctx context.Context, artifact *Artifact) (*Artifact, bool, error) {
	if artifact == nil {
		return nil, false, errors.New("artifact is nil")
	}
	dedupKey := strings.TrimSpace(artifact.DedupKey)
	if dedupKey == "" {
		return nil, false, errors.New("artifact dedup key is required")
	}

	id := artifact.ID
	if id == "" {
		id = uuid.NewString()
	}
	labels, err := marshalLabels(artifact.Labels)
	if err != nil {
		return nil, false, fmt.Errorf("encode labels: %w", err)
	}
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	result, err := s.db.ExecContext(
		ctx,
		`INSERT INTO artifacts (id, dedup_key, alt_text, caption, labels, storage_url, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT (dedup_key) DO NOTHING`,
		id,
		dedupKey,
		nullableString(artifact.AltText),
		nullableString(artifact.Caption),
		nullableString(labels),
		nullableString(artifact.StorageURL),
		timestamp,
	)
	if err != nil {
		return nil, false, fmt.Errorf("create artifact: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("create artifact: %w", err)
	}

	stored, err := s.LookupArtifact(ctx, dedupKey)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		return nil, false, fmt.Errorf("artifact %s missing after insert", dedupKey)
	}
	return stored, affected > 0, nil
}

// LinkArtifact records that a subject references an artifact. Linking the
// same pair again is a no-op.
func (s *Store) LinkArtifact(ctx context.Context, artifactID, subjectID string) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO artifact_refs (artifact_id, subject_id, created_at)
         VALUES (?, ?, ?)`,
		artifactID,
		subjectID,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("link artifact: %w", err)
	}
	return nil
}

// ArtifactSubjects lists the subjects referencing an artifact.
func (s *Store) ArtifactSubjects(ctx context.Context, artifactID string) ([]string, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT subject_id FROM artifact_refs WHERE artifact_id = ? ORDER BY subject_id`,
		artifactID,
	)
	if err != nil {
		return nil, fmt.Errorf("artifact subjects: %w", err)
	}
	defer rows.Close()

	var subjects []string
	for rows.Next() {
		var subjectID string
		if err := rows.Scan(&subjectID); err != nil {
			return nil, err
		}
		subjects = append(subjects, subjectID)
	}
	return subjects, rows.Err()
}

const artifactColumns = "id, dedup_key, alt_text, caption, labels, storage_url, created_at"

func scanArtifact(scanner interface{ Scan(dest ...any) error }) (*Artifact, error) {
	var (
		id         string
		dedupKey   string
		altText    sql.NullString
		caption    sql.NullString
		labels     sql.NullString
		storageURL sql.NullString
		createdRaw string
	)

	if err := scanner.Scan(&id, &dedupKey, &altText, &caption, &labels, &storageURL, &createdRaw); err != nil {
		return nil, err
	}

	artifact := &Artifact{
		ID:         id,
		DedupKey:   dedupKey,
		AltText:    altText.String,
		Caption:    caption.String,
		StorageURL: storageURL.String,
	}

	if labels.Valid && labels.String != "" {
		if err := json.Unmarshal([]byte(labels.String), &artifact.Labels); err != nil {
			return nil, fmt.Errorf("decode labels: %w", err)
		}
	}

	if created, err := parseTimeString(createdRaw); err == nil {
		artifact.CreatedAt = created
	}
	return artifact, nil
}

func marshalLabels(labels []string) (string, error) {
	if len(labels) == 0 {
		return "", nil
	}
	encoded, err := json.Marshal(labels)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
