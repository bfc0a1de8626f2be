package catalog

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rustfin/rustfin/internal/catalogmodel"
	"github.com/rustfin/rustfin/internal/coreerr"
)

func (s *Store) CreateJob(job *catalogmodel.JobRecord) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.StartedAt = time.Now().UTC()
	job.UpdatedAt = job.StartedAt
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, kind, status, progress, payload, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, job.ID.String(), string(job.Kind), string(job.Status), job.Progress, job.Payload, job.StartedAt, job.UpdatedAt)
	if err != nil {
		return coreerr.Storage(fmt.Errorf("create job: %w", err))
	}
	return nil
}

func (s *Store) UpdateJobStatus(id uuid.UUID, status catalogmodel.JobStatus, progress float64, errMsg *string) error {
	now := time.Now().UTC()
	query := `UPDATE jobs SET status = ?, progress = ?, error_message = ?, updated_at = ?`
	args := []interface{}{string(status), progress, errMsg, now}
	if status == catalogmodel.JobDone || status == catalogmodel.JobFailed || status == catalogmodel.JobCancelled {
		query += `, completed_at = ?`
		args = append(args, now)
	}
	query += ` WHERE id = ?`
	args = append(args, id.String())

	_, err := s.db.Exec(query, args...)
	if err != nil {
		return coreerr.Storage(fmt.Errorf("update job status: %w", err))
	}
	return nil
}

func (s *Store) GetJob(id uuid.UUID) (*catalogmodel.JobRecord, error) {
	job := &catalogmodel.JobRecord{}
	var kind, status string
	err := s.db.QueryRow(`SELECT id, kind, status, progress, payload, error_message, started_at, completed_at, updated_at
		FROM jobs WHERE id = ?`, id.String()).
		Scan(&job.ID, &kind, &status, &job.Progress, &job.Payload, &job.ErrorMessage,
			&job.StartedAt, &job.CompletedAt, &job.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, coreerr.NotFound("job not found")
	}
	if err != nil {
		return nil, coreerr.Storage(err)
	}
	job.Kind = catalogmodel.JobKind(kind)
	job.Status = catalogmodel.JobStatus(status)
	return job, nil
}

func (s *Store) ListRecentJobs(limit int) ([]*catalogmodel.JobRecord, error) {
	rows, err := s.db.Query(`SELECT id, kind, status, progress, payload, error_message, started_at, completed_at, updated_at
		FROM jobs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, coreerr.Storage(err)
	}
	defer rows.Close()

	var out []*catalogmodel.JobRecord
	for rows.Next() {
		job := &catalogmodel.JobRecord{}
		var kind, status string
		if err := rows.Scan(&job.ID, &kind, &status, &job.Progress, &job.Payload, &job.ErrorMessage,
			&job.StartedAt, &job.CompletedAt, &job.UpdatedAt); err != nil {
			return nil, coreerr.Storage(err)
		}
		job.Kind = catalogmodel.JobKind(kind)
		job.Status = catalogmodel.JobStatus(status)
		out = append(out, job)
	}
	return out, rows.Err()
}
