// Package database provides SQLite persistence for the episode download queue
package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"comic-offline/pkg/models"

	_ "modernc.org/sqlite"
)

// ErrJobNotFound is returned when no job has the requested id
var ErrJobNotFound = errors.New("job not found")

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// New creates a new database connection and initializes the schema
func New(dbPath string) (*DB, error) {
	// Add connection parameters to help with concurrent access
	connString := dbPath
	if dbPath != ":memory:" {
		connString = dbPath + "?_busy_timeout=30000&_journal_mode=WAL&_synchronous=NORMAL"
	}

	conn, err := sql.Open("sqlite", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't handle concurrent writes well
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	db := &DB{conn: conn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates the necessary tables
func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		collection_id TEXT NOT NULL,
		episode_id TEXT NOT NULL,
		collection_json TEXT NOT NULL,
		episode_json TEXT NOT NULL,
		status TEXT NOT NULL,
		downloaded INTEGER DEFAULT 0,
		total INTEGER DEFAULT 0,
		error_message TEXT DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		completed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_episode ON jobs(collection_id, episode_id);
	`

	_, err := db.conn.Exec(schema)
	return err
}

const jobColumns = `id, collection_id, episode_id, collection_json, episode_json, status,
	downloaded, total, error_message, created_at, updated_at, completed_at`

// CreateJob inserts a new job
func (db *DB) CreateJob(job *models.Job) error {
	collectionJSON, episodeJSON, err := encodeDescriptors(job)
	if err != nil {
		return err
	}

	query := `INSERT INTO jobs (` + jobColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = db.conn.Exec(query,
		job.ID, job.Collection.CollectionID, job.Episode.EpisodeID,
		collectionJSON, episodeJSON, job.Status,
		job.Downloaded, job.Total, job.ErrorMessage,
		job.CreatedAt, job.UpdatedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJob retrieves a job by ID
func (db *DB) GetJob(id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`

	job, err := scanJob(db.conn.QueryRow(query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// UpdateJob updates the mutable fields of a job
func (db *DB) UpdateJob(job *models.Job) error {
	query := `
	UPDATE jobs SET
		status = ?, downloaded = ?, total = ?, error_message = ?,
		updated_at = ?, completed_at = ?
	WHERE id = ?
	`

	_, err := db.conn.Exec(query,
		job.Status, job.Downloaded, job.Total, job.ErrorMessage,
		job.UpdatedAt, job.CompletedAt, job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	return nil
}

// ListJobs retrieves jobs newest first with pagination
func (db *DB) ListJobs(limit, offset int) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	return db.queryJobs(query, limit, offset)
}

// GetJobsByStatus retrieves jobs in any of the given statuses, oldest first
func (db *DB) GetJobsByStatus(statuses ...models.JobStatus) ([]*models.Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, status := range statuses {
		placeholders[i] = "?"
		args[i] = status
	}

	query := `SELECT ` + jobColumns + ` FROM jobs
	WHERE status IN (` + strings.Join(placeholders, ",") + `)
	ORDER BY created_at ASC, id ASC`

	return db.queryJobs(query, args...)
}

// ResetOrphanedJobs moves jobs left in the downloading state by a previous
// session back to pending and returns how many were reset
func (db *DB) ResetOrphanedJobs() (int, error) {
	result, err := db.conn.Exec(
		`UPDATE jobs SET status = ?, updated_at = ? WHERE status = ?`,
		models.JobPending, time.Now(), models.JobDownloading,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reset orphaned jobs: %w", err)
	}

	rows, _ := result.RowsAffected()
	return int(rows), nil
}

// DeleteJobsForEpisode removes every job of an episode
func (db *DB) DeleteJobsForEpisode(collectionID, episodeID string) error {
	_, err := db.conn.Exec(`DELETE FROM jobs WHERE collection_id = ? AND episode_id = ?`, collectionID, episodeID)
	if err != nil {
		return fmt.Errorf("failed to delete episode jobs: %w", err)
	}
	return nil
}

// DeleteJobsForCollection removes every job of a collection
func (db *DB) DeleteJobsForCollection(collectionID string) error {
	_, err := db.conn.Exec(`DELETE FROM jobs WHERE collection_id = ?`, collectionID)
	if err != nil {
		return fmt.Errorf("failed to delete collection jobs: %w", err)
	}
	return nil
}

// DeleteOldJobs removes finished jobs older than the specified duration
func (db *DB) DeleteOldJobs(olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan)

	result, err := db.conn.Exec(
		`DELETE FROM jobs WHERE created_at < ? AND status IN (?, ?)`,
		cutoff, models.JobCompleted, models.JobFailed,
	)
	if err != nil {
		return fmt.Errorf("failed to delete old jobs: %w", err)
	}

	if rows, _ := result.RowsAffected(); rows > 0 {
		slog.Info("Deleted old jobs", "count", rows, "cutoff", cutoff)
	}

	return nil
}

// GetJobStats returns the number of jobs per status
func (db *DB) GetJobStats() (map[string]int, error) {
	rows, err := db.conn.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to get job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan job stats: %w", err)
		}
		stats[status] = count
	}

	return stats, rows.Err()
}

func (db *DB) queryJobs(query string, args ...interface{}) ([]*models.Job, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (*models.Job, error) {
	var job models.Job
	var collectionID, episodeID, collectionJSON, episodeJSON string

	err := row.Scan(
		&job.ID, &collectionID, &episodeID, &collectionJSON, &episodeJSON,
		&job.Status, &job.Downloaded, &job.Total, &job.ErrorMessage,
		&job.CreatedAt, &job.UpdatedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(collectionJSON), &job.Collection); err != nil {
		return nil, fmt.Errorf("failed to decode collection of job %s: %w", job.ID, err)
	}
	if err := json.Unmarshal([]byte(episodeJSON), &job.Episode); err != nil {
		return nil, fmt.Errorf("failed to decode episode of job %s: %w", job.ID, err)
	}

	return &job, nil
}

func encodeDescriptors(job *models.Job) (string, string, error) {
	collectionJSON, err := json.Marshal(job.Collection)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode collection: %w", err)
	}
	episodeJSON, err := json.Marshal(job.Episode)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode episode: %w", err)
	}
	return string(collectionJSON), string(episodeJSON), nil
}
