// Package models defines the data structures used throughout the application
package models

import (
	"encoding/json"
	"time"
)

// TaskState represents where a download task is in its lifecycle
type TaskState string

const (
	StateIdle        TaskState = "idle"
	StateDownloading TaskState = "downloading"
	StateCompleted   TaskState = "completed"
	StateStopped     TaskState = "stopped"
	StateFailed      TaskState = "failed"
)

// IsTerminal reports whether a task instance can no longer be resumed in place
func (s TaskState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// JobStatus represents the status of a queued episode download
type JobStatus string

const (
	JobPending     JobStatus = "pending"
	JobDownloading JobStatus = "downloading"
	JobCompleted   JobStatus = "completed"
	JobFailed      JobStatus = "failed"
	JobStopped     JobStatus = "stopped"
)

// CollectionDescriptor identifies a downloadable parent item such as a comic series
type CollectionDescriptor struct {
	CollectionID string          `json:"collection_id"`
	DisplayName  string          `json:"display_name"`
	PosterURL    string          `json:"poster_url"`
	SourceID     string          `json:"source_id"`
	Route        json.RawMessage `json:"route,omitempty"`
}

// CollectionRecord is the on-disk projection of a collection
type CollectionRecord struct {
	CollectionDescriptor
	StartDownloadAt int64 `json:"start_download_at"` // Unix milliseconds
}

// CollectionSummary is a collection record enriched with its episode count
type CollectionSummary struct {
	CollectionRecord
	EpisodeCount int `json:"episode_count"`
}

// EpisodeDescriptor identifies one downloadable episode and its remote pages
type EpisodeDescriptor struct {
	EpisodeID   string          `json:"episode_id"`
	EpisodeName string          `json:"episode_name"`
	Route       json.RawMessage `json:"route,omitempty"`
	Pages       []string        `json:"pages"`
}

// EpisodeRecord is the on-disk projection of an episode. Pages holds either the
// remote URL or the local reference of each page; the first Downloaded slots are
// local references.
type EpisodeRecord struct {
	EpisodeID       string          `json:"episode_id"`
	EpisodeName     string          `json:"episode_name"`
	Route           json.RawMessage `json:"route,omitempty"`
	StartDownloadAt int64           `json:"start_download_at"` // Unix milliseconds
	Downloaded      int             `json:"downloaded"`
	Pages           []string        `json:"pages"`
}

// Descriptor returns the episode descriptor carried by the record
func (r *EpisodeRecord) Descriptor() EpisodeDescriptor {
	pages := make([]string, len(r.Pages))
	copy(pages, r.Pages)
	return EpisodeDescriptor{
		EpisodeID:   r.EpisodeID,
		EpisodeName: r.EpisodeName,
		Route:       r.Route,
		Pages:       pages,
	}
}

// IsComplete reports whether every page has been committed locally
func (r *EpisodeRecord) IsComplete() bool {
	return r.Downloaded >= len(r.Pages)
}

// Job represents a queued request to download one episode
type Job struct {
	ID           string               `json:"id"`
	Collection   CollectionDescriptor `json:"collection"`
	Episode      EpisodeDescriptor    `json:"episode"`
	Status       JobStatus            `json:"status"`
	Downloaded   int                  `json:"downloaded"`
	Total        int                  `json:"total"`
	ErrorMessage string               `json:"error_message"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
	CompletedAt  *time.Time           `json:"completed_at"`
}

// Key returns the queue key that serializes tasks for the same episode
func (j *Job) Key() string {
	return JobKey(j.Collection.CollectionID, j.Episode.EpisodeID)
}

// JobKey builds the key identifying a (collection, episode) pair
func JobKey(collectionID, episodeID string) string {
	return collectionID + "/" + episodeID
}
