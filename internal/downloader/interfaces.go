package downloader

import (
	"context"

	"comic-offline/pkg/models"
)

// Fetcher retrieves the bytes of a remote page or poster
//
//go:generate mockgen -source=interfaces.go -destination=mocks/mock_interfaces.go -package=mocks
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// JobStore defines the job persistence used by the worker
type JobStore interface {
	CreateJob(job *models.Job) error
	UpdateJob(job *models.Job) error
}
