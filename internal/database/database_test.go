package database

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"comic-offline/pkg/models"

	"github.com/stretchr/testify/require"
)

func newJob(id, collectionID, episodeID string, created time.Time) *models.Job {
	return &models.Job{
		ID: id,
		Collection: models.CollectionDescriptor{
			CollectionID: collectionID,
			DisplayName:  "Manga " + collectionID,
			PosterURL:    "http://localhost/poster/manga.jpg",
			SourceID:     "nettruyen",
			Route:        json.RawMessage(`{"name":"comic"}`),
		},
		Episode: models.EpisodeDescriptor{
			EpisodeID:   episodeID,
			EpisodeName: "Chapter 1",
			Pages:       []string{"https://localhost/pages/1.png", "https://localhost/pages/2.png"},
		},
		Status:    models.JobPending,
		Total:     2,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		dbPath  string
		wantErr bool
	}{
		{
			name:   "in-memory database",
			dbPath: ":memory:",
		},
		{
			name:   "temporary file database",
			dbPath: filepath.Join(t.TempDir(), "test.db"),
		},
		{
			name:    "invalid database path",
			dbPath:  "/invalid/nonexistent/path/test.db",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := New(tt.dbPath)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, db)
			require.NoError(t, db.Close())
		})
	}
}

func TestDB_CreateAndGetJob(t *testing.T) {
	db, err := New(":memory:")
	require.NoError(t, err)
	defer db.Close()

	job := newJob("job-1", "1", "1234", time.Now())
	require.NoError(t, db.CreateJob(job))

	got, err := db.GetJob("job-1")
	require.NoError(t, err)
	require.Equal(t, "1", got.Collection.CollectionID)
	require.Equal(t, "1234", got.Episode.EpisodeID)
	require.Equal(t, job.Episode.Pages, got.Episode.Pages)
	require.JSONEq(t, `{"name":"comic"}`, string(got.Collection.Route))
	require.Equal(t, models.JobPending, got.Status)
	require.Equal(t, 2, got.Total)
	require.Nil(t, got.CompletedAt)

	_, err = db.GetJob("missing")
	require.True(t, errors.Is(err, ErrJobNotFound))
}

func TestDB_UpdateJob(t *testing.T) {
	db, err := New(":memory:")
	require.NoError(t, err)
	defer db.Close()

	job := newJob("job-1", "1", "1234", time.Now())
	require.NoError(t, db.CreateJob(job))

	completed := time.Now()
	job.Status = models.JobCompleted
	job.Downloaded = 2
	job.CompletedAt = &completed
	job.UpdatedAt = completed
	require.NoError(t, db.UpdateJob(job))

	got, err := db.GetJob("job-1")
	require.NoError(t, err)
	require.Equal(t, models.JobCompleted, got.Status)
	require.Equal(t, 2, got.Downloaded)
	require.NotNil(t, got.CompletedAt)
}

func TestDB_ListAndFilterJobs(t *testing.T) {
	db, err := New(":memory:")
	require.NoError(t, err)
	defer db.Close()

	base := time.Now().Add(-time.Hour)
	first := newJob("job-1", "1", "1", base)
	second := newJob("job-2", "1", "2", base.Add(time.Minute))
	third := newJob("job-3", "2", "1", base.Add(2*time.Minute))
	third.Status = models.JobFailed

	for _, job := range []*models.Job{first, second, third} {
		require.NoError(t, db.CreateJob(job))
	}

	jobs, err := db.ListJobs(10, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	require.Equal(t, "job-3", jobs[0].ID)

	jobs, err = db.ListJobs(1, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "job-2", jobs[0].ID)

	pending, err := db.GetJobsByStatus(models.JobPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, "job-1", pending[0].ID)

	none, err := db.GetJobsByStatus()
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestDB_ResetOrphanedJobs(t *testing.T) {
	db, err := New(":memory:")
	require.NoError(t, err)
	defer db.Close()

	orphan := newJob("job-1", "1", "1", time.Now())
	orphan.Status = models.JobDownloading
	done := newJob("job-2", "1", "2", time.Now())
	done.Status = models.JobCompleted

	require.NoError(t, db.CreateJob(orphan))
	require.NoError(t, db.CreateJob(done))

	count, err := db.ResetOrphanedJobs()
	require.NoError(t, err)
	require.Equal(t, 1, count)

	got, err := db.GetJob("job-1")
	require.NoError(t, err)
	require.Equal(t, models.JobPending, got.Status)

	got, err = db.GetJob("job-2")
	require.NoError(t, err)
	require.Equal(t, models.JobCompleted, got.Status)
}

func TestDB_DeleteJobs(t *testing.T) {
	db, err := New(":memory:")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.CreateJob(newJob("job-1", "1", "1", time.Now())))
	require.NoError(t, db.CreateJob(newJob("job-2", "1", "2", time.Now())))
	require.NoError(t, db.CreateJob(newJob("job-3", "2", "1", time.Now())))

	require.NoError(t, db.DeleteJobsForEpisode("1", "1"))
	_, err = db.GetJob("job-1")
	require.True(t, errors.Is(err, ErrJobNotFound))

	require.NoError(t, db.DeleteJobsForCollection("1"))
	_, err = db.GetJob("job-2")
	require.True(t, errors.Is(err, ErrJobNotFound))

	_, err = db.GetJob("job-3")
	require.NoError(t, err)
}

func TestDB_DeleteOldJobs(t *testing.T) {
	db, err := New(":memory:")
	require.NoError(t, err)
	defer db.Close()

	old := newJob("job-old", "1", "1", time.Now().Add(-90*24*time.Hour))
	old.Status = models.JobCompleted
	oldPending := newJob("job-old-pending", "1", "2", time.Now().Add(-90*24*time.Hour))
	recent := newJob("job-recent", "1", "3", time.Now())
	recent.Status = models.JobCompleted

	for _, job := range []*models.Job{old, oldPending, recent} {
		require.NoError(t, db.CreateJob(job))
	}

	require.NoError(t, db.DeleteOldJobs(60*24*time.Hour))

	_, err = db.GetJob("job-old")
	require.True(t, errors.Is(err, ErrJobNotFound))
	_, err = db.GetJob("job-old-pending")
	require.NoError(t, err)
	_, err = db.GetJob("job-recent")
	require.NoError(t, err)
}

func TestDB_GetJobStats(t *testing.T) {
	db, err := New(":memory:")
	require.NoError(t, err)
	defer db.Close()

	failed := newJob("job-2", "1", "2", time.Now())
	failed.Status = models.JobFailed
	require.NoError(t, db.CreateJob(newJob("job-1", "1", "1", time.Now())))
	require.NoError(t, db.CreateJob(failed))

	stats, err := db.GetJobStats()
	require.NoError(t, err)
	require.Equal(t, 1, stats["pending"])
	require.Equal(t, 1, stats["failed"])
}
