package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"comic-offline/internal/storage"
	"comic-offline/pkg/models"

	"github.com/gammazero/deque"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrQueueFull is returned when no more episodes can be queued
	ErrQueueFull = errors.New("download queue is full")
	// ErrJobNotQueued is returned when a key has no pending or active job
	ErrJobNotQueued = errors.New("no queued download for episode")
)

// stoppedJob remembers a stopped job and, when it ran, the task to resume
type stoppedJob struct {
	job  *models.Job
	task *Task
}

// Worker runs episode download tasks from a FIFO queue. At most one task per
// (collection, episode) key is pending or running at any time, and at most
// maxConcurrent tasks run at once.
type Worker struct {
	db      JobStore
	fetcher Fetcher
	store   storage.Store
	logger  *slog.Logger

	maxConcurrent int
	queueSize     int
	wake          chan struct{}

	mu       sync.Mutex
	pending  deque.Deque[*models.Job]
	jobs     map[string]*models.Job // pending or active, by key
	active   map[string]*Task
	resumes  map[string]*Task // stopped tasks queued for Resume
	stopped  map[string]*stoppedJob
	taskOpts []TaskOption
}

// NewWorker creates a new download worker
func NewWorker(db JobStore, fetcher Fetcher, store storage.Store, maxConcurrent, queueSize int, opts ...TaskOption) *Worker {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	return &Worker{
		db:            db,
		fetcher:       fetcher,
		store:         store,
		logger:        slog.Default(),
		maxConcurrent: maxConcurrent,
		queueSize:     queueSize,
		wake:          make(chan struct{}, 1),
		jobs:          make(map[string]*models.Job),
		active:        make(map[string]*Task),
		resumes:       make(map[string]*Task),
		stopped:       make(map[string]*stoppedJob),
		taskOpts:      opts,
	}
}

// Start processes the queue until ctx is canceled, then waits for running tasks
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("Starting download worker", "max_concurrent", w.maxConcurrent)

	var g errgroup.Group
	g.SetLimit(w.maxConcurrent)

	for {
		w.dispatch(ctx, &g)

		select {
		case <-ctx.Done():
			_ = g.Wait()
			w.logger.Info("Download worker shutting down")
			return
		case <-w.wake:
		}
	}
}

// Queue adds an episode download to the queue. Queuing an episode that is
// already pending or running returns the existing job.
func (w *Worker) Queue(collection models.CollectionDescriptor, episode models.EpisodeDescriptor) (*models.Job, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := models.JobKey(collection.CollectionID, episode.EpisodeID)
	if job, ok := w.jobs[key]; ok {
		snapshot := *job
		return &snapshot, nil
	}
	if w.pending.Len() >= w.queueSize {
		return nil, ErrQueueFull
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate job id: %w", err)
	}

	now := time.Now()
	job := &models.Job{
		ID:         id.String(),
		Collection: collection,
		Episode:    episode,
		Status:     models.JobPending,
		Total:      len(episode.Pages),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := w.db.CreateJob(job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	// A fresh request supersedes an earlier stop
	delete(w.stopped, key)
	w.enqueueLocked(job)
	w.logger.Info("Download queued", "job_id", job.ID, "collection_id", collection.CollectionID, "episode_id", episode.EpisodeID)

	snapshot := *job
	return &snapshot, nil
}

// QueueJob re-queues a job restored from a previous session
func (w *Worker) QueueJob(job *models.Job) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.jobs[job.Key()]; ok {
		return nil
	}
	if w.pending.Len() >= w.queueSize {
		return ErrQueueFull
	}

	job.Status = models.JobPending
	job.UpdatedAt = time.Now()
	w.enqueueLocked(job)
	w.logger.Info("Download queued", "job_id", job.ID, "key", job.Key())
	return nil
}

// Stop stops the running task for key, or drops it from the queue if it has
// not started yet
func (w *Worker) Stop(key string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if task, ok := w.active[key]; ok {
		task.Stop()
		return nil
	}

	job, ok := w.jobs[key]
	if !ok {
		return ErrJobNotQueued
	}

	if i := w.pending.Index(func(j *models.Job) bool { return j.Key() == key }); i >= 0 {
		w.pending.Remove(i)
	}
	delete(w.jobs, key)

	job.Status = models.JobStopped
	job.UpdatedAt = time.Now()
	w.stopped[key] = &stoppedJob{job: job, task: w.resumes[key]}
	delete(w.resumes, key)
	w.saveLocked(job)

	w.logger.Info("Queued download stopped", "job_id", job.ID, "key", key)
	return nil
}

// Resume re-queues a stopped job. The stopped task instance is resumed when
// it exists; otherwise a new task continues from the persisted record.
func (w *Worker) Resume(key string) (*models.Job, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if job, ok := w.jobs[key]; ok {
		snapshot := *job
		return &snapshot, nil
	}

	entry, ok := w.stopped[key]
	if !ok {
		return nil, ErrNothingToResume
	}
	if w.pending.Len() >= w.queueSize {
		return nil, ErrQueueFull
	}
	delete(w.stopped, key)

	if entry.task != nil {
		w.resumes[key] = entry.task
	}
	job := entry.job
	job.Status = models.JobPending
	job.UpdatedAt = time.Now()
	w.saveLocked(job)
	w.enqueueLocked(job)

	w.logger.Info("Download resumed", "job_id", job.ID, "key", key)
	snapshot := *job
	return &snapshot, nil
}

// Forget drops any stopped state kept for key
func (w *Worker) Forget(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.stopped, key)
}

// ForgetCollection drops the stopped state of every episode of a collection
func (w *Worker) ForgetCollection(collectionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for key, entry := range w.stopped {
		if entry.job.Collection.CollectionID == collectionID {
			delete(w.stopped, key)
		}
	}
}

// IsBusy reports whether a task for key is pending or running
func (w *Worker) IsBusy(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.jobs[key]
	return ok
}

// CollectionBusy reports whether any episode of a collection is pending or running
func (w *Worker) CollectionBusy(collectionID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, job := range w.jobs {
		if job.Collection.CollectionID == collectionID {
			return true
		}
	}
	return false
}

// Snapshot returns the live state of the pending or running job for key
func (w *Worker) Snapshot(key string) (models.Job, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	job, ok := w.jobs[key]
	if !ok {
		return models.Job{}, false
	}
	return *job, true
}

// Pending returns the number of jobs waiting for a free slot
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending.Len()
}

func (w *Worker) enqueueLocked(job *models.Job) {
	w.jobs[job.Key()] = job
	w.pending.PushBack(job)
	w.signal()
}

// saveLocked persists a snapshot of job; failures are logged
func (w *Worker) saveLocked(job *models.Job) {
	snapshot := *job
	if err := w.db.UpdateJob(&snapshot); err != nil {
		w.logger.Error("Failed to update job", "job_id", job.ID, "error", err)
	}
}

func (w *Worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// dispatch starts pending jobs while there are free slots
func (w *Worker) dispatch(ctx context.Context, g *errgroup.Group) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for w.pending.Len() > 0 && len(w.active) < w.maxConcurrent {
		if ctx.Err() != nil {
			return
		}

		job := w.pending.PopFront()
		key := job.Key()

		task, resume := w.resumes[key]
		delete(w.resumes, key)
		if !resume {
			task = w.newTask(job)
		}
		w.active[key] = task

		job.Status = models.JobDownloading
		job.ErrorMessage = ""
		job.UpdatedAt = time.Now()
		w.saveLocked(job)

		g.Go(func() error {
			w.process(ctx, job, task, resume)
			return nil
		})
	}
}

func (w *Worker) newTask(job *models.Job) *Task {
	key := job.Key()
	opts := append([]TaskOption{}, w.taskOpts...)
	opts = append(opts, WithProgressHandler(func(ev ProgressEvent) {
		w.recordProgress(key, ev)
	}))
	return NewTask(w.fetcher, w.store, job.Collection, job.Episode, opts...)
}

func (w *Worker) recordProgress(key string, ev ProgressEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	job, ok := w.jobs[key]
	if !ok {
		return
	}
	job.Downloaded = ev.Downloaded
	job.Total = ev.Total
	job.UpdatedAt = time.Now()
	w.saveLocked(job)
}

// process runs one task to its next resting state and records the outcome
func (w *Worker) process(ctx context.Context, job *models.Job, task *Task, resume bool) {
	w.logger.Info("Processing download", "job_id", job.ID, "key", job.Key(), "resume", resume)

	var err error
	if resume {
		err = task.Resume(ctx)
	} else {
		err = task.Start(ctx)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	key := job.Key()
	delete(w.active, key)
	delete(w.jobs, key)

	now := time.Now()
	job.Downloaded = task.Progress()
	job.Total = task.Total()
	job.UpdatedAt = now

	switch task.State() {
	case models.StateCompleted:
		job.Status = models.JobCompleted
		job.CompletedAt = &now
		w.logger.Info("Download completed", "job_id", job.ID, "key", key)
	case models.StateStopped:
		job.Status = models.JobStopped
		w.stopped[key] = &stoppedJob{job: job, task: task}
		w.logger.Info("Download stopped", "job_id", job.ID, "key", key, "downloaded", job.Downloaded)
	default:
		if ctx.Err() != nil {
			// Shutting down; the next session picks the job up again
			job.Status = models.JobPending
			break
		}
		job.Status = models.JobFailed
		if err != nil {
			job.ErrorMessage = err.Error()
		}
		w.logger.Error("Download failed", "job_id", job.ID, "key", key, "error", err)
	}

	w.saveLocked(job)
	w.signal()
}
