// Package downloader implements the resumable episode download task and the
// worker that queues tasks per collection and episode
package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"comic-offline/internal/records"
	"comic-offline/internal/storage"
	"comic-offline/pkg/models"
)

var (
	// ErrInvalidState is returned when an operation is not allowed in the task's current state
	ErrInvalidState = errors.New("invalid task state")
	// ErrNothingToResume is returned when resume finds no persisted progress
	ErrNothingToResume = errors.New("no persisted progress to resume")
)

// ProgressEvent is published synchronously after each committed page
type ProgressEvent struct {
	CollectionID string
	EpisodeID    string
	Downloaded   int
	Total        int
}

// TaskOption configures a Task
type TaskOption func(*Task)

// WithProgressHandler registers fn to be called after every committed page
func WithProgressHandler(fn func(ProgressEvent)) TaskOption {
	return func(t *Task) {
		t.onProgress = fn
	}
}

// WithClock overrides the time source used for start_download_at
func WithClock(now func() time.Time) TaskOption {
	return func(t *Task) {
		t.now = now
	}
}

// WithLogger overrides the task logger
func WithLogger(logger *slog.Logger) TaskOption {
	return func(t *Task) {
		t.logger = logger
	}
}

// Task downloads the pages of one episode into offline storage.
//
// Pages are committed strictly in ascending order and the episode record is
// rewritten after every page, so the record's downloaded counter doubles as
// the resume cursor for this or any later task of the same episode. Two tasks
// for the same episode must not run at the same time; Worker enforces that.
type Task struct {
	collection      models.CollectionDescriptor
	episode         models.EpisodeDescriptor
	collectionToken string
	episodeToken    string

	fetcher    Fetcher
	store      storage.Store
	records    *records.Records
	logger     *slog.Logger
	now        func() time.Time
	onProgress func(ProgressEvent)

	mu    sync.Mutex
	state models.TaskState
	err   error

	stopRequested atomic.Bool
	downloading   atomic.Bool
	progress      atomic.Int64
	total         atomic.Int64
}

// NewTask creates an idle download task for one episode of a collection
func NewTask(fetcher Fetcher, store storage.Store, collection models.CollectionDescriptor, episode models.EpisodeDescriptor, opts ...TaskOption) *Task {
	pages := make([]string, len(episode.Pages))
	copy(pages, episode.Pages)
	episode.Pages = pages

	t := &Task{
		collection:      collection,
		episode:         episode,
		collectionToken: storage.CollectionToken(collection.CollectionID),
		episodeToken:    storage.EpisodeToken(episode.EpisodeID),
		fetcher:         fetcher,
		store:           store,
		records:         records.New(store),
		logger:          slog.Default(),
		now:             time.Now,
		state:           models.StateIdle,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("collection_id", collection.CollectionID, "episode_id", episode.EpisodeID)
	t.total.Store(int64(len(pages)))

	return t
}

// Progress returns the number of pages committed to local storage
func (t *Task) Progress() int {
	return int(t.progress.Load())
}

// Total returns the number of pages of the episode
func (t *Task) Total() int {
	return int(t.total.Load())
}

// Downloading reports whether the task is currently iterating pages
func (t *Task) Downloading() bool {
	return t.downloading.Load()
}

// State returns the current lifecycle state
func (t *Task) State() models.TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the failure that moved the task to StateFailed, if any
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Start downloads the episode from its persisted cursor, creating the
// collection and episode records on first use. It returns nil when the task
// completes or is stopped, and the failure otherwise.
func (t *Task) Start(ctx context.Context) error {
	if err := t.enter(models.StateIdle); err != nil {
		return err
	}

	if _, err := t.SaveCollection(ctx); err != nil {
		return t.fail(err)
	}

	record, err := t.prepareEpisode()
	if err != nil {
		return t.fail(err)
	}

	return t.run(ctx, record)
}

// Resume continues a stopped task. On a task that has never run it resumes
// from the persisted episode record, which must already exist.
func (t *Task) Resume(ctx context.Context) error {
	switch state := t.State(); state {
	case models.StateStopped:
	case models.StateIdle:
		if _, err := t.records.ReadEpisode(t.collectionToken, t.episodeToken); err != nil {
			if errors.Is(err, records.ErrNotFound) {
				return ErrNothingToResume
			}
			return err
		}
		return t.Start(ctx)
	default:
		return fmt.Errorf("%w: cannot resume from %s", ErrInvalidState, state)
	}

	if err := t.enter(models.StateStopped); err != nil {
		return err
	}

	record, err := t.records.ReadEpisode(t.collectionToken, t.episodeToken)
	if err != nil {
		return t.fail(fmt.Errorf("failed to read episode record: %w", err))
	}

	return t.run(ctx, record)
}

// Stop asks a running task to stop before its next page. It does not wait for
// the page in flight. Calling Stop on a task that is not downloading does nothing.
func (t *Task) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == models.StateDownloading {
		t.stopRequested.Store(true)
		t.logger.Info("Stop requested")
	}
}

// SaveCollection makes sure the collection record exists and that its poster
// is stored locally. A poster that cannot be fetched is logged and retried by
// the next task of the collection; it never fails the episode.
func (t *Task) SaveCollection(ctx context.Context) (*models.CollectionRecord, error) {
	record, err := t.records.ReadCollection(t.collectionToken)
	if errors.Is(err, records.ErrNotFound) {
		var created bool
		record, created, err = t.records.CreateCollection(t.collectionToken, &models.CollectionRecord{
			CollectionDescriptor: t.collection,
			StartDownloadAt:      t.now().UnixMilli(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to save collection record: %w", err)
		}
		if created {
			t.logger.Info("Saved collection record", "start_download_at", record.StartDownloadAt)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read collection record: %w", err)
	}

	if record.PosterURL == "" || storage.IsLocalRef(record.PosterURL) {
		return record, nil
	}

	saved, err := t.savePoster(ctx, record)
	if err != nil {
		t.logger.Warn("Failed to save poster, keeping remote URL", "poster_url", record.PosterURL, "error", err)
		return record, nil
	}

	return saved, nil
}

func (t *Task) savePoster(ctx context.Context, record *models.CollectionRecord) (*models.CollectionRecord, error) {
	data, err := t.fetcher.Fetch(ctx, record.PosterURL)
	if err != nil {
		return nil, err
	}

	if err := t.store.Write(storage.PosterPath(t.collectionToken), data); err != nil {
		return nil, err
	}

	updated := *record
	updated.PosterURL = storage.PosterRef(t.collectionToken)
	if err := t.records.WriteCollection(t.collectionToken, &updated); err != nil {
		return nil, err
	}

	return &updated, nil
}

// prepareEpisode loads the persisted episode record or creates a fresh one
func (t *Task) prepareEpisode() (*models.EpisodeRecord, error) {
	record, err := t.records.ReadEpisode(t.collectionToken, t.episodeToken)
	if errors.Is(err, records.ErrNotFound) {
		pages := make([]string, len(t.episode.Pages))
		copy(pages, t.episode.Pages)

		record = &models.EpisodeRecord{
			EpisodeID:       t.episode.EpisodeID,
			EpisodeName:     t.episode.EpisodeName,
			Route:           t.episode.Route,
			StartDownloadAt: t.now().UnixMilli(),
			Pages:           pages,
		}
		if err := t.records.WriteEpisode(t.collectionToken, t.episodeToken, record); err != nil {
			return nil, fmt.Errorf("failed to save episode record: %w", err)
		}
		t.logger.Info("Starting episode download", "pages", len(pages))
		return record, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read episode record: %w", err)
	}

	if mergePages(record, t.episode.Pages) {
		if err := t.records.WriteEpisode(t.collectionToken, t.episodeToken, record); err != nil {
			return nil, fmt.Errorf("failed to save episode record: %w", err)
		}
	}

	t.logger.Info("Resuming episode download", "from_page", record.Downloaded, "pages", len(record.Pages))
	return record, nil
}

// mergePages refreshes the remote suffix of record from pages and appends any
// extra pages. Committed slots and persisted slots past the end of pages are
// kept. It reports whether record changed.
func mergePages(record *models.EpisodeRecord, pages []string) bool {
	changed := false

	for i := record.Downloaded; i < len(record.Pages) && i < len(pages); i++ {
		if storage.IsLocalRef(pages[i]) || record.Pages[i] == pages[i] {
			continue
		}
		record.Pages[i] = pages[i]
		changed = true
	}

	for i := len(record.Pages); i < len(pages); i++ {
		if storage.IsLocalRef(pages[i]) {
			break
		}
		record.Pages = append(record.Pages, pages[i])
		changed = true
	}

	return changed
}

// run commits pages from record.Downloaded onwards, checking for a stop
// request between pages
func (t *Task) run(ctx context.Context, record *models.EpisodeRecord) error {
	t.progress.Store(int64(record.Downloaded))
	t.total.Store(int64(len(record.Pages)))

	for i := record.Downloaded; i < len(record.Pages); i++ {
		if t.stopRequested.Load() {
			t.finish(models.StateStopped, nil)
			t.logger.Info("Episode download stopped", "downloaded", i, "pages", len(record.Pages))
			return nil
		}
		if err := ctx.Err(); err != nil {
			return t.fail(err)
		}

		if err := t.commitPage(ctx, record, i); err != nil {
			return t.fail(err)
		}

		t.progress.Store(int64(record.Downloaded))
		if t.onProgress != nil {
			t.onProgress(ProgressEvent{
				CollectionID: t.collection.CollectionID,
				EpisodeID:    t.episode.EpisodeID,
				Downloaded:   record.Downloaded,
				Total:        len(record.Pages),
			})
		}
	}

	t.finish(models.StateCompleted, nil)
	t.logger.Info("Episode download completed", "pages", len(record.Pages))
	return nil
}

// commitPage fetches page i, stores it and rewrites the episode record
func (t *Task) commitPage(ctx context.Context, record *models.EpisodeRecord, i int) error {
	data, err := t.fetcher.Fetch(ctx, record.Pages[i])
	if err != nil {
		return fmt.Errorf("failed to fetch page %d: %w", i, err)
	}

	page := storage.PageToken(i)
	if err := t.store.Write(storage.PagePath(t.collectionToken, t.episodeToken, page), data); err != nil {
		return fmt.Errorf("failed to store page %d: %w", i, err)
	}

	record.Pages[i] = storage.PageRef(t.collectionToken, t.episodeToken, page)
	record.Downloaded = i + 1
	if err := t.records.WriteEpisode(t.collectionToken, t.episodeToken, record); err != nil {
		return fmt.Errorf("failed to save progress after page %d: %w", i, err)
	}

	t.logger.Debug("Page committed", "page", i, "bytes", len(data))
	return nil
}

// enter moves the task from the expected state into StateDownloading
func (t *Task) enter(from models.TaskState) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != from {
		return fmt.Errorf("%w: expected %s, task is %s", ErrInvalidState, from, t.state)
	}

	t.state = models.StateDownloading
	t.err = nil
	t.stopRequested.Store(false)
	t.downloading.Store(true)
	return nil
}

func (t *Task) finish(state models.TaskState, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = state
	t.err = err
	t.downloading.Store(false)
}

func (t *Task) fail(err error) error {
	t.finish(models.StateFailed, err)
	t.logger.Error("Episode download failed", "downloaded", t.Progress(), "error", err)
	return err
}
