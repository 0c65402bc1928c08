// Package handlers provides HTTP handlers for the web interface
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"comic-offline/internal/database"
	"comic-offline/internal/downloader"
	"comic-offline/internal/library"
	"comic-offline/internal/storage"
	"comic-offline/internal/web/templates"
	"comic-offline/pkg/models"
)

// Handlers contains all HTTP handlers and their dependencies
type Handlers struct {
	db             *database.DB
	library        *library.Service
	downloadWorker *downloader.Worker
	logger         *slog.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(db *database.DB, lib *library.Service, worker *downloader.Worker) *Handlers {
	return &Handlers{
		db:             db,
		library:        lib,
		downloadWorker: worker,
		logger:         slog.Default(),
	}
}

// Home handles the library page
func (h *Handlers) Home(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	collections, err := h.library.ListCollections()
	if err != nil {
		h.logger.Error("Failed to list collections", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	jobs, err := h.db.ListJobs(50, 0)
	if err != nil {
		h.logger.Error("Failed to get downloads", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.overlayLiveState(jobs)

	component := templates.Base("Comic Offline", templates.Library(collections, jobs))
	if err := component.Render(r.Context(), w); err != nil {
		h.logger.Error("Failed to render library template", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
}

// ListCollections handles API requests for the downloaded collections,
// optionally filtered by the q query parameter
func (h *Handlers) ListCollections(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	query := r.URL.Query().Get("q")
	collections, err := h.library.Search(query)
	if err != nil {
		h.logger.Error("Failed to list collections", "error", err, "query", query)
		writeError(w, "Failed to list collections", http.StatusInternalServerError)
		return
	}
	if collections == nil {
		collections = []models.CollectionSummary{}
	}

	response := struct {
		Collections []models.CollectionSummary `json:"collections"`
	}{
		Collections: collections,
	}

	h.encode(w, response)
}

type episodeResponse struct {
	*models.EpisodeRecord
	Downloading bool `json:"downloading"`
}

// ListEpisodes handles API requests for the downloaded episodes of a collection
func (h *Handlers) ListEpisodes(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	collectionID := r.PathValue("id")
	episodes, err := h.library.ListEpisodes(storage.CollectionToken(collectionID))
	if err != nil {
		h.logger.Error("Failed to list episodes", "error", err, "collection_id", collectionID)
		writeError(w, "Failed to list episodes", http.StatusInternalServerError)
		return
	}

	items := make([]episodeResponse, 0, len(episodes))
	for _, episode := range episodes {
		items = append(items, episodeResponse{
			EpisodeRecord: episode,
			Downloading:   h.downloadWorker.IsBusy(models.JobKey(collectionID, episode.EpisodeID)),
		})
	}

	response := struct {
		CollectionID string            `json:"collection_id"`
		Episodes     []episodeResponse `json:"episodes"`
	}{
		CollectionID: collectionID,
		Episodes:     items,
	}

	h.encode(w, response)
}

// DeleteCollection handles deleting a collection with all its episodes
func (h *Handlers) DeleteCollection(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	collectionID := r.PathValue("id")
	if h.downloadWorker.CollectionBusy(collectionID) {
		writeError(w, "Collection has downloads in progress", http.StatusConflict)
		return
	}

	if err := h.library.DeleteCollection(storage.CollectionToken(collectionID)); err != nil {
		h.logger.Error("Failed to delete collection", "collection_id", collectionID, "error", err)
		writeError(w, "Failed to delete collection", http.StatusInternalServerError)
		return
	}

	h.downloadWorker.ForgetCollection(collectionID)
	if err := h.db.DeleteJobsForCollection(collectionID); err != nil {
		h.logger.Warn("Failed to delete collection jobs", "collection_id", collectionID, "error", err)
	}

	h.logger.Info("Collection deleted", "collection_id", collectionID)
	h.encode(w, map[string]bool{"success": true})
}

// DeleteEpisode handles deleting one episode; deleting the last episode of a
// collection removes the collection as well
func (h *Handlers) DeleteEpisode(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	collectionID := r.PathValue("id")
	episodeID := r.PathValue("episodeID")
	key := models.JobKey(collectionID, episodeID)

	if h.downloadWorker.IsBusy(key) {
		writeError(w, "Episode download in progress", http.StatusConflict)
		return
	}

	// Another episode of the collection may be between writing the collection
	// record and its own episode record, so the collection is kept for it
	deleteEpisode := h.library.DeleteEpisode
	if h.downloadWorker.CollectionBusy(collectionID) {
		deleteEpisode = h.library.RemoveEpisode
	}

	if err := deleteEpisode(storage.CollectionToken(collectionID), episodeID); err != nil {
		h.logger.Error("Failed to delete episode", "collection_id", collectionID, "episode_id", episodeID, "error", err)
		writeError(w, "Failed to delete episode", http.StatusInternalServerError)
		return
	}

	h.downloadWorker.Forget(key)
	if err := h.db.DeleteJobsForEpisode(collectionID, episodeID); err != nil {
		h.logger.Warn("Failed to delete episode jobs", "collection_id", collectionID, "episode_id", episodeID, "error", err)
	}

	h.logger.Info("Episode deleted", "collection_id", collectionID, "episode_id", episodeID)
	h.encode(w, map[string]bool{"success": true})
}

// SubmitDownload handles queuing an episode download
func (h *Handlers) SubmitDownload(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req struct {
		Collection models.CollectionDescriptor `json:"collection"`
		Episode    models.EpisodeDescriptor    `json:"episode"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode download request", "error", err)
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if msg := validateDownload(req.Collection, req.Episode); msg != "" {
		writeError(w, msg, http.StatusBadRequest)
		return
	}

	job, err := h.downloadWorker.Queue(req.Collection, req.Episode)
	if err != nil {
		if errors.Is(err, downloader.ErrQueueFull) {
			writeError(w, "Download queue is full", http.StatusServiceUnavailable)
			return
		}
		h.logger.Error("Failed to queue download", "error", err)
		writeError(w, "Failed to queue download", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	h.encode(w, job)
}

func validateDownload(collection models.CollectionDescriptor, episode models.EpisodeDescriptor) string {
	switch {
	case collection.CollectionID == "":
		return "collection_id is required"
	case episode.EpisodeID == "":
		return "episode_id is required"
	case len(episode.Pages) == 0:
		return "episode has no pages"
	}
	for i, page := range episode.Pages {
		if !strings.HasPrefix(page, "http://") && !strings.HasPrefix(page, "https://") {
			return fmt.Sprintf("page %d is not an http(s) URL", i)
		}
	}
	return ""
}

// ListDownloads handles API requests for download jobs, newest first
func (h *Handlers) ListDownloads(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	jobs, err := h.db.ListJobs(limit, offset)
	if err != nil {
		h.logger.Error("Failed to list downloads", "error", err)
		writeError(w, "Failed to list downloads", http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}
	h.overlayLiveState(jobs)

	stats, err := h.db.GetJobStats()
	if err != nil {
		h.logger.Error("Failed to get download stats", "error", err)
		writeError(w, "Failed to get download stats", http.StatusInternalServerError)
		return
	}

	response := struct {
		Jobs    []*models.Job  `json:"jobs"`
		Stats   map[string]int `json:"stats"`
		Pending int            `json:"pending"`
	}{
		Jobs:    jobs,
		Stats:   stats,
		Pending: h.downloadWorker.Pending(),
	}

	h.encode(w, response)
}

// StopDownload handles stopping a queued or running download
func (h *Handlers) StopDownload(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	job, ok := h.lookupJob(w, r)
	if !ok {
		return
	}

	if err := h.downloadWorker.Stop(job.Key()); err != nil {
		if errors.Is(err, downloader.ErrJobNotQueued) {
			writeError(w, "Download is not queued", http.StatusConflict)
			return
		}
		h.logger.Error("Failed to stop download", "job_id", job.ID, "error", err)
		writeError(w, "Failed to stop download", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Download stop requested", "job_id", job.ID)
	h.encode(w, map[string]bool{"success": true})
}

// ResumeDownload handles resuming a stopped or failed download. Jobs stopped
// in an earlier session are queued again and continue from their record.
func (h *Handlers) ResumeDownload(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	job, ok := h.lookupJob(w, r)
	if !ok {
		return
	}

	resumed, err := h.downloadWorker.Resume(job.Key())
	if errors.Is(err, downloader.ErrNothingToResume) {
		if job.Status != models.JobStopped && job.Status != models.JobFailed {
			writeError(w, fmt.Sprintf("Download is %s", job.Status), http.StatusConflict)
			return
		}
		resumed, err = h.downloadWorker.Queue(job.Collection, job.Episode)
	}
	if err != nil {
		if errors.Is(err, downloader.ErrQueueFull) {
			writeError(w, "Download queue is full", http.StatusServiceUnavailable)
			return
		}
		h.logger.Error("Failed to resume download", "job_id", job.ID, "error", err)
		writeError(w, "Failed to resume download", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Download resumed", "job_id", resumed.ID)
	w.WriteHeader(http.StatusAccepted)
	h.encode(w, resumed)
}

// ServeOffline serves the bytes behind a page or poster reference
func (h *Handlers) ServeOffline(w http.ResponseWriter, r *http.Request) {
	ref := refFromPath(r.PathValue("ref"))

	data, err := h.library.Open(ref)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidRef), errors.Is(err, storage.ErrInvalidPath):
			http.Error(w, "Invalid reference", http.StatusBadRequest)
		case errors.Is(err, fs.ErrNotExist):
			http.NotFound(w, r)
		default:
			h.logger.Error("Failed to open offline content", "ref", ref, "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	// Pages never change once committed
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if _, err := w.Write(data); err != nil {
		h.logger.Debug("Failed to write offline content", "ref", ref, "error", err)
	}
}

// refFromPath rebuilds a local reference from the path that templates.OfflineURL produced
func refFromPath(p string) string {
	if strings.HasPrefix(p, storage.PosterDir+"/") {
		return storage.RefScheme + "/" + p
	}
	return storage.RefScheme + p
}

func (h *Handlers) lookupJob(w http.ResponseWriter, r *http.Request) (*models.Job, bool) {
	id := r.PathValue("id")
	job, err := h.db.GetJob(id)
	if err != nil {
		if errors.Is(err, database.ErrJobNotFound) {
			writeError(w, "Download not found", http.StatusNotFound)
			return nil, false
		}
		h.logger.Error("Failed to get download", "job_id", id, "error", err)
		writeError(w, "Failed to get download", http.StatusInternalServerError)
		return nil, false
	}
	return job, true
}

// overlayLiveState replaces stored progress with the worker's live view for
// jobs that are pending or running
func (h *Handlers) overlayLiveState(jobs []*models.Job) {
	for _, job := range jobs {
		live, ok := h.downloadWorker.Snapshot(job.Key())
		if !ok || live.ID != job.ID {
			continue
		}
		job.Status = live.Status
		job.Downloaded = live.Downloaded
		job.Total = live.Total
	}
}

func (h *Handlers) encode(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
		http.Error(w, `{"error": "Failed to encode response"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func queryInt(r *http.Request, name string, def int) int {
	value, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || value < 0 {
		return def
	}
	return value
}
