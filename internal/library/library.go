// Package library answers lifecycle queries over the downloaded collections
// and episodes: listing, counting, deleting and opening local references
package library

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"comic-offline/internal/records"
	"comic-offline/internal/storage"
	"comic-offline/pkg/fuzzy"
	"comic-offline/pkg/models"
)

// Service reads the on-disk records independently of any running task
type Service struct {
	store   storage.Store
	records *records.Records
	matcher *fuzzy.Matcher
	logger  *slog.Logger
}

// NewService creates a new library service over store
func NewService(store storage.Store) *Service {
	return &Service{
		store:   store,
		records: records.New(store),
		matcher: fuzzy.NewMatcher(),
		logger:  slog.Default(),
	}
}

// Collections lazily yields every collection record under meta/, enriched
// with its episode count. Iteration stops early when the consumer stops.
func (s *Service) Collections() iter.Seq2[models.CollectionSummary, error] {
	return func(yield func(models.CollectionSummary, error) bool) {
		entries, err := s.store.List(storage.MetaDir)
		if err != nil {
			yield(models.CollectionSummary{}, fmt.Errorf("failed to list collections: %w", err))
			return
		}

		for _, entry := range entries {
			token, ok := storage.RecordName(entry)
			if !ok {
				continue
			}

			summary, err := s.summary(token)
			if errors.Is(err, records.ErrNotFound) {
				// Deleted while iterating
				continue
			}
			if !yield(summary, err) {
				return
			}
		}
	}
}

// ListCollections returns every collection record with its episode count
func (s *Service) ListCollections() ([]models.CollectionSummary, error) {
	var collections []models.CollectionSummary
	for summary, err := range s.Collections() {
		if err != nil {
			return nil, err
		}
		collections = append(collections, summary)
	}
	return collections, nil
}

// Search returns the collections whose display name matches query, best match first
func (s *Service) Search(query string) ([]models.CollectionSummary, error) {
	collections, err := s.ListCollections()
	if err != nil {
		return nil, err
	}
	return s.matcher.Rank(query, collections), nil
}

// Collection returns the record of one collection with its episode count
func (s *Service) Collection(collection string) (models.CollectionSummary, error) {
	return s.summary(collection)
}

func (s *Service) summary(collection string) (models.CollectionSummary, error) {
	record, err := s.records.ReadCollection(collection)
	if err != nil {
		return models.CollectionSummary{}, err
	}

	count, err := s.CountEpisodes(collection)
	if err != nil {
		return models.CollectionSummary{}, err
	}

	return models.CollectionSummary{CollectionRecord: *record, EpisodeCount: count}, nil
}

// ListEpisodes returns every episode record of a collection. A collection
// without episodes yields an empty list.
func (s *Service) ListEpisodes(collection string) ([]*models.EpisodeRecord, error) {
	tokens, err := s.episodeTokens(collection)
	if err != nil {
		return nil, err
	}

	episodes := make([]*models.EpisodeRecord, 0, len(tokens))
	for _, token := range tokens {
		record, err := s.records.ReadEpisode(collection, token)
		if errors.Is(err, records.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read episode %s: %w", token, err)
		}
		episodes = append(episodes, record)
	}

	return episodes, nil
}

// CountEpisodes returns how many episode records a collection has without
// reading them
func (s *Service) CountEpisodes(collection string) (int, error) {
	tokens, err := s.episodeTokens(collection)
	if err != nil {
		return 0, err
	}
	return len(tokens), nil
}

func (s *Service) episodeTokens(collection string) ([]string, error) {
	entries, err := s.store.List(storage.EpisodeRecordDir(collection))
	if err != nil {
		return nil, fmt.Errorf("failed to list episodes: %w", err)
	}

	var tokens []string
	for _, entry := range entries {
		if token, ok := storage.RecordName(entry); ok {
			tokens = append(tokens, token)
		}
	}
	return tokens, nil
}

// DeleteEpisode removes an episode record and its pages. Deleting the last
// episode of a collection also removes the collection record and poster.
// Deleting an episode that does not exist is a no-op.
func (s *Service) DeleteEpisode(collection, episodeID string) error {
	if err := s.RemoveEpisode(collection, episodeID); err != nil {
		return err
	}

	remaining, err := s.CountEpisodes(collection)
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}

	return s.DeleteCollection(collection)
}

// RemoveEpisode removes an episode record and its pages but always keeps the
// collection record. Use it while another episode of the collection may be
// starting; Prune removes the collection later if it stays empty.
func (s *Service) RemoveEpisode(collection, episodeID string) error {
	episode := storage.EpisodeToken(episodeID)
	s.logger.Info("Deleting episode", "collection", collection, "episode_id", episodeID)

	if err := s.store.Remove(storage.EpisodeRecordPath(collection, episode)); err != nil {
		return fmt.Errorf("failed to delete episode record: %w", err)
	}
	if err := s.store.Remove(storage.EpisodeFilesDir(collection, episode)); err != nil {
		return fmt.Errorf("failed to delete episode pages: %w", err)
	}

	return nil
}

// DeleteCollection removes a collection record, its poster, and every
// episode record and page of the collection
func (s *Service) DeleteCollection(collection string) error {
	s.logger.Info("Deleting collection", "collection", collection)

	for _, name := range []string{
		storage.CollectionRecordPath(collection),
		storage.EpisodeRecordDir(collection),
		storage.PosterPath(collection),
		storage.CollectionFilesDir(collection),
	} {
		if err := s.store.Remove(name); err != nil {
			return fmt.Errorf("failed to delete %s: %w", name, err)
		}
	}

	return nil
}

// Open returns the bytes behind a page or poster reference
func (s *Service) Open(ref string) ([]byte, error) {
	name, err := storage.ResolveRef(ref)
	if err != nil {
		return nil, err
	}
	return s.store.Read(name)
}

// PruneStats reports what Prune removed
type PruneStats struct {
	EmptyCollections int `json:"empty_collections"`
	OrphanedEpisodes int `json:"orphaned_episodes"`
	OrphanedPages    int `json:"orphaned_pages"`
	OrphanedPosters  int `json:"orphaned_posters"`
}

// Prune removes state left behind by an interrupted delete: collection records
// without episodes, episode records without a collection record, page
// directories without an episode record and posters without a collection
// record. It must not run while tasks are active, since a
// starting task writes its collection record before its episode record.
func (s *Service) Prune() (*PruneStats, error) {
	stats := &PruneStats{}

	for summary, err := range s.Collections() {
		if err != nil {
			return stats, err
		}
		if summary.EpisodeCount > 0 {
			continue
		}
		token := storage.CollectionToken(summary.CollectionID)
		s.logger.Info("Removing collection without episodes", "collection_id", summary.CollectionID)
		if err := s.DeleteCollection(token); err != nil {
			return stats, err
		}
		stats.EmptyCollections++
	}

	if err := s.pruneOrphanedEpisodes(stats); err != nil {
		return stats, err
	}

	collections, err := s.store.List(storage.FilesDir)
	if err != nil {
		return stats, fmt.Errorf("failed to list page directories: %w", err)
	}
	for _, collection := range collections {
		episodes, err := s.store.List(storage.CollectionFilesDir(collection))
		if err != nil {
			return stats, fmt.Errorf("failed to list page directories: %w", err)
		}
		for _, episode := range episodes {
			exists, err := s.store.Exists(storage.EpisodeRecordPath(collection, episode))
			if err != nil {
				return stats, err
			}
			if exists {
				continue
			}
			s.logger.Info("Removing orphaned pages", "collection", collection, "episode", episode)
			if err := s.store.Remove(storage.EpisodeFilesDir(collection, episode)); err != nil {
				return stats, err
			}
			stats.OrphanedPages++
		}
	}

	posters, err := s.store.List(storage.PosterDir)
	if err != nil {
		return stats, fmt.Errorf("failed to list posters: %w", err)
	}
	for _, collection := range posters {
		exists, err := s.store.Exists(storage.CollectionRecordPath(collection))
		if err != nil {
			return stats, err
		}
		if exists {
			continue
		}
		s.logger.Info("Removing orphaned poster", "collection", collection)
		if err := s.store.Remove(storage.PosterPath(collection)); err != nil {
			return stats, err
		}
		stats.OrphanedPosters++
	}

	s.logger.Info("Library prune completed",
		"empty_collections", stats.EmptyCollections,
		"orphaned_episodes", stats.OrphanedEpisodes,
		"orphaned_pages", stats.OrphanedPages,
		"orphaned_posters", stats.OrphanedPosters)

	return stats, nil
}

// pruneOrphanedEpisodes removes episode record directories, and their pages,
// whose collection record is gone. Collections() never lists them.
func (s *Service) pruneOrphanedEpisodes(stats *PruneStats) error {
	entries, err := s.store.List(storage.MetaDir)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	for _, collection := range entries {
		if !storage.IsToken(collection) {
			continue
		}
		exists, err := s.store.Exists(storage.CollectionRecordPath(collection))
		if err != nil {
			return err
		}
		if exists {
			continue
		}

		count, err := s.CountEpisodes(collection)
		if err != nil {
			return err
		}
		s.logger.Info("Removing episodes without collection record", "collection", collection, "episodes", count)
		for _, name := range []string{storage.EpisodeRecordDir(collection), storage.CollectionFilesDir(collection)} {
			if err := s.store.Remove(name); err != nil {
				return err
			}
		}
		stats.OrphanedEpisodes += count
	}

	return nil
}
