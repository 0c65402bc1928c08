// Package records reads and writes the JSON collection and episode records
// that make up the durable download state
package records

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"comic-offline/internal/storage"
	"comic-offline/pkg/models"
)

// ErrNotFound is returned when a record has never been written or was deleted
var ErrNotFound = errors.New("record not found")

// ErrCorrupt is returned when a stored episode record breaks the prefix invariant
var ErrCorrupt = errors.New("corrupt episode record")

// maxCreateAttempts bounds the create/read cycle when a record is deleted
// while a writer is creating it
const maxCreateAttempts = 3

// Records persists collection and episode records through a storage.Store.
// Every write replaces the whole record in a single atomic store write.
type Records struct {
	store storage.Store
}

// New creates a record reader/writer over store
func New(store storage.Store) *Records {
	return &Records{store: store}
}

// ReadCollection loads the record of the collection with the given token
func (r *Records) ReadCollection(collection string) (*models.CollectionRecord, error) {
	var record models.CollectionRecord
	if err := r.read(storage.CollectionRecordPath(collection), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// CreateCollection stores record unless the collection already has one. It
// returns the stored record and whether this call created it; a record that
// already exists is returned as is and never rewritten.
func (r *Records) CreateCollection(collection string, record *models.CollectionRecord) (*models.CollectionRecord, bool, error) {
	name := storage.CollectionRecordPath(collection)

	data, err := encode(name, record)
	if err != nil {
		return nil, false, err
	}

	err = r.store.Create(name, data)
	switch {
	case err == nil:
		return record, true, nil
	case !errors.Is(err, fs.ErrExist):
		return nil, false, fmt.Errorf("failed to write record: %w", err)
	}

	existing, err := r.ReadCollection(collection)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// WriteCollection persists a collection record. The start_download_at of an
// existing record is preserved; only the first write sets it. Creation is
// exclusive, so when several writers race on a missing record one of them
// wins and the others adopt its start time.
func (r *Records) WriteCollection(collection string, record *models.CollectionRecord) error {
	name := storage.CollectionRecordPath(collection)

	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		existing, err := r.ReadCollection(collection)
		switch {
		case err == nil:
			record.StartDownloadAt = existing.StartDownloadAt
			return r.write(name, record)
		case errors.Is(err, ErrNotFound):
		default:
			return err
		}

		data, err := encode(name, record)
		if err != nil {
			return err
		}
		err = r.store.Create(name, data)
		if err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}

	return fmt.Errorf("failed to write record: %s kept changing", name)
}

// ReadEpisode loads and validates an episode record
func (r *Records) ReadEpisode(collection, episode string) (*models.EpisodeRecord, error) {
	var record models.EpisodeRecord
	if err := r.read(storage.EpisodeRecordPath(collection, episode), &record); err != nil {
		return nil, err
	}
	if err := Validate(&record); err != nil {
		return nil, err
	}
	return &record, nil
}

// WriteEpisode persists an episode record
func (r *Records) WriteEpisode(collection, episode string, record *models.EpisodeRecord) error {
	if err := Validate(record); err != nil {
		return err
	}
	return r.write(storage.EpisodeRecordPath(collection, episode), record)
}

// Validate checks that exactly the first Downloaded page slots are local references
func Validate(record *models.EpisodeRecord) error {
	if record.Downloaded < 0 || record.Downloaded > len(record.Pages) {
		return fmt.Errorf("%w: downloaded %d out of range for %d pages", ErrCorrupt, record.Downloaded, len(record.Pages))
	}
	for i, page := range record.Pages {
		local := storage.IsLocalRef(page)
		if i < record.Downloaded && !local {
			return fmt.Errorf("%w: page %d is remote inside the downloaded prefix", ErrCorrupt, i)
		}
		if i >= record.Downloaded && local {
			return fmt.Errorf("%w: page %d is local beyond the downloaded prefix", ErrCorrupt, i)
		}
	}
	return nil
}

func (r *Records) read(name string, v any) error {
	data, err := r.store.Read(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", name, err)
	}

	return nil
}

func (r *Records) write(name string, v any) error {
	data, err := encode(name, v)
	if err != nil {
		return err
	}

	if err := r.store.Write(name, data); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	return nil
}

func encode(name string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", name, err)
	}
	return data, nil
}
