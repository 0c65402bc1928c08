package storage

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"comic-offline/pkg/hashsum"
)

// Roots of the three parallel storage trees
const (
	FilesDir  = "files"
	MetaDir   = "meta"
	PosterDir = "poster"

	// RecordExt is the suffix of collection and episode record files
	RecordExt = ".record"

	// RefScheme prefixes every local reference URL
	RefScheme = "offline://"
)

// ErrInvalidRef is returned when a string is not a well formed local reference
var ErrInvalidRef = errors.New("invalid local reference")

var tokenPattern = regexp.MustCompile(`^[0-9a-f]{8,9}$`)

// CollectionToken returns the storage token of a collection id
func CollectionToken(collectionID string) string {
	return hashsum.String(collectionID)
}

// EpisodeToken returns the storage token of an episode id
func EpisodeToken(episodeID string) string {
	return hashsum.String(episodeID)
}

// PageToken returns the storage token of a page. Pages are addressed by
// position, so a page keeps its location when its remote URL changes.
func PageToken(index int) string {
	return hashsum.Int(index)
}

// IsToken reports whether s has the shape of a storage token
func IsToken(s string) bool {
	return tokenPattern.MatchString(s)
}

// CollectionFilesDir is the directory holding every page payload of a collection
func CollectionFilesDir(collection string) string {
	return path.Join(FilesDir, collection)
}

// EpisodeFilesDir is the directory holding the page payloads of an episode
func EpisodeFilesDir(collection, episode string) string {
	return path.Join(FilesDir, collection, episode)
}

// PagePath is where the payload of a page is stored
func PagePath(collection, episode, page string) string {
	return path.Join(FilesDir, collection, episode, page)
}

// CollectionRecordPath is where the collection record is stored
func CollectionRecordPath(collection string) string {
	return path.Join(MetaDir, collection+RecordExt)
}

// EpisodeRecordDir is the directory holding the episode records of a collection
func EpisodeRecordDir(collection string) string {
	return path.Join(MetaDir, collection)
}

// EpisodeRecordPath is where an episode record is stored
func EpisodeRecordPath(collection, episode string) string {
	return path.Join(MetaDir, collection, episode+RecordExt)
}

// PosterPath is where the raw poster bytes of a collection are stored
func PosterPath(collection string) string {
	return path.Join(PosterDir, collection)
}

// PageRef builds the local reference URL of a page
func PageRef(collection, episode, page string) string {
	return RefScheme + collection + "/" + episode + "/" + page
}

// PosterRef builds the local reference URL of a collection poster
func PosterRef(collection string) string {
	return RefScheme + "/" + PosterDir + "/" + collection
}

// IsLocalRef reports whether a page or poster slot already points at local storage
func IsLocalRef(s string) bool {
	return strings.HasPrefix(s, RefScheme)
}

// ResolveRef maps a local reference URL back to its store path
func ResolveRef(ref string) (string, error) {
	if !IsLocalRef(ref) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}

	rest := strings.TrimPrefix(ref, RefScheme)
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 3 && parts[0] == "" && parts[1] == PosterDir && IsToken(parts[2]):
		return PosterPath(parts[2]), nil
	case len(parts) == 3 && IsToken(parts[0]) && IsToken(parts[1]) && IsToken(parts[2]):
		return PagePath(parts[0], parts[1], parts[2]), nil
	}

	return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
}

// RecordName strips RecordExt from a listed file name. The second result is
// false for entries that are not record files, such as per-collection directories.
func RecordName(entry string) (string, bool) {
	if !strings.HasSuffix(entry, RecordExt) {
		return "", false
	}
	token := strings.TrimSuffix(entry, RecordExt)
	if !IsToken(token) {
		return "", false
	}
	return token, true
}
