package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewFSStore(t *testing.T) {
	basePath := "/test/base/path/"
	store := NewFSStore(basePath)

	require.NotNil(t, store)
	require.Equal(t, filepath.Clean(basePath), store.BasePath)
}

func TestFSStore_ValidatePath(t *testing.T) {
	tempDir := t.TempDir()
	store := NewFSStore(tempDir)

	tests := []struct {
		name        string
		relative    string
		want        string
		expectError bool
	}{
		{name: "empty path", relative: "", want: tempDir},
		{name: "root path", relative: "/", want: tempDir},
		{name: "nested path", relative: "meta/8daa1a0a.record", want: filepath.Join(tempDir, "meta", "8daa1a0a.record")},
		{name: "leading slash", relative: "/poster/8daa1a0a", want: filepath.Join(tempDir, "poster", "8daa1a0a")},
		{name: "parent traversal", relative: "../outside", expectError: true},
		{name: "nested traversal", relative: "files/../../outside", expectError: true},
		{name: "backslash traversal", relative: "files\\..\\..\\outside", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ValidatePath(tt.relative)
			if tt.expectError {
				require.Error(t, err)
				require.True(t, errors.Is(err, ErrInvalidPath))
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestFSStore_WriteRead(t *testing.T) {
	store := NewFSStore(t.TempDir())

	err := store.Write("files/a/b/c", []byte("first"))
	require.NoError(t, err)

	data, err := store.Read("files/a/b/c")
	require.NoError(t, err)
	require.Equal(t, "first", string(data))

	// Overwrite replaces the whole file
	err = store.Write("files/a/b/c", []byte("2"))
	require.NoError(t, err)

	data, err = store.Read("files/a/b/c")
	require.NoError(t, err)
	require.Equal(t, "2", string(data))

	// No temporary files are left behind
	entries, err := os.ReadDir(filepath.Join(store.BasePath, "files", "a", "b"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestFSStore_ReadMissing(t *testing.T) {
	store := NewFSStore(t.TempDir())

	_, err := store.Read("meta/missing.record")
	require.Error(t, err)
	require.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestFSStore_Exists(t *testing.T) {
	store := NewFSStore(t.TempDir())

	exists, err := store.Exists("poster/x")
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, store.Write("poster/x", []byte("img")))

	exists, err = store.Exists("poster/x")
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = store.Exists("poster")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestFSStore_List(t *testing.T) {
	store := NewFSStore(t.TempDir())

	names, err := store.List("meta")
	require.NoError(t, err)
	require.Empty(t, names)

	require.NoError(t, store.Write("meta/b.record", []byte("{}")))
	require.NoError(t, store.Write("meta/a.record", []byte("{}")))
	require.NoError(t, store.Write("meta/a/x.record", []byte("{}")))

	// A stray temporary file from an interrupted write is hidden
	err = os.WriteFile(filepath.Join(store.BasePath, "meta", tempPrefix+"a.record-123"), []byte("{"), 0o644)
	require.NoError(t, err)

	names, err = store.List("meta")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "a.record", "b.record"}, names)
}

func TestFSStore_Remove(t *testing.T) {
	store := NewFSStore(t.TempDir())

	require.NoError(t, store.Write("files/a/b/0", []byte("x")))
	require.NoError(t, store.Write("files/a/b/1", []byte("y")))

	require.NoError(t, store.Remove("files/a"))

	exists, err := store.Exists("files/a")
	require.NoError(t, err)
	require.False(t, exists)

	// Removing something absent is a no-op
	require.NoError(t, store.Remove("files/a"))

	// The root itself cannot be removed
	err = store.Remove("")
	require.Error(t, err)
}

func TestFSStore_ConcurrentWriters(t *testing.T) {
	store := NewFSStore(t.TempDir())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := []byte{byte('a' + i), byte('a' + i), byte('a' + i)}
			if err := store.Write("meta/shared.record", payload); err != nil {
				t.Errorf("write failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	data, err := store.Read("meta/shared.record")
	require.NoError(t, err)
	require.Len(t, data, 3)
	require.Equal(t, data[0], data[1])
	require.Equal(t, data[1], data[2])
}

func TestFSStore_Create(t *testing.T) {
	store := NewFSStore(t.TempDir())

	require.NoError(t, store.Create("meta/1.record", []byte("first")))

	err := store.Create("meta/1.record", []byte("second"))
	require.Error(t, err)
	require.True(t, errors.Is(err, fs.ErrExist))

	data, err := store.Read("meta/1.record")
	require.NoError(t, err)
	require.Equal(t, "first", string(data))

	// No staging files are left behind
	entries, err := os.ReadDir(filepath.Join(store.BasePath, "meta"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	err = store.Create("../escape", []byte("x"))
	require.ErrorIs(t, err, ErrInvalidPath)
}

func TestFSStore_ConcurrentCreatorsOneWins(t *testing.T) {
	store := NewFSStore(t.TempDir())

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []byte
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.Create("meta/shared.record", []byte{byte('a' + i)})
			if err == nil {
				mu.Lock()
				winners = append(winners, byte('a'+i))
				mu.Unlock()
				return
			}
			if !errors.Is(err, fs.ErrExist) {
				t.Errorf("unexpected create error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	data, err := store.Read("meta/shared.record")
	require.NoError(t, err)
	require.Equal(t, winners, data)
}
