package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokens(t *testing.T) {
	require.Equal(t, "8daa1a0a", CollectionToken("1"))
	require.Equal(t, "2d0aa938", EpisodeToken("1234"))
	require.Equal(t, "1a96284a", PageToken(0))
	require.Equal(t, "1a962851", PageToken(7))
}

func TestPaths(t *testing.T) {
	c, e, p := "8daa1a0a", "2d0aa938", "1a96284a"

	require.Equal(t, "files/8daa1a0a", CollectionFilesDir(c))
	require.Equal(t, "files/8daa1a0a/2d0aa938", EpisodeFilesDir(c, e))
	require.Equal(t, "files/8daa1a0a/2d0aa938/1a96284a", PagePath(c, e, p))
	require.Equal(t, "meta/8daa1a0a.record", CollectionRecordPath(c))
	require.Equal(t, "meta/8daa1a0a", EpisodeRecordDir(c))
	require.Equal(t, "meta/8daa1a0a/2d0aa938.record", EpisodeRecordPath(c, e))
	require.Equal(t, "poster/8daa1a0a", PosterPath(c))
}

func TestRefs(t *testing.T) {
	require.Equal(t, "offline://8daa1a0a/2d0aa938/1a96284a", PageRef("8daa1a0a", "2d0aa938", "1a96284a"))
	require.Equal(t, "offline:///poster/8daa1a0a", PosterRef("8daa1a0a"))

	require.True(t, IsLocalRef("offline:///poster/8daa1a0a"))
	require.False(t, IsLocalRef("https://localhost/pages/1.png"))
}

func TestResolveRef(t *testing.T) {
	tests := []struct {
		name    string
		ref     string
		want    string
		wantErr bool
	}{
		{name: "page", ref: "offline://8daa1a0a/2d0aa938/1a96284a", want: "files/8daa1a0a/2d0aa938/1a96284a"},
		{name: "poster", ref: "offline:///poster/8daa1a0a", want: "poster/8daa1a0a"},
		{name: "remote url", ref: "https://localhost/pages/1.png", wantErr: true},
		{name: "traversal", ref: "offline://../../etc/passwd", wantErr: true},
		{name: "too short", ref: "offline://8daa1a0a/2d0aa938", wantErr: true},
		{name: "bad poster token", ref: "offline:///poster/..", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveRef(tt.ref)
			if tt.wantErr {
				require.Error(t, err)
				require.True(t, errors.Is(err, ErrInvalidRef))
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestRecordName(t *testing.T) {
	token, ok := RecordName("8daa1a0a.record")
	require.True(t, ok)
	require.Equal(t, "8daa1a0a", token)

	_, ok = RecordName("8daa1a0a")
	require.False(t, ok)

	_, ok = RecordName("notes.record")
	require.False(t, ok)
}
