package blob

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"log.jpg", "log.jpg"},
		{"../../etc/passwd", "passwd"},
		{`C:\scans\day 1.png`, "day_1.png"},
		{"solar log (jan).heic", "solar_log_jan_.heic"},
		{"", "image"},
		{"...", "image"},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, SanitizeFilename(tc.in))
		})
	}

	long := strings.Repeat("a", 300) + ".jpg"
	assert.Len(t, SanitizeFilename(long), maxFilenameLength)
	assert.True(t, strings.HasSuffix(SanitizeFilename(long), ".jpg"))
}

func TestObjectKey(t *testing.T) {
	group, task := uuid.New(), uuid.New()
	key := ObjectKey(group, task, "day 1.jpg")
	assert.Equal(t, group.String()+"/images/"+task.String()+"_day_1.jpg", key)
	assert.NoError(t, validateRef(key))
}

func TestValidateRef(t *testing.T) {
	for _, ref := range []string{"", "/abs/path", "a/../b", "./a", "a//b", `a\b`} {
		assert.ErrorIs(t, validateRef(ref), ErrInvalidRef, ref)
	}
}

func TestFileSystem_RoundTrip(t *testing.T) {
	base := t.TempDir()
	fs, err := NewFileSystem(base, nil)
	require.NoError(t, err)

	ctx := context.Background()
	group, task := uuid.New(), uuid.New()
	data := []byte{0xff, 0xd8, 0xff, 0xe0}

	ref, err := fs.Put(ctx, group, task, "log.jpg", "image/jpeg", data)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(base, filepath.FromSlash(ref)))

	got, err := fs.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	existed, err := fs.Delete(ctx, ref)
	require.NoError(t, err)
	assert.True(t, existed)

	_, err = fs.Get(ctx, ref)
	assert.ErrorIs(t, err, ErrBlobNotFound)

	existed, err = fs.Delete(ctx, ref)
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestFileSystem_NoTempFilesLeft(t *testing.T) {
	base := t.TempDir()
	fs, err := NewFileSystem(base, nil)
	require.NoError(t, err)

	group := uuid.New()
	for i := 0; i < 3; i++ {
		_, err := fs.Put(context.Background(), group, uuid.New(), "log.png", "image/png", []byte("png"))
		require.NoError(t, err)
	}

	entries, err := os.ReadDir(filepath.Join(base, group.String(), "images"))
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".upload-"))
	}
}

func TestFileSystem_RejectsEscapingRef(t *testing.T) {
	fs, err := NewFileSystem(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = fs.Get(context.Background(), "../outside.jpg")
	assert.ErrorIs(t, err, ErrInvalidRef)
	_, err = fs.Delete(context.Background(), "/etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidRef)
}
