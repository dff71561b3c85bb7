package peerexec

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/maestro/internal/common/maestroerrors"
	"github.com/G-Research/maestro/pkg/note"
)

func TestLogDirectory_RunDirectoriesAndLinks(t *testing.T) {
	base := t.TempDir()
	logs, err := NewLogDirectory(base)
	require.NoError(t, err)

	_, err = logs.Resolve(note.LocationLast)
	var notFound *maestroerrors.ErrNotFound
	assert.True(t, errors.As(err, &notFound))

	first, err := logs.NewRunDirectory()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "tests", "0"), first)
	require.NoError(t, logs.MarkResult(first, true))

	second, err := logs.NewRunDirectory()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "tests", "1"), second)
	require.NoError(t, logs.MarkResult(second, false))

	for location, want := range map[note.LocationType]string{
		note.LocationLast:           second,
		note.LocationAny:            second,
		note.LocationLastSuccessful: first,
		note.LocationLastFailed:     second,
	} {
		dir, err := logs.Resolve(location)
		require.NoError(t, err)
		assert.Equal(t, want, dir, location.String())
	}

	dir, err := logs.ResolveName("tests-0")
	require.NoError(t, err)
	assert.Equal(t, first, dir)
	_, err = logs.ResolveName("tests-7")
	assert.True(t, errors.As(err, &notFound))
	_, err = logs.ResolveName("../etc")
	var invalid *maestroerrors.ErrInvalidArgument
	assert.True(t, errors.As(err, &invalid))

	reopened, err := NewLogDirectory(base)
	require.NoError(t, err)
	third, err := reopened.NewRunDirectory()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "tests", "2"), third)
}

func TestLogDirectory_FilesAndHash(t *testing.T) {
	logs, err := NewLogDirectory(t.TempDir())
	require.NoError(t, err)
	dir, err := logs.NewRunDirectory()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "receiver-1.hdr"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "receiver-0.hdr"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "receiver-0.rate"), []byte("rate"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	all, err := logs.Files(dir, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	for _, extension := range []string{"hdr", ".hdr"} {
		files, err := logs.Files(dir, extension)
		require.NoError(t, err)
		require.Len(t, files, 2)
		assert.Equal(t, "receiver-0.hdr", files[0].Name)
		assert.Equal(t, int64(1), files[0].Size)
	}

	files, _ := logs.Files(dir, "rate")
	hash, err := logs.Hash(files[0])
	require.NoError(t, err)
	sum := sha256.Sum256([]byte("rate"))
	assert.Equal(t, hex.EncodeToString(sum[:]), hash)

	cached, err := logs.Hash(files[0])
	require.NoError(t, err)
	assert.Equal(t, hash, cached)
	assert.Equal(t, 1, logs.hashes.Len())
}
