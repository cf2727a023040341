package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafsync/leafsync/internal/storage/local"
	"github.com/leafsync/leafsync/pkg/linkedfile"
)

type stubDownloader struct {
	body  string
	calls int
}

func (d *stubDownloader) Download(ctx context.Context, sink linkedfile.Sink, key string) (int64, error) {
	d.calls++
	return int64(len(d.body)), sink.PutObject(ctx, key, strings.NewReader(d.body), int64(len(d.body)))
}

func TestStoreFile_SkipsExistingUnlessForced(t *testing.T) {
	root := t.TempDir()
	backend, err := local.New(local.Config{RootPath: root, CreateDirs: true})
	require.NoError(t, err)
	ctx := context.Background()

	d := &stubDownloader{body: "@book{a}"}
	stored, n, err := storeFile(ctx, backend, d, "p1/refs.bib", false)
	require.NoError(t, err)
	assert.True(t, stored)
	assert.EqualValues(t, 8, n)

	d.body = "@book{a,b}"
	stored, n, err = storeFile(ctx, backend, d, "p1/refs.bib", false)
	require.NoError(t, err)
	assert.False(t, stored)
	assert.EqualValues(t, 8, n)
	assert.Equal(t, 1, d.calls)

	stored, n, err = storeFile(ctx, backend, d, "p1/refs.bib", true)
	require.NoError(t, err)
	assert.True(t, stored)
	assert.EqualValues(t, 10, n)

	rc, _, err := backend.GetObject(ctx, "p1/refs.bib")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "@book{a,b}", string(data))
	_, err = os.Stat(filepath.Join(root, "p1", "refs.bib"))
	assert.NoError(t, err)
}
