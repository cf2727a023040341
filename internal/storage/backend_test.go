package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafsync/leafsync/pkg/linkedfile"
)

var _ linkedfile.Sink = Backend(nil)

func TestNew(t *testing.T) {
	b, err := New(context.Background(), Config{LocalPath: filepath.Join(t.TempDir(), "dl")})
	require.NoError(t, err)
	assert.Equal(t, "local", b.Type())

	_, err = New(context.Background(), Config{Backend: "smb"})
	assert.EqualError(t, err, "unknown storage backend: smb")
}
