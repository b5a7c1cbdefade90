package migrations

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunRequiresDSN(t *testing.T) {
	assert.Error(t, Run(""))
}

func TestMigrationsArePaired(t *testing.T) {
	up, err := fs.Glob(fsys(), "*.up.sql")
	require.NoError(t, err)
	down, err := fs.Glob(fsys(), "*.down.sql")
	require.NoError(t, err)
	require.NotEmpty(t, up)
	assert.Len(t, down, len(up))
}

func fsys() fs.FS { return files }
