package fsutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/framegraph/internal/testutil"
)

func TestFindFilesByExtension(t *testing.T) {
	root := testutil.WriteFiles(t, map[string]string{
		"b.hcl":        "",
		"a.hcl":        "",
		"notes.txt":    "",
		"nested/c.hcl": "",
	})

	files, err := FindFilesByExtension(root, ".hcl")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a.hcl"),
		filepath.Join(root, "b.hcl"),
		filepath.Join(root, "nested", "c.hcl"),
	}, files)

	single := filepath.Join(root, "notes.txt")
	files, err = FindFilesByExtension(single, ".hcl")
	require.NoError(t, err)
	assert.Equal(t, []string{single}, files)

	_, err = FindFilesByExtension(filepath.Join(root, "missing"), ".hcl")
	assert.Error(t, err)

	_, err = FindFilesByExtension(root, "")
	assert.ErrorContains(t, err, "extension must not be empty")
}
