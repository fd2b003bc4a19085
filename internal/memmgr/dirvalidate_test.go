package memmgr

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateMappedFileDir_RejectsMissingDir(t *testing.T) {
	fs := afero.NewMemMapFs()

	err := ValidateMappedFileDir(fs, "/var/bundy/mapped")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")

	_, statErr := fs.Stat("/var/bundy/mapped")
	assert.Error(t, statErr, "a missing mapped_file_dir must not be created as a side effect")
}

func TestValidateMappedFileDir_RejectsNonDirectory(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/var/bundy/mapped", []byte("not a dir"), 0o644))

	err := ValidateMappedFileDir(fs, "/var/bundy/mapped")
	assert.Error(t, err)
}

func TestValidateMappedFileDir_RejectsEmptyPath(t *testing.T) {
	fs := afero.NewMemMapFs()
	err := ValidateMappedFileDir(fs, "")
	assert.Error(t, err)
}

func TestSegmentPath_NamespacesByGeneration(t *testing.T) {
	p1 := SegmentPath("/root", 1, "IN", "example")
	p2 := SegmentPath("/root", 2, "IN", "example")
	assert.NotEqual(t, p1, p2)
}
