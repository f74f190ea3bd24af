package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigError(t *testing.T) {
	err := Config("storage.bucket is required", nil)
	require.Error(t, err)
	assert.Equal(t, "config error: storage.bucket is required", err.Error())

	wrapped := Config("reading config file", errors.New("permission denied"))
	assert.Contains(t, wrapped.Error(), "permission denied")
}

func TestDBErrorNilPassthrough(t *testing.T) {
	assert.NoError(t, DB("query", nil))

	err := DB("query", errors.New("connection refused"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestStorageErrorUnwrap(t *testing.T) {
	cause := errors.New("network timeout")
	err := Storage("upload", "backup1/data/db/table/part", cause)
	require.Error(t, err)
	assert.True(t, errors.Is(err, cause))
}

func TestConcurrencyAbort(t *testing.T) {
	err := Concurrency("default", "events")
	assert.Contains(t, err.Error(), "default.events")
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(NotFound("backup foo")))
	assert.False(t, IsNotFound(errors.New("something else")))
	assert.False(t, IsNotFound(nil))
}
