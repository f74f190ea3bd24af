package objstorage

import (
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
)

func TestIsNotFoundMatchesS3Errors(t *testing.T) {
	assert.True(t, isNotFound(&types.NotFound{}))
	assert.True(t, isNotFound(&types.NoSuchKey{}))
	assert.True(t, isNotFound(errors.Join(errors.New("wrapped"), &types.NoSuchKey{})))
}

func TestIsNotFoundRejectsOtherErrors(t *testing.T) {
	assert.False(t, isNotFound(errors.New("access denied")))
	assert.False(t, isNotFound(nil))
}
